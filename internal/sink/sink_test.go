package sink_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrawl/crawler/internal/crawler"
	"github.com/fieldcrawl/crawler/internal/sink"
	"github.com/fieldcrawl/crawler/internal/storage/memory"
)

func sampleResult() crawler.CrawlResult {
	now := time.Now().UTC()
	return crawler.CrawlResult{
		ID:         "result-1",
		Kind:       crawler.ResultHTML,
		URL:        "https://example.com/",
		StatusCode: 200,
		StartTime:  now,
		EndTime:    now.Add(50 * time.Millisecond),
		Duration:   50 * time.Millisecond,
		Title:      "Example",
	}
}

func TestConsoleEmitWritesJSONLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := sink.NewConsole(&buf)

	require.NoError(t, c.Emit(context.Background(), sampleResult()))

	scanner := bufio.NewScanner(&buf)
	require.True(t, scanner.Scan())
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
	assert.Equal(t, "result-1", decoded["id"])
	assert.Equal(t, "html", decoded["kind"])
	assert.Equal(t, "Example", decoded["title"])
}

func TestConsoleEmitConcurrentSafe(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := sink.NewConsole(&buf)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_ = c.Emit(context.Background(), sampleResult())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	lines := bufio.NewScanner(&buf)
	count := 0
	for lines.Scan() {
		count++
	}
	assert.Equal(t, 8, count)
}

func TestBlobSinkEmitStoresObject(t *testing.T) {
	t.Parallel()
	store := memory.NewBlobStore()
	s := sink.NewBlobSink(store, nil)

	require.NoError(t, s.Emit(context.Background(), sampleResult()))
}

type fakeProvider struct {
	saved map[string][]byte
}

func (f *fakeProvider) Save(_ context.Context, objectName string, data []byte) error {
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	f.saved[objectName] = data
	return nil
}

func TestGCSSinkEmitPrefixesObjectName(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{}
	s := sink.NewGCS(provider, "crawls/run-1")

	require.NoError(t, s.Emit(context.Background(), sampleResult()))

	_, ok := provider.saved["crawls/run-1/result-1.json"]
	assert.True(t, ok)
}
