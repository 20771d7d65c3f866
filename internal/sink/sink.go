// Package sink provides concrete crawler.Sink implementations: console,
// file, and gcs. The engine only knows about the crawler.Sink interface it
// emits CrawlResult records through; where those records ultimately land is
// this package's concern, and a runnable crawl needs one wired in.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/fieldcrawl/crawler/internal/crawler"
	"github.com/fieldcrawl/crawler/internal/storage"
)

// resultDoc is the JSON-line encoding every sink variant writes for a
// CrawlResult, keeping the on-disk/on-wire shape identical across sinks.
type resultDoc struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	URL             string          `json:"url"`
	FinalURL        string          `json:"final_url,omitempty"`
	StatusCode      int             `json:"status_code"`
	ContentType     string          `json:"content_type,omitempty"`
	StartTime       string          `json:"start_time"`
	EndTime         string          `json:"end_time"`
	DurationMs      int64           `json:"duration_ms"`
	Title           string          `json:"title,omitempty"`
	Body            string          `json:"body,omitempty"`
	MetaKeywords    string          `json:"meta_keywords,omitempty"`
	MetaDescription string          `json:"meta_description,omitempty"`
	Headings        []crawler.Heading `json:"headings,omitempty"`
	Links           []linkDoc       `json:"links,omitempty"`
	ErrKind         string          `json:"err_kind,omitempty"`
	ErrText         string          `json:"err_text,omitempty"`
}

type linkDoc struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
	Rel  string `json:"rel,omitempty"`
}

func encode(result crawler.CrawlResult) resultDoc {
	links := make([]linkDoc, len(result.Links))
	for i, l := range result.Links {
		links[i] = linkDoc{URL: l.URL.String(), Text: l.Text, Rel: l.Rel}
	}
	return resultDoc{
		ID:              result.ID,
		Kind:            string(result.Kind),
		URL:             result.URL,
		FinalURL:        result.FinalURL,
		StatusCode:      result.StatusCode,
		ContentType:     result.ContentType,
		StartTime:       result.StartTime.Format("2006-01-02T15:04:05.000Z07:00"),
		EndTime:         result.EndTime.Format("2006-01-02T15:04:05.000Z07:00"),
		DurationMs:      result.Duration.Milliseconds(),
		Title:           result.Title,
		Body:            result.Body,
		MetaKeywords:    result.MetaKeywords,
		MetaDescription: result.MetaDescription,
		Headings:        result.Headings,
		Links:           links,
		ErrKind:         string(result.ErrKind),
		ErrText:         result.ErrText,
	}
}

// Console writes one JSON line per result to an io.Writer (os.Stdout in
// production), for output_sink=console.
type Console struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewConsole wraps w. w's Write must be safe to call from one goroutine at
// a time; Console serializes calls itself since the coordinator may run
// several workers concurrently.
func NewConsole(w io.Writer) *Console {
	c := &Console{w: w}
	c.enc = json.NewEncoder(w)
	return c
}

// Emit implements crawler.Sink.
func (c *Console) Emit(_ context.Context, result crawler.CrawlResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(encode(result)); err != nil {
		return fmt.Errorf("console sink: encode result: %w", err)
	}
	return nil
}

// BlobSink writes one object per result to a storage.BlobStore, for
// output_sink=file.BlobStore backs
// the real filesystem; internal/storage/memory.BlobStore backs tests).
type BlobSink struct {
	store  storage.BlobStore
	logger *zap.Logger
}

// NewBlobSink wires store as the file-backed output_sink.
func NewBlobSink(store storage.BlobStore, logger *zap.Logger) *BlobSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobSink{store: store, logger: logger}
}

// Emit implements crawler.Sink, storing result as one JSON object per
// crawl/result id.
func (s *BlobSink) Emit(ctx context.Context, result crawler.CrawlResult) error {
	body, err := json.Marshal(encode(result))
	if err != nil {
		return fmt.Errorf("blob sink: marshal result: %w", err)
	}
	path := fmt.Sprintf("%s.json", result.ID)
	uri, err := s.store.PutObject(ctx, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("blob sink: put object %s: %w", path, err)
	}
	s.logger.Debug("wrote crawl result", zap.String("url", result.URL), zap.String("uri", uri))
	return nil
}

// GCS writes one object per result to a storage.Provider (GCSProvider.Save
// uploads synchronously and returns only an error, no URI), for a cloud
// output_sink beyond the console/file pair.
type GCS struct {
	provider storage.Provider
	prefix   string
}

// NewGCS wires provider (typically *storage.GCSProvider) as the output
// sink. prefix, if non-empty, is joined with "/" ahead of each object name.
func NewGCS(provider storage.Provider, prefix string) *GCS {
	return &GCS{provider: provider, prefix: prefix}
}

// Emit implements crawler.Sink.
func (g *GCS) Emit(ctx context.Context, result crawler.CrawlResult) error {
	body, err := json.Marshal(encode(result))
	if err != nil {
		return fmt.Errorf("gcs sink: marshal result: %w", err)
	}
	objectName := result.ID + ".json"
	if g.prefix != "" {
		objectName = g.prefix + "/" + objectName
	}
	if err := g.provider.Save(ctx, objectName, body); err != nil {
		return fmt.Errorf("gcs sink: save object %s: %w", objectName, err)
	}
	return nil
}
