package file

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"github.com/fieldcrawl/crawler/internal/crawler"
)

func mustURL(t *testing.T, raw string) crawler.URL {
	t.Helper()
	u, err := crawler.ParseURL(raw, crawler.DefaultLimits)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func newTestQueue(t *testing.T, limit int) (*Queue, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	q, err := New(fs, "/queue.log", limit)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q, fs
}

func TestFileQueueEnqueueDedup(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	ctx := context.Background()
	task := crawler.CrawlTask{URL: mustURL(t, "http://example.com/a"), Depth: 1}

	res, err := q.Enqueue(ctx, task)
	if err != nil || res != crawler.Enqueued {
		t.Fatalf("first enqueue: res=%v err=%v", res, err)
	}
	res, err = q.Enqueue(ctx, task)
	if err != nil || res != crawler.Duplicate {
		t.Fatalf("second enqueue: res=%v err=%v, want Duplicate", res, err)
	}
}

func TestFileQueueRejectedFull(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, crawler.CrawlTask{URL: mustURL(t, "http://example.com/a")}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	res, err := q.Enqueue(ctx, crawler.CrawlTask{URL: mustURL(t, "http://example.com/b")})
	if res != crawler.RejectedFull || err == nil {
		t.Fatalf("res=%v err=%v, want RejectedFull with error", res, err)
	}
}

func TestFileQueueDequeueFIFO(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	ctx := context.Background()
	a := crawler.CrawlTask{URL: mustURL(t, "http://example.com/a")}
	b := crawler.CrawlTask{URL: mustURL(t, "http://example.com/b")}
	if _, err := q.Enqueue(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, b); err != nil {
		t.Fatal(err)
	}
	got1, err := q.Dequeue(ctx)
	if err != nil || got1.URL.String() != a.URL.String() {
		t.Fatalf("first dequeue = %v, err=%v, want a", got1, err)
	}
	got2, err := q.Dequeue(ctx)
	if err != nil || got2.URL.String() != b.URL.String() {
		t.Fatalf("second dequeue = %v, err=%v, want b", got2, err)
	}
}

func TestFileQueueCloseDrainsThenReturnsClosed(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, crawler.CrawlTask{URL: mustURL(t, "http://example.com/a")}); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("expected to drain the queued item before closed signal, got %v", err)
	}
	if _, err := q.Dequeue(ctx); err != crawler.ErrQueueClosed {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestFileQueueReplayRestoresDedupState(t *testing.T) {
	fs := afero.NewMemMapFs()
	q1, err := New(fs, "/queue.log", 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if _, err := q1.Enqueue(ctx, crawler.CrawlTask{URL: mustURL(t, "http://example.com/a")}); err != nil {
		t.Fatal(err)
	}
	if _, err := q1.Enqueue(ctx, crawler.CrawlTask{URL: mustURL(t, "http://example.com/b")}); err != nil {
		t.Fatal(err)
	}
	if err := q1.Close(); err != nil {
		t.Fatal(err)
	}

	q2, err := New(fs, "/queue.log", 10)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer q2.Close()
	if err := q2.Replay(); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if q2.Size() != 2 {
		t.Fatalf("Size after replay = %d, want 2", q2.Size())
	}
	res, err := q2.Enqueue(ctx, crawler.CrawlTask{URL: mustURL(t, "http://example.com/a")})
	if err != nil || res != crawler.Duplicate {
		t.Fatalf("re-enqueue after replay: res=%v err=%v, want Duplicate", res, err)
	}
}
