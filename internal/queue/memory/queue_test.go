package memory

import (
	"context"
	"testing"

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

func TestEnqueueDedup(t *testing.T) {
	q := New(10)
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

func TestEnqueueRejectedFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, crawler.CrawlTask{URL: mustURL(t, "http://example.com/a")}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	res, err := q.Enqueue(ctx, crawler.CrawlTask{URL: mustURL(t, "http://example.com/b")})
	if res != crawler.RejectedFull || err == nil {
		t.Fatalf("res=%v err=%v, want RejectedFull with error", res, err)
	}
	if kind, ok := crawler.KindOf(err); !ok || kind != crawler.ErrKindQueueFull {
		t.Errorf("kind = %v ok=%v", kind, ok)
	}
}

func TestDequeueFIFO(t *testing.T) {
	q := New(10)
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

func TestCloseDrainsThenReturnsClosed(t *testing.T) {
	q := New(10)
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

func TestEnqueueAfterCloseRejected(t *testing.T) {
	q := New(10)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	res, err := q.Enqueue(context.Background(), crawler.CrawlTask{URL: mustURL(t, "http://example.com/a")})
	if res != crawler.RejectedFull || err == nil {
		t.Fatalf("res=%v err=%v, want rejected", res, err)
	}
}
