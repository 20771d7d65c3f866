package crawler

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrKindTransient(t *testing.T) {
	transient := []ErrKind{ErrKindDNS, ErrKindConnection, ErrKindTimeout, ErrKindQueueFull, ErrKindProxy}
	for _, k := range transient {
		if !k.Transient() {
			t.Errorf("%s: expected Transient", k)
		}
	}
	if ErrKindConfig.Transient() {
		t.Error("ErrKindConfig: expected not Transient")
	}
}

func TestErrKindDrop(t *testing.T) {
	drop := []ErrKind{ErrKindRobotsDisallowed, ErrKindDepthExceeded, ErrKindDuplicateURL, ErrKindUnsupportedContentType}
	for _, k := range drop {
		if !k.Drop() {
			t.Errorf("%s: expected Drop", k)
		}
	}
	if ErrKindTimeout.Drop() {
		t.Error("ErrKindTimeout: expected not Drop")
	}
}

func TestErrKindTerminal(t *testing.T) {
	if !ErrKindConfig.Terminal() {
		t.Error("ErrKindConfig: expected Terminal")
	}
	if !ErrKindBudgetExhausted.Terminal() {
		t.Error("ErrKindBudgetExhausted: expected Terminal")
	}
	if ErrKindTimeout.Terminal() {
		t.Error("ErrKindTimeout: expected not Terminal")
	}
}

func TestWrapErrAndKindOf(t *testing.T) {
	err := WrapErr(ErrKindDNS, "http://example.com", errors.New("boom"))
	kind, ok := KindOf(err)
	if !ok || kind != ErrKindDNS {
		t.Errorf("kind = %v, ok = %v, want ErrKindDNS", kind, ok)
	}

	wrapped := fmt.Errorf("fetch failed: %w", err)
	kind, ok = KindOf(wrapped)
	if !ok || kind != ErrKindDNS {
		t.Errorf("wrapped kind = %v, ok = %v, want ErrKindDNS", kind, ok)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("expected KindOf to return ok=false for a non-*Error")
	}
}

func TestErrorMessageIncludesURL(t *testing.T) {
	err := WrapErr(ErrKindTimeout, "http://example.com/a", errors.New("deadline exceeded"))
	got := err.Error()
	want := "timeout_error: http://example.com/a: deadline exceeded"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorMessageWithoutURL(t *testing.T) {
	err := WrapErr(ErrKindConfig, "", errors.New("bad config"))
	got := err.Error()
	want := "config_error: bad config"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
