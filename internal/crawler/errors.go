package crawler

import (
	"errors"
	"fmt"
)

// ErrKind names a member of the error taxonomy a crawl can raise. Per-URL
// kinds become Error result records; terminal kinds move the coordinator to
// Draining; drop kinds are counted in events but never emitted as results.
type ErrKind string

// Error kinds recognized by the engine.
const (
	ErrKindConfig                 ErrKind = "config_error"
	ErrKindInvalidURL             ErrKind = "invalid_url"
	ErrKindInvalidHost            ErrKind = "invalid_host"
	ErrKindDNS                    ErrKind = "dns_failure"
	ErrKindConnection             ErrKind = "connection_error"
	ErrKindTimeout                ErrKind = "timeout_error"
	ErrKindTLS                    ErrKind = "tls_error"
	ErrKindTooManyRedirects       ErrKind = "too_many_redirects"
	ErrKindResponseSizeExceeded   ErrKind = "response_size_exceeded"
	ErrKindUnsupportedContentType ErrKind = "unsupported_content_type"
	ErrKindParser                 ErrKind = "parser_error"
	ErrKindRobotsDisallowed       ErrKind = "robots_disallowed"
	ErrKindQueueFull              ErrKind = "queue_full"
	ErrKindDepthExceeded          ErrKind = "depth_exceeded"
	ErrKindDuplicateURL           ErrKind = "duplicate_url"
	ErrKindBudgetExhausted        ErrKind = "budget_exhausted"
	ErrKindProxy                  ErrKind = "proxy_error"
)

// Transient reports whether a retry of the same URL (from the HTTP client,
// never from the coordinator) is worth attempting for this kind.
func (k ErrKind) Transient() bool {
	switch k {
	case ErrKindDNS, ErrKindConnection, ErrKindTimeout, ErrKindQueueFull, ErrKindProxy:
		return true
	default:
		return false
	}
}

// Drop reports whether this kind represents a pre-fetch drop: never emitted
// as a Result, only counted via events/stats.
func (k ErrKind) Drop() bool {
	switch k {
	case ErrKindRobotsDisallowed, ErrKindDepthExceeded, ErrKindDuplicateURL, ErrKindUnsupportedContentType:
		return true
	default:
		return false
	}
}

// Terminal reports whether this kind should transition the coordinator to
// Draining rather than merely producing a per-URL Error result.
func (k ErrKind) Terminal() bool {
	switch k {
	case ErrKindConfig, ErrKindBudgetExhausted:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with a taxonomy kind and the URL it
// concerns.
type Error struct {
	Kind ErrKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WrapErr constructs a typed *Error, wrapping err with fmt.Errorf-style
// context in the caller rather than here.
func WrapErr(kind ErrKind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// KindOf extracts the ErrKind from err if it (or something it wraps) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (ErrKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
