package crawler

import (
	"fmt"
	"time"
)

// SinkKind names the output_sink config option.
type SinkKind string

// Supported output_sink values.
const (
	SinkConsole SinkKind = "console"
	SinkFile    SinkKind = "file"
	SinkCustom  SinkKind = "custom"
)

// QueueBackend names the url_queue config option.
type QueueBackend string

// Supported url_queue backends.
const (
	QueueMemoryOnly QueueBackend = "memory_only"
	QueueFileBacked QueueBackend = "file_backed"
	QueuePostgres   QueueBackend = "postgres"
)

// TLSVerificationMode names ssl_verification_mode.
type TLSVerificationMode string

// Supported ssl_verification_mode values.
const (
	TLSVerifyFull        TLSVerificationMode = "full"
	TLSVerifyCertificate TLSVerificationMode = "certificate"
	TLSVerifyNone        TLSVerificationMode = "none"
)

// ProxyConfig configures http_proxy_{host,port,protocol,username,password}.
type ProxyConfig struct {
	Host     string
	Port     int
	Protocol string
	Username string
	Password string
}

// HostAuth is one entry of the per-host credentials map supplied via `auth`.
type HostAuth struct {
	Host     string
	Username string
	Password string
}

// URLFilterKind names one domains_extraction_rules[domain].url_filters entry
// type.
type URLFilterKind string

// Supported url_filter kinds.
const (
	FilterBegins   URLFilterKind = "begins"
	FilterEnds     URLFilterKind = "ends"
	FilterContains URLFilterKind = "contains"
	FilterRegex    URLFilterKind = "regex"
)

// URLFilterRule is one compiled-from entry of domains_extraction_rules[domain].url_filters.
type URLFilterRule struct {
	Kind    URLFilterKind
	Pattern string
}

// FieldRule is one field-extraction rule; the DSL itself (CSS/XPath/regex)
// is left to a FieldExtractor implementation, which the coordinator calls
// once per HTML result and stores whatever it returns.
type FieldRule struct {
	Name    string
	Pattern string
}

// DomainRules is one domains_extraction_rules[domain] entry.
type DomainRules struct {
	URLFilters []URLFilterRule
	Fields     []FieldRule
}

// Config is the plain struct the engine consumes, decoupled from Viper so
// it stays modular and easy to construct directly in tests.
type Config struct {
	CrawlID string

	DomainAllowlist []Domain
	SeedURLs func() (next func() (string, bool)) // lazy
	SitemapURLs     []string

	UserAgent string

	OutputSink SinkKind
	OutputDir  string

	URLQueue            QueueBackend
	URLQueueSizeLimit   int

	MaxDuration        time.Duration
	MaxCrawlDepth      int
	MaxUniqueURLCount  int
	MaxURLLength       int
	MaxURLSegments     int
	MaxURLParams       int
	ThreadsPerCrawl    int

	MaxRedirects      int
	MaxResponseSize   int64
	ConnectTimeout    time.Duration
	SocketTimeout     time.Duration
	RequestTimeout    time.Duration

	MaxTitleSize           int
	MaxBodySize            int
	MaxKeywordsSize        int
	MaxDescriptionSize     int
	MaxExtractedLinksCount int
	MaxIndexedLinksCount   int
	MaxHeadingsCount       int

	ContentExtractionEnabled   bool
	ContentExtractionMimeTypes []string

	DefaultEncoding          string
	CompressionEnabled       bool
	SitemapDiscoveryDisabled bool
	HeadRequestsEnabled      bool

	SSLCACertificates   [][]byte // already-parsed PEM blocks; parsing happens in internal/config
	SSLVerificationMode TLSVerificationMode

	Proxy *ProxyConfig

	LoopbackAllowed        bool
	PrivateNetworksAllowed bool

	HTTPAuthAllowed bool
	Auth            []HostAuth

	DomainExtractionRules map[string]DomainRules

	StatsDumpInterval time.Duration
}

// DefaultConfig returns the engine's zero-config defaults. Callers
// (internal/config) overlay user-supplied values on top.
func DefaultConfig() Config {
	return Config{
		UserAgent:                "Elastic-Crawler/1.0",
		OutputSink:               SinkConsole,
		URLQueue:                 QueueMemoryOnly,
		URLQueueSizeLimit:        100_000,
		MaxDuration:              86400 * time.Second,
		MaxCrawlDepth:            10,
		MaxUniqueURLCount:        100_000,
		MaxURLLength:             2048,
		MaxURLSegments:           16,
		MaxURLParams:             32,
		ThreadsPerCrawl:          10,
		MaxRedirects:             10,
		MaxResponseSize:          10 * 1024 * 1024,
		ConnectTimeout:           10 * time.Second,
		SocketTimeout:            10 * time.Second,
		RequestTimeout:           60 * time.Second,
		MaxTitleSize:             1024,
		MaxBodySize:              5 * 1024 * 1024,
		MaxKeywordsSize:          512,
		MaxDescriptionSize:       1024,
		MaxExtractedLinksCount:   1000,
		MaxIndexedLinksCount:     25,
		MaxHeadingsCount:         25,
		DefaultEncoding:          "UTF-8",
		CompressionEnabled:       true,
		SitemapDiscoveryDisabled: false,
		HeadRequestsEnabled:      false,
		SSLVerificationMode:      TLSVerifyFull,
		StatsDumpInterval:        10 * time.Second,
	}
}

// Validate enforces Config's own non-empty constraints and
// rejects obviously-inconsistent combinations. It is a ConfigError (fatal at
// startup).
func (c Config) Validate() error {
	if len(c.DomainAllowlist) == 0 {
		return WrapErr(ErrKindConfig, "", fmt.Errorf("domain_allowlist must be non-empty"))
	}
	if c.SeedURLs == nil {
		return WrapErr(ErrKindConfig, "", fmt.Errorf("seed_urls must be supplied"))
	}
	if c.ThreadsPerCrawl <= 0 {
		return WrapErr(ErrKindConfig, "", fmt.Errorf("threads_per_crawl must be > 0"))
	}
	if c.MaxCrawlDepth <= 0 {
		return WrapErr(ErrKindConfig, "", fmt.Errorf("max_crawl_depth must be > 0"))
	}
	if c.URLQueueSizeLimit <= 0 {
		return WrapErr(ErrKindConfig, "", fmt.Errorf("url_queue_size_limit must be > 0"))
	}
	if c.MaxUniqueURLCount <= 0 {
		return WrapErr(ErrKindConfig, "", fmt.Errorf("max_unique_url_count must be > 0"))
	}
	if c.OutputSink == SinkFile && c.OutputDir == "" {
		return WrapErr(ErrKindConfig, "", fmt.Errorf("output_dir is required when output_sink=file"))
	}
	return nil
}

// Limits projects the subset of Config URL normalization cares about.
func (c Config) Limits() Limits {
	return Limits{MaxURLLength: c.MaxURLLength, MaxSegments: c.MaxURLSegments, MaxQueryParams: c.MaxURLParams}
}

// DNSPolicy projects the subset of Config the filtering resolver cares
// about.
func (c Config) DNSPolicy() DNSPolicy {
	return DNSPolicy{LoopbackAllowed: c.LoopbackAllowed, PrivateNetworksAllowed: c.PrivateNetworksAllowed}
}

// NewCrawlID returns c.CrawlID, generating a short random one if absent.
func (c Config) NewCrawlID() string {
	if c.CrawlID != "" {
		return c.CrawlID
	}
	return "crawl-" + randomSuffix(6)
}

// SliceSeeds builds a Config.SeedURLs source over a finite, already-loaded
// list (e.g. from a config file). Each call of the returned function yields
// a fresh iterator that hands out the URLs one at a time, so the coordinator
// pulls seeds into the queue on demand.
func SliceSeeds(urls []string) func() (next func() (string, bool)) {
	return func() (next func() (string, bool)) {
		i := 0
		return func() (string, bool) {
			if i >= len(urls) {
				return "", false
			}
			u := urls[i]
			i++
			return u, true
		}
	}
}
