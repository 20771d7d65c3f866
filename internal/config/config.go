// Package config loads and validates crawler configuration via Viper,
// keeping the engine package free of any Viper dependency: crawler.Config
// stays decoupled from config.Load so it stays modular and easy to test
// on its own.
package config

import (
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fieldcrawl/crawler/internal/crawler"
)

// Config captures every service-level knob loaded via Viper: the crawl
// engine's own options (Crawl, mapped onto crawler.Config) plus the
// ambient concerns.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	JobStore JobStoreConfig `mapstructure:"jobstore"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the read-only admin HTTP surface
// (internal/adminserver): /healthz, /metrics, /stats/{crawl_id}.
type ServerConfig struct {
	Port         int  `mapstructure:"port"`
	AdminEnabled bool `mapstructure:"admin_enabled"`
}

// JobStoreConfig selects the internal/jobstore backend that tracks crawl
// lifecycle rows for internal/adminserver's /stats and /jobs endpoints.
type JobStoreConfig struct {
	Backend       string `mapstructure:"backend"` // "memory" or "postgres"
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// AuthConfig defines admin API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ProxyConfig mirrors http_proxy_{host,port,protocol,username,password}.
type ProxyConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Protocol string `mapstructure:"protocol"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// HostAuthConfig is one entry of the `auth` per-host credentials list.
type HostAuthConfig struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// URLFilterConfig is one domains_extraction_rules[domain].url_filters entry.
type URLFilterConfig struct {
	Kind    string `mapstructure:"kind"`
	Pattern string `mapstructure:"pattern"`
}

// FieldRuleConfig is one domains_extraction_rules[domain].rules entry.
type FieldRuleConfig struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
}

// DomainRulesConfig is one domains_extraction_rules[domain] entry.
type DomainRulesConfig struct {
	Rules      []FieldRuleConfig `mapstructure:"rules"`
	URLFilters []URLFilterConfig `mapstructure:"url_filters"`
}

// CrawlConfig mirrors every option, tagged for Viper/
// mapstructure. Load converts this into a crawler.Config the engine
// actually consumes.
type CrawlConfig struct {
	CrawlID         string   `mapstructure:"crawl_id"`
	DomainAllowlist []string `mapstructure:"domain_allowlist"`
	SeedURLs        []string `mapstructure:"seed_urls"`
	SitemapURLs     []string `mapstructure:"sitemap_urls"`
	UserAgent       string   `mapstructure:"user_agent"`

	OutputSink string `mapstructure:"output_sink"`
	OutputDir  string `mapstructure:"output_dir"`

	URLQueue          string `mapstructure:"url_queue"`
	URLQueueSizeLimit int    `mapstructure:"url_queue_size_limit"`

	MaxDurationSeconds int `mapstructure:"max_duration"`
	MaxCrawlDepth      int `mapstructure:"max_crawl_depth"`
	MaxUniqueURLCount  int `mapstructure:"max_unique_url_count"`
	MaxURLLength       int `mapstructure:"max_url_length"`
	MaxURLSegments     int `mapstructure:"max_url_segments"`
	MaxURLParams       int `mapstructure:"max_url_params"`
	ThreadsPerCrawl    int `mapstructure:"threads_per_crawl"`

	MaxRedirects          int `mapstructure:"max_redirects"`
	MaxResponseSize       int64 `mapstructure:"max_response_size"`
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout"`
	SocketTimeoutSeconds  int `mapstructure:"socket_timeout"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout"`

	MaxTitleSize           int `mapstructure:"max_title_size"`
	MaxBodySize            int `mapstructure:"max_body_size"`
	MaxKeywordsSize        int `mapstructure:"max_keywords_size"`
	MaxDescriptionSize     int `mapstructure:"max_description_size"`
	MaxExtractedLinksCount int `mapstructure:"max_extracted_links_count"`
	MaxIndexedLinksCount   int `mapstructure:"max_indexed_links_count"`
	MaxHeadingsCount       int `mapstructure:"max_headings_count"`

	ContentExtractionEnabled   bool     `mapstructure:"content_extraction_enabled"`
	ContentExtractionMimeTypes []string `mapstructure:"content_extraction_mime_types"`

	DefaultEncoding          string `mapstructure:"default_encoding"`
	CompressionEnabled       bool   `mapstructure:"compression_enabled"`
	SitemapDiscoveryDisabled bool   `mapstructure:"sitemap_discovery_disabled"`
	HeadRequestsEnabled      bool   `mapstructure:"head_requests_enabled"`

	// SSLCACertificates holds PEM strings or filesystem paths to PEM files;
	// Load parses these into DER blocks so the engine only ever consumes
	// already-parsed certificates.
	SSLCACertificates   []string `mapstructure:"ssl_ca_certificates"`
	SSLVerificationMode string   `mapstructure:"ssl_verification_mode"`

	HTTPProxy ProxyConfig `mapstructure:"http_proxy"`

	LoopbackAllowed        bool `mapstructure:"loopback_allowed"`
	PrivateNetworksAllowed bool `mapstructure:"private_networks_allowed"`

	HTTPAuthAllowed bool             `mapstructure:"http_auth_allowed"`
	Auth            []HostAuthConfig `mapstructure:"auth"`

	DomainsExtractionRules map[string]DomainRulesConfig `mapstructure:"domains_extraction_rules"`

	StatsDumpIntervalSeconds int `mapstructure:"stats_dump_interval"`
}

// StorageConfig selects and configures the output_sink=file/gcs backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // "local", "memory", or "gcs"
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// QueueConfig configures the file_backed/postgres url_queue backends.
type QueueConfig struct {
	FilePath      string `mapstructure:"file_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// PubSubConfig holds metadata for the pubsub-backed event bus.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. path may be empty, in which
// case only env vars (prefixed CRAWLER_) and defaults apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := crawler.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_enabled", false)
	v.SetDefault("jobstore.backend", "memory")

	v.SetDefault("crawl.user_agent", def.UserAgent)
	v.SetDefault("crawl.output_sink", string(def.OutputSink))
	v.SetDefault("crawl.url_queue", string(def.URLQueue))
	v.SetDefault("crawl.url_queue_size_limit", def.URLQueueSizeLimit)
	v.SetDefault("crawl.max_duration", int(def.MaxDuration.Seconds()))
	v.SetDefault("crawl.max_crawl_depth", def.MaxCrawlDepth)
	v.SetDefault("crawl.max_unique_url_count", def.MaxUniqueURLCount)
	v.SetDefault("crawl.max_url_length", def.MaxURLLength)
	v.SetDefault("crawl.max_url_segments", def.MaxURLSegments)
	v.SetDefault("crawl.max_url_params", def.MaxURLParams)
	v.SetDefault("crawl.threads_per_crawl", def.ThreadsPerCrawl)
	v.SetDefault("crawl.max_redirects", def.MaxRedirects)
	v.SetDefault("crawl.max_response_size", def.MaxResponseSize)
	v.SetDefault("crawl.connect_timeout", int(def.ConnectTimeout.Seconds()))
	v.SetDefault("crawl.socket_timeout", int(def.SocketTimeout.Seconds()))
	v.SetDefault("crawl.request_timeout", int(def.RequestTimeout.Seconds()))
	v.SetDefault("crawl.max_title_size", def.MaxTitleSize)
	v.SetDefault("crawl.max_body_size", def.MaxBodySize)
	v.SetDefault("crawl.max_keywords_size", def.MaxKeywordsSize)
	v.SetDefault("crawl.max_description_size", def.MaxDescriptionSize)
	v.SetDefault("crawl.max_extracted_links_count", def.MaxExtractedLinksCount)
	v.SetDefault("crawl.max_indexed_links_count", def.MaxIndexedLinksCount)
	v.SetDefault("crawl.max_headings_count", def.MaxHeadingsCount)
	v.SetDefault("crawl.default_encoding", def.DefaultEncoding)
	v.SetDefault("crawl.compression_enabled", def.CompressionEnabled)
	v.SetDefault("crawl.sitemap_discovery_disabled", def.SitemapDiscoveryDisabled)
	v.SetDefault("crawl.head_requests_enabled", def.HeadRequestsEnabled)
	v.SetDefault("crawl.ssl_verification_mode", string(def.SSLVerificationMode))
	v.SetDefault("crawl.http_proxy.port", 8080)
	v.SetDefault("crawl.http_proxy.protocol", "http")
	v.SetDefault("crawl.stats_dump_interval", int(def.StatsDumpInterval.Seconds()))

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "./output")

	v.SetDefault("logging.development", false)
}

// Validate enforces the crawl config's own non-empty constraints plus
// the ambient server/storage/auth ones.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if len(c.Crawl.DomainAllowlist) == 0 {
		return fmt.Errorf("crawl.domain_allowlist must be non-empty")
	}
	if len(c.Crawl.SeedURLs) == 0 {
		return fmt.Errorf("crawl.seed_urls must be non-empty")
	}
	if c.Crawl.OutputSink == string(crawler.SinkFile) && c.Storage.BaseDir == "" && c.Storage.Backend == "local" {
		return fmt.Errorf("storage.base_dir is required when crawl.output_sink=file and storage.backend=local")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required when storage.backend=gcs")
	}
	if c.JobStore.Backend == "postgres" && c.JobStore.PostgresDSN == "" {
		return fmt.Errorf("jobstore.postgres_dsn is required when jobstore.backend=postgres")
	}
	return nil
}

// ToEngineConfig converts the Viper-shaped CrawlConfig into the plain
// crawler.Config the engine consumes, parsing durations, domains, and CA
// certificates along the way.
func (c Config) ToEngineConfig() (crawler.Config, error) {
	cfg := crawler.DefaultConfig()
	cc := c.Crawl

	cfg.CrawlID = cc.CrawlID
	cfg.SitemapURLs = cc.SitemapURLs
	if cc.UserAgent != "" {
		cfg.UserAgent = cc.UserAgent
	}
	if cc.OutputSink != "" {
		cfg.OutputSink = crawler.SinkKind(cc.OutputSink)
	}
	cfg.OutputDir = cc.OutputDir
	if cc.URLQueue != "" {
		cfg.URLQueue = crawler.QueueBackend(cc.URLQueue)
	}
	if cc.URLQueueSizeLimit > 0 {
		cfg.URLQueueSizeLimit = cc.URLQueueSizeLimit
	}
	if cc.MaxDurationSeconds > 0 {
		cfg.MaxDuration = time.Duration(cc.MaxDurationSeconds) * time.Second
	}
	setIfPositive(&cfg.MaxCrawlDepth, cc.MaxCrawlDepth)
	setIfPositive(&cfg.MaxUniqueURLCount, cc.MaxUniqueURLCount)
	setIfPositive(&cfg.MaxURLLength, cc.MaxURLLength)
	setIfPositive(&cfg.MaxURLSegments, cc.MaxURLSegments)
	setIfPositive(&cfg.MaxURLParams, cc.MaxURLParams)
	setIfPositive(&cfg.ThreadsPerCrawl, cc.ThreadsPerCrawl)
	setIfPositive(&cfg.MaxRedirects, cc.MaxRedirects)
	if cc.MaxResponseSize > 0 {
		cfg.MaxResponseSize = cc.MaxResponseSize
	}
	if cc.ConnectTimeoutSeconds > 0 {
		cfg.ConnectTimeout = time.Duration(cc.ConnectTimeoutSeconds) * time.Second
	}
	if cc.SocketTimeoutSeconds > 0 {
		cfg.SocketTimeout = time.Duration(cc.SocketTimeoutSeconds) * time.Second
	}
	if cc.RequestTimeoutSeconds > 0 {
		cfg.RequestTimeout = time.Duration(cc.RequestTimeoutSeconds) * time.Second
	}
	setIfPositive(&cfg.MaxTitleSize, cc.MaxTitleSize)
	setIfPositive(&cfg.MaxBodySize, cc.MaxBodySize)
	setIfPositive(&cfg.MaxKeywordsSize, cc.MaxKeywordsSize)
	setIfPositive(&cfg.MaxDescriptionSize, cc.MaxDescriptionSize)
	setIfPositive(&cfg.MaxExtractedLinksCount, cc.MaxExtractedLinksCount)
	setIfPositive(&cfg.MaxIndexedLinksCount, cc.MaxIndexedLinksCount)
	setIfPositive(&cfg.MaxHeadingsCount, cc.MaxHeadingsCount)
	cfg.ContentExtractionEnabled = cc.ContentExtractionEnabled
	cfg.ContentExtractionMimeTypes = cc.ContentExtractionMimeTypes
	if cc.DefaultEncoding != "" {
		cfg.DefaultEncoding = cc.DefaultEncoding
	}
	cfg.CompressionEnabled = cc.CompressionEnabled
	cfg.SitemapDiscoveryDisabled = cc.SitemapDiscoveryDisabled
	cfg.HeadRequestsEnabled = cc.HeadRequestsEnabled
	cfg.LoopbackAllowed = cc.LoopbackAllowed
	cfg.PrivateNetworksAllowed = cc.PrivateNetworksAllowed
	cfg.HTTPAuthAllowed = cc.HTTPAuthAllowed

	if cc.SSLVerificationMode != "" {
		cfg.SSLVerificationMode = crawler.TLSVerificationMode(cc.SSLVerificationMode)
	}
	certs, err := parseCACertificates(cc.SSLCACertificates)
	if err != nil {
		return crawler.Config{}, fmt.Errorf("parse ssl_ca_certificates: %w", err)
	}
	cfg.SSLCACertificates = certs

	if cc.HTTPProxy.Host != "" {
		cfg.Proxy = &crawler.ProxyConfig{
			Host:     cc.HTTPProxy.Host,
			Port:     cc.HTTPProxy.Port,
			Protocol: cc.HTTPProxy.Protocol,
			Username: cc.HTTPProxy.Username,
			Password: cc.HTTPProxy.Password,
		}
	}

	for _, a := range cc.Auth {
		cfg.Auth = append(cfg.Auth, crawler.HostAuth{Host: a.Host, Username: a.Username, Password: a.Password})
	}

	allowlist, err := parseDomainAllowlist(cc.DomainAllowlist)
	if err != nil {
		return crawler.Config{}, err
	}
	cfg.DomainAllowlist = allowlist

	if len(cc.SeedURLs) > 0 {
		cfg.SeedURLs = crawler.SliceSeeds(cc.SeedURLs)
	}

	if len(cc.DomainsExtractionRules) > 0 {
		cfg.DomainExtractionRules = make(map[string]crawler.DomainRules, len(cc.DomainsExtractionRules))
		for domain, dr := range cc.DomainsExtractionRules {
			var rules crawler.DomainRules
			for _, f := range dr.Rules {
				rules.Fields = append(rules.Fields, crawler.FieldRule{Name: f.Name, Pattern: f.Pattern})
			}
			for _, f := range dr.URLFilters {
				rules.URLFilters = append(rules.URLFilters, crawler.URLFilterRule{
					Kind:    crawler.URLFilterKind(f.Kind),
					Pattern: f.Pattern,
				})
			}
			cfg.DomainExtractionRules[domain] = rules
		}
	}

	if cc.StatsDumpIntervalSeconds > 0 {
		cfg.StatsDumpInterval = time.Duration(cc.StatsDumpIntervalSeconds) * time.Second
	}

	return cfg, cfg.Validate()
}

func setIfPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// parseDomainAllowlist parses each domain_allowlist entry (an absolute
// http(s) URL with empty path) into a crawler.Domain.
func parseDomainAllowlist(entries []string) ([]crawler.Domain, error) {
	domains := make([]crawler.Domain, 0, len(entries))
	for _, entry := range entries {
		d, err := crawler.ParseDomain(entry)
		if err != nil {
			return nil, fmt.Errorf("domain_allowlist entry %q: %w", entry, err)
		}
		domains = append(domains, d)
	}
	return domains, nil
}

// parseCACertificates loads each ssl_ca_certificates entry, which may be an
// inline PEM string or a filesystem path to one, into DER-encoded blocks.
func parseCACertificates(entries []string) ([][]byte, error) {
	var out [][]byte
	for _, entry := range entries {
		data := []byte(entry)
		if !strings.Contains(entry, "-----BEGIN") {
			read, err := os.ReadFile(entry)
			if err != nil {
				return nil, fmt.Errorf("read ca certificate file %q: %w", entry, err)
			}
			data = read
		}
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			out = append(out, block.Bytes)
		}
	}
	return out, nil
}
