package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawl:
  domain_allowlist: ["https://example.com"]
  seed_urls: ["https://example.com/"]
  user_agent: real-agent
  threads_per_crawl: 6
  max_crawl_depth: 5
storage:
  backend: local
  base_dir: ./out
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, "real-agent", cfg.Crawl.UserAgent)
	assert.Equal(t, 6, cfg.Crawl.ThreadsPerCrawl)
	assert.Equal(t, 5, cfg.Crawl.MaxCrawlDepth)
	assert.True(t, cfg.Logging.Development)

	engineCfg, err := cfg.ToEngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "real-agent", engineCfg.UserAgent)
	assert.Equal(t, 6, engineCfg.ThreadsPerCrawl)
	assert.Equal(t, 5, engineCfg.MaxCrawlDepth)
	assert.Len(t, engineCfg.DomainAllowlist, 1)
	require.NoError(t, engineCfg.Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawl:
  domain_allowlist: ["https://example.com"]
  seed_urls: ["https://example.com/"]
storage:
  backend: local
  base_dir: ./out
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "Elastic-Crawler/1.0", cfg.Crawl.UserAgent)
	assert.Equal(t, 10, cfg.Crawl.ThreadsPerCrawl)
	assert.Equal(t, 10, cfg.Crawl.MaxCrawlDepth)
	assert.False(t, cfg.Server.AdminEnabled)
	assert.Equal(t, "memory", cfg.JobStore.Backend)

	engineCfg, err := cfg.ToEngineConfig()
	require.NoError(t, err)
	require.NoError(t, engineCfg.Validate())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawl: CrawlConfig{
			DomainAllowlist: []string{"https://example.com"},
			SeedURLs:        []string{"https://example.com/"},
		},
		Storage: StorageConfig{Backend: "local", BaseDir: "./out"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "missing domain allowlist",
			cfg: func() Config {
				c := base
				c.Crawl.DomainAllowlist = nil
				return c
			}(),
			want: "domain_allowlist",
		},
		{
			name: "missing seed urls",
			cfg: func() Config {
				c := base
				c.Crawl.SeedURLs = nil
				return c
			}(),
			want: "seed_urls",
		},
		{
			name: "gcs backend missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				c.Storage.GCSBucket = ""
				return c
			}(),
			want: "gcs_bucket",
		},
		{
			name: "postgres jobstore missing dsn",
			cfg: func() Config {
				c := base
				c.JobStore.Backend = "postgres"
				c.JobStore.PostgresDSN = ""
				return c
			}(),
			want: "jobstore.postgres_dsn",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want))
		})
	}
}

func TestToEngineConfigRejectsMalformedAllowlistEntry(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Crawl: CrawlConfig{
			DomainAllowlist: []string{"not a url"},
			SeedURLs:        []string{"https://example.com/"},
		},
	}
	_, err := cfg.ToEngineConfig()
	require.Error(t, err)
}
