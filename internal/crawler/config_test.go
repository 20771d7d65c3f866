package crawler

import "testing"

func validConfig() Config {
	c := DefaultConfig()
	c.DomainAllowlist = []Domain{{Scheme: "https", Host: "example.com"}}
	c.SeedURLs = SliceSeeds([]string{"https://example.com/"})
	return c
}

func TestDefaultConfigIsInternallyConsistent(t *testing.T) {
	c := DefaultConfig()
	if c.ThreadsPerCrawl <= 0 {
		t.Error("expected a positive default ThreadsPerCrawl")
	}
	if c.MaxCrawlDepth <= 0 {
		t.Error("expected a positive default MaxCrawlDepth")
	}
	if c.URLQueueSizeLimit <= 0 {
		t.Error("expected a positive default URLQueueSizeLimit")
	}
	if c.MaxUniqueURLCount <= 0 {
		t.Error("expected a positive default MaxUniqueURLCount")
	}
}

func TestConfigValidateRequiresDomainAllowlist(t *testing.T) {
	c := validConfig()
	c.DomainAllowlist = nil
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error for empty domain allowlist")
	}
	if kind, ok := KindOf(err); !ok || kind != ErrKindConfig {
		t.Errorf("kind = %v, ok = %v, want ErrKindConfig", kind, ok)
	}
}

func TestConfigValidateRequiresSeedURLs(t *testing.T) {
	c := validConfig()
	c.SeedURLs = nil
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for nil SeedURLs")
	}
}

func TestConfigValidateRequiresPositiveThreadsPerCrawl(t *testing.T) {
	c := validConfig()
	c.ThreadsPerCrawl = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero ThreadsPerCrawl")
	}
}

func TestConfigValidateRequiresOutputDirForFileSink(t *testing.T) {
	c := validConfig()
	c.OutputSink = SinkFile
	c.OutputDir = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for file sink with empty OutputDir")
	}
}

func TestConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewCrawlIDGeneratesWhenAbsent(t *testing.T) {
	c := DefaultConfig()
	if c.CrawlID != "" {
		t.Fatalf("expected empty default CrawlID, got %q", c.CrawlID)
	}
	id := c.NewCrawlID()
	if id == "" {
		t.Error("expected a generated crawl ID")
	}
}

func TestNewCrawlIDReturnsConfiguredValue(t *testing.T) {
	c := DefaultConfig()
	c.CrawlID = "fixed-id"
	if got := c.NewCrawlID(); got != "fixed-id" {
		t.Errorf("NewCrawlID() = %q, want fixed-id", got)
	}
}

func TestSliceSeedsIteratesInOrderThenStops(t *testing.T) {
	next := SliceSeeds([]string{"a", "b"})()
	var got []string
	for {
		v, ok := next()
		if !ok {
			break
		}
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got = %v, want [a b]", got)
	}
}
