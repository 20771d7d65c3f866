package sitemap

import (
	"bytes"
	"context"
	"strings"

	"github.com/fieldcrawl/crawler/internal/crawler"
)

// Source adapts the package-level Decode/Parse/ParseIndex functions to
// crawler.SitemapSource, fetching documents through the same HTTPClient the
// coordinator uses for page fetches. It is the glue that lets the
// coordinator drive sitemap discovery without crawler importing this
// package (which would cycle, since this package imports crawler).
type Source struct {
	http     *crawler.HTTPClient
	maxBytes int64
}

// NewSource constructs a Source. maxBytes bounds the decoded sitemap body
// size independent of MaxUncompressedBytes, mirroring max_response_size.
func NewSource(httpClient *crawler.HTTPClient, maxBytes int64) *Source {
	if maxBytes <= 0 {
		maxBytes = MaxUncompressedBytes
	}
	return &Source{http: httpClient, maxBytes: maxBytes}
}

// FetchSitemap implements crawler.SitemapSource.
func (s *Source) FetchSitemap(ctx context.Context, rawURL string, limits crawler.Limits) (crawler.SitemapResult, error) {
	resp, err := s.http.Fetch(ctx, rawURL)
	if err != nil {
		return crawler.SitemapResult{}, err
	}
	defer resp.Body.Close()

	raw, err := crawler.ReadCapped(resp.Body, s.maxBytes, rawURL)
	if err != nil {
		return crawler.SitemapResult{}, err
	}

	isGzip := strings.HasSuffix(strings.ToLower(rawURL), ".gz") || isGzipContentType(resp.ContentType)
	decoded, err := Decode(bytes.NewReader(raw), isGzip, s.maxBytes)
	if err != nil {
		return crawler.SitemapResult{}, crawler.WrapErr(crawler.ErrKindParser, rawURL, err)
	}

	return parseDecoded(decoded, limits, rawURL)
}

// ParseSitemap implements crawler.SitemapSource for bodies the coordinator
// already fetched (and transport-decompressed) through the generic worker
// path.
func (s *Source) ParseSitemap(body []byte, limits crawler.Limits) (crawler.SitemapResult, error) {
	return parseDecoded(body, limits, "")
}

func parseDecoded(decoded []byte, limits crawler.Limits, sourceURL string) (crawler.SitemapResult, error) {
	if LooksLikeIndex(decoded) {
		urls, warnings, err := ParseIndex(decoded)
		if err != nil {
			return crawler.SitemapResult{}, crawler.WrapErr(crawler.ErrKindParser, sourceURL, err)
		}
		return crawler.SitemapResult{IsIndex: true, IndexURLs: urls, Warnings: warningMessages(warnings)}, nil
	}

	result, err := Parse(decoded, limits)
	if err != nil {
		return crawler.SitemapResult{}, crawler.WrapErr(crawler.ErrKindParser, sourceURL, err)
	}
	return crawler.SitemapResult{
		Tasks:     result.Tasks,
		Warnings:  warningMessages(result.Warnings),
		Truncated: result.Truncated,
	}, nil
}

func isGzipContentType(contentType string) bool {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return mt == "application/gzip" || mt == "application/x-gzip"
}

func warningMessages(warnings []Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.Message
	}
	return out
}
