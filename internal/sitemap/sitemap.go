// Package sitemap parses XML sitemap and sitemap-index documents into
// crawler.CrawlTask records. It is grounded on
// jonesrussell-north-cloud's feed.ParseSitemap/ParseSitemapIndex, extended
// with the gzip transport decoding, the 50,000-URL / 50 MiB caps, and the
// skip-malformed-entries streaming behavior this engine requires.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fieldcrawl/crawler/internal/crawler"
)

// MaxURLs is the per-sitemap cap on URL entries.
const MaxURLs = 50_000

// MaxUncompressedBytes is the per-sitemap cap on decoded body size.
const MaxUncompressedBytes = 50 * 1024 * 1024

const dateOnlyFormat = "2006-01-02"

// xmlURLSet is the root element of a standard sitemap XML file.
type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

// xmlURL is a single <url> entry inside a <urlset>.
type xmlURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// xmlSitemapIndex is the root element of a sitemap index XML file.
type xmlSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}

// xmlSitemap is a single <sitemap> entry inside a <sitemapindex>.
type xmlSitemap struct {
	Loc string `xml:"loc"`
}

// Warning describes a non-fatal parse problem: a malformed entry skipped,
// or the URL/byte caps having truncated the document.
type Warning struct {
	Message string
}

// Result is the outcome of parsing a sitemap document: the tasks it
// produced, plus any warnings accumulated while skipping malformed entries
// or truncating at a cap.
type Result struct {
	Tasks    []crawler.CrawlTask
	Warnings []Warning
	Truncated bool
}

// Decode wraps r with a gzip reader when isGzip is set, so callers can pass
// the HTTP response body directly regardless of Content-Encoding. Decoding
// is capped at maxBytes to honor max_response_size.
func Decode(r io.Reader, isGzip bool, maxBytes int64) ([]byte, error) {
	if isGzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip sitemap: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read sitemap body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], nil
	}
	return body, nil
}

// Parse parses a standard sitemap XML document (a <urlset>), producing
// depth=1, discovered_via=sitemap CrawlTasks. Malformed <url> entries (no
// parseable loc) are skipped with a warning rather than aborting the whole
// document; entries beyond MaxURLs, or bytes beyond MaxUncompressedBytes,
// are dropped with a truncation warning (an over-size body is cut back to
// its last complete </url> entry).
func Parse(body []byte, limits crawler.Limits) (Result, error) {
	var res Result

	if len(body) > MaxUncompressedBytes {
		body = body[:MaxUncompressedBytes]
		// Close the root after the last complete entry so the cut
		// document still parses.
		if i := bytes.LastIndex(body, []byte("</url>")); i >= 0 {
			end := i + len("</url>")
			body = append(body[:end:end], "</urlset>"...)
		}
		res.Truncated = true
		res.Warnings = append(res.Warnings, Warning{Message: fmt.Sprintf("sitemap exceeds %d bytes uncompressed, truncated", MaxUncompressedBytes)})
	}

	var urlset xmlURLSet
	if err := xml.Unmarshal(body, &urlset); err != nil {
		return res, fmt.Errorf("parse sitemap: %w", err)
	}

	for _, entry := range urlset.URLs {
		if len(res.Tasks) >= MaxURLs {
			res.Truncated = true
			res.Warnings = append(res.Warnings, Warning{Message: fmt.Sprintf("sitemap exceeds %d URLs, remaining entries dropped", MaxURLs)})
			break
		}
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			res.Warnings = append(res.Warnings, Warning{Message: "skipped sitemap entry with empty loc"})
			continue
		}
		u, err := crawler.ParseURL(loc, limits)
		if err != nil {
			res.Warnings = append(res.Warnings, Warning{Message: fmt.Sprintf("skipped sitemap entry %q: %v", loc, err)})
			continue
		}
		res.Tasks = append(res.Tasks, crawler.CrawlTask{
			URL:           u,
			Depth:         1,
			DiscoveredVia: crawler.DiscoveredSitemap,
		})
	}

	return res, nil
}

// ParseIndex parses a sitemap-index XML document (a <sitemapindex>),
// returning the child sitemap URLs for the caller to fetch and parse in
// turn. Malformed entries are skipped with a warning.
func ParseIndex(body []byte) ([]string, []Warning, error) {
	var index xmlSitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		return nil, nil, fmt.Errorf("parse sitemap index: %w", err)
	}

	var urls []string
	var warnings []Warning
	for _, s := range index.Sitemaps {
		loc := strings.TrimSpace(s.Loc)
		if loc == "" {
			warnings = append(warnings, Warning{Message: "skipped sitemap index entry with empty loc"})
			continue
		}
		urls = append(urls, loc)
	}
	return urls, warnings, nil
}

// LooksLikeIndex reports whether body's root element is <sitemapindex>
// rather than <urlset>, so a caller can dispatch without parsing twice.
func LooksLikeIndex(body []byte) bool {
	decoder := xml.NewDecoder(strings.NewReader(string(body)))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local == "sitemapindex"
		}
	}
}

// parseLastMod attempts to parse a sitemap lastmod value: RFC 3339 first,
// then the date-only format. Unused by Parse today (
// for lastmod-based filtering) but kept for callers that want to sort or
// inspect freshness on the raw XML before calling Parse.
func parseLastMod(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateOnlyFormat, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse lastmod %q: %w", trimmed, err)
	}
	return t, nil
}
