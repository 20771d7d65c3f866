package crawler

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/kennygrant/sanitize"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// ExtractionLimits bounds the HTML extraction pipeline.
type ExtractionLimits struct {
	MaxTitleSize           int
	MaxBodySize            int
	MaxKeywordsSize        int
	MaxDescriptionSize     int
	MaxExtractedLinksCount int
	MaxIndexedLinksCount   int
	MaxHeadingsCount       int
	DefaultEncoding        string
}

// ExtractedDocument is the intermediate shape extraction fills in before
// the coordinator converts it into a CrawlResult and a set of candidate
// child CrawlTasks.
type ExtractedDocument struct {
	Title           string
	Body            string
	MetaKeywords    string
	MetaDescription string
	Headings        []Heading
	Links           []Link // resolved against the base URL, pre-filter
}

// ExtractHTML parses an HTML document tolerantly (HTML5, via goquery) and
// extracts title/body/meta/headings/links. body is the
// raw (possibly non-UTF-8) response bytes; contentType is the response's
// Content-Type header value, used for charset sniffing alongside the BOM
// and the document's own <meta charset>.
func ExtractHTML(body []byte, contentType string, baseURL URL, urlLimits Limits, limits ExtractionLimits) (*ExtractedDocument, error) {
	decoded, err := decodeHTMLBody(body, contentType, limits.DefaultEncoding)
	if err != nil {
		return nil, WrapErr(ErrKindParser, baseURL.String(), fmt.Errorf("decode html body: %w", err))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return nil, WrapErr(ErrKindParser, baseURL.String(), fmt.Errorf("parse html: %w", err))
	}

	extracted := &ExtractedDocument{
		Title:           truncateBytes(strings.TrimSpace(doc.Find("title").First().Text()), limits.MaxTitleSize),
		MetaKeywords:    truncateBytes(metaContent(doc, "keywords"), limits.MaxKeywordsSize),
		MetaDescription: truncateBytes(metaContent(doc, "description"), limits.MaxDescriptionSize),
	}
	extracted.Headings = extractHeadings(doc, limits.MaxHeadingsCount)
	extracted.Body = truncateBytes(extractBodyText(doc), limits.MaxBodySize)
	extracted.Links = extractLinks(doc, baseURL, urlLimits, limits.MaxExtractedLinksCount)

	return extracted, nil
}

// decodeHTMLBody resolves the charset from Content-Type, then the BOM,
// then the document's own <meta charset>, falling back to defaultEncoding,
// and transcodes to UTF-8.
func decodeHTMLBody(body []byte, contentType, defaultEncoding string) ([]byte, error) {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "" || enc == nil {
		if det, err := chardet.NewTextDetector().DetectBest(body); err == nil && det != nil {
			if guessed, _ := charset.Lookup(det.Charset); guessed != nil {
				enc = guessed
			}
		}
	}
	if enc == nil {
		fallback := defaultEncoding
		if fallback == "" {
			fallback = "UTF-8"
		}
		if guessed, _ := charset.Lookup(fallback); guessed != nil {
			enc = guessed
		}
	}
	if enc == nil || isUTF8(enc) {
		return body, nil
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return body, nil //nolint:nilerr // best-effort; fall back to raw bytes rather than failing the task
	}
	return out, nil
}

func isUTF8(enc encoding.Encoding) bool {
	_, name, _ := charset.DetermineEncoding([]byte{}, "")
	_ = name
	// encoding.Nop and UTF-8 round-trip bytes unchanged; comparing the
	// decoder against itself is the simplest available identity check
	// since golang.org/x/text does not export a Name() on Encoding.
	out, _, err := transform.Bytes(enc.NewDecoder(), []byte("a"))
	return err == nil && string(out) == "a" && enc == encoding.Nop
}

func metaContent(doc *goquery.Document, name string) string {
	var content string
	doc.Find(fmt.Sprintf(`meta[name="%s"]`, name)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
			content = strings.TrimSpace(v)
			return false
		}
		return true
	})
	return content
}

var headingTags = []string{"h1", "h2", "h3", "h4", "h5", "h6"}

func extractHeadings(doc *goquery.Document, maxCount int) []Heading {
	var headings []Heading
	doc.Find(strings.Join(headingTags, ",")).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if maxCount > 0 && len(headings) >= maxCount {
			return false
		}
		tag := goquery.NodeName(sel)
		level := int(tag[1] - '0')
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return true
		}
		headings = append(headings, Heading{Level: level, Text: text})
		return true
	})
	return headings
}

// noiseSelectors names elements excluded from the body text: script,
// style, nav, and other chrome that isn't page content.
var noiseSelectors = "script,style,nav,noscript,header,footer"

func extractBodyText(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find(noiseSelectors).Remove()
	html, err := clone.Find("body").Html()
	if err != nil || html == "" {
		return strings.TrimSpace(sanitize.HTML(clone.Text()))
	}
	return strings.TrimSpace(sanitize.HTML(html))
}

// extractLinks collects <a href>, <link rel=canonical>, and <area href>,
// resolves them against base, and returns up to maxCount in document
// order. Filtering against the allowlist/visited set
// happens later in the coordinator, not here.
func extractLinks(doc *goquery.Document, base URL, limits Limits, maxCount int) []Link {
	var links []Link
	collect := func(sel *goquery.Selection) {
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if maxCount > 0 && len(links) >= maxCount {
				return false
			}
			rel := ""
			if goquery.NodeName(s) == "link" {
				rel = "canonical"
			}
			href, ok := s.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return true
			}
			resolved, err := ResolveReference(base, href, limits)
			if err != nil {
				return true
			}
			links = append(links, Link{URL: resolved, Text: strings.TrimSpace(s.Text()), Rel: rel})
			return true
		})
	}
	collect(doc.Find(`a[href], link[rel="canonical"][href], area[href]`))
	return links
}

// truncateBytes truncates s to at most maxBytes bytes without splitting a
// UTF-8 rune.
func truncateBytes(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
