package crawler

import "testing"

func mustBaseURL(t *testing.T) URL {
	t.Helper()
	u, err := ParseURL("https://example.com/articles/", DefaultLimits)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	return u
}

func TestExtractHTMLBasicFields(t *testing.T) {
	html := `<html><head>
		<title>  Hello World  </title>
		<meta name="keywords" content="go, crawler">
		<meta name="description" content="a test page">
	</head><body>
		<h1>Top Heading</h1>
		<h2>Sub Heading</h2>
		<p>Some body text.</p>
		<a href="/articles/one">One</a>
		<a href="https://other.com/x">External</a>
		<link rel="canonical" href="/articles/canonical">
	</body></html>`

	limits := ExtractionLimits{
		MaxTitleSize:           1024,
		MaxBodySize:            1024 * 1024,
		MaxKeywordsSize:        1024,
		MaxDescriptionSize:     1024,
		MaxExtractedLinksCount: 100,
		MaxHeadingsCount:       100,
		DefaultEncoding:        "UTF-8",
	}

	doc, err := ExtractHTML([]byte(html), "text/html; charset=utf-8", mustBaseURL(t), DefaultLimits, limits)
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	if doc.Title != "Hello World" {
		t.Errorf("Title = %q, want %q", doc.Title, "Hello World")
	}
	if doc.MetaKeywords != "go, crawler" {
		t.Errorf("MetaKeywords = %q", doc.MetaKeywords)
	}
	if doc.MetaDescription != "a test page" {
		t.Errorf("MetaDescription = %q", doc.MetaDescription)
	}
	if len(doc.Headings) != 2 || doc.Headings[0].Text != "Top Heading" || doc.Headings[0].Level != 1 {
		t.Errorf("Headings = %+v", doc.Headings)
	}
	if len(doc.Links) != 3 {
		t.Fatalf("len(Links) = %d, want 3", len(doc.Links))
	}
	var canonical *Link
	for i := range doc.Links {
		if doc.Links[i].Rel == "canonical" {
			canonical = &doc.Links[i]
		}
	}
	if canonical == nil {
		t.Fatal("expected a canonical link")
	}
	if canonical.URL.String() != "https://example.com/articles/canonical" {
		t.Errorf("canonical resolved = %q", canonical.URL.String())
	}
}

func TestExtractHTMLTruncatesTitle(t *testing.T) {
	html := `<html><head><title>abcdefghij</title></head><body></body></html>`
	limits := ExtractionLimits{MaxTitleSize: 5, DefaultEncoding: "UTF-8"}
	doc, err := ExtractHTML([]byte(html), "text/html", mustBaseURL(t), DefaultLimits, limits)
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	if doc.Title != "abcde" {
		t.Errorf("Title = %q, want truncated to 5 bytes", doc.Title)
	}
}

func TestExtractHTMLHeadingCountLimit(t *testing.T) {
	html := `<html><body><h1>a</h1><h1>b</h1><h1>c</h1></body></html>`
	limits := ExtractionLimits{MaxHeadingsCount: 2, DefaultEncoding: "UTF-8"}
	doc, err := ExtractHTML([]byte(html), "text/html", mustBaseURL(t), DefaultLimits, limits)
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	if len(doc.Headings) != 2 {
		t.Errorf("len(Headings) = %d, want 2", len(doc.Headings))
	}
}

func TestExtractHTMLToleratesMalformedBody(t *testing.T) {
	// goquery/html5 parsing is extremely tolerant; ExtractHTML should still
	// succeed on near-arbitrary input rather than erroring.
	html := `not really html at all`
	limits := ExtractionLimits{DefaultEncoding: "UTF-8"}
	if _, err := ExtractHTML([]byte(html), "text/html", mustBaseURL(t), DefaultLimits, limits); err != nil {
		t.Errorf("expected tolerant HTML parse to succeed, got: %v", err)
	}
}

func TestTruncateBytesDoesNotSplitRune(t *testing.T) {
	s := "aéb" // 'é' is 2 bytes in UTF-8
	got := truncateBytes(s, 2)
	if got != "a" {
		t.Errorf("truncateBytes = %q, want %q (rune boundary respected)", got, "a")
	}
}

func TestTruncateBytesNoopWhenUnderLimit(t *testing.T) {
	if got := truncateBytes("short", 100); got != "short" {
		t.Errorf("truncateBytes = %q, want unchanged", got)
	}
}
