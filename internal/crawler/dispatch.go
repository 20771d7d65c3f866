package crawler

import "strings"

// DocumentKind is the coarse content-type dispatch decision made before
// any parsing happens.
type DocumentKind int

// DocumentKind values.
const (
	DocHTML DocumentKind = iota
	DocSitemap
	DocContentExtractable
	DocUnsupported
)

var sitemapMimeTypes = map[string]bool{
	"text/xml":              true,
	"application/xml":       true,
	"application/xml+sitemap": true,
}

// baseMimeType strips parameters (e.g. "; charset=utf-8") and lowercases.
func baseMimeType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
}

// IsHTMLContentType reports whether contentType is the HTML path:
// "text/html or application/xhtml+xml".
func IsHTMLContentType(contentType string) bool {
	mt := baseMimeType(contentType)
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// IsSitemapContentType reports whether contentType looks like an XML
// sitemap document.
func IsSitemapContentType(contentType string) bool {
	return sitemapMimeTypes[baseMimeType(contentType)]
}

// ClassifyDocument dispatches by Content-Type: HTML, sitemap XML,
// content_extraction_mime_types (when enabled), or unsupported.
func ClassifyDocument(contentType string, extractionEnabled bool, extractableMimeTypes []string) DocumentKind {
	switch {
	case IsHTMLContentType(contentType):
		return DocHTML
	case IsSitemapContentType(contentType):
		return DocSitemap
	case extractionEnabled && containsMimeType(extractableMimeTypes, contentType):
		return DocContentExtractable
	default:
		return DocUnsupported
	}
}

func containsMimeType(configured []string, contentType string) bool {
	mt := baseMimeType(contentType)
	for _, c := range configured {
		if baseMimeType(c) == mt {
			return true
		}
	}
	return false
}
