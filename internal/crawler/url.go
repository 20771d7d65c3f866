package crawler

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	whatwgurl "github.com/nlnwa/whatwg-url/url"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/idna"
)

// whatwgParser runs the WHATWG URL Standard's parsing/serialization
// algorithm ahead of net/url, so ParseURL and ResolveReference inherit its
// handling of quirks net/url leaves as caller responsibility (backslash-as-
// slash, tab/newline stripping, IDNA-aware host parsing intertwined with the
// rest of the state machine, ambiguous authority slashes). The engine's own
// segment/query/limit normalization still runs afterward.
var whatwgParser = whatwgurl.NewParser(whatwgurl.WithPercentEncodeSinglePercentSign())

// URL is the engine's normalized value object. It is
// constructed only via ParseURL/ResolveReference so every instance already
// satisfies the normalization invariants.
type URL struct {
	Scheme string
	Host   string // punycode, lowercased, default port elided
	Path   string
	Query  string // canonical query string, key order preserved

	raw string
}

// Limits bounds URL complexity accepted by ParseURL.
type Limits struct {
	MaxURLLength  int
	MaxSegments   int
	MaxQueryParams int
}

// DefaultLimits is used wherever a caller needs Limits but has no
// crawler.Config in scope (e.g. parsing a domain allowlist entry).
var DefaultLimits = Limits{MaxURLLength: 2048, MaxSegments: 16, MaxQueryParams: 32}

// Authority returns the scheme+host+port tuple used for robots scoping and
// allowlist comparison, per the GLOSSARY.
func (u URL) Authority() string {
	return u.Scheme + "://" + u.Host
}

// String returns the normalized string form of the URL.
func (u URL) String() string {
	if u.raw != "" {
		return u.raw
	}
	s := u.Scheme + "://" + u.Host + u.Path
	if u.Query != "" {
		s += "?" + u.Query
	}
	return s
}

// Fingerprint returns a stable 128-bit hash of the normalized URL, truncated
// from a BLAKE2b-256 digest. Two URLs with equal normalized strings always
// produce equal fingerprints; the converse may collide with negligible
// probability.
func (u URL) Fingerprint() [16]byte {
	sum := blake2b.Sum256([]byte(u.String()))
	var fp [16]byte
	copy(fp[:], sum[:16])
	return fp
}

// FingerprintHex is the fingerprint rendered as a lowercase hex string,
// convenient as a map/set key and for log fields.
func (u URL) FingerprintHex() string {
	fp := u.Fingerprint()
	return fmt.Sprintf("%x", fp)
}

// Domain is a scheme+host+port tuple with no path, used as an allowlist
// entry.
type Domain struct {
	Scheme string
	Host   string
}

// String renders the domain as "scheme://host".
func (d Domain) String() string { return d.Scheme + "://" + d.Host }

// ParseDomain parses an allowlist entry: it must be an absolute http(s) URL
// with an empty path.
func ParseDomain(raw string) (Domain, error) {
	u, err := ParseURL(raw, DefaultLimits)
	if err != nil {
		return Domain{}, err
	}
	if u.Path != "" && u.Path != "/" {
		return Domain{}, fmt.Errorf("domain allowlist entry %q must have an empty path", raw)
	}
	return Domain{Scheme: u.Scheme, Host: u.Host}, nil
}

// ParseURL parses, validates, and normalizes rawURL. It rejects anything
// over the supplied Limits with an "invalid url - too complex" error, and
// anything whose scheme isn't http/https.
func ParseURL(rawURL string, limits Limits) (URL, error) {
	if limits.MaxURLLength > 0 && len(rawURL) > limits.MaxURLLength {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, fmt.Errorf("invalid url - too complex: length %d exceeds max %d", len(rawURL), limits.MaxURLLength))
	}

	whatwgURL, err := whatwgParser.Parse(rawURL)
	if err != nil {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, fmt.Errorf("parse url: %w", err))
	}

	parsed, err := url.Parse(whatwgURL.Href(false))
	if err != nil {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, fmt.Errorf("parse url: %w", err))
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, fmt.Errorf("unsupported scheme %q", parsed.Scheme))
	}

	host, err := normalizeHost(parsed.Hostname())
	if err != nil {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, err)
	}
	if port := parsed.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = host + ":" + port
	}

	segPath := normalizePath(parsed.EscapedPath())
	segments := pathSegments(segPath)
	if limits.MaxSegments > 0 && len(segments) > limits.MaxSegments {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, fmt.Errorf("invalid url - too complex: %d path segments exceeds max %d", len(segments), limits.MaxSegments))
	}

	query, paramCount, err := normalizeQuery(parsed.RawQuery)
	if err != nil {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, err)
	}
	if limits.MaxQueryParams > 0 && paramCount > limits.MaxQueryParams {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, fmt.Errorf("invalid url - too complex: %d query params exceeds max %d", paramCount, limits.MaxQueryParams))
	}

	u := URL{Scheme: scheme, Host: host, Path: segPath, Query: query}
	if limits.MaxURLLength > 0 && len(u.String()) > limits.MaxURLLength {
		return URL{}, WrapErr(ErrKindInvalidURL, rawURL, fmt.Errorf("invalid url - too complex: normalized length exceeds max %d", limits.MaxURLLength))
	}
	return u, nil
}

// ResolveReference normalizes href against the URL u used as a base, the
// way link extraction resolves relative hrefs against the document's base
// URL. Resolution itself goes through whatwgParser.ParseRef rather than
// net/url.ResolveReference, since the WHATWG algorithm is what browsers (and
// therefore the pages being crawled) actually assume for things like a bare
// "//host/path" protocol-relative href or a base with a non-hierarchical
// path.
func ResolveReference(base URL, href string, limits Limits) (URL, error) {
	resolved, err := whatwgParser.ParseRef(base.String(), href)
	if err != nil {
		return URL{}, WrapErr(ErrKindInvalidURL, href, fmt.Errorf("resolve reference: %w", err))
	}
	return ParseURL(resolved.Href(false), limits)
}

func normalizeHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return "", fmt.Errorf("url has no host")
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// Already ASCII or punycode-ineligible; fall back to the lowercased
		// form rather than rejecting hosts idna considers too strict.
		return host, nil //nolint:nilerr
	}
	return ascii, nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// normalizePath percent-decodes unreserved characters, re-encodes reserved
// ones, collapses duplicate slashes, and resolves "." / ".." segments.
func normalizePath(escapedPath string) string {
	if escapedPath == "" {
		return "/"
	}
	decoded := percentNormalize(escapedPath)
	collapsed := collapseSlashes(decoded)
	cleaned := path.Clean(collapsed)
	if cleaned == "." {
		cleaned = "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	// path.Clean drops a trailing slash that the original, non-root path
	// had; a trailing slash is not semantically distinct here, so it is
	// not re-added.
	return cleaned
}

var unreservedOK = map[byte]bool{}

func init() {
	for c := 'A'; c <= 'Z'; c++ {
		unreservedOK[byte(c)] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		unreservedOK[byte(c)] = true
	}
	for c := '0'; c <= '9'; c++ {
		unreservedOK[byte(c)] = true
	}
	for _, c := range []byte("-._~") {
		unreservedOK[c] = true
	}
}

// percentNormalize decodes %XX sequences that encode unreserved characters
// and leaves the rest percent-encoded (re-encoding with uppercase hex).
func percentNormalize(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				decoded := byte(v)
				if unreservedOK[decoded] {
					b.WriteByte(decoded)
				} else {
					b.WriteString("%")
					b.WriteString(strings.ToUpper(s[i+1 : i+3]))
				}
				i += 2
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func collapseSlashes(s string) string {
	var b strings.Builder
	prevSlash := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func pathSegments(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// normalizeQuery removes empty "k=" pairs, percent-decodes values, and
// preserves key order, including duplicate keys, each kept in their
// original relative position. It returns the canonical query string and the
// number of remaining params.
func normalizeQuery(rawQuery string) (string, int, error) {
	if rawQuery == "" {
		return "", 0, nil
	}
	pairs := strings.Split(rawQuery, "&")
	var kept []string
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, value, hasValue := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(key)
		if err != nil {
			return "", 0, fmt.Errorf("decode query key: %w", err)
		}
		if key == "" {
			continue
		}
		if !hasValue {
			kept = append(kept, url.QueryEscape(key))
			continue
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			return "", 0, fmt.Errorf("decode query value: %w", err)
		}
		if decodedValue == "" {
			// "k=" with an empty value is dropped.
			continue
		}
		kept = append(kept, url.QueryEscape(key)+"="+url.QueryEscape(decodedValue))
	}
	return strings.Join(kept, "&"), len(kept), nil
}

// SortedQueryKeys is exposed for extraction-ruleset field selectors that
// need a deterministic key listing; it does not mutate query key order in
// the normalized URL itself, since normalization treats key order as
// semantic and never calls this.
func SortedQueryKeys(query string) []string {
	if query == "" {
		return nil
	}
	seen := map[string]struct{}{}
	var keys []string
	for _, pair := range strings.Split(query, "&") {
		k, _, _ := strings.Cut(pair, "=")
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// randomSuffix is used by callers (e.g. crawl_id generation fallback) that
// need a short random token without pulling in the uuid generator.
func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n*2)
	}
	return fmt.Sprintf("%x", buf)
}
