package crawler

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldExtractor is the external collaborator for per-domain field
// extraction: the engine invokes it once per HTML result and stores
// whatever it returns, without interpreting the CSS/XPath/regex DSL itself.
type FieldExtractor interface {
	Extract(doc *ExtractedDocument, rules []FieldRule) (map[string]string, error)
}

// compiledFilter is one domains_extraction_rules[domain].url_filters entry,
// already compiled per translateURLFilter's begins/ends/contains/regex
// translation. kind is kept alongside re because begins/ends/contains are
// anchored against the URL's host+path (the domain is a bare host, not a
// scheme-qualified prefix) while a raw regex filter matches the full URL
// verbatim, scheme included.
type compiledFilter struct {
	kind URLFilterKind
	re   *regexp.Regexp
}

// DomainRuleSet compiles one domain's URLFilters once and evaluates them
// against candidate child URLs as they're discovered.
type DomainRuleSet struct {
	domain  string
	filters []compiledFilter
	fields  []FieldRule
}

// RuleSet is the full domains_extraction_rules map, compiled once at crawl
// start so per-URL evaluation never touches regexp.Compile.
type RuleSet struct {
	byDomain map[string]*DomainRuleSet
}

// CompileRuleSet compiles every domains_extraction_rules entry in cfg. A
// malformed regex filter is a ConfigError, fatal at startup.
func CompileRuleSet(rules map[string]DomainRules) (*RuleSet, error) {
	rs := &RuleSet{byDomain: make(map[string]*DomainRuleSet, len(rules))}
	for domain, dr := range rules {
		compiled, err := compileDomainRules(domain, dr)
		if err != nil {
			return nil, WrapErr(ErrKindConfig, domain, err)
		}
		rs.byDomain[domain] = compiled
	}
	return rs, nil
}

func compileDomainRules(domain string, dr DomainRules) (*DomainRuleSet, error) {
	drs := &DomainRuleSet{domain: domain, fields: dr.Fields}
	for _, f := range dr.URLFilters {
		pattern, err := translateURLFilter(domain, f)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile url_filter %+v: %w", f, err)
		}
		drs.filters = append(drs.filters, compiledFilter{kind: f.Kind, re: re})
	}
	return drs, nil
}

// translateURLFilter renders one url_filters entry into an anchored regex:
// "begins" -> "\A<domain><pattern*>"; "ends" ->
// "\A<domain>.*<pattern*>\z"; "contains" -> "\A<domain>.*<pattern*>";
// "regex" passes through unanchored. Asterisks in non-regex patterns become
// ".*" after the rest of the pattern is escaped.
func translateURLFilter(domain string, f URLFilterRule) (string, error) {
	if f.Kind == FilterRegex {
		return f.Pattern, nil
	}

	escaped := escapeWithWildcards(f.Pattern)
	quotedDomain := regexp.QuoteMeta(domain)

	switch f.Kind {
	case FilterBegins:
		return `\A` + quotedDomain + escaped, nil
	case FilterEnds:
		return `\A` + quotedDomain + `.*` + escaped + `\z`, nil
	case FilterContains:
		return `\A` + quotedDomain + `.*` + escaped, nil
	default:
		return "", fmt.Errorf("unknown url_filter kind %q", f.Kind)
	}
}

// escapeWithWildcards quotes every regex metacharacter in pattern except
// '*', which becomes ".*".
func escapeWithWildcards(pattern string) string {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, ".*")
}

// Allow reports whether rawURL is retained for discovery under domain's
// configured url_filters: a task is retained only if it matches at least
// one allow filter, or if no filters are configured for that domain.
// Unconfigured domains always allow.
func (rs *RuleSet) Allow(domain, rawURL string) bool {
	if rs == nil {
		return true
	}
	drs, ok := rs.byDomain[domain]
	if !ok || len(drs.filters) == 0 {
		return true
	}
	withoutScheme := stripScheme(rawURL)
	for _, f := range drs.filters {
		candidate := rawURL
		if f.kind != FilterRegex {
			candidate = withoutScheme
		}
		if f.re.MatchString(candidate) {
			return true
		}
	}
	return false
}

// stripScheme removes a leading "scheme://" from rawURL, if present, so
// begins/ends/contains filters (anchored on the bare host) can match against
// candidate URLs, which always carry a scheme.
func stripScheme(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		return rawURL[i+len("://"):]
	}
	return rawURL
}

// Fields returns the configured field-extraction rules for domain, or nil
// if none are configured. Field rules apply to HTML results only and never
// affect discovery.
func (rs *RuleSet) Fields(domain string) []FieldRule {
	if rs == nil {
		return nil
	}
	if drs, ok := rs.byDomain[domain]; ok {
		return drs.fields
	}
	return nil
}
