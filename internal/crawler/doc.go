// Package crawler implements the bounded-domain web crawl engine: URL
// normalization and fingerprinting, the DNS-filtering resolver, the robots.txt
// service, the HTTP client wrapper, the HTML/sitemap extraction pipeline, and
// the crawl coordinator that ties them together around a pluggable task
// queue. Output sinks, field-extraction DSLs beyond url filters, CLI parsing,
// and config loading live outside this package.
package crawler
