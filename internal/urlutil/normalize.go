// Package urlutil provides URL canonicalization and inclusion filtering shared
// by the discovery and batch pipelines.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and trailing
// slashes, and drops fragments. The query string is preserved with its
// parameters sorted. Non-http(s) schemes are rejected.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	// Remove default ports
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	// Remove fragment
	u.Fragment = ""

	// Trailing slash carries no meaning for our dedup purposes.
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}

	// Sort query parameters
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// Hostname extracts the lowercase host portion of a URL, or "" when the URL
// cannot be parsed.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Resolve converts a possibly-relative href into a normalized absolute URL
// against base. A nil base only works for hrefs that are already absolute.
func Resolve(base *url.URL, href string) (string, error) {
	rel, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	abs := rel
	if base != nil {
		abs = base.ResolveReference(rel)
	}
	return Normalize(abs.String())
}
