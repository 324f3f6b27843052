package urlutil

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultInvalidPrefixes lists href values that can never be fetched.
var DefaultInvalidPrefixes = []string{
	"javascript:", "mailto:", "tel:", "#", "data:", "about:", "file:", "ftp:",
}

// FilterConfig describes the inclusion/exclusion policy applied to discovered
// and supplied URLs.
type FilterConfig struct {
	ExcludePatterns   []string
	InvalidPrefixes   []string
	BlockedExtensions []string
	Keywords          []string
}

// Filter decides whether a URL should be processed. Exclusion rules run first;
// when keywords are configured they act as an additional allow-list.
type Filter struct {
	exclude    []*regexp.Regexp
	prefixes   []string
	extensions []string
	keywords   []string
}

// NewFilter compiles the configured patterns. A pattern that fails to compile
// is an error: a silently dropped exclude rule would widen the crawl.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	f := &Filter{
		prefixes:   cfg.InvalidPrefixes,
		extensions: lowerAll(cfg.BlockedExtensions),
		keywords:   lowerAll(cfg.Keywords),
	}
	if len(f.prefixes) == 0 {
		f.prefixes = DefaultInvalidPrefixes
	}
	for _, pattern := range cfg.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", pattern, err)
		}
		f.exclude = append(f.exclude, re)
	}
	return f, nil
}

// Included reports whether the URL passes every rule. Anything unparsable or
// empty fails closed.
func (f *Filter) Included(rawURL string) bool {
	if f == nil {
		return true
	}
	candidate := strings.TrimSpace(rawURL)
	if candidate == "" {
		return false
	}
	lower := strings.ToLower(candidate)

	for _, prefix := range f.prefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	for _, re := range f.exclude {
		if re.MatchString(candidate) {
			return false
		}
	}
	for _, ext := range f.extensions {
		if strings.Contains(lower, ext) {
			return false
		}
	}
	if len(f.keywords) > 0 {
		matched := false
		for _, kw := range f.keywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
