// Package extract pulls links and page content out of fetched HTML.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/bulk-harvester/internal/urlutil"
)

// Page is the parsed content of one fetched document.
type Page struct {
	Title string
	Text  string
	Links []string
}

// Parse builds a Page from raw HTML. Links are resolved against sourceURL,
// normalized, and deduplicated in first-seen order; unresolvable hrefs are
// skipped.
func Parse(html string, sourceURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  extractText(doc),
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := urlutil.Resolve(base, href)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		page.Links = append(page.Links, resolved)
	})
	return page, nil
}

// extractText returns the visible body text with scripts and styles removed
// and whitespace collapsed.
func extractText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	if body.Length() == 0 {
		return ""
	}
	body.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}
