// Package scrape fetches configured sources, extracts items with the rule's
// selectors and stores each item once per URL.
package scrape

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/fleetinfo/portal/internal/portal"
)

// Item is one extracted entry before it is cleaned and stored.
type Item struct {
	URL         string
	Title       string
	BodyHTML    string
	ImageURL    string
	PublishedAt *time.Time
}

// ExtractHTML applies the rule's selectors to an HTML page. Without an item
// selector the whole page becomes a single item.
func ExtractHTML(body []byte, pageURL string, rule portal.ScrapingRule) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	if strings.TrimSpace(rule.ItemSelector) == "" {
		item := extractItem(doc.Selection, base, rule)
		if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" &&
			(item.Title == "" || rule.TitleSelector == "") {
			item.Title = title
		}
		if item.URL == "" || rule.LinkSelector == "" {
			item.URL = base.String()
		}
		return []Item{item}, nil
	}

	var items []Item
	doc.Find(rule.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		items = append(items, extractItem(sel, base, rule))
	})
	return items, nil
}

func extractItem(sel *goquery.Selection, base *url.URL, rule portal.ScrapingRule) Item {
	var item Item

	titleSel := sel
	if rule.TitleSelector != "" {
		titleSel = sel.Find(rule.TitleSelector).First()
	} else if h := sel.Find("h1, h2, h3").First(); h.Length() > 0 {
		titleSel = h
	}
	item.Title = strings.Join(strings.Fields(titleSel.Text()), " ")

	linkSel := sel.Find("a[href]").First()
	if rule.LinkSelector != "" {
		linkSel = sel.Find(rule.LinkSelector).First()
	} else if goquery.NodeName(sel) == "a" {
		linkSel = sel
	}
	if href, ok := linkSel.Attr("href"); ok {
		item.URL = resolve(base, href)
	}

	if rule.BodySelector != "" {
		item.BodyHTML = outerHTML(sel.Find(rule.BodySelector))
	} else {
		item.BodyHTML, _ = sel.Html()
	}

	if rule.DateSelector != "" {
		dateSel := sel.Find(rule.DateSelector).First()
		raw, ok := dateSel.Attr("datetime")
		if !ok {
			raw = dateSel.Text()
		}
		item.PublishedAt = parseDate(raw)
	}

	imgSel := sel.Find("img").First()
	if rule.ImageSelector != "" {
		imgSel = sel.Find(rule.ImageSelector).First()
	}
	for _, attr := range []string{"src", "data-src", "content"} {
		if src, ok := imgSel.Attr(attr); ok && strings.TrimSpace(src) != "" {
			item.ImageURL = resolve(base, src)
			break
		}
	}
	return item
}

func outerHTML(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		if h, err := goquery.OuterHtml(s); err == nil {
			b.WriteString(h)
		}
	})
	return b.String()
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String()
}

// filterItems drops items without a link, items whose link does not match
// pattern, and repeated links.
func filterItems(items []Item, pattern *regexp.Regexp) (kept []Item, skipped int) {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.URL == "" {
			skipped++
			continue
		}
		if pattern != nil && !pattern.MatchString(it.URL) {
			skipped++
			continue
		}
		if _, dup := seen[it.URL]; dup {
			skipped++
			continue
		}
		seen[it.URL] = struct{}{}
		kept = append(kept, it)
	}
	return kept, skipped
}
