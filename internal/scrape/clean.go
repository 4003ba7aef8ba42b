package scrape

import (
	stdhtml "html"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Cleaner sanitizes scraped markup and renders it as Markdown for AI input.
type Cleaner struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
	md     *converter.Converter
}

// NewCleaner builds a Cleaner with the UGC sanitizing policy.
func NewCleaner() *Cleaner {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	strict := bluemonday.StrictPolicy()
	strict.AddSpaceWhenStrippingTag(true)
	return &Cleaner{
		policy: policy,
		strict: strict,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Sanitize strips scripts, styles, event handlers and unknown tags.
func (c *Cleaner) Sanitize(html string) string {
	return strings.TrimSpace(c.policy.Sanitize(html))
}

// Text strips all markup.
func (c *Cleaner) Text(html string) string {
	return stdhtml.UnescapeString(strings.Join(strings.Fields(c.strict.Sanitize(html)), " "))
}

// Markdown converts sanitized HTML to Markdown, resolving links against
// sourceURL. It falls back to plain text when conversion yields nothing.
func (c *Cleaner) Markdown(html, sourceURL string) string {
	clean := c.Sanitize(html)
	if clean == "" {
		return ""
	}
	var opts []converter.ConvertOptionFunc
	if sourceURL != "" {
		opts = append(opts, converter.WithDomain(sourceURL))
	}
	out, err := c.md.ConvertString(clean, opts...)
	if err != nil || strings.TrimSpace(out) == "" {
		return c.Text(clean)
	}
	return strings.TrimSpace(out)
}
