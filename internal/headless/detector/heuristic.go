// Package detector decides when a static fetch should be retried in a headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fleetinfo/portal/internal/portal"
)

const defaultMinText = 2048

// mountSelectors match the empty root nodes client-rendered news sites ship.
var mountSelectors = []string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-app]",
}

// Heuristic promotes pages whose static HTML carries little readable text.
type Heuristic struct {
	// MinText is the visible text length below which script-heavy pages are
	// promoted.
	MinText int
}

// NewHeuristic returns a Heuristic; minText <= 0 selects the default.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = defaultMinText
	}
	return &Heuristic{MinText: minText}
}

// ShouldPromote reports whether resp should be fetched again headless. The
// scraper only asks after a static fetch produced no items.
func (h *Heuristic) ShouldPromote(resp portal.FetchResponse) bool {
	if resp.UsedHeadless || resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
		if src, ok := s.Attr("src"); ok {
			scriptBytes += len(src)
		}
	})
	doc.Find("script, style, noscript, template").Remove()
	text := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))

	for _, sel := range mountSelectors {
		mount := doc.Find(sel).First()
		if mount.Length() > 0 && strings.TrimSpace(mount.Text()) == "" {
			return true
		}
	}
	if text >= h.MinText {
		return false
	}
	return scriptBytes > 0 && scriptBytes*3 >= text
}
