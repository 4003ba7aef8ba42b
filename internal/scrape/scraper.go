package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/fingerprint"
	"github.com/fleetinfo/portal/internal/metrics"
	"github.com/fleetinfo/portal/internal/portal"
)

// Throttle blocks until a request to rawURL may proceed.
type Throttle interface {
	WaitURL(ctx context.Context, rawURL string) error
}

// Promoter decides whether an empty static page should be rendered.
type Promoter interface {
	ShouldPromote(resp portal.FetchResponse) bool
}

// Config bundles the Scraper collaborators.
type Config struct {
	Static   portal.Fetcher
	Headless portal.Fetcher
	Promoter Promoter
	Throttle Throttle
	Store    portal.ScrapedContentStore
	Cleaner  *Cleaner
	// MaxItems caps stored items per run; zero means no cap.
	MaxItems int
	Logger   *zap.Logger
}

// Result summarizes one scrape run.
type Result struct {
	Found      int
	Stored     int
	Duplicates int
	Skipped    int
	// Items holds every kept item, including ones already stored earlier.
	Items []portal.ScrapedContent
}

// Scraper runs scraping rules.
type Scraper struct {
	cfg Config
}

// New validates cfg and returns a Scraper.
func New(cfg Config) (*Scraper, error) {
	if cfg.Static == nil {
		return nil, errors.New("static fetcher is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("scraped content store is required")
	}
	if cfg.Cleaner == nil {
		cfg.Cleaner = NewCleaner()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scraper{cfg: cfg}, nil
}

// Scrape fetches the rule's source, extracts items and stores new ones.
func (s *Scraper) Scrape(ctx context.Context, rule portal.ScrapingRule, log portal.JobLogger) (Result, error) {
	var pattern *regexp.Regexp
	if rule.URLPattern != "" {
		p, err := regexp.Compile(rule.URLPattern)
		if err != nil {
			return Result{}, fmt.Errorf("compile url pattern: %w", portal.Invalid("url_pattern", err.Error()))
		}
		pattern = p
	}

	resp, err := s.fetch(ctx, rule.SourceURL, rule.RenderJS)
	if err != nil {
		return Result{}, err
	}
	if resp.RobotsReason != "" {
		log.Warnf("%s; continuing as if allowed", resp.RobotsReason)
	}
	log.Infof("fetched %s (%d, %d bytes, headless=%t)", resp.URL, resp.StatusCode, len(resp.Body), resp.UsedHeadless)

	items, err := s.extract(resp, rule)
	if err != nil {
		return Result{}, err
	}
	if len(items) == 0 && rule.SourceType == portal.SourceHTML && !resp.UsedHeadless &&
		s.cfg.Headless != nil && s.cfg.Promoter != nil && s.cfg.Promoter.ShouldPromote(resp) {
		log.Infof("no items in static page; rendering with headless browser")
		if resp, err = s.fetch(ctx, rule.SourceURL, true); err != nil {
			return Result{}, err
		}
		if items, err = s.extract(resp, rule); err != nil {
			return Result{}, err
		}
	}

	res := Result{Found: len(items)}
	items, res.Skipped = filterItems(items, pattern)
	if s.cfg.MaxItems > 0 && len(items) > s.cfg.MaxItems {
		res.Skipped += len(items) - s.cfg.MaxItems
		items = items[:s.cfg.MaxItems]
	}

	for _, it := range items {
		content := s.toContent(rule, it)
		created, err := s.cfg.Store.Insert(ctx, content)
		if err != nil {
			return res, fmt.Errorf("store item %s: %w", it.URL, err)
		}
		if created {
			res.Stored++
		} else {
			res.Duplicates++
		}
		res.Items = append(res.Items, content)
	}
	metrics.ObserveScrapedItems(res.Stored, res.Duplicates)
	log.Infof("found %d items: %d stored, %d duplicates, %d skipped", res.Found, res.Stored, res.Duplicates, res.Skipped)
	s.cfg.Logger.Info("scrape finished",
		zap.Int64("rule_id", rule.ID),
		zap.String("url", rule.SourceURL),
		zap.Int("found", res.Found),
		zap.Int("stored", res.Stored),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

func (s *Scraper) fetch(ctx context.Context, sourceURL string, render bool) (portal.FetchResponse, error) {
	fetcher := s.cfg.Static
	if render {
		if s.cfg.Headless == nil {
			return portal.FetchResponse{}, errors.New("rule requires rendering but no headless fetcher is configured")
		}
		fetcher = s.cfg.Headless
	}
	if s.cfg.Throttle != nil {
		if err := s.cfg.Throttle.WaitURL(ctx, sourceURL); err != nil {
			return portal.FetchResponse{}, err
		}
	}
	resp, err := fetcher.Fetch(ctx, portal.FetchRequest{
		URL:     sourceURL,
		Headers: http.Header{"Accept-Language": {"de-DE,de;q=0.9,en;q=0.8"}},
	})
	if err != nil {
		return portal.FetchResponse{}, fmt.Errorf("fetch %s: %w", sourceURL, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return portal.FetchResponse{}, fmt.Errorf("fetch %s: unexpected status %d", sourceURL, resp.StatusCode)
	}
	if resp.URL == "" {
		resp.URL = sourceURL
	}
	return resp, nil
}

func (s *Scraper) extract(resp portal.FetchResponse, rule portal.ScrapingRule) ([]Item, error) {
	switch rule.SourceType {
	case portal.SourceRSS:
		items, err := ParseFeed(resp.Body)
		if err != nil {
			return nil, err
		}
		if base, perr := url.Parse(resp.URL); perr == nil {
			for i := range items {
				items[i].URL = resolve(base, items[i].URL)
				if items[i].ImageURL != "" {
					items[i].ImageURL = resolve(base, items[i].ImageURL)
				}
			}
		}
		return items, nil
	case portal.SourceHTML, "":
		return ExtractHTML(resp.Body, resp.URL, rule)
	default:
		return nil, portal.Invalid("source_type", fmt.Sprintf("unsupported value %q", rule.SourceType))
	}
}

func (s *Scraper) toContent(rule portal.ScrapingRule, it Item) portal.ScrapedContent {
	title := strings.Join(strings.Fields(it.Title), " ")
	if title == "" {
		title = it.URL
	}
	return portal.ScrapedContent{
		RuleID:       rule.ID,
		URL:          it.URL,
		URLHash:      fingerprint.URL(it.URL),
		Title:        title,
		Body:         s.cfg.Cleaner.Sanitize(it.BodyHTML),
		BodyMarkdown: s.cfg.Cleaner.Markdown(it.BodyHTML, it.URL),
		ImageURL:     it.ImageURL,
		PublishedAt:  it.PublishedAt,
		RegionID:     rule.RegionID,
		CategoryID:   rule.CategoryID,
	}
}
