// Package pipeline implements the job handlers: scraping runs, prompt rule
// executions and content subscription processing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/ai"
	"github.com/fleetinfo/portal/internal/fingerprint"
	"github.com/fleetinfo/portal/internal/jobs"
	"github.com/fleetinfo/portal/internal/metrics"
	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/scrape"
	"github.com/fleetinfo/portal/internal/search"
)

// Generator produces text with a named provider. ai.Registry implements it.
type Generator interface {
	Generate(ctx context.Context, provider string, req ai.Request) (ai.Response, error)
}

// Searcher queries the web. search.Client implements it.
type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// Scraper runs one scraping rule. scrape.Scraper implements it.
type Scraper interface {
	Scrape(ctx context.Context, rule portal.ScrapingRule, log portal.JobLogger) (scrape.Result, error)
}

// Submitter enqueues jobs. jobs.Service implements it.
type Submitter interface {
	Submit(ctx context.Context, taskType string, ruleID int64, subscriptionID *int64) (portal.Job, error)
}

// Stores are the repositories the pipeline reads and writes.
type Stores struct {
	PromptRules   portal.Repository[portal.AIPromptRule]
	ScrapingRules portal.Repository[portal.ScrapingRule]
	Regions       portal.Repository[portal.Region]
	Generated     portal.Repository[portal.GeneratedContent]
	Scraped       portal.ScrapedContentStore
	Subscriptions portal.SubscriptionStore
	Cache         portal.ContentCache
}

// Config wires a Pipeline.
type Config struct {
	Stores    Stores
	Generator Generator
	Searcher  Searcher
	Scraper   Scraper
	Clock     portal.Clock
	// Location decides the calendar date handed to templates.
	Location *time.Location
	CacheTTL time.Duration
	// MaxInputChars truncates gathered input; zero keeps everything.
	MaxInputChars int
	// LatestItems is how many recent scraped items feed a subscription with
	// no other source.
	LatestItems int
	Logger      *zap.Logger
}

// Pipeline holds the job handlers.
type Pipeline struct {
	cfg Config
}

// New validates cfg and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	st := cfg.Stores
	if st.PromptRules == nil || st.ScrapingRules == nil || st.Regions == nil || st.Generated == nil ||
		st.Scraped == nil || st.Subscriptions == nil || st.Cache == nil {
		return nil, errors.New("pipeline: every store is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("pipeline: clock is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.LatestItems <= 0 {
		cfg.LatestItems = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg}, nil
}

// Register binds every handler to proc. Fanout tasks submit through svc.
func (p *Pipeline) Register(proc *jobs.Processor, svc Submitter) {
	proc.Register(jobs.TypeScrape, p.ScrapeRule)
	proc.Register(jobs.TypeAIExecute, p.ExecuteRule)
	proc.Register(jobs.TypeSubscription, p.ProcessSubscription)
	proc.RegisterFanout(jobs.TypeSubscriptionsAll, func(ctx context.Context) error {
		_, err := p.SubmitAll(ctx, svc)
		return err
	})
}

// ScrapeRule runs a scraping rule and stores new items.
func (p *Pipeline) ScrapeRule(ctx context.Context, pl jobs.Payload, log portal.JobLogger) error {
	if p.cfg.Scraper == nil {
		return errors.New("scraping is not configured")
	}
	rule, err := p.cfg.Stores.ScrapingRules.Get(ctx, pl.RuleID)
	if err != nil {
		return fmt.Errorf("load scraping rule %d: %w", pl.RuleID, err)
	}
	log.Infof("scraping %q from %s (%s)", rule.Name, rule.SourceURL, rule.SourceType)
	if _, err := p.cfg.Scraper.Scrape(ctx, rule, log); err != nil {
		return err
	}
	return nil
}

// ExecuteRule runs a prompt rule ad hoc, optionally for a region with keywords.
func (p *Pipeline) ExecuteRule(ctx context.Context, pl jobs.Payload, log portal.JobLogger) error {
	rule, err := p.promptRule(ctx, pl.RuleID)
	if err != nil {
		return err
	}
	run := generation{jobID: pl.JobID, rule: rule, keywords: pl.Keywords, input: pl.Input}
	if pl.RegionID != nil {
		region, err := p.cfg.Stores.Regions.Get(ctx, *pl.RegionID)
		if err != nil {
			return fmt.Errorf("load region %d: %w", *pl.RegionID, err)
		}
		run.region = &region
	}
	return p.generate(ctx, run, log)
}

// ProcessSubscription runs the subscription pipeline: cache lookup, input
// gathering, generation, persistence.
func (p *Pipeline) ProcessSubscription(ctx context.Context, pl jobs.Payload, log portal.JobLogger) error {
	if pl.SubscriptionID == nil {
		return portal.Invalid("subscription_id", "is required")
	}
	sub, err := p.cfg.Stores.Subscriptions.Get(ctx, *pl.SubscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", *pl.SubscriptionID, err)
	}
	if !sub.Active {
		log.Warnf("subscription %d is inactive; nothing to do", sub.ID)
		return nil
	}
	rule, err := p.promptRule(ctx, sub.PromptRuleID)
	if err != nil {
		return err
	}
	region, err := p.cfg.Stores.Regions.Get(ctx, sub.RegionID)
	if err != nil {
		return fmt.Errorf("load region %d: %w", sub.RegionID, err)
	}
	return p.generate(ctx, generation{
		jobID:        pl.JobID,
		rule:         rule,
		region:       &region,
		keywords:     sub.Keywords,
		subscription: &sub,
	}, log)
}

// SubmitAll enqueues one subscription job per active subscription and returns
// how many were queued.
func (p *Pipeline) SubmitAll(ctx context.Context, svc Submitter) (int, error) {
	const pageSize = 100
	queued := 0
	var errs []error
	for offset := 0; ; offset += pageSize {
		subs, total, err := p.cfg.Stores.Subscriptions.List(ctx, portal.ListOptions{
			ActiveOnly: true,
			Limit:      pageSize,
			Offset:     offset,
		})
		if err != nil {
			return queued, fmt.Errorf("list subscriptions: %w", err)
		}
		for _, sub := range subs {
			id := sub.ID
			if _, err := svc.Submit(ctx, jobs.TypeSubscription, sub.PromptRuleID, &id); err != nil {
				errs = append(errs, fmt.Errorf("subscription %d: %w", sub.ID, err))
				continue
			}
			queued++
		}
		if len(subs) == 0 || offset+len(subs) >= total {
			break
		}
	}
	p.cfg.Logger.Info("subscription jobs queued", zap.Int("queued", queued), zap.Int("failed", len(errs)))
	return queued, errors.Join(errs...)
}

func (p *Pipeline) promptRule(ctx context.Context, id int64) (portal.AIPromptRule, error) {
	rule, err := p.cfg.Stores.PromptRules.Get(ctx, id)
	if err != nil {
		return portal.AIPromptRule{}, fmt.Errorf("load prompt rule %d: %w", id, err)
	}
	if !rule.Active {
		return portal.AIPromptRule{}, fmt.Errorf("prompt rule %d is inactive", id)
	}
	return rule, nil
}

type generation struct {
	jobID        string
	rule         portal.AIPromptRule
	region       *portal.Region
	keywords     []string
	input        string
	subscription *portal.ContentSubscription
}

func (p *Pipeline) generate(ctx context.Context, g generation, log portal.JobLogger) error {
	now := p.cfg.Clock.Now()
	// Caller input is not part of the cache key, so such runs bypass the cache.
	cached := g.region != nil && strings.TrimSpace(g.input) == ""
	var keyHash string
	if cached {
		keyHash = fingerprint.Keywords(g.keywords, g.region.Code)
		entry, hit, err := p.cfg.Stores.Cache.Lookup(ctx, g.rule.ID, g.region.ID, keyHash, now)
		if err != nil {
			return fmt.Errorf("cache lookup: %w", err)
		}
		metrics.ObserveCacheLookup(hit)
		if hit {
			log.Infof("cache hit: content %d generated at %s is valid until %s",
				entry.ContentID, entry.CreatedAt.Format(time.RFC3339), entry.ExpiresAt.Format(time.RFC3339))
			return p.markRun(ctx, g, now, log)
		}
		log.Infof("cache miss for region %s, keywords [%s]", g.region.Code, strings.Join(g.keywords, ", "))
	}

	input, err := p.gather(ctx, g, log)
	if err != nil {
		return err
	}
	data := ai.PromptData{
		Input:    input,
		Keywords: g.keywords,
		Date:     now.In(p.cfg.Location).Format(time.DateOnly),
	}
	if g.region != nil {
		data.Region = g.region.Name
	}
	prompt, err := ai.RenderPrompt(g.rule.Template, data)
	if err != nil {
		return err
	}
	log.Infof("calling %s (%d prompt chars)", g.rule.Provider, len(prompt))
	resp, err := p.cfg.Generator.Generate(ctx, g.rule.Provider, ai.Request{
		Model:       g.rule.Model,
		System:      g.rule.SystemPrompt,
		Prompt:      prompt,
		Temperature: g.rule.Temperature,
		MaxTokens:   g.rule.MaxTokens,
	})
	if err != nil {
		return err
	}
	log.Infof("%s answered with %d chars (model %s, %d/%d tokens)",
		g.rule.Provider, len(resp.Text), resp.Model, resp.InputTokens, resp.OutputTokens)

	content := portal.GeneratedContent{
		RuleID:   g.rule.ID,
		JobID:    g.jobID,
		Title:    ai.TitleFrom(resp.Text),
		Content:  resp.Text,
		Provider: g.rule.Provider,
		Model:    resp.Model,
		Keywords: g.keywords,
	}
	if g.subscription != nil {
		content.SubscriptionID = &g.subscription.ID
	}
	if g.region != nil {
		content.RegionID = &g.region.ID
	}
	saved, err := p.cfg.Stores.Generated.Create(ctx, content)
	if err != nil {
		return fmt.Errorf("store generated content: %w", err)
	}
	log.Infof("stored generated content %d", saved.ID)

	if cached {
		if err := p.cfg.Stores.Cache.Put(ctx, portal.CacheEntry{
			RuleID:      g.rule.ID,
			RegionID:    g.region.ID,
			KeywordHash: keyHash,
			ContentID:   saved.ID,
			CreatedAt:   now,
			ExpiresAt:   now.Add(p.cfg.CacheTTL),
		}); err != nil {
			return fmt.Errorf("store cache entry: %w", err)
		}
	}
	return p.markRun(ctx, g, now, log)
}

func (p *Pipeline) markRun(ctx context.Context, g generation, at time.Time, log portal.JobLogger) error {
	if g.subscription == nil {
		return nil
	}
	if err := p.cfg.Stores.Subscriptions.MarkRun(ctx, g.subscription.ID, at); err != nil {
		log.Warnf("could not record last run: %v", err)
	}
	return nil
}

// gather collects prompt input from caller input, the attached scraping
// rule, web search and finally the latest scraped items of the region.
func (p *Pipeline) gather(ctx context.Context, g generation, log portal.JobLogger) (string, error) {
	var parts []string
	if strings.TrimSpace(g.input) != "" {
		parts = append(parts, strings.TrimSpace(g.input))
	}

	if sub := g.subscription; sub != nil && sub.ScrapingRuleID != nil {
		text, err := p.scrapeInput(ctx, *sub.ScrapingRuleID, log)
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	if sub := g.subscription; sub != nil && sub.UseSearch {
		if p.cfg.Searcher == nil || !p.cfg.Searcher.Enabled() {
			log.Warnf("search requested but no search API is configured")
		} else {
			query := strings.Join(g.keywords, " ")
			if g.region != nil {
				query = strings.TrimSpace(query + " " + g.region.Name)
			}
			results, err := p.cfg.Searcher.Search(ctx, query)
			if err != nil {
				return "", fmt.Errorf("search %q: %w", query, err)
			}
			log.Infof("search %q returned %d results", query, len(results))
			if len(results) > 0 {
				parts = append(parts, search.Format(results))
			}
		}
	}

	if len(parts) == 0 && g.region != nil {
		items, err := p.cfg.Stores.Scraped.Latest(ctx, g.region.ID, p.cfg.LatestItems)
		if err != nil {
			return "", fmt.Errorf("load latest content: %w", err)
		}
		log.Infof("using %d latest scraped items of %s", len(items), g.region.Code)
		if text := joinItems(items); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		log.Warnf("no input gathered; rendering template without input")
	}
	input := strings.Join(parts, "\n\n---\n\n")
	if p.cfg.MaxInputChars > 0 {
		if cut := ai.Truncate(input, p.cfg.MaxInputChars); len(cut) < len(input) {
			log.Infof("input truncated to %d characters", p.cfg.MaxInputChars)
			input = cut
		}
	}
	return input, nil
}

func (p *Pipeline) scrapeInput(ctx context.Context, ruleID int64, log portal.JobLogger) (string, error) {
	if p.cfg.Scraper == nil {
		log.Warnf("scraping rule %d attached but scraping is not configured", ruleID)
		return "", nil
	}
	rule, err := p.cfg.Stores.ScrapingRules.Get(ctx, ruleID)
	if err != nil {
		return "", fmt.Errorf("load scraping rule %d: %w", ruleID, err)
	}
	res, err := p.cfg.Scraper.Scrape(ctx, rule, log)
	if err != nil {
		return "", fmt.Errorf("scrape rule %d: %w", ruleID, err)
	}
	return joinItems(res.Items), nil
}

func joinItems(items []portal.ScrapedContent) string {
	blocks := make([]string, 0, len(items))
	for _, it := range items {
		body := it.BodyMarkdown
		if body == "" {
			body = it.Body
		}
		blocks = append(blocks, strings.TrimSpace("## "+it.Title+"\n"+it.URL+"\n\n"+body))
	}
	return strings.Join(blocks, "\n\n")
}
