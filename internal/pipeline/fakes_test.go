package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetinfo/portal/internal/ai"
	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/scrape"
	"github.com/fleetinfo/portal/internal/search"
)

type fakeRepo[T any] struct {
	mu     sync.Mutex
	items  map[int64]T
	next   int64
	id     func(T) int64
	setID  func(*T, int64)
	active func(T) bool
}

func newFakeRepo[T any](id func(T) int64, setID func(*T, int64), active func(T) bool) *fakeRepo[T] {
	return &fakeRepo[T]{items: map[int64]T{}, id: id, setID: setID, active: active}
}

func (r *fakeRepo[T]) List(_ context.Context, opts portal.ListOptions) ([]T, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.items))
	for id, v := range r.items {
		if opts.ActiveOnly && r.active != nil && !r.active(v) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	total := len(ids)
	if opts.Offset < len(ids) {
		ids = ids[opts.Offset:]
	} else {
		ids = nil
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.items[id])
	}
	return out, total, nil
}

func (r *fakeRepo[T]) Get(_ context.Context, id int64) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("id %d: %w", id, portal.ErrNotFound)
	}
	return v, nil
}

func (r *fakeRepo[T]) Create(_ context.Context, v T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.setID(&v, r.next)
	r.items[r.next] = v
	return v, nil
}

func (r *fakeRepo[T]) put(v T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.id(v)
	if id > r.next {
		r.next = id
	}
	r.items[id] = v
	return v
}

func (r *fakeRepo[T]) Update(_ context.Context, id int64, v T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setID(&v, id)
	r.items[id] = v
	return v, nil
}

func (r *fakeRepo[T]) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *fakeRepo[T]) all() []T {
	out, _, _ := r.List(context.Background(), portal.ListOptions{})
	return out
}

type fakeScraped struct {
	*fakeRepo[portal.ScrapedContent]
}

func (f fakeScraped) Insert(ctx context.Context, c portal.ScrapedContent) (bool, error) {
	_, err := f.Create(ctx, c)
	return err == nil, err
}

func (f fakeScraped) Latest(_ context.Context, regionID int64, limit int) ([]portal.ScrapedContent, error) {
	var out []portal.ScrapedContent
	for _, c := range f.all() {
		if c.RegionID != nil && *c.RegionID == regionID {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeSubs struct {
	*fakeRepo[portal.ContentSubscription]
}

func (f fakeSubs) MarkRun(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok {
		return portal.ErrNotFound
	}
	s.LastRunAt = &at
	f.items[id] = s
	return nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []ai.Request
	provider []string
	err      error
}

func (g *fakeGenerator) Generate(_ context.Context, provider string, req ai.Request) (ai.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	g.provider = append(g.provider, provider)
	if g.err != nil {
		return ai.Response{}, g.err
	}
	return ai.Response{Text: "# Weekly fleet update\nAll good.", Model: "fake-1", InputTokens: 10, OutputTokens: 5}, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeSearcher struct {
	queries []string
}

func (s *fakeSearcher) Enabled() bool { return true }

func (s *fakeSearcher) Search(_ context.Context, q string) ([]search.Result, error) {
	s.queries = append(s.queries, q)
	return []search.Result{{Title: "Toll hike", URL: "https://news.test/toll", Snippet: "Tolls rise in 2027."}}, nil
}

type fakeScraper struct {
	rules []int64
}

func (s *fakeScraper) Scrape(_ context.Context, rule portal.ScrapingRule, log portal.JobLogger) (scrape.Result, error) {
	s.rules = append(s.rules, rule.ID)
	log.Infof("scraped %d", rule.ID)
	return scrape.Result{Found: 1, Stored: 1, Items: []portal.ScrapedContent{
		{Title: "Depot news", URL: "https://depot.test/1", BodyMarkdown: "New charging hub."},
	}}, nil
}

type fakeSubmitter struct {
	subs []int64
}

func (f *fakeSubmitter) Submit(_ context.Context, _ string, _ int64, sub *int64) (portal.Job, error) {
	f.subs = append(f.subs, *sub)
	return portal.Job{ID: fmt.Sprintf("job-%d", *sub)}, nil
}

type lines struct {
	mu  sync.Mutex
	out []string
}

func (l *lines) add(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, level+": "+fmt.Sprintf(format, args...))
}

func (l *lines) Infof(format string, args ...any)  { l.add("info", format, args...) }
func (l *lines) Warnf(format string, args ...any)  { l.add("warn", format, args...) }
func (l *lines) Errorf(format string, args ...any) { l.add("error", format, args...) }

func (l *lines) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.out {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }
