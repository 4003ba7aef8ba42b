package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetinfo/portal/internal/portal"
)

func TestScrapeHTMLStoresNewItems(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{pages: map[string]portal.FetchResponse{
		"https://news.example.com/list/": {StatusCode: 200, Body: []byte(listingPage)},
	}}
	store := newFakeContentStore()
	throttle := &countingThrottle{}
	regionID := int64(4)
	s, err := New(Config{Static: static, Store: store, Throttle: throttle})
	require.NoError(t, err)

	rule := portal.ScrapingRule{
		ID:            7,
		SourceURL:     "https://news.example.com/list/",
		SourceType:    portal.SourceHTML,
		ItemSelector:  "div.teaser",
		TitleSelector: ".t",
		LinkSelector:  "a.more",
		BodySelector:  ".text",
		RegionID:      &regionID,
	}
	log := &recordingLog{}
	res, err := s.Scrape(context.Background(), rule, log)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Found)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, throttle.calls)

	stored := res.Items[0]
	assert.Equal(t, int64(7), stored.RuleID)
	assert.Equal(t, &regionID, stored.RegionID)
	assert.NotContains(t, stored.Body, "script")
	assert.Contains(t, stored.BodyMarkdown, "**May**")
	assert.Len(t, stored.URLHash, 64)

	// second run stores nothing new
	res, err = s.Scrape(context.Background(), rule, log)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stored)
	assert.Equal(t, 2, res.Duplicates)
	assert.Contains(t, log.lines(), "info: found 3 items: 0 stored, 2 duplicates, 1 skipped")
}

func TestScrapeRSSResolvesRelativeLinks(t *testing.T) {
	t.Parallel()

	feed := `<rss><channel><item><title>Relative</title><link>/r/1</link></item></channel></rss>`
	static := &stubFetcher{pages: map[string]portal.FetchResponse{
		"https://feeds.example.com/rss": {StatusCode: 200, Body: []byte(feed)},
	}}
	s, err := New(Config{Static: static, Store: newFakeContentStore()})
	require.NoError(t, err)

	res, err := s.Scrape(context.Background(), portal.ScrapingRule{
		ID: 1, SourceURL: "https://feeds.example.com/rss", SourceType: portal.SourceRSS,
	}, &recordingLog{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "https://feeds.example.com/r/1", res.Items[0].URL)
}

func TestScrapePromotesEmptyPagesToHeadless(t *testing.T) {
	t.Parallel()

	url := "https://spa.example.com/"
	static := &stubFetcher{pages: map[string]portal.FetchResponse{
		url: {StatusCode: 200, Body: []byte(`<div id="__next"></div>`)},
	}}
	headless := &stubFetcher{pages: map[string]portal.FetchResponse{
		url: {StatusCode: 200, UsedHeadless: true, Body: []byte(`<div class="card"><a href="/a">A</a></div>`)},
	}}
	s, err := New(Config{
		Static:   static,
		Headless: headless,
		Promoter: promoteAlways{},
		Store:    newFakeContentStore(),
	})
	require.NoError(t, err)

	log := &recordingLog{}
	res, err := s.Scrape(context.Background(), portal.ScrapingRule{
		SourceURL: url, SourceType: portal.SourceHTML, ItemSelector: ".card",
	}, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 1, headless.calls)
	assert.Contains(t, log.lines(), "info: no items in static page; rendering with headless browser")
}

func TestScrapeErrors(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{pages: map[string]portal.FetchResponse{
		"https://down.example.com/": {StatusCode: 503},
	}}
	s, err := New(Config{Static: static, Store: newFakeContentStore()})
	require.NoError(t, err)

	_, err = s.Scrape(context.Background(), portal.ScrapingRule{SourceURL: "https://down.example.com/", SourceType: portal.SourceHTML}, &recordingLog{})
	require.ErrorContains(t, err, "unexpected status 503")

	_, err = s.Scrape(context.Background(), portal.ScrapingRule{SourceURL: "https://x", URLPattern: "("}, &recordingLog{})
	require.True(t, errors.Is(err, portal.ErrInvalid))

	_, err = s.Scrape(context.Background(), portal.ScrapingRule{SourceURL: "https://down.example.com/", RenderJS: true}, &recordingLog{})
	require.ErrorContains(t, err, "no headless fetcher")

	_, err = New(Config{})
	require.Error(t, err)
}

func TestScrapeReportsRobotsFallback(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{pages: map[string]portal.FetchResponse{
		"https://slow.example.com/": {StatusCode: 200, Body: []byte("<p>x</p>"), RobotsReason: "robots.txt TLS handshake timeout"},
	}}
	s, err := New(Config{Static: static, Store: newFakeContentStore(), MaxItems: 1})
	require.NoError(t, err)
	log := &recordingLog{}
	_, err = s.Scrape(context.Background(), portal.ScrapingRule{SourceURL: "https://slow.example.com/", SourceType: portal.SourceHTML}, log)
	require.NoError(t, err)
	assert.Contains(t, log.lines(), "warn: robots.txt TLS handshake timeout; continuing as if allowed")
}

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]portal.FetchResponse
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, req portal.FetchRequest) (portal.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	resp, ok := f.pages[req.URL]
	if !ok {
		return portal.FetchResponse{}, fmt.Errorf("no stub for %s", req.URL)
	}
	resp.URL = req.URL
	return resp, nil
}

type promoteAlways struct{}

func (promoteAlways) ShouldPromote(portal.FetchResponse) bool { return true }

type countingThrottle struct{ calls int }

func (c *countingThrottle) WaitURL(context.Context, string) error {
	c.calls++
	return nil
}

type recordingLog struct {
	mu  sync.Mutex
	out []string
}

func (l *recordingLog) add(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, level+": "+fmt.Sprintf(format, args...))
}

func (l *recordingLog) Infof(format string, args ...any)  { l.add(portal.LogInfo, format, args...) }
func (l *recordingLog) Warnf(format string, args ...any)  { l.add(portal.LogWarn, format, args...) }
func (l *recordingLog) Errorf(format string, args ...any) { l.add(portal.LogError, format, args...) }

func (l *recordingLog) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.out...)
}

// fakeContentStore implements portal.ScrapedContentStore in memory.
type fakeContentStore struct {
	portal.ScrapedContentStore
	mu     sync.Mutex
	byHash map[string]portal.ScrapedContent
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{byHash: make(map[string]portal.ScrapedContent)}
}

func (s *fakeContentStore) Insert(_ context.Context, c portal.ScrapedContent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[c.URLHash]; ok {
		return false, nil
	}
	s.byHash[c.URLHash] = c
	return true, nil
}
