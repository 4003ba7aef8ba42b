// Package headless renders JavaScript-heavy sources with a headless browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/fleetinfo/portal/internal/metrics"
	"github.com/fleetinfo/portal/internal/portal"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 500 * time.Millisecond
)

// blockedResources never carry article text; skipping them keeps renders fast.
var blockedResources = []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.woff", "*.woff2", "*.mp4"}

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready for client
	// scripts to populate the page.
	SettleDelay time.Duration
	// LoadMedia disables the image and font block list.
	LoadMedia bool
}

// Fetcher implements portal.Fetcher on a shared Chrome allocator. Each fetch
// opens its own tab.
type Fetcher struct {
	cfg   Config
	slots *semaphore.Weighted

	browser context.Context
	stop    context.CancelFunc
}

// NewChromedp starts the allocator. Chrome itself launches on first use.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettle
	}
	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	f.browser, f.stop = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.stop()
}

// Fetch loads request.URL in a fresh tab and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request portal.FetchRequest) (portal.FetchResponse, error) {
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return portal.FetchResponse{}, fmt.Errorf("wait for browser tab: %w", err)
		}
		defer f.slots.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	// The caller's cancellation must reach the tab as well.
	stopAfter := context.AfterFunc(ctx, cancel)
	defer stopAfter()

	doc := &document{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		f.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		metrics.ObserveFetch(request.URL, "headless_error", 0)
		return portal.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	resp := doc.response(request.URL, location)
	resp.Body = []byte(html)
	resp.Duration = time.Since(start)
	metrics.ObserveFetch(request.URL, strconv.Itoa(resp.StatusCode), len(resp.Body))
	return resp, nil
}

func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if !f.cfg.LoadMedia {
			if err := network.SetBlockedURLs(blockedResources).Do(ctx); err != nil {
				return fmt.Errorf("block media: %w", err)
			}
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		if extra := extraHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set headers: %w", err)
			}
		}
		return nil
	})
}

// document remembers the last top-level document response of a tab so
// redirects report the final hop.
type document struct {
	mu      sync.Mutex
	status  int
	url     string
	headers http.Header
}

func (d *document) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	h := make(http.Header, len(e.Response.Headers))
	for key, value := range e.Response.Headers {
		switch v := value.(type) {
		case string:
			h.Add(key, v)
		case []any:
			for _, item := range v {
				h.Add(key, fmt.Sprint(item))
			}
		default:
			h.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(e.Response.Status)
	d.url = e.Response.URL
	d.headers = h
}

// response builds the fetch result; pages served from cache or about:blank
// produce no document event, so the URL falls back to the browser location.
func (d *document) response(requested, location string) portal.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := portal.FetchResponse{
		URL:          d.url,
		StatusCode:   d.status,
		Headers:      d.headers.Clone(),
		UsedHeadless: true,
	}
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = requested
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp
}

// extraHeaders flattens h for CDP, which takes one comma-joined value per name.
func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			joined := values[0]
			for _, v := range values[1:] {
				joined += ", " + v
			}
			out[key] = joined
		}
	}
	return out
}
