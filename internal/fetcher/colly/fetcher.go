// Package collyfetcher implements portal.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/fleetinfo/portal/internal/metrics"
	"github.com/fleetinfo/portal/internal/portal"
)

const (
	defaultTimeout = 15 * time.Second
	// defaultAccept covers listing pages as well as RSS and Atom feeds.
	defaultAccept = "text/html,application/xhtml+xml,application/rss+xml,application/atom+xml;q=0.9,*/*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes caps the response body; zero keeps colly's default.
	MaxBodyBytes int
}

// Fetcher implements portal.Fetcher using the Colly collector. Each fetch
// gets a fresh collector: clones share the HTTP backend and robots cache, so
// per-fetch transports would race.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{cfg: cfg, transport: newTransport()}
}

// fetchRun collects the outcome of one Visit.
type fetchRun struct {
	request portal.FetchRequest
	start   time.Time
	result  portal.FetchResponse
	err     error
	guard   *robotsGuard
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, request portal.FetchRequest) (portal.FetchResponse, error) {
	run := &fetchRun{request: request, start: time.Now()}
	c := f.collector(run)

	done := make(chan error, 1)
	go func() { done <- c.Visit(request.URL) }()

	var err error
	select {
	case <-ctx.Done():
		err = fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		switch {
		case visitErr != nil:
			err = fmt.Errorf("visit %s: %w", request.URL, visitErr)
		case run.err != nil:
			err = fmt.Errorf("response %s: %w", request.URL, run.err)
		}
	}
	if err != nil {
		metrics.ObserveFetch(request.URL, "error", 0)
		return portal.FetchResponse{}, err
	}
	if run.guard != nil {
		run.result.RobotsReason = run.guard.Reason()
	}
	metrics.ObserveFetch(request.URL, strconv.Itoa(run.result.StatusCode), len(run.result.Body))
	return run.result, nil
}

func (f *Fetcher) collector(run *fetchRun) *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())
	if f.cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = f.cfg.MaxBodyBytes
	}
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	// German sources still ship ISO-8859-1 pages.
	c.DetectCharset = true
	// Hand 4xx/5xx bodies back so callers see the status.
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.RespectRobots {
		run.guard = newRobotsGuard(f.transport)
		c.WithTransport(run.guard)
	} else {
		c.WithTransport(f.transport)
	}
	c.OnRequest(run.onRequest)
	c.OnResponse(run.onResponse)
	c.OnError(run.onError)
	return c
}

func (run *fetchRun) onRequest(r *colly.Request) {
	for key, values := range run.request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if r.Headers.Get("Accept") == "" {
		r.Headers.Set("Accept", defaultAccept)
	}
}

func (run *fetchRun) onResponse(r *colly.Response) {
	var headers http.Header
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	run.result = portal.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(run.start),
	}
}

// onError only sees transport failures; error statuses reach onResponse.
func (run *fetchRun) onError(_ *colly.Response, err error) {
	run.err = err
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
