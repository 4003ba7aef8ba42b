package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fleetinfo/portal/internal/metrics"
)

// Fallback causes reported on FetchResponse.RobotsReason and in metrics.
const (
	causeTimeout     = "timeout"
	causeServerError = "server_error"
)

const allowAllRobots = "User-agent: *\nAllow: /\n"

// robotsBackoff is the wait before each retry of a robots.txt request.
var robotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGuard retries robots.txt requests that time out or hit a 5xx and
// answers allow-all once retries run out. News sites often put robots.txt
// behind a slow CDN; a source should not fail because of it.
type robotsGuard struct {
	next    http.RoundTripper
	backoff []time.Duration

	mu    sync.Mutex
	cause string
}

func newRobotsGuard(next http.RoundTripper) *robotsGuard {
	return &robotsGuard{next: next, backoff: robotsBackoff}
}

// RoundTrip implements http.RoundTripper.
func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return g.next.RoundTrip(req) //nolint:wrapcheck // transparent transport
	}
	for attempt := 0; ; attempt++ {
		resp, err := g.next.RoundTrip(req.Clone(req.Context()))
		cause := robotsFailure(resp, err)
		if cause == "" {
			if err != nil {
				return nil, fmt.Errorf("fetch robots.txt: %w", err)
			}
			return resp, nil
		}
		if resp != nil {
			_ = resp.Body.Close() //nolint:errcheck // discarded retry body
		}
		if attempt >= len(g.backoff) {
			g.fallback(cause)
			return allowAllResponse(req), nil
		}
		if err := wait(req.Context(), g.backoff[attempt]); err != nil {
			return nil, err
		}
	}
}

// Reason describes the fallback for the job log, or "" if robots.txt was read.
func (g *robotsGuard) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.cause {
	case causeTimeout:
		return "robots.txt timed out"
	case causeServerError:
		return "robots.txt answered with a server error"
	default:
		return ""
	}
}

func (g *robotsGuard) fallback(cause string) {
	g.mu.Lock()
	g.cause = cause
	g.mu.Unlock()
	metrics.ObserveRobotsFallback(cause)
}

// robotsFailure classifies a robots.txt attempt as retryable.
func robotsFailure(resp *http.Response, err error) string {
	if err != nil {
		if isTimeout(err) {
			return causeTimeout
		}
		return ""
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return causeServerError
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "handshake timeout")
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt retry: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}
}
