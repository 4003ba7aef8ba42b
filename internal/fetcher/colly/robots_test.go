package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	steps []func() (*http.Response, error)
	calls int
	paths []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.paths = append(s.paths, req.URL.Path)
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i]()
}

func status(code int) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}, nil
	}
}

func fail(err error) func() (*http.Response, error) {
	return func() (*http.Response, error) { return nil, err }
}

func fastGuard(next http.RoundTripper) *robotsGuard {
	g := newRobotsGuard(next)
	g.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return g
}

func TestRobotsGuardFallsBackAfterTimeouts(t *testing.T) {
	t.Parallel()
	next := &scriptedTransport{steps: []func() (*http.Response, error){fail(context.DeadlineExceeded)}}
	g := fastGuard(next)

	resp, err := g.RoundTrip(httptest.NewRequest(http.MethodGet, "https://news.example.com/robots.txt", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, allowAllRobots, string(body))
	assert.Equal(t, 4, next.calls)
	assert.Equal(t, "robots.txt timed out", g.Reason())
}

func TestRobotsGuardRetriesServerErrorsUntilSuccess(t *testing.T) {
	t.Parallel()
	next := &scriptedTransport{steps: []func() (*http.Response, error){
		status(http.StatusBadGateway),
		status(http.StatusOK),
	}}
	g := fastGuard(next)

	resp, err := g.RoundTrip(httptest.NewRequest(http.MethodGet, "https://news.example.com/robots.txt", nil))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, next.calls)
	assert.Empty(t, g.Reason())
}

func TestRobotsGuardDoesNotRetryHardFailures(t *testing.T) {
	t.Parallel()
	next := &scriptedTransport{steps: []func() (*http.Response, error){fail(errors.New("connection refused"))}}
	g := fastGuard(next)

	_, err := g.RoundTrip(httptest.NewRequest(http.MethodGet, "https://news.example.com/robots.txt", nil))
	require.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 1, next.calls)

	next = &scriptedTransport{steps: []func() (*http.Response, error){status(http.StatusNotFound)}}
	g = fastGuard(next)
	resp, err := g.RoundTrip(httptest.NewRequest(http.MethodGet, "https://news.example.com/robots.txt", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, next.calls)
}

func TestRobotsGuardPassesOtherPathsThrough(t *testing.T) {
	t.Parallel()
	next := &scriptedTransport{steps: []func() (*http.Response, error){status(http.StatusServiceUnavailable)}}
	g := fastGuard(next)

	resp, err := g.RoundTrip(httptest.NewRequest(http.MethodGet, "https://news.example.com/verkehr", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, []string{"/verkehr"}, next.paths)
}

func TestRobotsGuardStopsOnCanceledContext(t *testing.T) {
	t.Parallel()
	next := &scriptedTransport{steps: []func() (*http.Response, error){fail(context.DeadlineExceeded)}}
	g := newRobotsGuard(next)
	g.backoff = []time.Duration{time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "https://news.example.com/robots.txt", nil).WithContext(ctx)
	_, err := g.RoundTrip(req)
	require.ErrorIs(t, err, context.Canceled)
}
