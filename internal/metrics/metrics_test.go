package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"https://www.Verkehrsrundschau.de/nachrichten": "www.verkehrsrundschau.de",
		"eurotransport.de/artikel?id=3":                "eurotransport.de",
		"http://10.0.0.5:8080/feed.xml":                "10.0.0.5",
		"http://%":                                     "unknown",
		"":                                             "unknown",
	} {
		assert.Equal(t, want, SanitizeSite(in), in)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, fetchesTotal)
	require.NotNil(t, robotsFallbacksTotal)
}

func TestObserveFetchLabelsByHost(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchesTotal.WithLabelValues("trans.info", "200"))
	bytesBefore := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("trans.info"))

	ObserveFetch("https://trans.info/de/maut", "200", 2048)
	ObserveFetch("https://TRANS.info/de/diesel", "200", 0)

	assert.InDelta(t, before+2, testutil.ToFloat64(fetchesTotal.WithLabelValues("trans.info", "200")), 0)
	assert.InDelta(t, bytesBefore+2048, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("trans.info")), 0)
}

func TestObserveOutcomes(t *testing.T) {
	Init()
	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))
	aiErrors := testutil.ToFloat64(aiCallsTotal.WithLabelValues("gemini", "error"))
	aiOK := testutil.ToFloat64(aiCallsTotal.WithLabelValues("gemini", "success"))
	dupes := testutil.ToFloat64(scrapedItemsTotal.WithLabelValues("duplicate"))
	timeouts := testutil.ToFloat64(robotsFallbacksTotal.WithLabelValues("timeout"))
	jobs := testutil.ToFloat64(jobsTotal.WithLabelValues("scraping", "failed"))

	ObserveCacheLookup(true)
	ObserveCacheLookup(false)
	ObserveCacheLookup(false)
	ObserveAICall("gemini", errors.New("quota exceeded"), time.Second)
	ObserveAICall("gemini", nil, time.Second)
	ObserveScrapedItems(4, 2)
	ObserveRobotsFallback("timeout")
	ObserveJob("scraping", "failed", 3*time.Second)

	assert.InDelta(t, hits+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")), 0)
	assert.InDelta(t, misses+2, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss")), 0)
	assert.InDelta(t, aiErrors+1, testutil.ToFloat64(aiCallsTotal.WithLabelValues("gemini", "error")), 0)
	assert.InDelta(t, aiOK+1, testutil.ToFloat64(aiCallsTotal.WithLabelValues("gemini", "success")), 0)
	assert.InDelta(t, dupes+2, testutil.ToFloat64(scrapedItemsTotal.WithLabelValues("duplicate")), 0)
	assert.InDelta(t, timeouts+1, testutil.ToFloat64(robotsFallbacksTotal.WithLabelValues("timeout")), 0)
	assert.InDelta(t, jobs+1, testutil.ToFloat64(jobsTotal.WithLabelValues("scraping", "failed")), 0)
}

func TestHandlerExposesPortalMetrics(t *testing.T) {
	Init()
	ObserveRobotsFallback("server_error")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal_robots_fallback_total")
}

func FuzzSanitizeSite(f *testing.F) {
	for _, seed := range []string{"https://dvz.de", "ftp://example.com", "::::"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		if SanitizeSite(raw) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", raw)
		}
	})
}
