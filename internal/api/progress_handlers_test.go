package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetinfo/portal/internal/auth"
	"github.com/fleetinfo/portal/internal/jobs"
	"github.com/fleetinfo/portal/internal/portal"
)

func TestExecutePromptRule_ReturnsAcceptedWithPendingJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.rules.seed(portal.AIPromptRule{Name: "Daily", Provider: "openai", Template: "{{.Input}}", Active: true})
	h.regions.seed(portal.Region{Code: "DE-BE", Name: "Berlin"})
	editor := h.token(portal.RoleEditor, ptr(int64(1)))

	rr := h.do(http.MethodPost, "/api/ai-prompt-rules/1/execute", editor,
		`{"region_id":1,"keywords":["Diesel"," toll ","diesel"],"input":"  fleet news  "}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	jobID := decodeBody[map[string]string](t, rr)["job_id"]
	require.NotEmpty(t, jobID)

	job, err := h.jobStore.GetJob(context.Background(), portal.JobKindAI, jobID)
	require.NoError(t, err)
	assert.Equal(t, portal.JobStatusPending, job.Status)
	assert.Equal(t, int64(1), job.RuleID)

	tasks := h.enqueuer.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, jobs.TypeAIExecute, tasks[0].Type)
	assert.Equal(t, jobID, tasks[0].Payload.JobID)
	assert.Equal(t, []string{"diesel", "toll"}, tasks[0].Payload.Keywords)
	assert.Equal(t, "fleet news", tasks[0].Payload.Input)
	require.NotNil(t, tasks[0].Payload.RegionID)
	assert.Equal(t, int64(1), *tasks[0].Payload.RegionID)
}

func TestExecutePromptRule_AcceptsChunkedEmptyBody(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.rules.seed(portal.AIPromptRule{Name: "Daily", Provider: "openai", Template: "{{.Input}}", Active: true})

	req := httptest.NewRequest(http.MethodPost, "/api/ai-prompt-rules/1/execute", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set(auth.HeaderName, h.token(portal.RoleEditor, ptr(int64(1))))
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Len(t, h.enqueuer.all(), 1)
}

func TestExecutePromptRule_Rejects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.rules.seed(portal.AIPromptRule{Name: "Daily", Provider: "openai", Template: "x"})
	editor := h.token(portal.RoleEditor, ptr(int64(1)))

	rr := h.do(http.MethodPost, "/api/ai-prompt-rules/9/execute", editor, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(http.MethodPost, "/api/ai-prompt-rules/1/execute", editor, `{"region_id":5}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(http.MethodPost, "/api/ai-prompt-rules/1/execute", h.token(portal.RoleViewer, ptr(int64(1))), "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	assert.Empty(t, h.enqueuer.all())
}

func TestTriggerScrape_QueuesScrapingJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.scrapers.seed(portal.ScrapingRule{Name: "News", SourceURL: "https://news.test/feed", SourceType: portal.SourceRSS})

	rr := h.do(http.MethodPost, "/api/scraping-rules/1/trigger-scrape", h.token(portal.RoleEditor, ptr(int64(1))), "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	jobID := decodeBody[map[string]string](t, rr)["job_id"]

	_, err := h.jobStore.GetJob(context.Background(), portal.JobKindScraping, jobID)
	require.NoError(t, err)
	tasks := h.enqueuer.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, jobs.TypeScrape, tasks[0].Type)
}

func TestProcessSubscription_ChecksPartnerScope(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.subs.seed(
		portal.ContentSubscription{BusinessPartnerID: ptr(int64(1)), PromptRuleID: 7, RegionID: 2, Keywords: []string{"ev"}, Active: true},
		portal.ContentSubscription{BusinessPartnerID: ptr(int64(2)), PromptRuleID: 7, RegionID: 2, Keywords: []string{"ev"}, Active: true},
	)
	editor := h.token(portal.RoleEditor, ptr(int64(1)))

	rr := h.do(http.MethodPost, "/api/content-subscriptions/1/process", editor, "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	tasks := h.enqueuer.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, jobs.TypeSubscription, tasks[0].Type)
	assert.Equal(t, int64(7), tasks[0].Payload.RuleID)
	require.NotNil(t, tasks[0].Payload.SubscriptionID)
	assert.Equal(t, int64(1), *tasks[0].Payload.SubscriptionID)

	rr = h.do(http.MethodPost, "/api/content-subscriptions/2/process", editor, "")
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestProcessAllSubscriptions_QueuesFanout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/api/content-subscriptions/process-all", h.token(portal.RoleEditor, ptr(int64(1))), "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(http.MethodPost, "/api/content-subscriptions/process-all", h.token(portal.RoleAdmin, ptr(int64(1))), "")
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, h.enqueuer.all())

	rr = h.do(http.MethodPost, "/api/content-subscriptions/process-all", h.token(portal.RoleSuperAdmin, nil), "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	tasks := h.enqueuer.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, jobs.TypeSubscriptionsAll, tasks[0].Type)
	assert.Empty(t, tasks[0].Payload.JobID)
}

func TestJobLogs_ReturnsJobAndLogs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	jobID := "0190b5d2-7c4e-7a1b-9c3d-2f1e0d9c8b7a"
	require.NoError(t, h.jobStore.CreateJob(ctx, portal.Job{ID: jobID, Kind: portal.JobKindScraping, Status: portal.JobStatusPending, RuleID: 3}))
	require.NoError(t, h.jobStore.UpdateJobStatus(ctx, portal.JobKindScraping, jobID, portal.JobStatusCompleted, ""))
	require.NoError(t, h.jobStore.AppendLogs(ctx, portal.JobKindScraping, []portal.JobLog{
		{JobID: jobID, Level: portal.LogInfo, Message: "found 3 items", CreatedAt: time.Now()},
		{JobID: jobID, Level: portal.LogInfo, Message: "stored 2, duplicates 1", CreatedAt: time.Now()},
	}))
	viewer := h.token(portal.RoleViewer, ptr(int64(1)))

	rr := h.do(http.MethodGet, "/api/scraping-jobs/logs/"+jobID, viewer, "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[struct {
		Job  portal.Job      `json:"job"`
		Logs []portal.JobLog `json:"logs"`
	}](t, rr)
	assert.Equal(t, portal.JobStatusCompleted, body.Job.Status)
	require.Len(t, body.Logs, 2)
	assert.Equal(t, "found 3 items", body.Logs[0].Message)

	rr = h.do(http.MethodGet, "/api/ai-jobs/logs/"+jobID, viewer, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(http.MethodGet, "/api/ai-jobs/logs/not-a-uuid", viewer, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPromptRuleUpdateInvalidatesCache(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.rules.seed(portal.AIPromptRule{Name: "Daily", Provider: "openai", Template: "v1"})
	now := time.Now()
	require.NoError(t, h.cache.Put(ctx, portal.CacheEntry{RuleID: 1, RegionID: 2, KeywordHash: "abc", ContentID: 5, ExpiresAt: now.Add(time.Hour)}))

	_, hit, err := h.cache.Lookup(ctx, 1, 2, "abc", now)
	require.NoError(t, err)
	require.True(t, hit)

	rr := h.do(http.MethodPut, "/api/ai-prompt-rules/1", h.token(portal.RoleEditor, ptr(int64(1))),
		`{"name":"Daily","provider":"openai","template":"v2"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	_, hit, err = h.cache.Lookup(ctx, 1, 2, "abc", now)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSubscriptionDeleteInvalidatesRuleRegion(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.subs.seed(portal.ContentSubscription{PromptRuleID: 1, RegionID: 2, Keywords: []string{"ev"}})
	now := time.Now()
	require.NoError(t, h.cache.Put(ctx, portal.CacheEntry{RuleID: 1, RegionID: 2, KeywordHash: "abc", ContentID: 5, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, h.cache.Put(ctx, portal.CacheEntry{RuleID: 1, RegionID: 3, KeywordHash: "abc", ContentID: 6, ExpiresAt: now.Add(time.Hour)}))

	rr := h.do(http.MethodDelete, "/api/content-subscriptions/1", h.token(portal.RoleSuperAdmin, nil), "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	_, hit, err := h.cache.Lookup(ctx, 1, 2, "abc", now)
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = h.cache.Lookup(ctx, 1, 3, "abc", now)
	require.NoError(t, err)
	assert.True(t, hit)
}
