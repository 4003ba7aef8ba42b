package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/id/uuid"
	"github.com/fleetinfo/portal/internal/jobs"
	"github.com/fleetinfo/portal/internal/portal"
)

const progressTimeout = 3 * time.Second

type executeRequest struct {
	RegionID *int64   `json:"region_id,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Input    string   `json:"input,omitempty"`
}

// jobLogs handles GET /api/{ai,scraping}-jobs/logs/{jobId}. It returns
// {"job": {...}, "logs": [...]} so clients can poll one endpoint for both
// status and progress lines. Unknown ids answer 404.
func (s *Server) jobLogs(kind portal.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := parseJobID(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), progressTimeout)
		defer cancel()

		job, err := s.stores.Jobs.GetJob(ctx, kind, jobID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		logs, err := s.stores.Jobs.ListLogs(ctx, kind, jobID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job": job, "logs": logs})
	}
}

// executePromptRule handles POST /api/ai-prompt-rules/{id}/execute. The body
// is optional and may narrow the run to a region, keywords and caller input.
func (s *Server) executePromptRule(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req executeRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.stores.PromptRules.Get(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.RegionID != nil {
		if _, err := s.stores.Regions.Get(r.Context(), *req.RegionID); err != nil {
			if errors.Is(err, portal.ErrNotFound) {
				err = portal.Invalid("region_id", "does not exist")
			}
			s.fail(w, r, err)
			return
		}
	}
	s.submit(w, r, jobs.TypeAIExecute, jobs.Payload{
		RuleID:   id,
		RegionID: req.RegionID,
		Keywords: portal.NormalizeKeywords(req.Keywords),
		Input:    strings.TrimSpace(req.Input),
	})
}

// triggerScrape handles POST /api/scraping-rules/{id}/trigger-scrape.
func (s *Server) triggerScrape(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.stores.ScrapingRules.Get(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.submit(w, r, jobs.TypeScrape, jobs.Payload{RuleID: id})
}

// processSubscription handles POST /api/content-subscriptions/{id}/process.
func (s *Server) processSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.stores.Subscriptions.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !claimsOf(r).CanAccessPartner(sub.BusinessPartnerID) {
		s.fail(w, r, portal.ErrForbidden)
		return
	}
	s.submit(w, r, jobs.TypeSubscription, jobs.Payload{RuleID: sub.PromptRuleID, SubscriptionID: &sub.ID})
}

// processAllSubscriptions handles POST /api/content-subscriptions/process-all.
// It queues a fanout task that submits one job per active subscription.
func (s *Server) processAllSubscriptions(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.SubmitFanout(r.Context(), jobs.TypeSubscriptionsAll); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, taskType string, pl jobs.Payload) {
	job, err := s.jobs.SubmitPayload(r.Context(), taskType, pl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("job accepted",
		zap.String("job_id", job.ID),
		zap.String("type", taskType),
		zap.Int64("rule_id", pl.RuleID),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func parseJobID(r *http.Request) (string, error) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		return "", portal.Invalid("jobId", "is required")
	}
	if !uuid.Valid(jobID) {
		return "", portal.Invalid("jobId", "is not a valid id")
	}
	return jobID, nil
}
