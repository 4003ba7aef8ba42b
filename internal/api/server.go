// Package api exposes the HTTP interface for the portal.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/auth"
	"github.com/fleetinfo/portal/internal/config"
	"github.com/fleetinfo/portal/internal/jobs"
	"github.com/fleetinfo/portal/internal/metrics"
	"github.com/fleetinfo/portal/internal/portal"
)

// RoleLister returns the seeded roles.
type RoleLister interface {
	ListRoles(ctx context.Context) ([]portal.Role, error)
}

// Stores groups the repositories the handlers read and write.
type Stores struct {
	Partners       portal.Repository[portal.BusinessPartner]
	Regions        portal.Repository[portal.Region]
	Roles          RoleLister
	Users          portal.UserStore
	Categories     portal.Repository[portal.Category]
	Tags           portal.TagStore
	WidgetTypes    portal.Repository[portal.WidgetType]
	WidgetAccess   portal.WidgetAccessStore
	Advertisements portal.Repository[portal.Advertisement]
	PartnerActions portal.Repository[portal.PartnerAction]
	ScrapingRules  portal.Repository[portal.ScrapingRule]
	ScrapedContent portal.Repository[portal.ScrapedContent]
	Traffic        portal.Repository[portal.TrafficIncident]
	PromptRules    portal.Repository[portal.AIPromptRule]
	Generated      portal.Repository[portal.GeneratedContent]
	Subscriptions  portal.Repository[portal.ContentSubscription]
	Jobs           portal.JobStore
	Cache          portal.ContentCache
	Feed           portal.FeedStore
	Audit          portal.AuditStore
}

// JobSubmitter creates pending jobs and queues their tasks.
type JobSubmitter interface {
	SubmitPayload(ctx context.Context, taskType string, pl jobs.Payload) (portal.Job, error)
	SubmitFanout(ctx context.Context, taskType string) error
}

// ExternalData proxies third-party fuel and charging APIs.
type ExternalData interface {
	FuelPrices(ctx context.Context, region string) (json.RawMessage, error)
	EVStations(ctx context.Context, lat, lng, radiusKM float64) (json.RawMessage, error)
}

// ReadyCheck reports whether a downstream dependency is reachable.
type ReadyCheck func(ctx context.Context) error

// Deps carries everything NewServer wires into handlers. Google, External and
// Blobs may be nil; their routes answer 503 then.
type Deps struct {
	Stores   Stores
	Tokens   *auth.Tokens
	Google   *auth.Google
	Jobs     JobSubmitter
	Blobs    portal.BlobStore
	External ExternalData
	Ready    map[string]ReadyCheck
	Clock    portal.Clock
	Config   config.Config
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the stores and the job service.
type Server struct {
	router    chi.Router
	stores    Stores
	tokens    *auth.Tokens
	google    *auth.Google
	jobs      JobSubmitter
	blobs     portal.BlobStore
	external  ExternalData
	ready     map[string]ReadyCheck
	clock     portal.Clock
	cfg       config.Config
	logger    *zap.Logger
	feedCache *cache.Cache
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		stores:    deps.Stores,
		tokens:    deps.Tokens,
		google:    deps.Google,
		jobs:      deps.Jobs,
		blobs:     deps.Blobs,
		external:  deps.External,
		ready:     deps.Ready,
		clock:     deps.Clock,
		cfg:       deps.Config,
		logger:    logger,
		feedCache: cache.New(deps.Config.Feed.CacheTTL, 2*deps.Config.Feed.CacheTTL),
	}
	timeout := deps.Config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Get("/auth/google/login", s.googleLogin)
		r.Get("/auth/google/callback", s.googleCallback)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(s.tokens))
			r.Use(auth.RequireRole(portal.RoleViewer))
			s.mountProtected(r)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) mountProtected(r chi.Router) {
	r.Get("/auth/me", s.me)
	r.Get("/roles", s.listRoles)
	r.Get("/feed", s.feed)
	r.Get("/widgets/mine", s.myWidgets)
	r.Get("/fuel-prices", s.fuelPrices)
	r.Get("/ev-stations", s.evStations)
	r.Get("/ai-jobs/logs/{jobId}", s.jobLogs(portal.JobKindAI))
	r.Get("/scraping-jobs/logs/{jobId}", s.jobLogs(portal.JobKindScraping))

	for _, res := range s.resources() {
		res.mount(r)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.stores.Roles.ListRoles(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	logger := s.logger.Named("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
				s.audit(r, http.StatusInternalServerError, fmt.Sprintf("panic: %v", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}
