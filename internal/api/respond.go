package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/auth"
	"github.com/fleetinfo/portal/internal/external"
	"github.com/fleetinfo/portal/internal/portal"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxJSONBody      = 1 << 20
	maxFeedPage      = 100000
	auditTimeout     = 2 * time.Second
)

// errUnavailable marks features whose backing service is not configured.
var errUnavailable = errors.New("service not configured")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err onto a status code. Anything unrecognized is logged, recorded
// in the audit log and answered with a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *portal.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, portal.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, portal.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, portal.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, portal.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, errUnavailable), errors.Is(err, external.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		s.audit(r, http.StatusInternalServerError, err.Error())
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) audit(r *http.Request, status int, msg string) {
	if s.stores.Audit == nil {
		return
	}
	entry := portal.AuditEntry{
		Method:  r.Method,
		Path:    r.URL.Path,
		Status:  status,
		Message: msg,
	}
	if s.clock != nil {
		entry.CreatedAt = s.clock.Now()
	}
	if claims := auth.FromContext(r.Context()); claims != nil {
		uid := claims.UserID
		entry.UserID = &uid
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
	defer cancel()
	if err := s.stores.Audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", zap.Error(err))
	}
}

// decodeJSON reads a single JSON object into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return decodeJSONBody(w, r, v, false)
}

// decodeOptionalJSON is decodeJSON for bodies that may be empty. Chunked
// requests carry no length, so emptiness is detected by the decoder.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSONBody(w, r, v, true)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return portal.Invalid("", "invalid JSON: "+err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return portal.Invalid("", "invalid JSON: trailing data")
	}
	return nil
}

func parseID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, portal.Invalid(param, "must be a positive integer")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, portal.Invalid("limit", "must be a positive integer")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, portal.Invalid("offset", "must be a non-negative integer")
		}
		offset = val
	}
	return limit, offset, nil
}

// queryID reads an optional positive id from the query string.
func queryID(r *http.Request, names ...string) (*int64, error) {
	for _, name := range names {
		raw := strings.TrimSpace(r.URL.Query().Get(name))
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, portal.Invalid(name, "must be a positive integer")
		}
		return &id, nil
	}
	return nil, nil
}

func queryFloat(r *http.Request, name string, required bool) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		if required {
			return 0, portal.Invalid(name, "is required")
		}
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, portal.Invalid(name, fmt.Sprintf("is not a number: %q", raw))
	}
	return v, nil
}

func claimsOf(r *http.Request) *auth.Claims {
	if c := auth.FromContext(r.Context()); c != nil {
		return c
	}
	return &auth.Claims{}
}
