package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/auth"
	"github.com/fleetinfo/portal/internal/portal"
)

const oauthStateCookie = "portal_oauth_state"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      portal.User `json:"user"`
}

// login handles POST /api/auth/login. Unknown emails, inactive accounts and
// wrong passwords all answer the same 401.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		s.fail(w, r, portal.Invalid("", "email and password are required"))
		return
	}
	user, err := s.stores.Users.GetByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, portal.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, auth.ErrBadCredentials.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	if !user.Active || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, auth.ErrBadCredentials.Error())
		return
	}
	s.issue(w, r, user)
}

// me handles GET /api/auth/me.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	c := claimsOf(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":             c.UserID,
		"email":               c.Email,
		"role":                c.Role,
		"business_partner_id": c.BusinessPartnerID,
	})
}

// googleLogin handles GET /api/auth/google/login by redirecting to the
// consent page with a state cookie.
func (s *Server) googleLogin(w http.ResponseWriter, r *http.Request) {
	if s.google == nil {
		s.fail(w, r, fmt.Errorf("google sign-in: %w", errUnavailable))
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.google.AuthCodeURL(state), http.StatusFound)
}

// googleCallback handles GET /api/auth/google/callback. The Google account
// email must belong to an active portal user.
func (s *Server) googleCallback(w http.ResponseWriter, r *http.Request) {
	if s.google == nil {
		s.fail(w, r, fmt.Errorf("google sign-in: %w", errUnavailable))
		return
	}
	q := r.URL.Query()
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		s.fail(w, r, portal.Invalid("state", "does not match"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/api/auth/google", MaxAge: -1})

	code := q.Get("code")
	if code == "" {
		s.fail(w, r, portal.Invalid("code", "is required"))
		return
	}
	info, err := s.google.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Warn("google exchange failed", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "google sign-in failed")
		return
	}
	user, err := s.stores.Users.GetByEmail(r.Context(), strings.ToLower(info.Email))
	if err != nil {
		if errors.Is(err, portal.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "no portal account for this google account")
			return
		}
		s.fail(w, r, err)
		return
	}
	if !user.Active {
		writeError(w, http.StatusUnauthorized, "account disabled")
		return
	}
	s.issue(w, r, user)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, user portal.User) {
	token, exp, err := s.tokens.Issue(user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user.Password = ""
	s.logger.Info("user signed in", zap.Int64("user_id", user.ID), zap.String("role", user.Role))
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp, User: user})
}
