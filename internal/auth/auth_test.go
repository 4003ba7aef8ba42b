package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/fleetinfo/portal/internal/portal"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func partnerID(id int64) *int64 { return &id }

func TestTokensIssueAndParse(t *testing.T) {
	t.Parallel()

	tokens := NewTokens(testSecret, time.Hour, "portal-test")
	user := portal.User{ID: 7, Email: "ops@example.com", Role: portal.RoleEditor, BusinessPartnerID: partnerID(3)}

	signed, exp, err := tokens.Issue(user)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := tokens.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
	require.Equal(t, "ops@example.com", claims.Email)
	require.Equal(t, portal.RoleEditor, claims.Role)
	require.Equal(t, int64(3), *claims.BusinessPartnerID)
	require.Equal(t, "7", claims.Subject)
}

func TestTokensParseRejects(t *testing.T) {
	t.Parallel()

	tokens := NewTokens(testSecret, time.Hour, "portal-test")
	user := portal.User{ID: 1, Email: "a@example.com", Role: portal.RoleAdmin, BusinessPartnerID: partnerID(1)}

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		past := NewTokens(testSecret, time.Minute, "portal-test")
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		signed, _, err := past.Issue(user)
		require.NoError(t, err)
		_, err = tokens.Parse(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other := NewTokens("another-secret-of-enough-length", time.Hour, "portal-test")
		signed, _, err := other.Issue(user)
		require.NoError(t, err)
		_, err = tokens.Parse(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		t.Parallel()
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "portal-test",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			UserID: 1,
			Role:   portal.RoleSuperAdmin,
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = tokens.Parse(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		t.Parallel()
		signed, _, err := tokens.Issue(portal.User{ID: 2, Role: "root"})
		require.NoError(t, err)
		_, err = tokens.Parse(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		t.Parallel()
		_, err := tokens.Parse("not-a-token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestClaimsScope(t *testing.T) {
	t.Parallel()

	super := &Claims{Role: portal.RoleSuperAdmin}
	admin := &Claims{Role: portal.RoleAdmin, BusinessPartnerID: partnerID(4)}
	orphan := &Claims{Role: portal.RoleViewer}

	require.True(t, super.CanAccessPartner(nil))
	require.True(t, super.CanAccessPartner(partnerID(9)))
	require.Nil(t, super.PartnerScope())

	require.True(t, admin.CanAccessPartner(partnerID(4)))
	require.False(t, admin.CanAccessPartner(partnerID(5)))
	require.False(t, admin.CanAccessPartner(nil))
	require.Equal(t, int64(4), *admin.PartnerScope())

	require.Equal(t, int64(-1), *orphan.PartnerScope())
	require.False(t, orphan.CanAccessPartner(partnerID(4)))

	require.True(t, admin.AtLeast(portal.RoleEditor))
	require.False(t, admin.AtLeast(portal.RoleSuperAdmin))
	require.False(t, (&Claims{Role: "ghost"}).AtLeast(portal.RoleViewer))
}

func TestAuthenticateAndRequireRole(t *testing.T) {
	t.Parallel()

	tokens := NewTokens(testSecret, time.Hour, "")
	viewerToken, _, err := tokens.Issue(portal.User{ID: 1, Role: portal.RoleViewer, BusinessPartnerID: partnerID(1)})
	require.NoError(t, err)
	adminToken, _, err := tokens.Issue(portal.User{ID: 2, Role: portal.RoleAdmin, BusinessPartnerID: partnerID(1)})
	require.NoError(t, err)

	var seen *Claims
	handler := Authenticate(tokens)(RequireRole(portal.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"invalid", HeaderName, "abc", http.StatusUnauthorized},
		{"viewer forbidden", HeaderName, viewerToken, http.StatusForbidden},
		{"admin ok", HeaderName, adminToken, http.StatusNoContent},
		{"bearer fallback", "Authorization", "Bearer " + adminToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		if tt.header != "" {
			req.Header.Set(tt.header, tt.value)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, tt.want, rec.Code, tt.name)
	}
	require.NotNil(t, seen)
	require.Equal(t, int64(2), seen.UserID)
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse", hash)
	require.NoError(t, CheckPassword(hash, "correct horse"))
	require.ErrorIs(t, CheckPassword(hash, "wrong"), ErrBadCredentials)
	require.ErrorIs(t, CheckPassword("", "anything"), ErrBadCredentials)
}

func TestGoogleExchange(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, "https://oauth2.googleapis.com/token",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"access_token": "at", "token_type": "Bearer", "expires_in": 3600,
		}))
	httpmock.RegisterResponder(http.MethodGet, googleUserInfoURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"id": "g-1", "email": "driver@example.com", "verified_email": true, "name": "Driver",
		}))

	g := NewGoogle("client", "secret", "http://localhost/api/auth/google/callback")
	require.Contains(t, g.AuthCodeURL("state-1"), "state=state-1")

	ctx := context.Background()
	user, err := g.Exchange(ctx, "code-1")
	require.NoError(t, err)
	require.Equal(t, "driver@example.com", user.Email)
}

func TestGoogleExchangeRejectsUnverified(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, "https://oauth2.googleapis.com/token",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"access_token": "at", "token_type": "Bearer",
		}))
	httpmock.RegisterResponder(http.MethodGet, googleUserInfoURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"id": "g-2", "email": "x@example.com", "verified_email": false,
		}))

	g := NewGoogle("client", "secret", "http://localhost/cb")
	ctx := context.Background()
	_, err := g.Exchange(ctx, "code-2")
	require.Error(t, err)
}
