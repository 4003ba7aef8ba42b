package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleUser is the subset of the Google profile used to resolve a portal user.
type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// Google wraps the OAuth2 client used for "sign in with Google".
type Google struct {
	cfg         *oauth2.Config
	userInfoURL string
}

// NewGoogle returns a Google sign-in client requesting email and profile scopes.
func NewGoogle(clientID, clientSecret, redirectURL string) *Google {
	return &Google{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// AuthCodeURL returns the consent page URL for state.
func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the user's Google profile.
func (g *Google) Exchange(ctx context.Context, code string) (GoogleUser, error) {
	token, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return GoogleUser{}, fmt.Errorf("oauth exchange: %w", err)
	}
	resp, err := g.cfg.Client(ctx, token).Get(g.userInfoURL)
	if err != nil {
		return GoogleUser{}, fmt.Errorf("fetch google userinfo: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // diagnostic only
		return GoogleUser{}, fmt.Errorf("google userinfo returned %d: %s", resp.StatusCode, body)
	}
	var info GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return GoogleUser{}, fmt.Errorf("decode google userinfo: %w", err)
	}
	if !info.VerifiedEmail {
		return GoogleUser{}, fmt.Errorf("google account email %q is not verified", info.Email)
	}
	return info, nil
}
