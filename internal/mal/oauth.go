// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package mal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// Tokens is an issued OAuth2 token pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the absolute access-token expiry.
	ExpiresAt time.Time
}

// UserProfile is the authenticated user's MAL identity.
type UserProfile struct {
	ID        int
	Username  string
	AvatarURL string
}

// AuthorizeURL builds the authorization URL that starts the OAuth flow.
//
// MAL implements the PKCE "plain" method only, so the challenge is the
// verifier itself.
func (c *Client) AuthorizeURL(state, codeVerifier string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("state", state)
	q.Set("code_challenge", codeVerifier)
	q.Set("code_challenge_method", "plain")
	if c.cfg.RedirectURI != "" {
		q.Set("redirect_uri", c.cfg.RedirectURI)
	}
	return c.cfg.AuthorizeURL + "?" + q.Encode()
}

// ExchangeCode trades an authorization code for a token pair.
//
// MAL implements the PKCE "plain" method only, so the verifier is sent
// as-is in code_verifier; no S256 hashing is involved.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", codeVerifier)
	if c.cfg.RedirectURI != "" {
		form.Set("redirect_uri", c.cfg.RedirectURI)
	}
	return c.tokenRequest(ctx, "oauth_exchange", form)
}

// RefreshToken trades a refresh token for a fresh token pair. MAL rotates
// the refresh token on every use; callers must persist the returned one.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, "oauth_refresh", form)
}

// tokenRequest posts a form to the OAuth token endpoint. Token calls skip
// the circuit breaker; a broken catalog path must not block re-auth.
func (c *Client) tokenRequest(ctx context.Context, endpoint string, form url.Values) (*Tokens, error) {
	start := time.Now()
	tokens, err := func() (*Tokens, error) {
		resp, err := c.doRequestWithRateLimit(ctx, http.MethodPost, c.cfg.TokenURL, "", form.Encode())
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			return nil, ErrUnauthorized
		}
		if resp.StatusCode != http.StatusOK {
			body := readBodyForError(resp.Body)
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
		}

		var tr tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return nil, fmt.Errorf("failed to decode token response: %w", err)
		}
		return &Tokens{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		}, nil
	}()
	observeRequest(endpoint, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	return tokens, nil
}

// GetMe fetches the authenticated user's profile.
func (c *Client) GetMe(ctx context.Context, token string) (*UserProfile, error) {
	start := time.Now()
	profile, err := func() (*UserProfile, error) {
		resp, err := c.doRequestWithRateLimit(ctx, http.MethodGet, c.cfg.BaseURL+"/users/@me", token, "")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return nil, err
		}

		var info userInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return nil, fmt.Errorf("failed to decode user response: %w", err)
		}
		return &UserProfile{
			ID:        info.ID,
			Username:  info.Name,
			AvatarURL: info.Picture,
		}, nil
	}()
	observeRequest("me", start, err)
	if err != nil {
		return nil, fmt.Errorf("me request failed: %w", err)
	}
	return profile, nil
}
