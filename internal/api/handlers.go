// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

// Package api provides the HTTP surface: OAuth session endpoints, list
// sync, recommendation generation, feedback, preferences and share
// links, routed with chi.
package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yukarin/osusume/internal/auth"
	"github.com/yukarin/osusume/internal/config"
	"github.com/yukarin/osusume/internal/cooldown"
	"github.com/yukarin/osusume/internal/database"
	"github.com/yukarin/osusume/internal/logging"
	"github.com/yukarin/osusume/internal/mal"
	"github.com/yukarin/osusume/internal/models"
	"github.com/yukarin/osusume/internal/recommend"
)

// Generator is the recommendation entry point consumed by the handlers.
// Implemented by *recommend.Engine.
type Generator interface {
	Generate(ctx context.Context, req *recommend.Request) (*models.RecommendationBatch, error)
}

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	cfg      *config.Config
	db       *database.DB
	mal      mal.CatalogClient
	engine   Generator
	sessions *auth.SessionStore
	jwt      *auth.JWTManager
	cooldown *cooldown.Store
}

// NewHandlers wires the handler set.
func NewHandlers(cfg *config.Config, db *database.DB, client mal.CatalogClient, engine Generator, sessions *auth.SessionStore, jwtManager *auth.JWTManager, cooldownStore *cooldown.Store) *Handlers {
	return &Handlers{
		cfg:      cfg,
		db:       db,
		mal:      client,
		engine:   engine,
		sessions: sessions,
		jwt:      jwtManager,
		cooldown: cooldownStore,
	}
}

// Health reports liveness. The database ping doubles as readiness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		logging.Error().Err(err).Msg("Health check database ping failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondData(w, code, map[string]string{"status": status})
}

type authURLResponse struct {
	URL          string `json:"url"`
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
}

// AuthURL starts the OAuth flow: it pairs the MAL authorization URL with
// the state and plain-PKCE verifier the client carries through the
// redirect and back into AuthCallback.
func (h *Handlers) AuthURL(w http.ResponseWriter, r *http.Request) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not generate a code verifier", err)
		return
	}
	state := uuid.NewString()
	respondData(w, http.StatusOK, authURLResponse{
		URL:          h.mal.AuthorizeURL(state, verifier),
		State:        state,
		CodeVerifier: verifier,
	})
}

// generateCodeVerifier returns a 96-character PKCE verifier. RFC 7636
// allows 43 to 128 characters from the unreserved set; base64url output
// stays inside it.
func generateCodeVerifier() (string, error) {
	buf := make([]byte, 72)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type callbackRequest struct {
	Code         string `json:"code" validate:"required"`
	CodeVerifier string `json:"code_verifier" validate:"required"`
}

type sessionResponse struct {
	Token    string `json:"token"`
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}

// AuthCallback completes the MAL OAuth code flow: exchanges the code,
// fetches the profile, persists the account and mints a session token.
func (h *Handlers) AuthCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tokens, err := h.mal.ExchangeCode(r.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "OAUTH_FAILED", "authorization code exchange failed", err)
		return
	}
	profile, err := h.mal.GetMe(r.Context(), tokens.AccessToken)
	if err != nil {
		respondError(w, http.StatusBadGateway, "MAL_UNAVAILABLE", "could not load the MAL profile", err)
		return
	}

	user := &models.User{
		MALID:          profile.ID,
		Username:       profile.Username,
		AvatarURL:      profile.AvatarURL,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		TokenExpiresAt: tokens.ExpiresAt,
	}
	if err := h.db.UpsertUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not persist the account", err)
		return
	}

	session, err := h.sessions.Create(profile.ID, profile.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SESSION_ERROR", "could not create a session", err)
		return
	}
	token, err := h.jwt.Issue(session)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SESSION_ERROR", "could not issue a session token", err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Int("user_id", profile.ID).
		Str("username", profile.Username).
		Msg("User authenticated")
	respondData(w, http.StatusOK, sessionResponse{
		Token:    token,
		UserID:   profile.ID,
		Username: profile.Username,
	})
}

// Logout revokes the current session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if err := h.sessions.Delete(session.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "SESSION_ERROR", "could not revoke the session", err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type refreshResponse struct {
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// AuthRefresh forces a MAL token refresh ahead of expiry. Routine
// refreshes happen transparently in malToken; this endpoint lets a
// client recover after MAL invalidates a token early.
func (h *Handlers) AuthRefresh(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	user, err := h.db.GetUser(r.Context(), session.UserID)
	if err != nil {
		respondError(w, http.StatusNotFound, "USER_NOT_FOUND", "account not found", err)
		return
	}

	tokens, err := h.mal.RefreshToken(r.Context(), user.RefreshToken)
	if err != nil {
		respondMALError(w, err)
		return
	}
	if err := h.db.UpdateUserTokens(r.Context(), session.UserID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not persist refreshed tokens", err)
		return
	}
	respondData(w, http.StatusOK, refreshResponse{TokenExpiresAt: tokens.ExpiresAt})
}

// Me returns the authenticated account.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	user, err := h.db.GetUser(r.Context(), session.UserID)
	if err != nil {
		respondError(w, http.StatusNotFound, "USER_NOT_FOUND", "account not found", err)
		return
	}
	respondData(w, http.StatusOK, user)
}

// malToken returns a live MAL access token for the user, refreshing and
// re-persisting it when expired. A minute of slack avoids handing out a
// token that dies mid-request.
func (h *Handlers) malToken(ctx context.Context, userID int) (string, error) {
	user, err := h.db.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if time.Now().Add(time.Minute).Before(user.TokenExpiresAt) {
		return user.AccessToken, nil
	}

	tokens, err := h.mal.RefreshToken(ctx, user.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := h.db.UpdateUserTokens(ctx, userID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); err != nil {
		// The refreshed token still works for this request.
		logging.Warn().Err(err).Int("user_id", userID).Msg("Could not persist refreshed tokens")
	}
	return tokens.AccessToken, nil
}
