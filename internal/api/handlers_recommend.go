// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yukarin/osusume/internal/auth"
	"github.com/yukarin/osusume/internal/mal"
	"github.com/yukarin/osusume/internal/models"
	"github.com/yukarin/osusume/internal/recommend"
)

// Recommendations generates or returns the cached batch for
// /recommendations/{type}?mode=new|rewatch&genres=1,2.
func (h *Handlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	itemType := models.ItemType(chi.URLParam(r, "type"))
	if !itemType.Valid() {
		respondError(w, http.StatusBadRequest, "INVALID_TYPE", "type must be anime or manga", nil)
		return
	}
	mode := models.ModeNew
	if raw := r.URL.Query().Get("mode"); raw != "" {
		mode = models.Mode(raw)
		if !mode.Valid() {
			respondError(w, http.StatusBadRequest, "INVALID_MODE", "mode must be new or rewatch", nil)
			return
		}
	}
	genres, err := parseGenreFilter(r.URL.Query().Get("genres"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_GENRES", "genres must be a comma-separated id list", err)
		return
	}

	// Rewatch works entirely from the cached list; only new mode talks
	// to the MAL catalog.
	var token string
	if mode == models.ModeNew {
		token, err = h.malToken(r.Context(), session.UserID)
		if err != nil {
			respondMALError(w, err)
			return
		}
	}

	batch, err := h.engine.Generate(r.Context(), &recommend.Request{
		UserID:      session.UserID,
		Token:       token,
		ItemType:    itemType,
		Mode:        mode,
		GenreFilter: genres,
	})
	switch {
	case errors.Is(err, recommend.ErrNoRatings):
		respondError(w, http.StatusNotFound, "NO_RATINGS", "no rated items on the synced list", nil)
		return
	case errors.Is(err, recommend.ErrNoEligibleItems):
		respondError(w, http.StatusNotFound, "NO_ELIGIBLE_ITEMS", "no items rated high enough to rewatch", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "GENERATION_FAILED", "could not generate recommendations", err)
		return
	}
	respondData(w, http.StatusOK, batch)
}

func parseGenreFilter(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type feedbackRequest struct {
	ItemID   int    `json:"item_id" validate:"required,gt=0"`
	ItemType string `json:"item_type" validate:"required,oneof=anime manga"`
	Kind     string `json:"kind" validate:"required,oneof=like dislike"`
}

// Feedback toggles a like/dislike signal. Repeating the same signal
// clears it; the opposite signal replaces it.
func (h *Handlers) Feedback(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.db.SetFeedback(r.Context(), session.UserID, req.ItemID, models.ItemType(req.ItemType), models.FeedbackKind(req.Kind))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not record feedback", err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"kind": string(result)})
}

// Preferences returns the user's stored preferences, defaults included.
func (h *Handlers) Preferences(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	prefs, err := h.db.GetPreferences(r.Context(), session.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not load preferences", err)
		return
	}
	respondData(w, http.StatusOK, prefs)
}

type preferencesRequest struct {
	FavoriteGenres      []int    `json:"favorite_genres" validate:"dive,gt=0"`
	ExcludedGenres      []int    `json:"excluded_genres" validate:"dive,gt=0"`
	PreferredStudios    []string `json:"preferred_studios"`
	PreferredAuthors    []string `json:"preferred_authors"`
	PreferredMediaTypes []string `json:"preferred_media_types"`
	MinScore            float64  `json:"min_score" validate:"gte=0,lte=10"`
}

// SavePreferences replaces the user's preferences and invalidates both
// cache layers, so the next generation reflects the change immediately.
func (h *Handlers) SavePreferences(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	var req preferencesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	prefs := &models.UserPreferences{
		UserID:              session.UserID,
		FavoriteGenres:      req.FavoriteGenres,
		ExcludedGenres:      req.ExcludedGenres,
		PreferredStudios:    req.PreferredStudios,
		PreferredAuthors:    req.PreferredAuthors,
		PreferredMediaTypes: req.PreferredMediaTypes,
		MinScore:            req.MinScore,
	}
	if prefs.MinScore == 0 {
		prefs.MinScore = models.DefaultMinScore
	}

	if err := h.db.SavePreferences(r.Context(), prefs); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not save preferences", err)
		return
	}
	if err := h.db.InvalidateRecommendationCache(r.Context(), session.UserID); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not invalidate cached batches", err)
		return
	}
	if err := h.cooldown.Invalidate(session.UserID); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not invalidate cached batches", err)
		return
	}
	respondData(w, http.StatusOK, prefs)
}

// respondMALError maps upstream client failures onto API conditions.
func respondMALError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mal.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "MAL_UNAUTHORIZED", "MAL authorization expired, reconnect the account", err)
	case errors.Is(err, mal.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "MAL_RATE_LIMITED", "MAL is rate limiting requests, retry shortly", err)
	default:
		respondError(w, http.StatusBadGateway, "MAL_UNAVAILABLE", "MAL request failed", err)
	}
}
