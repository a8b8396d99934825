// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yukarin/osusume/internal/auth"
	"github.com/yukarin/osusume/internal/cooldown"
	"github.com/yukarin/osusume/internal/database"
	"github.com/yukarin/osusume/internal/models"
	"github.com/yukarin/osusume/internal/validation"
)

type shareRequest struct {
	ItemType string `json:"item_type" validate:"required,oneof=anime manga"`
	Mode     string `json:"mode" validate:"required,oneof=new rewatch"`
}

// CreateShare snapshots the user's current cached batch under a short
// public code. Only an unexpired batch can be shared; there is nothing
// meaningful to snapshot otherwise.
func (h *Handlers) CreateShare(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	var req shareRequest
	if !decodeBody(w, r, &req) {
		return
	}

	batch, err := h.db.GetRecommendationCache(r.Context(), session.UserID, models.ItemType(req.ItemType), models.Mode(req.Mode))
	if errors.Is(err, database.ErrCacheMiss) {
		// Rewatch batches live in the local layer only.
		batch, err = h.cooldown.Get(session.UserID, models.ItemType(req.ItemType), models.Mode(req.Mode))
		if errors.Is(err, cooldown.ErrNotCached) {
			respondError(w, http.StatusNotFound, "NO_BATCH", "no active batch to share, generate one first", nil)
			return
		}
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not load the batch", err)
		return
	}

	share, err := h.db.CreateShare(r.Context(), batch, h.cfg.Recommend.ShareTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not create the share link", err)
		return
	}
	respondData(w, http.StatusCreated, share)
}

// GetShare resolves a share code. Public, no session required.
func (h *Handlers) GetShare(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !validation.IsShareCode(code) {
		respondError(w, http.StatusBadRequest, "INVALID_CODE", "malformed share code", nil)
		return
	}

	share, err := h.db.GetShare(r.Context(), code)
	switch {
	case errors.Is(err, database.ErrShareNotFound):
		respondError(w, http.StatusNotFound, "SHARE_NOT_FOUND", "unknown share code", nil)
		return
	case errors.Is(err, database.ErrShareExpired):
		respondError(w, http.StatusGone, "SHARE_EXPIRED", "this share link has expired", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not load the share", err)
		return
	}
	respondData(w, http.StatusOK, share)
}
