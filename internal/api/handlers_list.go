// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package api

import (
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yukarin/osusume/internal/auth"
	"github.com/yukarin/osusume/internal/logging"
	"github.com/yukarin/osusume/internal/models"
)

type syncResult struct {
	AnimeCount int `json:"anime_count"`
	MangaCount int `json:"manga_count"`
}

// SyncList pulls both MAL lists and replaces the local cache. The two
// catalogs are fetched in parallel; either failing fails the sync, since
// a half-synced cache silently skews recommendations.
func (h *Handlers) SyncList(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	token, err := h.malToken(r.Context(), session.UserID)
	if err != nil {
		respondMALError(w, err)
		return
	}

	var animeList, mangaList []models.ListEntry
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		animeList, err = h.mal.GetUserAnimeList(ctx, token, session.UserID)
		return err
	})
	g.Go(func() error {
		var err error
		mangaList, err = h.mal.GetUserMangaList(ctx, token, session.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		respondMALError(w, err)
		return
	}

	if err := h.db.ReplaceListCache(r.Context(), session.UserID, models.ItemTypeAnime, animeList); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not store the anime list", err)
		return
	}
	if err := h.db.ReplaceListCache(r.Context(), session.UserID, models.ItemTypeManga, mangaList); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not store the manga list", err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Int("user_id", session.UserID).
		Int("anime", len(animeList)).
		Int("manga", len(mangaList)).
		Msg("List sync completed")
	respondData(w, http.StatusOK, syncResult{
		AnimeCount: len(animeList),
		MangaCount: len(mangaList),
	})
}

// List returns the cached list for one catalog.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	itemType := models.ItemType(r.URL.Query().Get("type"))
	if itemType == "" {
		itemType = models.ItemTypeAnime
	}
	if !itemType.Valid() {
		respondError(w, http.StatusBadRequest, "INVALID_TYPE", "type must be anime or manga", nil)
		return
	}

	entries, err := h.db.GetListCache(r.Context(), session.UserID, itemType)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not load the cached list", err)
		return
	}
	respondData(w, http.StatusOK, entries)
}

// searchLimit caps proxied catalog searches. MAL allows up to 100 but a
// picker UI never shows more than a page.
const searchLimit = 20

// Search proxies a title search to MAL for one catalog, so the client
// can look up a show to add without leaving the app.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < 3 {
		respondError(w, http.StatusBadRequest, "INVALID_QUERY", "q must be at least 3 characters", nil)
		return
	}
	itemType := models.ItemType(r.URL.Query().Get("type"))
	if itemType == "" {
		itemType = models.ItemTypeAnime
	}
	if !itemType.Valid() {
		respondError(w, http.StatusBadRequest, "INVALID_TYPE", "type must be anime or manga", nil)
		return
	}

	token, err := h.malToken(r.Context(), session.UserID)
	if err != nil {
		respondMALError(w, err)
		return
	}

	var items []models.CatalogItem
	if itemType == models.ItemTypeAnime {
		items, err = h.mal.SearchAnime(r.Context(), token, query, searchLimit)
	} else {
		items, err = h.mal.SearchManga(r.Context(), token, query, searchLimit)
	}
	if err != nil {
		respondMALError(w, err)
		return
	}
	respondData(w, http.StatusOK, items)
}

type listStatusRequest struct {
	ItemID   int    `json:"item_id" validate:"required,gt=0"`
	ItemType string `json:"item_type" validate:"required,oneof=anime manga"`
	Status   string `json:"status" validate:"required"`
	Score    int    `json:"score" validate:"gte=0,lte=10"`
}

// UpdateListStatus writes a status/score change through to MAL, e.g.
// adding a recommended show as plan_to_watch straight from a card.
func (h *Handlers) UpdateListStatus(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	var req listStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, err := h.malToken(r.Context(), session.UserID)
	if err != nil {
		respondMALError(w, err)
		return
	}

	if models.ItemType(req.ItemType) == models.ItemTypeAnime {
		err = h.mal.UpdateAnimeListStatus(r.Context(), token, req.ItemID, req.Status, req.Score)
	} else {
		err = h.mal.UpdateMangaListStatus(r.Context(), token, req.ItemID, req.Status, req.Score)
	}
	if err != nil {
		respondMALError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "updated"})
}
