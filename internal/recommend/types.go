// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

// Package recommend implements hybrid recommendation generation: a
// content-based candidate pipeline over MAL catalog pools, a jaccard
// collaborative signal over other users' feedback, and a ranker that
// blends the two, all behind a cooldown so each user gets at most one
// fresh batch per window.
package recommend

import (
	"context"
	"errors"

	"github.com/yukarin/osusume/internal/models"
)

// Typed no-signal conditions for rewatch mode. The API maps them to
// distinct guidance messages, so they must stay distinguishable.
var (
	// ErrNoRatings indicates the user has no rated items at all.
	ErrNoRatings = errors.New("recommend: no rated items")

	// ErrNoEligibleItems indicates rated items exist but none meet the
	// rewatch score bar.
	ErrNoEligibleItems = errors.New("recommend: no items rated high enough")
)

// Catalog is the subset of MAL operations the engine consumes.
type Catalog interface {
	GetSeasonalAnime(ctx context.Context, token string, year int, season string, limit int) ([]models.CatalogItem, error)
	GetAnimeDetails(ctx context.Context, token string, animeID int) (*models.CatalogItem, error)
	GetMangaRanking(ctx context.Context, token string, rankingType string, limit int) ([]models.CatalogItem, error)
	GetMangaDetails(ctx context.Context, token string, mangaID int) (*models.CatalogItem, error)
}

// Store aggregates the persistence reads and the authoritative
// server-side batch cache. Implemented by *database.DB.
type Store interface {
	GetListCache(ctx context.Context, userID int, itemType models.ItemType) ([]models.ListEntry, error)
	GetFeedback(ctx context.Context, userID int, itemType models.ItemType, kind models.FeedbackKind) ([]int, error)
	GetLikesByUser(ctx context.Context, itemType models.ItemType, excludeUserID int) (map[int][]int, error)
	GetPreferences(ctx context.Context, userID int) (*models.UserPreferences, error)
	GetRecommendationCache(ctx context.Context, userID int, itemType models.ItemType, mode models.Mode) (*models.RecommendationBatch, error)
	SaveRecommendationCache(ctx context.Context, batch *models.RecommendationBatch) error
}

// LocalCache is the device-local cooldown mirror. Implemented by
// *cooldown.Store.
type LocalCache interface {
	Get(userID int, itemType models.ItemType, mode models.Mode) (*models.RecommendationBatch, error)
	Save(batch *models.RecommendationBatch) error
}

// Request is one generation request.
type Request struct {
	UserID   int
	Token    string
	ItemType models.ItemType
	Mode     models.Mode

	// GenreFilter optionally restricts rewatch batches to items
	// carrying one of these genre ids.
	GenreFilter []int
}

// SimilarityEntry is a candidate neighbor user with its jaccard score.
// Derived per request, never persisted.
type SimilarityEntry struct {
	UserID      int
	Similarity  float64
	SharedLikes int
}

// CollaborativeScore is one item's accumulated neighbor signal.
type CollaborativeScore struct {
	ItemID int
	Score  float64
	Count  int
}
