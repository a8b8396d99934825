// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

// Package models defines the shared domain types: catalog items as
// normalized from the MyAnimeList API, cached list entries, feedback
// records, preferences and recommendation batches.
package models

import "time"

// ItemType distinguishes the two MAL catalogs.
type ItemType string

const (
	// ItemTypeAnime selects the anime catalog.
	ItemTypeAnime ItemType = "anime"
	// ItemTypeManga selects the manga catalog.
	ItemTypeManga ItemType = "manga"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == ItemTypeAnime || t == ItemTypeManga
}

// Mode selects the recommendation strategy.
type Mode string

const (
	// ModeNew draws fresh candidates from the catalog, excluding owned items.
	ModeNew Mode = "new"
	// ModeRewatch draws exclusively from the user's own highly rated list.
	ModeRewatch Mode = "rewatch"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeNew || m == ModeRewatch
}

// FeedbackKind classifies a feedback signal on a recommendation card.
type FeedbackKind string

const (
	// FeedbackLike marks a positive signal.
	FeedbackLike FeedbackKind = "like"
	// FeedbackDislike marks a negative signal.
	FeedbackDislike FeedbackKind = "dislike"
)

// Valid reports whether k is a known feedback kind.
func (k FeedbackKind) Valid() bool {
	return k == FeedbackLike || k == FeedbackDislike
}

// Genre is a MAL genre tag.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CatalogItem is a normalized MAL media record. It is an immutable
// snapshot produced at the mal client boundary; optional fields are zero
// when the upstream response omitted them.
type CatalogItem struct {
	// ID is the MAL identifier within its catalog (anime and manga ids
	// are separate namespaces).
	ID int `json:"id"`

	Title    string `json:"title"`
	ImageURL string `json:"image_url,omitempty"`

	// Mean is the community mean score (0 when unrated upstream).
	Mean float64 `json:"mean,omitempty"`

	// Status is the airing/publishing status (currently_airing, finished, ...).
	Status string `json:"status,omitempty"`

	// MediaType is the MAL media type (tv, movie, manga, light_novel, ...).
	MediaType string `json:"media_type,omitempty"`

	// Source names the source material (manga, light_novel, ...); used by
	// the regional-origin policy.
	Source string `json:"source,omitempty"`

	Genres   []Genre  `json:"genres,omitempty"`
	Synopsis string   `json:"synopsis,omitempty"`
	Studios  []string `json:"studios,omitempty"`
	Authors  []string `json:"authors,omitempty"`

	NumEpisodes int `json:"num_episodes,omitempty"`
	NumChapters int `json:"num_chapters,omitempty"`
	NumVolumes  int `json:"num_volumes,omitempty"`

	Popularity int    `json:"popularity,omitempty"`
	Season     string `json:"season,omitempty"`
	Year       int    `json:"year,omitempty"`
}

// HasGenre reports whether the item carries the given genre id.
func (c *CatalogItem) HasGenre(id int) bool {
	for _, g := range c.Genres {
		if g.ID == id {
			return true
		}
	}
	return false
}

// ListEntry is a user's relationship to a catalog item, cached from the
// user's MAL list. Entries are bulk-replaced on every sync and read-only
// to the recommendation core.
type ListEntry struct {
	UserID   int      `json:"user_id"`
	ItemID   int      `json:"item_id"`
	ItemType ItemType `json:"item_type"`

	Title    string `json:"title"`
	ImageURL string `json:"image_url,omitempty"`

	// Score is the user's own rating, 0 when unrated.
	Score int `json:"score"`

	// Status is the list status (watching, completed, on_hold, dropped,
	// plan_to_watch / reading, plan_to_read).
	Status string `json:"status"`

	Genres    []Genre  `json:"genres,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
	Synopsis  string   `json:"synopsis,omitempty"`
	Studios   []string `json:"studios,omitempty"`
	Authors   []string `json:"authors,omitempty"`

	// Mean is the community mean score copied at cache time.
	Mean       float64 `json:"mean,omitempty"`
	Popularity int     `json:"popularity,omitempty"`

	NumEpisodes int `json:"num_episodes,omitempty"`
	NumChapters int `json:"num_chapters,omitempty"`
	NumVolumes  int `json:"num_volumes,omitempty"`

	CachedAt time.Time `json:"cached_at"`
}

// HasGenre reports whether the entry carries the given genre id.
func (e *ListEntry) HasGenre(id int) bool {
	for _, g := range e.Genres {
		if g.ID == id {
			return true
		}
	}
	return false
}

// FeedbackRecord is a user's like/dislike signal on one item. At most
// one record exists per (user, item, item type).
type FeedbackRecord struct {
	UserID    int          `json:"user_id"`
	ItemID    int          `json:"item_id"`
	ItemType  ItemType     `json:"item_type"`
	Kind      FeedbackKind `json:"kind"`
	CreatedAt time.Time    `json:"created_at"`
}

// Recommendation is one entry of a recommendation batch, flattened for
// presentation.
type Recommendation struct {
	ID       int     `json:"id"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url,omitempty"`
	Score    float64 `json:"score"`

	Genres    []Genre `json:"genres,omitempty"`
	Status    string  `json:"status,omitempty"`
	MediaType string  `json:"media_type,omitempty"`

	NumEpisodes int `json:"num_episodes,omitempty"`
	NumChapters int `json:"num_chapters,omitempty"`
	NumVolumes  int `json:"num_volumes,omitempty"`

	// IsRewatch marks entries drawn from the user's own list.
	IsRewatch bool `json:"is_rewatch,omitempty"`
	// UserScore is the user's own rating for rewatch entries.
	UserScore int `json:"user_score,omitempty"`
}

// RecommendationBatch is the unit the recommendation core produces and
// caches: at most five items tagged with its cache key and expiry.
type RecommendationBatch struct {
	UserID   int      `json:"user_id"`
	ItemType ItemType `json:"item_type"`
	Mode     Mode     `json:"mode"`

	Items []Recommendation `json:"items"`

	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the batch's cooldown window has passed.
func (b *RecommendationBatch) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// UserPreferences tunes recommendation generation per user.
type UserPreferences struct {
	UserID int `json:"user_id"`

	FavoriteGenres []int `json:"favorite_genres"`
	ExcludedGenres []int `json:"excluded_genres"`

	PreferredStudios    []string `json:"preferred_studios,omitempty"`
	PreferredAuthors    []string `json:"preferred_authors,omitempty"`
	PreferredMediaTypes []string `json:"preferred_media_types,omitempty"`

	// MinScore is the mean-score gate for new recommendations.
	MinScore float64 `json:"min_score"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DefaultMinScore is the mean-score gate applied when a user has no
// stored preferences.
const DefaultMinScore = 7.0

// DefaultPreferences returns the preferences applied to users who never
// saved any.
func DefaultPreferences(userID int) *UserPreferences {
	return &UserPreferences{
		UserID:   userID,
		MinScore: DefaultMinScore,
	}
}

// User is a MAL-connected account with its token triplet.
type User struct {
	MALID     int    `json:"mal_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`

	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	TokenExpiresAt time.Time `json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SharedRecommendation is a publicly viewable snapshot of a batch,
// addressed by a short share code.
type SharedRecommendation struct {
	Code     string   `json:"code"`
	ItemType ItemType `json:"item_type"`
	Mode     Mode     `json:"mode"`

	Items []Recommendation `json:"items"`

	CreatedBy int       `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response metadata.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS float64   `json:"query_time_ms,omitempty"`
}

// APIError is a machine-readable error payload.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
