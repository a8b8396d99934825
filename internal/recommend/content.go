// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package recommend

import (
	"math/rand"
	"strings"

	"github.com/yukarin/osusume/internal/models"
)

// allowedAnimeTypes gates new-mode anime candidates to full productions;
// specials, ONAs and music videos rarely make sensible recommendations.
var allowedAnimeTypes = map[string]struct{}{
	"tv":    {},
	"movie": {},
}

// allowedMangaTypes additionally admits the unset type, which MAL
// returns for a fair share of manga ranking entries.
var allowedMangaTypes = map[string]struct{}{
	"manga":       {},
	"light_novel": {},
	"novel":       {},
	"one_shot":    {},
	"manhwa":      {},
	"doujinshi":   {},
}

// contentFilter configures one run of the content pipeline.
type contentFilter struct {
	ItemType models.ItemType

	// MinScore is the community mean gate; items without a mean are
	// treated as scoring 0 and always dropped.
	MinScore float64

	// ExcludeChineseOrigin enables the regional-origin heuristic.
	ExcludeChineseOrigin bool

	// Exclude is the ownership set: item ids already on the user's list.
	Exclude map[int]struct{}

	// FavoriteGenres soft-boosts matching items to the front.
	FavoriteGenres map[int]struct{}

	// ExcludedGenres hard-drops matching items.
	ExcludedGenres map[int]struct{}

	// GenreFilter is the per-request hard filter: when non-empty, only
	// items carrying at least one requested genre survive.
	GenreFilter map[int]struct{}
}

// Apply runs the pipeline stages in order over the candidate pool and
// returns the survivors, favorites first, each partition independently
// shuffled, without duplicates. Pure aside from rng consumption.
func (f *contentFilter) Apply(candidates []models.CatalogItem, rng *rand.Rand) []models.CatalogItem {
	survivors := make([]models.CatalogItem, 0, len(candidates))
	for _, item := range candidates {
		if item.Mean < f.MinScore {
			continue
		}
		if !f.mediaTypeAllowed(item.MediaType) {
			continue
		}
		if f.ItemType == models.ItemTypeAnime && f.ExcludeChineseOrigin && isChineseOrigin(&item) {
			continue
		}
		if _, owned := f.Exclude[item.ID]; owned {
			continue
		}
		if f.hasExcludedGenre(&item) {
			continue
		}
		if !f.matchesGenreFilter(&item) {
			continue
		}
		survivors = append(survivors, item)
	}

	favorites := make([]models.CatalogItem, 0, len(survivors))
	rest := make([]models.CatalogItem, 0, len(survivors))
	for _, item := range survivors {
		if f.hasFavoriteGenre(&item) {
			favorites = append(favorites, item)
		} else {
			rest = append(rest, item)
		}
	}

	shuffleItems(favorites, rng)
	shuffleItems(rest, rng)

	return dedupeItems(append(favorites, rest...))
}

func (f *contentFilter) mediaTypeAllowed(mediaType string) bool {
	if f.ItemType == models.ItemTypeAnime {
		_, ok := allowedAnimeTypes[mediaType]
		return ok
	}
	if mediaType == "" {
		return true
	}
	_, ok := allowedMangaTypes[mediaType]
	return ok
}

func (f *contentFilter) hasExcludedGenre(item *models.CatalogItem) bool {
	if len(f.ExcludedGenres) == 0 {
		return false
	}
	for _, g := range item.Genres {
		if _, ok := f.ExcludedGenres[g.ID]; ok {
			return true
		}
	}
	return false
}

func (f *contentFilter) matchesGenreFilter(item *models.CatalogItem) bool {
	if len(f.GenreFilter) == 0 {
		return true
	}
	for _, g := range item.Genres {
		if _, ok := f.GenreFilter[g.ID]; ok {
			return true
		}
	}
	return false
}

func (f *contentFilter) hasFavoriteGenre(item *models.CatalogItem) bool {
	if len(f.FavoriteGenres) == 0 {
		return false
	}
	for _, g := range item.Genres {
		if _, ok := f.FavoriteGenres[g.ID]; ok {
			return true
		}
	}
	return false
}

// isChineseOrigin is a string-matching heuristic over genre names and
// the source field. Fragile by nature; kept behind the
// exclude_chinese_origin config switch so it can be disabled.
func isChineseOrigin(item *models.CatalogItem) bool {
	for _, g := range item.Genres {
		if strings.Contains(strings.ToLower(g.Name), "donghua") {
			return true
		}
	}
	source := strings.ToLower(item.Source)
	return strings.Contains(source, "chinese") || strings.Contains(source, "manhua")
}

// shuffleItems is an in-place Fisher-Yates shuffle.
func shuffleItems(items []models.CatalogItem, rng *rand.Rand) {
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// dedupeItems keeps the first occurrence of each item id. Candidates
// repeat across seasonal pools when a show spans seasons.
func dedupeItems(items []models.CatalogItem) []models.CatalogItem {
	seen := make(map[int]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}
