// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yukarin/osusume/internal/config"
	"github.com/yukarin/osusume/internal/cooldown"
	"github.com/yukarin/osusume/internal/database"
	"github.com/yukarin/osusume/internal/logging"
	"github.com/yukarin/osusume/internal/metrics"
	"github.com/yukarin/osusume/internal/models"
)

var seasons = [4]string{"winter", "spring", "summer", "fall"}

// collaborativeLimit caps the collaborative score list fed to the
// ranker; anything past it cannot reach a five-item batch anyway.
const collaborativeLimit = 10

// rewatchStatuses are the list statuses whose ratings count as watched.
var rewatchStatuses = map[string]struct{}{
	"completed": {},
	"watching":  {},
	"reading":   {},
}

// Engine generates recommendation batches. Safe for concurrent use.
type Engine struct {
	catalog Catalog
	store   Store
	local   LocalCache
	cfg     *config.RecommendConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	// genMu holds one mutex per (user, type, mode) key so concurrent
	// requests for the same key never both race past the cooldown.
	genMu sync.Map
}

// New constructs an engine. A zero cfg.Seed means time-seeded; tests
// set it for reproducible shuffles.
func New(catalog Catalog, store Store, local LocalCache, cfg *config.RecommendConfig) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		catalog: catalog,
		store:   store,
		local:   local,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Generate returns the cached batch for the request's key when its
// cooldown is still running, otherwise generates, persists and returns
// a fresh one.
func (e *Engine) Generate(ctx context.Context, req *Request) (*models.RecommendationBatch, error) {
	key := fmt.Sprintf("%d:%s:%s", req.UserID, req.ItemType, req.Mode)
	muAny, _ := e.genMu.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	batch, err := e.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.GenerationDuration.WithLabelValues(string(req.ItemType), string(req.Mode)).Observe(time.Since(start).Seconds())
	metrics.GenerationTotal.WithLabelValues(string(req.ItemType), string(req.Mode)).Inc()
	return batch, nil
}

func (e *Engine) generate(ctx context.Context, req *Request) (*models.RecommendationBatch, error) {
	if req.Mode == models.ModeRewatch {
		return e.generateRewatch(ctx, req)
	}
	return e.generateNew(ctx, req)
}

// generateNew runs the full hybrid path: server cache, local cooldown,
// candidate pools, content pipeline, collaborative blend, persist.
func (e *Engine) generateNew(ctx context.Context, req *Request) (*models.RecommendationBatch, error) {
	// The server-side cache is authoritative across devices; a read
	// failure degrades to a miss rather than failing generation.
	if cached, err := e.store.GetRecommendationCache(ctx, req.UserID, req.ItemType, req.Mode); err == nil {
		metrics.CacheHits.WithLabelValues("server").Inc()
		return cached, nil
	} else if !errors.Is(err, database.ErrCacheMiss) {
		logging.Warn().Err(err).Int("user_id", req.UserID).Msg("Server cache read failed, treating as miss")
	}
	metrics.CacheMisses.WithLabelValues("server").Inc()

	if cached, err := e.local.Get(req.UserID, req.ItemType, req.Mode); err == nil {
		metrics.CacheHits.WithLabelValues("local").Inc()
		return cached, nil
	}
	metrics.CacheMisses.WithLabelValues("local").Inc()

	// The owned-item exclusion set is essential: without it the batch
	// would recommend things the user already has.
	list, err := e.store.GetListCache(ctx, req.UserID, req.ItemType)
	if err != nil {
		return nil, fmt.Errorf("loading list cache: %w", err)
	}
	exclude := make(map[int]struct{}, len(list))
	for _, entry := range list {
		exclude[entry.ItemID] = struct{}{}
	}

	prefs, err := e.store.GetPreferences(ctx, req.UserID)
	if err != nil {
		logging.Warn().Err(err).Int("user_id", req.UserID).Msg("Preferences lookup failed, applying defaults")
		prefs = models.DefaultPreferences(req.UserID)
	}

	candidates, err := e.fetchCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	filter := &contentFilter{
		ItemType:             req.ItemType,
		MinScore:             prefs.MinScore,
		ExcludeChineseOrigin: e.cfg.ExcludeChineseOrigin,
		Exclude:              exclude,
		FavoriteGenres:       idSet(prefs.FavoriteGenres),
		ExcludedGenres:       idSet(prefs.ExcludedGenres),
		GenreFilter:          idSet(req.GenreFilter),
	}
	e.rngMu.Lock()
	content := filter.Apply(candidates, e.rng)
	e.rngMu.Unlock()

	disliked := e.dislikedSet(ctx, req.UserID, req.ItemType)
	collaborative := e.collaborativeRecommendations(ctx, req.UserID, req.ItemType, exclude, disliked, collaborativeLimit)

	ranked, collabOnly := hybridRank(content, collaborative, e.cfg.ContentWeight)
	ranked = append(ranked, e.resolveCollabOnly(ctx, req, collabOnly)...)
	sortRanked(ranked)

	if len(ranked) > e.cfg.BatchSize {
		ranked = ranked[:e.cfg.BatchSize]
	}
	items := make([]models.Recommendation, 0, len(ranked))
	for _, s := range ranked {
		items = append(items, toRecommendation(&s.Item, s.Score))
	}

	now := time.Now()
	batch := &models.RecommendationBatch{
		UserID:      req.UserID,
		ItemType:    req.ItemType,
		Mode:        req.Mode,
		Items:       items,
		GeneratedAt: now,
		ExpiresAt:   now.Add(e.cfg.CooldownWindow),
	}
	e.persist(ctx, batch, true)
	return batch, nil
}

// generateRewatch draws from the user's own highly rated entries. Only
// the local cooldown layer applies; rewatch batches are cheap to rebuild
// and carry no cross-device expectation.
func (e *Engine) generateRewatch(ctx context.Context, req *Request) (*models.RecommendationBatch, error) {
	if cached, err := e.local.Get(req.UserID, req.ItemType, req.Mode); err == nil {
		metrics.CacheHits.WithLabelValues("local").Inc()
		return cached, nil
	}
	metrics.CacheMisses.WithLabelValues("local").Inc()

	list, err := e.store.GetListCache(ctx, req.UserID, req.ItemType)
	if err != nil {
		return nil, fmt.Errorf("loading list cache: %w", err)
	}

	rated := make([]models.ListEntry, 0, len(list))
	for _, entry := range list {
		if entry.Score <= 0 {
			continue
		}
		if _, ok := rewatchStatuses[entry.Status]; !ok {
			continue
		}
		rated = append(rated, entry)
	}
	if len(rated) == 0 {
		return nil, ErrNoRatings
	}

	eligible := make([]models.ListEntry, 0, len(rated))
	for _, entry := range rated {
		if entry.Score >= e.cfg.RewatchMinScore {
			eligible = append(eligible, entry)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleItems
	}

	if len(req.GenreFilter) > 0 {
		wanted := idSet(req.GenreFilter)
		filtered := eligible[:0]
		for _, entry := range eligible {
			for _, g := range entry.Genres {
				if _, ok := wanted[g.ID]; ok {
					filtered = append(filtered, entry)
					break
				}
			}
		}
		eligible = filtered
		if len(eligible) == 0 {
			return nil, ErrNoEligibleItems
		}
	}

	e.rngMu.Lock()
	e.rng.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	e.rngMu.Unlock()
	if len(eligible) > e.cfg.BatchSize {
		eligible = eligible[:e.cfg.BatchSize]
	}

	items := make([]models.Recommendation, 0, len(eligible))
	for _, entry := range eligible {
		items = append(items, rewatchRecommendation(&entry))
	}

	now := time.Now()
	batch := &models.RecommendationBatch{
		UserID:      req.UserID,
		ItemType:    req.ItemType,
		Mode:        req.Mode,
		Items:       items,
		GeneratedAt: now,
		ExpiresAt:   now.Add(e.cfg.CooldownWindow),
	}
	e.persist(ctx, batch, false)
	return batch, nil
}

// fetchCandidates builds the raw candidate pool. Anime pools are drawn
// from random seasons so repeat generations vary; each fetch failure
// degrades to an empty pool. The single manga ranking pool is essential.
func (e *Engine) fetchCandidates(ctx context.Context, req *Request) ([]models.CatalogItem, error) {
	if req.ItemType == models.ItemTypeManga {
		items, err := e.catalog.GetMangaRanking(ctx, req.Token, "all", e.cfg.RankingLimit)
		if err != nil {
			return nil, fmt.Errorf("fetching manga ranking: %w", err)
		}
		return items, nil
	}

	type pool struct {
		year   int
		season string
	}
	pools := make([]pool, e.cfg.SeasonalFetches)
	currentYear := time.Now().Year()
	e.rngMu.Lock()
	for i := range pools {
		pools[i] = pool{
			year:   e.cfg.SeasonFloorYear + e.rng.Intn(currentYear-e.cfg.SeasonFloorYear+1),
			season: seasons[e.rng.Intn(len(seasons))],
		}
	}
	e.rngMu.Unlock()

	results := make([][]models.CatalogItem, len(pools))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pools {
		g.Go(func() error {
			items, err := e.catalog.GetSeasonalAnime(gctx, req.Token, p.year, p.season, e.cfg.SeasonalLimit)
			if err != nil {
				logging.Warn().Err(err).
					Int("year", p.year).
					Str("season", p.season).
					Msg("Seasonal fetch failed, continuing with remaining pools")
				return nil
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var candidates []models.CatalogItem
	for _, items := range results {
		candidates = append(candidates, items...)
	}
	return candidates, nil
}

// resolveCollabOnly fetches details for collaborative items absent from
// the content pool, capped to keep the API cost bounded. The normalized
// collaborative score stands alone for these, weighted the same as in
// the blend.
func (e *Engine) resolveCollabOnly(ctx context.Context, req *Request, collabOnly []CollaborativeScore) []scoredItem {
	if len(collabOnly) == 0 {
		return nil
	}
	maxScore := collabOnly[0].Score
	for _, cs := range collabOnly {
		if cs.Score > maxScore {
			maxScore = cs.Score
		}
	}
	if maxScore <= 0 {
		maxScore = 1
	}

	limit := e.cfg.MaxDetailLookups
	if len(collabOnly) < limit {
		limit = len(collabOnly)
	}
	wanted := idSet(req.GenreFilter)
	collabWeight := 1 - e.cfg.ContentWeight
	out := make([]scoredItem, 0, limit)
	for _, cs := range collabOnly[:limit] {
		var item *models.CatalogItem
		var err error
		if req.ItemType == models.ItemTypeAnime {
			item, err = e.catalog.GetAnimeDetails(ctx, req.Token, cs.ItemID)
		} else {
			item, err = e.catalog.GetMangaDetails(ctx, req.Token, cs.ItemID)
		}
		if err != nil {
			logging.Warn().Err(err).Int("item_id", cs.ItemID).Msg("Detail lookup failed, skipping collaborative item")
			continue
		}
		if !itemHasGenre(item, wanted) {
			continue
		}
		out = append(out, scoredItem{Item: *item, Score: cs.Score / maxScore * collabWeight})
	}
	return out
}

// itemHasGenre reports whether the item carries any of the wanted
// genres; an empty set matches everything.
func itemHasGenre(item *models.CatalogItem, wanted map[int]struct{}) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, g := range item.Genres {
		if _, ok := wanted[g.ID]; ok {
			return true
		}
	}
	return false
}

// persist writes the batch to its cache layers. Write failures never
// fail generation: the user still gets the batch, only the cooldown
// weakens.
func (e *Engine) persist(ctx context.Context, batch *models.RecommendationBatch, server bool) {
	if server {
		if err := e.store.SaveRecommendationCache(ctx, batch); err != nil {
			logging.Warn().Err(err).Int("user_id", batch.UserID).Msg("Server cache write failed")
			metrics.CacheWriteErrors.WithLabelValues("server").Inc()
		}
	}
	if err := e.local.Save(batch); err != nil {
		logging.Warn().Err(err).Int("user_id", batch.UserID).Msg("Local cache write failed")
		metrics.CacheWriteErrors.WithLabelValues("local").Inc()
	}
}

func (e *Engine) dislikedSet(ctx context.Context, userID int, itemType models.ItemType) map[int]struct{} {
	ids, err := e.store.GetFeedback(ctx, userID, itemType, models.FeedbackDislike)
	if err != nil {
		logging.Warn().Err(err).Int("user_id", userID).Msg("Dislike lookup failed, continuing without")
		return nil
	}
	return idSet(ids)
}

func idSet(ids []int) map[int]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func toRecommendation(item *models.CatalogItem, score float64) models.Recommendation {
	return models.Recommendation{
		ID:          item.ID,
		Title:       item.Title,
		ImageURL:    item.ImageURL,
		Score:       score,
		Genres:      item.Genres,
		Status:      item.Status,
		MediaType:   item.MediaType,
		NumEpisodes: item.NumEpisodes,
		NumChapters: item.NumChapters,
		NumVolumes:  item.NumVolumes,
	}
}

func rewatchRecommendation(entry *models.ListEntry) models.Recommendation {
	return models.Recommendation{
		ID:          entry.ItemID,
		Title:       entry.Title,
		ImageURL:    entry.ImageURL,
		Score:       float64(entry.Score),
		Genres:      entry.Genres,
		Status:      entry.Status,
		MediaType:   entry.MediaType,
		NumEpisodes: entry.NumEpisodes,
		NumChapters: entry.NumChapters,
		NumVolumes:  entry.NumVolumes,
		IsRewatch:   true,
		UserScore:   entry.Score,
	}
}

var _ LocalCache = (*cooldown.Store)(nil)
var _ Store = (*database.DB)(nil)
