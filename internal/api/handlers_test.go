// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/yukarin/osusume/internal/auth"
	"github.com/yukarin/osusume/internal/config"
	"github.com/yukarin/osusume/internal/cooldown"
	"github.com/yukarin/osusume/internal/database"
	"github.com/yukarin/osusume/internal/mal"
	"github.com/yukarin/osusume/internal/models"
	"github.com/yukarin/osusume/internal/recommend"
)

type fakeMAL struct {
	tokens        *mal.Tokens
	profile       *mal.UserProfile
	animeList     []models.ListEntry
	mangaList     []models.ListEntry
	searchResults []models.CatalogItem
	updateErr     error

	statusUpdates int
	lastQuery     string
	refreshCalls  int
}

func (f *fakeMAL) GetMe(context.Context, string) (*mal.UserProfile, error) {
	return f.profile, nil
}

func (f *fakeMAL) GetSeasonalAnime(context.Context, string, int, string, int) ([]models.CatalogItem, error) {
	return nil, nil
}

func (f *fakeMAL) GetAnimeRanking(context.Context, string, string, int) ([]models.CatalogItem, error) {
	return nil, nil
}

func (f *fakeMAL) SearchAnime(_ context.Context, _ string, query string, _ int) ([]models.CatalogItem, error) {
	f.lastQuery = query
	return f.searchResults, nil
}

func (f *fakeMAL) GetAnimeDetails(context.Context, string, int) (*models.CatalogItem, error) {
	return nil, mal.ErrNotFound
}

func (f *fakeMAL) GetUserAnimeList(context.Context, string, int) ([]models.ListEntry, error) {
	return f.animeList, nil
}

func (f *fakeMAL) UpdateAnimeListStatus(context.Context, string, int, string, int) error {
	f.statusUpdates++
	return f.updateErr
}

func (f *fakeMAL) GetMangaRanking(context.Context, string, string, int) ([]models.CatalogItem, error) {
	return nil, nil
}

func (f *fakeMAL) SearchManga(_ context.Context, _ string, query string, _ int) ([]models.CatalogItem, error) {
	f.lastQuery = query
	return f.searchResults, nil
}

func (f *fakeMAL) GetMangaDetails(context.Context, string, int) (*models.CatalogItem, error) {
	return nil, mal.ErrNotFound
}

func (f *fakeMAL) GetUserMangaList(context.Context, string, int) ([]models.ListEntry, error) {
	return f.mangaList, nil
}

func (f *fakeMAL) UpdateMangaListStatus(context.Context, string, int, string, int) error {
	f.statusUpdates++
	return f.updateErr
}

func (f *fakeMAL) AuthorizeURL(state, codeVerifier string) string {
	return "https://mal.test/authorize?state=" + state + "&code_challenge=" + codeVerifier
}

func (f *fakeMAL) ExchangeCode(context.Context, string, string) (*mal.Tokens, error) {
	return f.tokens, nil
}

func (f *fakeMAL) RefreshToken(context.Context, string) (*mal.Tokens, error) {
	f.refreshCalls++
	return f.tokens, nil
}

type fakeEngine struct {
	batch *models.RecommendationBatch
	err   error

	lastReq *recommend.Request
}

func (f *fakeEngine) Generate(_ context.Context, req *recommend.Request) (*models.RecommendationBatch, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

type testEnv struct {
	handler  http.Handler
	db       *database.DB
	sessions *auth.SessionStore
	jwt      *auth.JWTManager
	mal      *fakeMAL
	engine   *fakeEngine
	cooldown *cooldown.Store
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB", Threads: 2})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing database: %v", err)
		}
	})

	bdb, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("opening badger: %v", err)
	}
	t.Cleanup(func() {
		if err := bdb.Close(); err != nil {
			t.Errorf("closing badger: %v", err)
		}
	})

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:  "0123456789abcdef0123456789abcdef",
			SessionTTL: time.Hour,
		},
		Recommend: config.RecommendConfig{ShareTTL: 7 * 24 * time.Hour},
		API:       config.APIConfig{RateLimit: 1000},
	}

	sessions := auth.NewSessionStore(bdb, cfg.Auth.SessionTTL)
	jwtManager, err := auth.NewJWTManager(&cfg.Auth)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	client := &fakeMAL{
		tokens: &mal.Tokens{
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
		profile: &mal.UserProfile{ID: 42, Username: "yukari"},
	}
	engine := &fakeEngine{}

	local := cooldown.NewStore(bdb)
	h := NewHandlers(cfg, db, client, engine, sessions, jwtManager, local)
	return &testEnv{
		handler:  NewRouter(h),
		db:       db,
		sessions: sessions,
		jwt:      jwtManager,
		mal:      client,
		engine:   engine,
		cooldown: local,
	}
}

// login seeds a user row and returns a valid bearer token for it.
func (env *testEnv) login(t *testing.T, userID int) string {
	t.Helper()
	err := env.db.UpsertUser(context.Background(), &models.User{
		MALID:          userID,
		Username:       "yukari",
		AccessToken:    "access",
		RefreshToken:   "refresh",
		TokenExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	session, err := env.sessions.Create(userID, "yukari")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	token, err := env.jwt.Issue(session)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	return token
}

func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) *models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return &resp
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthURL(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/auth/url", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var out authURLResponse
	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out.CodeVerifier) < 43 || len(out.CodeVerifier) > 128 {
		t.Errorf("verifier length = %d, want 43..128", len(out.CodeVerifier))
	}
	if out.State == "" || out.URL == "" {
		t.Errorf("response = %+v", out)
	}
}

func TestAuthCallback(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/auth/callback", "", map[string]string{
		"code":          "authcode",
		"code_verifier": "verifier",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["token"] == "" {
		t.Error("no session token in response")
	}
	if data["username"] != "yukari" {
		t.Errorf("username = %v", data["username"])
	}

	user, err := env.db.GetUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if user.AccessToken != "access" {
		t.Errorf("access token = %q", user.AccessToken)
	}
}

func TestAuthCallbackMissingFields(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/auth/callback", "", map[string]string{"code": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	env := setupTestEnv(t)
	for _, path := range []string{"/api/v1/me", "/api/v1/recommendations/anime", "/api/v1/preferences", "/api/v1/search?q=mushishi"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestRecommendations(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)
	env.engine.batch = &models.RecommendationBatch{
		UserID:   42,
		ItemType: models.ItemTypeAnime,
		Mode:     models.ModeNew,
		Items:    []models.Recommendation{{ID: 1, Title: "T", Score: 0.9}},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/recommendations/anime?mode=new", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.engine.lastReq.UserID != 42 || env.engine.lastReq.Mode != models.ModeNew {
		t.Errorf("engine request = %+v", env.engine.lastReq)
	}
	if env.engine.lastReq.Token == "" {
		t.Error("no MAL token passed for new mode")
	}
}

func TestRecommendationsRewatchSkipsToken(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)
	env.engine.batch = &models.RecommendationBatch{Mode: models.ModeRewatch}

	rec := env.do(t, http.MethodGet, "/api/v1/recommendations/anime?mode=rewatch&genres=1,8", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.engine.lastReq.Token != "" {
		t.Error("rewatch mode should not resolve a MAL token")
	}
	if len(env.engine.lastReq.GenreFilter) != 2 {
		t.Errorf("genre filter = %v", env.engine.lastReq.GenreFilter)
	}
}

func TestRecommendationsErrorMapping(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)

	tests := []struct {
		err      error
		wantCode string
	}{
		{recommend.ErrNoRatings, "NO_RATINGS"},
		{recommend.ErrNoEligibleItems, "NO_ELIGIBLE_ITEMS"},
	}
	for _, tt := range tests {
		env.engine.err = tt.err
		rec := env.do(t, http.MethodGet, "/api/v1/recommendations/anime?mode=rewatch", token, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		resp := decodeResponse(t, rec)
		if resp.Error == nil || resp.Error.Code != tt.wantCode {
			t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
		}
	}
}

func TestRecommendationsInvalidType(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)
	rec := env.do(t, http.MethodGet, "/api/v1/recommendations/movies", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSyncList(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)
	env.mal.animeList = []models.ListEntry{
		{UserID: 42, ItemID: 1, ItemType: models.ItemTypeAnime, Title: "A", Status: "completed", Score: 9},
	}
	env.mal.mangaList = []models.ListEntry{
		{UserID: 42, ItemID: 7, ItemType: models.ItemTypeManga, Title: "M", Status: "reading", Score: 8},
		{UserID: 42, ItemID: 8, ItemType: models.ItemTypeManga, Title: "N", Status: "completed"},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/list/sync", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	entries, err := env.db.GetListCache(context.Background(), 42, models.ItemTypeManga)
	if err != nil {
		t.Fatalf("GetListCache: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("manga entries = %d, want 2", len(entries))
	}
}

func TestFeedbackToggle(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)
	body := map[string]interface{}{"item_id": 5, "item_type": "anime", "kind": "like"}

	rec := env.do(t, http.MethodPost, "/api/v1/feedback", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Data.(map[string]interface{})["kind"] != "like" {
		t.Errorf("kind = %v", resp.Data)
	}

	// Same signal again clears it.
	rec = env.do(t, http.MethodPost, "/api/v1/feedback", token, body)
	resp = decodeResponse(t, rec)
	if resp.Data.(map[string]interface{})["kind"] != "" {
		t.Errorf("toggle off kind = %v", resp.Data)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)

	rec := env.do(t, http.MethodPut, "/api/v1/preferences", token, map[string]interface{}{
		"favorite_genres": []int{1, 4},
		"excluded_genres": []int{14},
		"min_score":       8.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/preferences", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	var prefs models.UserPreferences
	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(raw, &prefs); err != nil {
		t.Fatalf("decoding preferences: %v", err)
	}
	if prefs.MinScore != 8.0 || len(prefs.FavoriteGenres) != 2 {
		t.Errorf("preferences = %+v", prefs)
	}
}

func TestSavePreferencesInvalidatesServerCache(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)

	batch := &models.RecommendationBatch{
		UserID:      42,
		ItemType:    models.ItemTypeAnime,
		Mode:        models.ModeNew,
		Items:       []models.Recommendation{{ID: 1, Title: "T"}},
		GeneratedAt: time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := env.db.SaveRecommendationCache(context.Background(), batch); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	rec := env.do(t, http.MethodPut, "/api/v1/preferences", token, map[string]interface{}{
		"favorite_genres": []int{1},
		"min_score":       7.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}

	_, err := env.db.GetRecommendationCache(context.Background(), 42, models.ItemTypeAnime, models.ModeNew)
	if !errors.Is(err, database.ErrCacheMiss) {
		t.Errorf("cached batch survived a preferences change: %v", err)
	}
}

func TestUpdateListStatus(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)

	rec := env.do(t, http.MethodPost, "/api/v1/list/status", token, map[string]interface{}{
		"item_id":   30230,
		"item_type": "anime",
		"status":    "plan_to_watch",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.mal.statusUpdates != 1 {
		t.Errorf("status updates = %d, want 1", env.mal.statusUpdates)
	}
}

func TestSearch(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)
	env.mal.searchResults = []models.CatalogItem{{ID: 457, Title: "Mushishi"}}

	rec := env.do(t, http.MethodGet, "/api/v1/search?q=mushishi&type=anime", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.mal.lastQuery != "mushishi" {
		t.Errorf("query = %q, want mushishi", env.mal.lastQuery)
	}
}

func TestSearchShortQuery(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)

	rec := env.do(t, http.MethodGet, "/api/v1/search?q=ab", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAuthRefresh(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)
	env.mal.tokens.AccessToken = "rotated"

	rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.mal.refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", env.mal.refreshCalls)
	}

	user, err := env.db.GetUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.AccessToken != "rotated" {
		t.Errorf("access token = %q, want rotated", user.AccessToken)
	}
}

func TestShareFlow(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)

	batch := &models.RecommendationBatch{
		UserID:      42,
		ItemType:    models.ItemTypeAnime,
		Mode:        models.ModeNew,
		Items:       []models.Recommendation{{ID: 1, Title: "T"}},
		GeneratedAt: time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := env.db.SaveRecommendationCache(context.Background(), batch); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/share", token, map[string]string{
		"item_type": "anime",
		"mode":      "new",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	code := resp.Data.(map[string]interface{})["code"].(string)

	// Share codes resolve without a session.
	rec = env.do(t, http.MethodGet, "/api/v1/share/"+code, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestShareRewatchBatchFromLocalLayer(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)

	// Rewatch batches are persisted to the local layer only.
	batch := &models.RecommendationBatch{
		UserID:      42,
		ItemType:    models.ItemTypeAnime,
		Mode:        models.ModeRewatch,
		Items:       []models.Recommendation{{ID: 7, Title: "R"}},
		GeneratedAt: time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := env.cooldown.Save(batch); err != nil {
		t.Fatalf("seeding local cache: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/share", token, map[string]string{
		"item_type": "anime",
		"mode":      "rewatch",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	code := resp.Data.(map[string]interface{})["code"].(string)

	rec = env.do(t, http.MethodGet, "/api/v1/share/"+code, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestShareWithoutBatch(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)
	rec := env.do(t, http.MethodPost, "/api/v1/share", token, map[string]string{
		"item_type": "anime",
		"mode":      "new",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetShareMalformedCode(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/share/bad_code!", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := setupTestEnv(t)
	token := env.login(t, 42)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", rec.Code)
	}
}
