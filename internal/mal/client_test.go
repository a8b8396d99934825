// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package mal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yukarin/osusume/internal/config"
	"github.com/yukarin/osusume/internal/models"
)

// testClient builds a client pointed at the test server with limits high
// enough that the limiter never blocks the test.
func testClient(serverURL string) *Client {
	c := NewClient(&config.MALConfig{
		ClientID:          "test-client",
		ClientSecret:      "test-secret",
		BaseURL:           serverURL,
		TokenURL:          serverURL + "/v1/oauth2/token",
		AuthorizeURL:      serverURL + "/v1/oauth2/authorize",
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             1000,
	})
	c.retryBaseDelay = time.Millisecond
	return c
}

func TestGetSeasonalAnime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/anime/season/2023/fall" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("expected limit=50, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"node": {
					"id": 52991,
					"title": "Sousou no Frieren",
					"main_picture": {"medium": "https://cdn.example/frieren.jpg"},
					"genres": [{"id": 2, "name": "Adventure"}, {"id": 10, "name": "Fantasy"}],
					"mean": 9.3,
					"status": "finished_airing",
					"media_type": "TV",
					"source": "Manga",
					"num_episodes": 28,
					"studios": [{"id": 11, "name": "Madhouse"}],
					"start_season": {"year": 2023, "season": "fall"},
					"popularity": 50
				}},
				{"node": {"id": 1, "title": "Bare Minimum"}}
			]
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	items, err := client.GetSeasonalAnime(context.Background(), "token-1", 2023, "fall", 50)
	if err != nil {
		t.Fatalf("GetSeasonalAnime failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	got := items[0]
	if got.ID != 52991 || got.Title != "Sousou no Frieren" {
		t.Errorf("unexpected item: %+v", got)
	}
	if got.MediaType != "tv" {
		t.Errorf("expected media_type lowered to tv, got %q", got.MediaType)
	}
	if got.Source != "manga" {
		t.Errorf("expected source lowered to manga, got %q", got.Source)
	}
	if got.ImageURL != "https://cdn.example/frieren.jpg" {
		t.Errorf("unexpected image url: %q", got.ImageURL)
	}
	if len(got.Genres) != 2 || got.Genres[1].Name != "Fantasy" {
		t.Errorf("unexpected genres: %+v", got.Genres)
	}
	if got.Season != "fall" || got.Year != 2023 {
		t.Errorf("unexpected season: %s %d", got.Season, got.Year)
	}
	if len(got.Studios) != 1 || got.Studios[0] != "Madhouse" {
		t.Errorf("unexpected studios: %+v", got.Studios)
	}

	// Sparse nodes normalize to zero values, not errors.
	if items[1].ImageURL != "" || items[1].Genres != nil {
		t.Errorf("expected sparse node to normalize empty: %+v", items[1])
	}
}

func TestGetUserAnimeListPagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("offset") == "" {
			_, _ = w.Write([]byte(`{
				"data": [{"node": {"id": 1, "title": "First"}, "list_status": {"status": "completed", "score": 9}}],
				"paging": {"next": "` + server.URL + `/users/@me/animelist?offset=100"}
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"data": [{"node": {"id": 2, "title": "Second"}, "list_status": {"status": "watching", "score": 0}}]
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	entries, err := client.GetUserAnimeList(context.Background(), "token-1", 42)
	if err != nil {
		t.Fatalf("GetUserAnimeList failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries across pages, got %d", len(entries))
	}
	if entries[0].UserID != 42 || entries[0].ItemType != models.ItemTypeAnime {
		t.Errorf("unexpected entry attribution: %+v", entries[0])
	}
	if entries[0].Score != 9 || entries[0].Status != "completed" {
		t.Errorf("unexpected list status mapping: %+v", entries[0])
	}
	if entries[1].ItemID != 2 || entries[1].Status != "watching" {
		t.Errorf("unexpected second page entry: %+v", entries[1])
	}
}

func TestRateLimitBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"node": {"id": 5, "title": "Eventually"}}]}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	items, err := client.GetAnimeRanking(context.Background(), "token-1", "all", 10)
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if len(items) != 1 || items[0].ID != 5 {
		t.Errorf("unexpected items: %+v", items)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.GetAnimeRanking(context.Background(), "token-1", "all", 10)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestUnauthorizedSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.GetAnimeDetails(context.Background(), "stale-token", 100)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSearchAnime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/anime" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "mushishi" {
			t.Errorf("expected q=mushishi, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Errorf("expected limit=20, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"node": {"id": 457, "title": "Mushishi", "media_type": "tv", "mean": 8.64}}
			]
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	items, err := client.SearchAnime(context.Background(), "token-1", "mushishi", 20)
	if err != nil {
		t.Fatalf("SearchAnime failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != 457 {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestGetMangaDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/manga/2" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 2,
			"title": "Berserk",
			"media_type": "manga",
			"mean": 9.47,
			"genres": [{"id": 1, "name": "Action"}],
			"authors": [{"node": {"first_name": "Kentarou", "last_name": "Miura"}, "role": "Story & Art"}],
			"num_volumes": 41
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	item, err := client.GetMangaDetails(context.Background(), "token-1", 2)
	if err != nil {
		t.Fatalf("GetMangaDetails failed: %v", err)
	}
	if item.Title != "Berserk" || item.NumVolumes != 41 {
		t.Errorf("unexpected item: %+v", item)
	}
	if len(item.Authors) != 1 || item.Authors[0] != "Kentarou Miura (Story & Art)" {
		t.Errorf("unexpected authors: %+v", item.Authors)
	}
}

func TestUpdateAnimeListStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if r.URL.Path != "/anime/30/my_list_status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.PostForm.Get("status"); got != "completed" {
			t.Errorf("expected status=completed, got %q", got)
		}
		if got := r.PostForm.Get("score"); got != "8" {
			t.Errorf("expected score=8, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "completed", "score": 8}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.UpdateAnimeListStatus(context.Background(), "token-1", 30, "completed", 8); err != nil {
		t.Fatalf("UpdateAnimeListStatus failed: %v", err)
	}
}

func TestAuthorizeURL(t *testing.T) {
	client := testClient("https://mal.test")
	built := client.AuthorizeURL("state-1", "verifier-plain")

	u, err := url.Parse(built)
	if err != nil {
		t.Fatalf("parsing authorize URL: %v", err)
	}
	q := u.Query()
	if got := q.Get("code_challenge_method"); got != "plain" {
		t.Errorf("expected plain challenge method, got %q", got)
	}
	if got := q.Get("code_challenge"); got != "verifier-plain" {
		t.Errorf("expected verifier passthrough, got %q", got)
	}
	if got := q.Get("state"); got != "state-1" {
		t.Errorf("expected state-1, got %q", got)
	}
	if got := q.Get("client_id"); got != "test-client" {
		t.Errorf("expected client id, got %q", got)
	}
}

func TestExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/oauth2/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("expected authorization_code grant, got %q", got)
		}
		if got := r.PostForm.Get("code_verifier"); got != "verifier-plain" {
			t.Errorf("expected plain verifier passthrough, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "access-1",
			"refresh_token": "refresh-1",
			"expires_in": 3600,
			"token_type": "Bearer"
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	tokens, err := client.ExchangeCode(context.Background(), "auth-code", "verifier-plain")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if tokens.AccessToken != "access-1" || tokens.RefreshToken != "refresh-1" {
		t.Errorf("unexpected tokens: %+v", tokens)
	}
	if until := time.Until(tokens.ExpiresAt); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("unexpected expiry: %v", tokens.ExpiresAt)
	}
}

func TestRefreshTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.RefreshToken(context.Background(), "revoked")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetMe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "name": "yukarin", "picture": "https://cdn.example/me.jpg"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	profile, err := client.GetMe(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("GetMe failed: %v", err)
	}
	if profile.ID != 42 || profile.Username != "yukarin" {
		t.Errorf("unexpected profile: %+v", profile)
	}
}
