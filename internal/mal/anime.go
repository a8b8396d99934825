// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package mal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/yukarin/osusume/internal/models"
)

// catalogFields is the field set requested on catalog endpoints. MAL
// returns only id/title/main_picture unless fields are named explicitly.
const catalogFields = "id,title,main_picture,genres,mean,status,media_type,source,synopsis,studios,num_episodes,num_chapters,num_volumes,start_season,popularity"

// listFields additionally pulls the caller's list_status on list endpoints.
const listFields = catalogFields + ",list_status"

// userListPageSize is the page size for full-list pagination. MAL caps
// list pages at 100 entries.
const userListPageSize = 100

// GetSeasonalAnime fetches one season's airing pool, capped at limit.
func (c *Client) GetSeasonalAnime(ctx context.Context, token string, year int, season string, limit int) ([]models.CatalogItem, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", catalogFields)

	path := fmt.Sprintf("/anime/season/%d/%s?%s", year, season, q.Encode())
	resp, err := c.getList(ctx, "seasonal_anime", path, token)
	if err != nil {
		return nil, err
	}
	return nodesToItems(resp), nil
}

// GetAnimeRanking fetches the ranking pool for the given ranking type
// (e.g. "all", "bypopularity"), capped at limit.
func (c *Client) GetAnimeRanking(ctx context.Context, token string, rankingType string, limit int) ([]models.CatalogItem, error) {
	q := url.Values{}
	q.Set("ranking_type", rankingType)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", catalogFields)

	resp, err := c.getList(ctx, "anime_ranking", "/anime/ranking?"+q.Encode(), token)
	if err != nil {
		return nil, err
	}
	return nodesToItems(resp), nil
}

// SearchAnime runs a title search against the anime catalog, capped at
// limit. MAL rejects queries shorter than 3 characters.
func (c *Client) SearchAnime(ctx context.Context, token string, query string, limit int) ([]models.CatalogItem, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", catalogFields)

	resp, err := c.getList(ctx, "anime_search", "/anime?"+q.Encode(), token)
	if err != nil {
		return nil, err
	}
	return nodesToItems(resp), nil
}

// GetAnimeDetails fetches full metadata for one anime.
func (c *Client) GetAnimeDetails(ctx context.Context, token string, animeID int) (*models.CatalogItem, error) {
	q := url.Values{}
	q.Set("fields", catalogFields)

	n, err := c.getNode(ctx, "anime_details", fmt.Sprintf("/anime/%d?%s", animeID, q.Encode()), token)
	if err != nil {
		return nil, err
	}
	item := n.toCatalogItem()
	return &item, nil
}

// GetUserAnimeList fetches the caller's complete anime list, following
// pagination until exhausted. Entries are sorted by list update recency
// so the freshest signal lands first.
func (c *Client) GetUserAnimeList(ctx context.Context, token string, userID int) ([]models.ListEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(userListPageSize))
	q.Set("sort", "list_updated_at")
	q.Set("fields", listFields)
	q.Set("nsfw", "true")

	return c.paginateUserList(ctx, "user_anime_list", "/users/@me/animelist?"+q.Encode(), token, userID, models.ItemTypeAnime)
}

// UpdateAnimeListStatus writes the user's status and score for one anime.
// A zero score leaves the existing score untouched.
func (c *Client) UpdateAnimeListStatus(ctx context.Context, token string, animeID int, status string, score int) error {
	form := url.Values{}
	form.Set("status", status)
	if score > 0 {
		form.Set("score", strconv.Itoa(score))
	}
	return c.patchForm(ctx, "update_anime_status", fmt.Sprintf("/anime/%d/my_list_status", animeID), token, form)
}

// paginateUserList walks a user-list endpoint via paging.next until the
// cursor is empty, normalizing each page.
func (c *Client) paginateUserList(ctx context.Context, endpoint, path, token string, userID int, itemType models.ItemType) ([]models.ListEntry, error) {
	now := time.Now().UTC()
	var entries []models.ListEntry

	next := c.cfg.BaseURL + path
	for next != "" {
		resp, err := c.getListURL(ctx, endpoint, next, token)
		if err != nil {
			return nil, err
		}
		for i := range resp.Data {
			entries = append(entries, resp.Data[i].toListEntry(userID, itemType, now))
		}
		next = ""
		if resp.Paging != nil {
			next = resp.Paging.Next
		}
	}
	return entries, nil
}

// getListURL is getList for an absolute URL, used when following
// paging.next cursors (MAL returns them fully qualified).
func (c *Client) getListURL(ctx context.Context, endpoint, reqURL, token string) (*listResponse, error) {
	start := time.Now()
	out, err := c.cb.Execute(func() (*listResponse, error) {
		resp, err := c.doRequestWithRateLimit(ctx, http.MethodGet, reqURL, token, "")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return nil, err
		}

		var result listResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
		return &result, nil
	})
	observeRequest(endpoint, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	return out, nil
}

// nodesToItems flattens a list response into catalog items.
func nodesToItems(resp *listResponse) []models.CatalogItem {
	items := make([]models.CatalogItem, 0, len(resp.Data))
	for i := range resp.Data {
		items = append(items, resp.Data[i].Node.toCatalogItem())
	}
	return items
}
