// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package mal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/yukarin/osusume/internal/models"
)

// mangaCatalogFields mirrors catalogFields with authors in place of the
// anime-only studio and season fields.
const mangaCatalogFields = "id,title,main_picture,genres,mean,status,media_type,synopsis,authors{first_name,last_name},num_chapters,num_volumes,popularity"

const mangaListFields = mangaCatalogFields + ",list_status"

// GetMangaRanking fetches the manga ranking pool for the given ranking
// type (e.g. "all", "manga", "bypopularity"), capped at limit.
func (c *Client) GetMangaRanking(ctx context.Context, token string, rankingType string, limit int) ([]models.CatalogItem, error) {
	q := url.Values{}
	q.Set("ranking_type", rankingType)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", mangaCatalogFields)

	resp, err := c.getList(ctx, "manga_ranking", "/manga/ranking?"+q.Encode(), token)
	if err != nil {
		return nil, err
	}
	return nodesToItems(resp), nil
}

// SearchManga runs a title search against the manga catalog, capped at
// limit.
func (c *Client) SearchManga(ctx context.Context, token string, query string, limit int) ([]models.CatalogItem, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", mangaCatalogFields)

	resp, err := c.getList(ctx, "manga_search", "/manga?"+q.Encode(), token)
	if err != nil {
		return nil, err
	}
	return nodesToItems(resp), nil
}

// GetMangaDetails fetches full metadata for one manga.
func (c *Client) GetMangaDetails(ctx context.Context, token string, mangaID int) (*models.CatalogItem, error) {
	q := url.Values{}
	q.Set("fields", mangaCatalogFields)

	n, err := c.getNode(ctx, "manga_details", fmt.Sprintf("/manga/%d?%s", mangaID, q.Encode()), token)
	if err != nil {
		return nil, err
	}
	item := n.toCatalogItem()
	return &item, nil
}

// GetUserMangaList fetches the caller's complete manga list, following
// pagination until exhausted.
func (c *Client) GetUserMangaList(ctx context.Context, token string, userID int) ([]models.ListEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(userListPageSize))
	q.Set("sort", "list_updated_at")
	q.Set("fields", mangaListFields)
	q.Set("nsfw", "true")

	return c.paginateUserList(ctx, "user_manga_list", "/users/@me/mangalist?"+q.Encode(), token, userID, models.ItemTypeManga)
}

// UpdateMangaListStatus writes the user's status and score for one manga.
// A zero score leaves the existing score untouched.
func (c *Client) UpdateMangaListStatus(ctx context.Context, token string, mangaID int, status string, score int) error {
	form := url.Values{}
	form.Set("status", status)
	if score > 0 {
		form.Set("score", strconv.Itoa(score))
	}
	return c.patchForm(ctx, "update_manga_status", fmt.Sprintf("/manga/%d/my_list_status", mangaID), token, form)
}
