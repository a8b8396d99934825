// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package mal

import (
	"strings"
	"time"

	"github.com/yukarin/osusume/internal/models"
)

// Wire types for the MyAnimeList v2 API. The API nests every catalog
// record under a "node" key and returns optional fields only when asked
// for via the fields parameter; all fields here are therefore optional.
// Normalization to models.CatalogItem / models.ListEntry happens at this
// boundary so the recommendation core never sees wire shapes.

// mainPicture is the cover image pair.
type mainPicture struct {
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

// url prefers the medium rendition, matching what the cards display.
func (p *mainPicture) url() string {
	if p == nil {
		return ""
	}
	if p.Medium != "" {
		return p.Medium
	}
	return p.Large
}

// genre is a genre tag.
type genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// studio is a studio reference on anime details.
type studio struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// author is an author reference on manga details.
type author struct {
	Node struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"node"`
	Role string `json:"role"`
}

func (a *author) name() string {
	name := strings.TrimSpace(a.Node.FirstName + " " + a.Node.LastName)
	if a.Role != "" {
		return name + " (" + a.Role + ")"
	}
	return name
}

// startSeason is the season an anime premiered.
type startSeason struct {
	Year   int    `json:"year"`
	Season string `json:"season"`
}

// node is the catalog record shared by list, ranking, seasonal and
// detail responses.
type node struct {
	ID          int          `json:"id"`
	Title       string       `json:"title"`
	MainPicture *mainPicture `json:"main_picture"`
	Genres      []genre      `json:"genres"`
	Mean        float64      `json:"mean"`
	Status      string       `json:"status"`
	MediaType   string       `json:"media_type"`
	Source      string       `json:"source"`
	Synopsis    string       `json:"synopsis"`
	Studios     []studio     `json:"studios"`
	Authors     []author     `json:"authors"`
	NumEpisodes int          `json:"num_episodes"`
	NumChapters int          `json:"num_chapters"`
	NumVolumes  int          `json:"num_volumes"`
	Popularity  int          `json:"popularity"`
	StartSeason *startSeason `json:"start_season"`
}

// listStatus is the user's relationship to an item on list endpoints.
type listStatus struct {
	Status    string `json:"status"`
	Score     int    `json:"score"`
	UpdatedAt string `json:"updated_at"`
}

// listItem pairs a node with the requesting user's list status.
type listItem struct {
	Node       node        `json:"node"`
	ListStatus *listStatus `json:"list_status"`
}

// paging carries the pagination cursor on list responses.
type paging struct {
	Next string `json:"next"`
}

// listResponse is the wrapper for every data-array endpoint.
type listResponse struct {
	Data   []listItem `json:"data"`
	Paging *paging    `json:"paging"`
}

// userInfo is the /users/@me response.
type userInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	JoinedAt string `json:"joined_at"`
}

// tokenResponse is the OAuth token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// apiError is the MAL error payload.
type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// toCatalogItem normalizes a wire node into the domain snapshot.
func (n *node) toCatalogItem() models.CatalogItem {
	item := models.CatalogItem{
		ID:          n.ID,
		Title:       n.Title,
		ImageURL:    n.MainPicture.url(),
		Mean:        n.Mean,
		Status:      n.Status,
		MediaType:   strings.ToLower(n.MediaType),
		Source:      strings.ToLower(n.Source),
		Synopsis:    n.Synopsis,
		NumEpisodes: n.NumEpisodes,
		NumChapters: n.NumChapters,
		NumVolumes:  n.NumVolumes,
		Popularity:  n.Popularity,
	}
	for _, g := range n.Genres {
		item.Genres = append(item.Genres, models.Genre{ID: g.ID, Name: g.Name})
	}
	for _, s := range n.Studios {
		item.Studios = append(item.Studios, s.Name)
	}
	for _, a := range n.Authors {
		item.Authors = append(item.Authors, a.name())
	}
	if n.StartSeason != nil {
		item.Season = n.StartSeason.Season
		item.Year = n.StartSeason.Year
	}
	return item
}

// toListEntry normalizes a wire list item into a cacheable list entry.
// Items without a list_status (not on the user's list) get zero
// score/status, matching how unrated entries are treated downstream.
func (li *listItem) toListEntry(userID int, itemType models.ItemType, now time.Time) models.ListEntry {
	item := li.Node.toCatalogItem()
	entry := models.ListEntry{
		UserID:      userID,
		ItemID:      item.ID,
		ItemType:    itemType,
		Title:       item.Title,
		ImageURL:    item.ImageURL,
		Genres:      item.Genres,
		MediaType:   item.MediaType,
		Synopsis:    item.Synopsis,
		Studios:     item.Studios,
		Authors:     item.Authors,
		Mean:        item.Mean,
		Popularity:  item.Popularity,
		NumEpisodes: item.NumEpisodes,
		NumChapters: item.NumChapters,
		NumVolumes:  item.NumVolumes,
		CachedAt:    now,
	}
	if li.ListStatus != nil {
		entry.Score = li.ListStatus.Score
		entry.Status = li.ListStatus.Status
	}
	return entry
}
