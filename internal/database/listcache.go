// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yukarin/osusume/internal/metrics"
	"github.com/yukarin/osusume/internal/models"
)

// ReplaceListCache atomically replaces one user's cached list for an
// item type with a fresh MAL snapshot. Delete-then-insert inside a
// transaction keeps the cache consistent with removals upstream; a
// partial failure rolls back to the previous snapshot.
func (db *DB) ReplaceListCache(ctx context.Context, userID int, itemType models.ItemType, entries []models.ListEntry) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	err := db.replaceListCache(ctx, userID, itemType, entries)
	metrics.ObserveDBQuery("replace", "list_cache", start, err)
	return err
}

func (db *DB) replaceListCache(ctx context.Context, userID int, itemType models.ItemType, entries []models.ListEntry) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM list_cache WHERE user_id = ? AND item_type = ?`, userID, itemType); err != nil {
		return fmt.Errorf("failed to clear list cache: %w", err)
	}

	const insert = `
		INSERT INTO list_cache (
			user_id, item_id, item_type, title, image_url, score, status,
			genres, media_type, synopsis, studios, authors,
			mean, popularity, num_episodes, num_chapters, num_volumes, cached_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer closeWithLog(stmt, "prepared statement")

	for i := range entries {
		e := &entries[i]
		genres, err := encodeJSON(e.Genres)
		if err != nil {
			return err
		}
		studios, err := encodeJSON(e.Studios)
		if err != nil {
			return err
		}
		authors, err := encodeJSON(e.Authors)
		if err != nil {
			return err
		}

		cachedAt := e.CachedAt
		if cachedAt.IsZero() {
			cachedAt = time.Now().UTC()
		}

		if _, err := stmt.ExecContext(ctx,
			userID, e.ItemID, itemType, e.Title, e.ImageURL, e.Score, e.Status,
			genres, e.MediaType, e.Synopsis, studios, authors,
			e.Mean, e.Popularity, e.NumEpisodes, e.NumChapters, e.NumVolumes, cachedAt,
		); err != nil {
			return fmt.Errorf("failed to insert list entry %d: %w", e.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit list cache replace: %w", err)
	}
	return nil
}

// GetListCache returns one user's cached list for an item type. An empty
// result means the list has never been synced (or is genuinely empty).
func (db *DB) GetListCache(ctx context.Context, userID int, itemType models.ItemType) ([]models.ListEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		SELECT user_id, item_id, item_type, title, image_url, score, status,
		       genres, media_type, synopsis, studios, authors,
		       mean, popularity, num_episodes, num_chapters, num_volumes, cached_at
		FROM list_cache
		WHERE user_id = ? AND item_type = ?
		ORDER BY item_id`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, userID, itemType)
	metrics.ObserveDBQuery("select", "list_cache", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query list cache: %w", err)
	}
	defer closeQuietly(rows)

	var entries []models.ListEntry
	for rows.Next() {
		e, err := scanListEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate list cache: %w", err)
	}
	return entries, nil
}

// scanListEntry scans one list_cache row, decoding JSON columns.
func scanListEntry(rows *sql.Rows) (*models.ListEntry, error) {
	var (
		e                   models.ListEntry
		imageURL            sql.NullString
		genres, studios     sql.NullString
		authors             sql.NullString
		mediaType, synopsis sql.NullString
	)
	if err := rows.Scan(
		&e.UserID, &e.ItemID, &e.ItemType, &e.Title, &imageURL, &e.Score, &e.Status,
		&genres, &mediaType, &synopsis, &studios, &authors,
		&e.Mean, &e.Popularity, &e.NumEpisodes, &e.NumChapters, &e.NumVolumes, &e.CachedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan list entry: %w", err)
	}
	e.ImageURL = imageURL.String
	e.MediaType = mediaType.String
	e.Synopsis = synopsis.String
	if err := decodeJSON(genres.String, &e.Genres); err != nil {
		return nil, err
	}
	if err := decodeJSON(studios.String, &e.Studios); err != nil {
		return nil, err
	}
	if err := decodeJSON(authors.String, &e.Authors); err != nil {
		return nil, err
	}
	return &e, nil
}
