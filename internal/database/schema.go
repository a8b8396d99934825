// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package database

import (
	"context"
	"fmt"
	"time"
)

// createTables creates all tables if they do not exist. Structured
// columns (genres, items) are stored as JSON text and decoded at the
// boundary; DuckDB stores and filters them fine without the json
// extension.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			mal_id           INTEGER PRIMARY KEY,
			username         VARCHAR NOT NULL,
			avatar_url       VARCHAR,
			access_token     VARCHAR NOT NULL,
			refresh_token    VARCHAR NOT NULL,
			token_expires_at TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS list_cache (
			user_id      INTEGER NOT NULL,
			item_id      INTEGER NOT NULL,
			item_type    VARCHAR NOT NULL,
			title        VARCHAR NOT NULL,
			image_url    VARCHAR,
			score        INTEGER NOT NULL DEFAULT 0,
			status       VARCHAR NOT NULL DEFAULT '',
			genres       VARCHAR,
			media_type   VARCHAR,
			synopsis     VARCHAR,
			studios      VARCHAR,
			authors      VARCHAR,
			mean         DOUBLE NOT NULL DEFAULT 0,
			popularity   INTEGER NOT NULL DEFAULT 0,
			num_episodes INTEGER NOT NULL DEFAULT 0,
			num_chapters INTEGER NOT NULL DEFAULT 0,
			num_volumes  INTEGER NOT NULL DEFAULT 0,
			cached_at    TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, item_type, item_id)
		)`,

		`CREATE TABLE IF NOT EXISTS feedback (
			user_id    INTEGER NOT NULL,
			item_id    INTEGER NOT NULL,
			item_type  VARCHAR NOT NULL,
			kind       VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, item_type, item_id)
		)`,

		`CREATE TABLE IF NOT EXISTS preferences (
			user_id               INTEGER PRIMARY KEY,
			favorite_genres       VARCHAR,
			excluded_genres       VARCHAR,
			preferred_studios     VARCHAR,
			preferred_authors     VARCHAR,
			preferred_media_types VARCHAR,
			min_score             DOUBLE NOT NULL,
			updated_at            TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS recommendation_cache (
			user_id      INTEGER NOT NULL,
			item_type    VARCHAR NOT NULL,
			mode         VARCHAR NOT NULL,
			items        VARCHAR NOT NULL,
			generated_at TIMESTAMP NOT NULL,
			expires_at   TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, item_type, mode)
		)`,

		`CREATE TABLE IF NOT EXISTS shares (
			code       VARCHAR PRIMARY KEY,
			item_type  VARCHAR NOT NULL,
			mode       VARCHAR NOT NULL,
			items      VARCHAR NOT NULL,
			created_by INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_feedback_item ON feedback (item_type, kind, item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_list_cache_score ON list_cache (user_id, item_type, score)`,
		`CREATE INDEX IF NOT EXISTS idx_rec_cache_expiry ON recommendation_cache (expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_shares_expiry ON shares (expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
