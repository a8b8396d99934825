// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yukarin/osusume/internal/metrics"
	"github.com/yukarin/osusume/internal/models"
)

// GetRecommendationCache returns the cached batch for the key when it is
// still inside its cooldown window. Expired rows count as misses; the
// janitor sweeps them later.
func (db *DB) GetRecommendationCache(ctx context.Context, userID int, itemType models.ItemType, mode models.Mode) (*models.RecommendationBatch, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		SELECT user_id, item_type, mode, items, generated_at, expires_at
		FROM recommendation_cache
		WHERE user_id = ? AND item_type = ? AND mode = ? AND expires_at > ?`

	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return nil, err
	}

	var (
		batch models.RecommendationBatch
		items string
	)
	start := time.Now()
	err = stmt.QueryRowContext(ctx, userID, itemType, mode, time.Now().UTC()).Scan(
		&batch.UserID, &batch.ItemType, &batch.Mode, &items,
		&batch.GeneratedAt, &batch.ExpiresAt)
	metrics.ObserveDBQuery("select", "recommendation_cache", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendation cache: %w", err)
	}
	if err := decodeJSON(items, &batch.Items); err != nil {
		return nil, err
	}
	return &batch, nil
}

// SaveRecommendationCache upserts a freshly generated batch, replacing
// any previous batch for the same user, item type and mode.
func (db *DB) SaveRecommendationCache(ctx context.Context, batch *models.RecommendationBatch) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	items, err := encodeJSON(batch.Items)
	if err != nil {
		return err
	}
	if items == "" {
		items = "[]"
	}

	const upsert = `
		INSERT INTO recommendation_cache (user_id, item_type, mode, items, generated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, item_type, mode) DO UPDATE SET
			items = excluded.items,
			generated_at = excluded.generated_at,
			expires_at = excluded.expires_at`

	start := time.Now()
	_, err = db.conn.ExecContext(ctx, upsert,
		batch.UserID, batch.ItemType, batch.Mode, items,
		batch.GeneratedAt.UTC(), batch.ExpiresAt.UTC())
	metrics.ObserveDBQuery("upsert", "recommendation_cache", start, err)
	if err != nil {
		return fmt.Errorf("failed to save recommendation cache: %w", err)
	}
	return nil
}

// InvalidateRecommendationCache drops all cached batches for one user,
// forcing fresh generation on the next request.
func (db *DB) InvalidateRecommendationCache(ctx context.Context, userID int) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `DELETE FROM recommendation_cache WHERE user_id = ?`, userID)
	metrics.ObserveDBQuery("delete", "recommendation_cache", start, err)
	if err != nil {
		return fmt.Errorf("failed to invalidate recommendation cache: %w", err)
	}
	return nil
}

// DeleteExpired sweeps lapsed recommendation cache rows and share links.
// Called periodically by the janitor service; returns rows removed.
func (db *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var total int64

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM recommendation_cache WHERE expires_at <= ?`, now.UTC())
	metrics.ObserveDBQuery("delete", "recommendation_cache", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep recommendation cache: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	start = time.Now()
	res, err = db.conn.ExecContext(ctx, `DELETE FROM shares WHERE expires_at <= ?`, now.UTC())
	metrics.ObserveDBQuery("delete", "shares", start, err)
	if err != nil {
		return total, fmt.Errorf("failed to sweep shares: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}
