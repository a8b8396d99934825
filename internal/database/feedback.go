// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/yukarin/osusume/internal/metrics"
	"github.com/yukarin/osusume/internal/models"
)

// SetFeedback records like/dislike feedback with toggle semantics:
// submitting the same kind again removes the record, a different kind
// replaces it. Returns the kind now stored, or "" when removed.
func (db *DB) SetFeedback(ctx context.Context, userID, itemID int, itemType models.ItemType, kind models.FeedbackKind) (models.FeedbackKind, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	result, err := db.setFeedback(ctx, userID, itemID, itemType, kind)
	metrics.ObserveDBQuery("upsert", "feedback", start, err)
	return result, err
}

func (db *DB) setFeedback(ctx context.Context, userID, itemID int, itemType models.ItemType, kind models.FeedbackKind) (models.FeedbackKind, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing models.FeedbackKind
	row := tx.QueryRowContext(ctx,
		`SELECT kind FROM feedback WHERE user_id = ? AND item_type = ? AND item_id = ?`,
		userID, itemType, itemID)
	switch err := row.Scan(&existing); {
	case err == nil && existing == kind:
		// Same kind toggles off.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM feedback WHERE user_id = ? AND item_type = ? AND item_id = ?`,
			userID, itemType, itemID); err != nil {
			return "", fmt.Errorf("failed to remove feedback: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit feedback toggle: %w", err)
		}
		return "", nil
	case err == nil:
		// Different kind replaces.
		if _, err := tx.ExecContext(ctx,
			`UPDATE feedback SET kind = ?, created_at = ? WHERE user_id = ? AND item_type = ? AND item_id = ?`,
			kind, time.Now().UTC(), userID, itemType, itemID); err != nil {
			return "", fmt.Errorf("failed to replace feedback: %w", err)
		}
	default:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feedback (user_id, item_id, item_type, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
			userID, itemID, itemType, kind, time.Now().UTC()); err != nil {
			return "", fmt.Errorf("failed to insert feedback: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit feedback: %w", err)
	}
	return kind, nil
}

// GetFeedback returns one user's feedback item ids of the given kind for
// an item type.
func (db *DB) GetFeedback(ctx context.Context, userID int, itemType models.ItemType, kind models.FeedbackKind) ([]int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		SELECT item_id FROM feedback
		WHERE user_id = ? AND item_type = ? AND kind = ?
		ORDER BY item_id`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, userID, itemType, kind)
	metrics.ObserveDBQuery("select", "feedback", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer closeQuietly(rows)

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan feedback id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback: %w", err)
	}
	return ids, nil
}

// GetLikesByUser returns every user's liked item ids for an item type,
// excluding one user. This is the raw material for jaccard similarity.
func (db *DB) GetLikesByUser(ctx context.Context, itemType models.ItemType, excludeUserID int) (map[int][]int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		SELECT user_id, item_id FROM feedback
		WHERE item_type = ? AND kind = ? AND user_id <> ?
		ORDER BY user_id, item_id`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, itemType, models.FeedbackLike, excludeUserID)
	metrics.ObserveDBQuery("select", "feedback", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query likes: %w", err)
	}
	defer closeQuietly(rows)

	likes := make(map[int][]int)
	for rows.Next() {
		var userID, itemID int
		if err := rows.Scan(&userID, &itemID); err != nil {
			return nil, fmt.Errorf("failed to scan like: %w", err)
		}
		likes[userID] = append(likes[userID], itemID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate likes: %w", err)
	}
	return likes, nil
}
