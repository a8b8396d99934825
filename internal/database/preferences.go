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

// GetPreferences returns one user's recommendation preferences, falling
// back to defaults for users who never saved any.
func (db *DB) GetPreferences(ctx context.Context, userID int) (*models.UserPreferences, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		SELECT user_id, favorite_genres, excluded_genres,
		       preferred_studios, preferred_authors, preferred_media_types,
		       min_score, updated_at
		FROM preferences WHERE user_id = ?`

	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return nil, err
	}

	var (
		prefs                        models.UserPreferences
		favGenres, exclGenres        sql.NullString
		studios, authors, mediaTypes sql.NullString
	)
	start := time.Now()
	err = stmt.QueryRowContext(ctx, userID).Scan(
		&prefs.UserID, &favGenres, &exclGenres,
		&studios, &authors, &mediaTypes,
		&prefs.MinScore, &prefs.UpdatedAt)
	metrics.ObserveDBQuery("select", "preferences", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences for user %d: %w", userID, err)
	}

	if err := decodeJSON(favGenres.String, &prefs.FavoriteGenres); err != nil {
		return nil, err
	}
	if err := decodeJSON(exclGenres.String, &prefs.ExcludedGenres); err != nil {
		return nil, err
	}
	if err := decodeJSON(studios.String, &prefs.PreferredStudios); err != nil {
		return nil, err
	}
	if err := decodeJSON(authors.String, &prefs.PreferredAuthors); err != nil {
		return nil, err
	}
	if err := decodeJSON(mediaTypes.String, &prefs.PreferredMediaTypes); err != nil {
		return nil, err
	}
	return &prefs, nil
}

// SavePreferences upserts preferences and invalidates the user's cached
// recommendation batches, since the old batches no longer reflect them.
func (db *DB) SavePreferences(ctx context.Context, prefs *models.UserPreferences) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	favGenres, err := encodeJSON(prefs.FavoriteGenres)
	if err != nil {
		return err
	}
	exclGenres, err := encodeJSON(prefs.ExcludedGenres)
	if err != nil {
		return err
	}
	studios, err := encodeJSON(prefs.PreferredStudios)
	if err != nil {
		return err
	}
	authors, err := encodeJSON(prefs.PreferredAuthors)
	if err != nil {
		return err
	}
	mediaTypes, err := encodeJSON(prefs.PreferredMediaTypes)
	if err != nil {
		return err
	}

	start := time.Now()
	err = func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		const upsert = `
			INSERT INTO preferences (user_id, favorite_genres, excluded_genres,
				preferred_studios, preferred_authors, preferred_media_types,
				min_score, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				favorite_genres = excluded.favorite_genres,
				excluded_genres = excluded.excluded_genres,
				preferred_studios = excluded.preferred_studios,
				preferred_authors = excluded.preferred_authors,
				preferred_media_types = excluded.preferred_media_types,
				min_score = excluded.min_score,
				updated_at = excluded.updated_at`

		if _, err := tx.ExecContext(ctx, upsert,
			prefs.UserID, favGenres, exclGenres,
			studios, authors, mediaTypes,
			prefs.MinScore, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to upsert preferences for user %d: %w", prefs.UserID, err)
		}

		// Stale batches would keep serving the old preferences for the
		// rest of the cooldown window.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM recommendation_cache WHERE user_id = ?`, prefs.UserID); err != nil {
			return fmt.Errorf("failed to invalidate recommendation cache for user %d: %w", prefs.UserID, err)
		}

		return tx.Commit()
	}()
	metrics.ObserveDBQuery("upsert", "preferences", start, err)
	return err
}
