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

// UpsertUser inserts or refreshes a user row after OAuth sign-in or
// token refresh. The MAL id is the identity; everything else follows it.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		INSERT INTO users (mal_id, username, avatar_url, access_token, refresh_token, token_expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mal_id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at`

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query,
		user.MALID, user.Username, user.AvatarURL,
		user.AccessToken, user.RefreshToken, user.TokenExpiresAt.UTC(),
		time.Now().UTC())
	metrics.ObserveDBQuery("upsert", "users", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", user.MALID, err)
	}
	return nil
}

// GetUser fetches a user by MAL id. Returns ErrUserNotFound when absent.
func (db *DB) GetUser(ctx context.Context, malID int) (*models.User, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		SELECT mal_id, username, avatar_url, access_token, refresh_token, token_expires_at, updated_at
		FROM users WHERE mal_id = ?`

	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return nil, err
	}

	var (
		user   models.User
		avatar sql.NullString
	)
	start := time.Now()
	err = stmt.QueryRowContext(ctx, malID).Scan(
		&user.MALID, &user.Username, &avatar,
		&user.AccessToken, &user.RefreshToken, &user.TokenExpiresAt,
		&user.UpdatedAt)
	metrics.ObserveDBQuery("select", "users", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %d: %w", malID, err)
	}
	user.AvatarURL = avatar.String
	return &user, nil
}

// UpdateUserTokens stores a rotated token pair. MAL rotates the refresh
// token on every refresh, so both values are replaced together.
func (db *DB) UpdateUserTokens(ctx context.Context, malID int, accessToken, refreshToken string, expiresAt time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		UPDATE users SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		WHERE mal_id = ?`

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, query, accessToken, refreshToken, expiresAt.UTC(), time.Now().UTC(), malID)
	metrics.ObserveDBQuery("update", "users", start, err)
	if err != nil {
		return fmt.Errorf("failed to update tokens for user %d: %w", malID, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrUserNotFound
	}
	return nil
}
