// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/yukarin/osusume/internal/metrics"
	"github.com/yukarin/osusume/internal/models"
	"github.com/yukarin/osusume/internal/validation"
)

// maxCodeAttempts bounds retries on the astronomically unlikely code
// collision before giving up.
const maxCodeAttempts = 5

// CreateShare snapshots a batch under a fresh share code valid for ttl.
// The snapshot is immutable; later regenerations do not affect it.
func (db *DB) CreateShare(ctx context.Context, batch *models.RecommendationBatch, ttl time.Duration) (*models.SharedRecommendation, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	items, err := encodeJSON(batch.Items)
	if err != nil {
		return nil, err
	}
	if items == "" {
		items = "[]"
	}

	now := time.Now().UTC()
	share := &models.SharedRecommendation{
		ItemType:  batch.ItemType,
		Mode:      batch.Mode,
		Items:     batch.Items,
		CreatedBy: batch.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	const insert = `
		INSERT INTO shares (code, item_type, mode, items, created_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateShareCode()
		if err != nil {
			return nil, err
		}

		start := time.Now()
		_, err = db.conn.ExecContext(ctx, insert,
			code, share.ItemType, share.Mode, items,
			share.CreatedBy, share.CreatedAt, share.ExpiresAt)
		metrics.ObserveDBQuery("insert", "shares", start, err)
		if err == nil {
			share.Code = code
			return share, nil
		}
		if attempt == maxCodeAttempts-1 {
			return nil, fmt.Errorf("failed to insert share: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to allocate share code")
}

// GetShare resolves a share code. Expired links return ErrShareExpired
// so the API can distinguish "gone" from "never existed".
func (db *DB) GetShare(ctx context.Context, code string) (*models.SharedRecommendation, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		SELECT code, item_type, mode, items, created_by, created_at, expires_at
		FROM shares WHERE code = ?`

	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return nil, err
	}

	var (
		share models.SharedRecommendation
		items string
	)
	start := time.Now()
	err = stmt.QueryRowContext(ctx, code).Scan(
		&share.Code, &share.ItemType, &share.Mode, &items,
		&share.CreatedBy, &share.CreatedAt, &share.ExpiresAt)
	metrics.ObserveDBQuery("select", "shares", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query share %s: %w", code, err)
	}
	if !time.Now().Before(share.ExpiresAt) {
		return nil, ErrShareExpired
	}
	if err := decodeJSON(items, &share.Items); err != nil {
		return nil, err
	}
	return &share, nil
}

// generateShareCode draws a fixed-length code from the share alphabet
// with crypto/rand; codes are public handles, so guessability matters.
func generateShareCode() (string, error) {
	alphabet := validation.ShareCodeAlphabet()
	max := big.NewInt(int64(len(alphabet)))

	code := make([]byte, validation.ShareCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate share code: %w", err)
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}
