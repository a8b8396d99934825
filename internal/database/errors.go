// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package database

import (
	"errors"
	"io"

	"github.com/yukarin/osusume/internal/logging"
)

// Sentinel errors for callers that need status-specific handling.
var (
	// ErrUserNotFound indicates no stored user matches the MAL id.
	ErrUserNotFound = errors.New("database: user not found")

	// ErrCacheMiss indicates no unexpired cached batch exists for the key.
	ErrCacheMiss = errors.New("database: recommendation cache miss")

	// ErrShareNotFound indicates no share link exists for the code.
	ErrShareNotFound = errors.New("database: share not found")

	// ErrShareExpired indicates the share link exists but has lapsed.
	ErrShareExpired = errors.New("database: share expired")
)

// closeWithLog closes a resource and logs any error. Use for cleanup
// where errors should be acknowledged but not fail the operation.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error. Use
// in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() // Explicitly ignore error - cleanup is best-effort
	}
}
