// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package database

import (
	"fmt"

	"github.com/goccy/go-json"
)

// encodeJSON marshals a structured column value. Nil and empty slices
// encode to the empty string so the column stays NULL-ish and cheap.
func encodeJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	s := string(b)
	if s == "null" || s == "[]" {
		return "", nil
	}
	return s, nil
}

// decodeJSON unmarshals a structured column into out, treating the
// empty string as absent.
func decodeJSON(s string, out interface{}) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}
