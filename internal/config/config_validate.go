// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package config

import (
	"errors"
	"fmt"
)

// validation errors
var (
	// ErrJWTSecretRequired is returned when production mode runs without
	// a session signing secret.
	ErrJWTSecretRequired = errors.New("auth.jwt_secret is required in production")

	// ErrMALCredentialsRequired is returned when the MAL client id is
	// missing.
	ErrMALCredentialsRequired = errors.New("mal.client_id is required")
)

// Validate checks the configuration for values that would fail at
// runtime. It is called by Load after all layers are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}

	if c.MAL.ClientID == "" {
		return ErrMALCredentialsRequired
	}
	if c.MAL.RequestTimeout <= 0 {
		return fmt.Errorf("mal.request_timeout must be positive, got %s", c.MAL.RequestTimeout)
	}
	if c.MAL.RequestsPerSecond <= 0 {
		return fmt.Errorf("mal.requests_per_second must be positive, got %g", c.MAL.RequestsPerSecond)
	}

	if c.Server.Environment == "production" && c.Auth.JWTSecret == "" {
		return ErrJWTSecretRequired
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive, got %s", c.Auth.SessionTTL)
	}

	return c.Recommend.Validate()
}

// Validate checks the recommendation tuning section.
func (r *RecommendConfig) Validate() error {
	if r.BatchSize < 1 {
		return fmt.Errorf("recommend.batch_size must be at least 1, got %d", r.BatchSize)
	}
	if r.MinScore < 0 || r.MinScore > 10 {
		return fmt.Errorf("recommend.min_score must be 0-10, got %g", r.MinScore)
	}
	if r.ContentWeight < 0 || r.ContentWeight > 1 {
		return fmt.Errorf("recommend.content_weight must be 0-1, got %g", r.ContentWeight)
	}
	if r.MinSimilarity < 0 || r.MinSimilarity > 1 {
		return fmt.Errorf("recommend.min_similarity must be 0-1, got %g", r.MinSimilarity)
	}
	if r.MaxSimilarUsers < 1 {
		return fmt.Errorf("recommend.max_similar_users must be at least 1, got %d", r.MaxSimilarUsers)
	}
	if r.CooldownWindow <= 0 {
		return fmt.Errorf("recommend.cooldown_window must be positive, got %s", r.CooldownWindow)
	}
	if r.SeasonalFetches < 1 {
		return fmt.Errorf("recommend.seasonal_fetches must be at least 1, got %d", r.SeasonalFetches)
	}
	if r.RewatchMinScore < 1 || r.RewatchMinScore > 10 {
		return fmt.Errorf("recommend.rewatch_min_score must be 1-10, got %d", r.RewatchMinScore)
	}
	return nil
}
