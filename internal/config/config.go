// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

// Package config loads and validates application configuration.
//
// Configuration is layered with koanf: struct defaults, then an optional
// YAML file (CONFIG_PATH or the first of DefaultConfigPaths), then
// environment variables prefixed with OSUSUME_ (OSUSUME_SERVER_PORT
// overrides server.port).
package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	MAL       MALConfig       `koanf:"mal"`
	Auth      AuthConfig      `koanf:"auth"`
	Recommend RecommendConfig `koanf:"recommend"`
	API       APIConfig       `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file path; ":memory:" for ephemeral use.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// CacheConfig holds the Badger device-cache settings.
type CacheConfig struct {
	// Dir is the Badger directory; empty runs in-memory (tests).
	Dir string `koanf:"dir"`
	// JanitorInterval is how often expired server-side cache rows are
	// swept.
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// MALConfig holds MyAnimeList API settings.
type MALConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURI  string `koanf:"redirect_uri"`

	// BaseURL is the API root; overridable for tests.
	BaseURL string `koanf:"base_url"`
	// TokenURL is the OAuth token endpoint.
	TokenURL string `koanf:"token_url"`
	// AuthorizeURL is the OAuth authorization page.
	AuthorizeURL string `koanf:"authorize_url"`

	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RequestsPerSecond caps outbound API calls; MAL throttles
	// aggressively above ~1 rps sustained.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// AuthConfig holds session settings.
type AuthConfig struct {
	// JWTSecret signs session tokens (HS256). Required in production.
	JWTSecret  string        `koanf:"jwt_secret"`
	SessionTTL time.Duration `koanf:"session_ttl"`
}

// RecommendConfig tunes the recommendation core.
type RecommendConfig struct {
	// BatchSize is the maximum items per batch.
	BatchSize int `koanf:"batch_size"`

	// MinScore is the default mean-score gate; per-user preferences
	// override it.
	MinScore float64 `koanf:"min_score"`

	// ContentWeight is the hybrid weight of the content-based signal;
	// the collaborative signal receives 1 - ContentWeight.
	ContentWeight float64 `koanf:"content_weight"`

	// MinSimilarity is the jaccard threshold for neighbor users.
	MinSimilarity float64 `koanf:"min_similarity"`
	// MaxSimilarUsers caps the neighbor set.
	MaxSimilarUsers int `koanf:"max_similar_users"`

	// CooldownWindow is the rolling window during which repeated
	// generation requests return the cached batch.
	CooldownWindow time.Duration `koanf:"cooldown_window"`

	// ExcludeChineseOrigin drops donghua/manhua-sourced anime from new
	// recommendations. String-matching heuristic; disable if unwanted.
	ExcludeChineseOrigin bool `koanf:"exclude_chinese_origin"`

	// SeasonalFetches is how many random year/season pools are fetched
	// per anime generation.
	SeasonalFetches int `koanf:"seasonal_fetches"`
	// SeasonalLimit caps each seasonal pool.
	SeasonalLimit int `koanf:"seasonal_limit"`
	// RankingLimit caps the manga ranking pool.
	RankingLimit int `koanf:"ranking_limit"`
	// SeasonFloorYear is the oldest year sampled for seasonal pools.
	SeasonFloorYear int `koanf:"season_floor_year"`

	// MaxDetailLookups bounds per-request detail fetches for
	// collaborative-only items.
	MaxDetailLookups int `koanf:"max_detail_lookups"`

	// RewatchMinScore is the user-rating gate for rewatch batches.
	RewatchMinScore int `koanf:"rewatch_min_score"`

	// ShareTTL is the lifetime of share links.
	ShareTTL time.Duration `koanf:"share_ttl"`

	// Seed fixes the shuffle source; 0 means time-seeded.
	Seed int64 `koanf:"seed"`
}

// APIConfig holds HTTP surface settings.
type APIConfig struct {
	// RateLimit is requests per minute per client IP.
	RateLimit int `koanf:"rate_limit"`
	// CORSOrigins lists allowed origins for the browser frontend.
	CORSOrigins []string `koanf:"cors_origins"`
}

// defaultConfig returns a Config with all defaults applied. File and env
// layers override these.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8642,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Path:      "/data/osusume.duckdb",
			MaxMemory: "512MB",
			Threads:   0,
		},
		Cache: CacheConfig{
			Dir:             "/data/cache",
			JanitorInterval: time.Hour,
		},
		MAL: MALConfig{
			BaseURL:           "https://api.myanimelist.net/v2",
			TokenURL:          "https://myanimelist.net/v1/oauth2/token",
			AuthorizeURL:      "https://myanimelist.net/v1/oauth2/authorize",
			RequestTimeout:    10 * time.Second,
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Auth: AuthConfig{
			SessionTTL: 30 * 24 * time.Hour,
		},
		Recommend: RecommendConfig{
			BatchSize:            5,
			MinScore:             7.0,
			ContentWeight:        0.7,
			MinSimilarity:        0.2,
			MaxSimilarUsers:      10,
			CooldownWindow:       12 * time.Hour,
			ExcludeChineseOrigin: true,
			SeasonalFetches:      4,
			SeasonalLimit:        50,
			RankingLimit:         100,
			SeasonFloorYear:      2010,
			MaxDetailLookups:     3,
			RewatchMinScore:      7,
			ShareTTL:             7 * 24 * time.Hour,
		},
		API: APIConfig{
			RateLimit:   120,
			CORSOrigins: []string{"*"},
		},
	}
}
