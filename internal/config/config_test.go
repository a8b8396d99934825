// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.MAL.ClientID = "test-client"
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsMissingMALClientID(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.Validate()
	if !errors.Is(err, ErrMALCredentialsRequired) {
		t.Errorf("expected ErrMALCredentialsRequired, got %v", err)
	}
}

func TestValidateProductionRequiresJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Environment = "production"
	if err := cfg.Validate(); !errors.Is(err, ErrJWTSecretRequired) {
		t.Errorf("expected ErrJWTSecretRequired, got %v", err)
	}

	cfg.Auth.JWTSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config with secret, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad timeout", func(c *Config) { c.Server.Timeout = 0 }},
		{"bad batch size", func(c *Config) { c.Recommend.BatchSize = 0 }},
		{"bad min score", func(c *Config) { c.Recommend.MinScore = 11 }},
		{"bad content weight", func(c *Config) { c.Recommend.ContentWeight = 1.5 }},
		{"bad min similarity", func(c *Config) { c.Recommend.MinSimilarity = -0.1 }},
		{"bad cooldown", func(c *Config) { c.Recommend.CooldownWindow = 0 }},
		{"bad rewatch score", func(c *Config) { c.Recommend.RewatchMinScore = 0 }},
		{"bad rate", func(c *Config) { c.MAL.RequestsPerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OSUSUME_SERVER_PORT", "server.port"},
		{"OSUSUME_MAL_CLIENT_ID", "mal.client_id"},
		{"OSUSUME_RECOMMEND_COOLDOWN_WINDOW", "recommend.cooldown_window"},
		{"OSUSUME_SERVER", "server"},
	}

	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9000
mal:
  client_id: from-file
recommend:
  cooldown_window: 6h
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("OSUSUME_SERVER_PORT", "9001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("env should override file: port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.MAL.ClientID != "from-file" {
		t.Errorf("file should override default: client_id = %q", cfg.MAL.ClientID)
	}
	if cfg.Recommend.CooldownWindow != 6*time.Hour {
		t.Errorf("cooldown_window = %s, want 6h", cfg.Recommend.CooldownWindow)
	}
	if cfg.Recommend.BatchSize != 5 {
		t.Errorf("default batch_size = %d, want 5", cfg.Recommend.BatchSize)
	}
}

func TestLoadCORSOriginsFromEnv(t *testing.T) {
	t.Setenv("OSUSUME_MAL_CLIENT_ID", "env-client")
	t.Setenv("OSUSUME_API_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.API.CORSOrigins) != len(want) {
		t.Fatalf("cors_origins = %v, want %v", cfg.API.CORSOrigins, want)
	}
	for i := range want {
		if cfg.API.CORSOrigins[i] != want[i] {
			t.Errorf("cors_origins[%d] = %q, want %q", i, cfg.API.CORSOrigins[i], want[i])
		}
	}
}
