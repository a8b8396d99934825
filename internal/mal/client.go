// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

/*
client.go - Core MyAnimeList API Client

This file provides the core Client struct and HTTP communication layer
for the MyAnimeList v2 REST API.

Client Features:
  - Bearer token authentication (per-call, tokens are per-user)
  - Client-side rate limiting (token bucket via golang.org/x/time/rate)
  - Circuit breaker protection for catalog endpoints
  - Automatic HTTP 429 handling with exponential backoff
  - JSON response parsing via goccy/go-json
  - Context support for cancellation and timeouts

Resilience Mechanisms:
  - Rate Limiting: default 2 rps with burst 5, MAL throttles hard above that
  - Backoff: exponential (1s, 2s, 4s, 8s, 16s) on HTTP 429, honoring Retry-After
  - Circuit Breaker: opens after 60% failure rate over at least 10 requests

Related Files:
  - anime.go: anime catalog and list endpoints
  - manga.go: manga catalog and list endpoints
  - oauth.go: OAuth2 code exchange and token refresh
  - types.go: wire shapes and normalization to domain models
*/

package mal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/yukarin/osusume/internal/config"
	"github.com/yukarin/osusume/internal/logging"
	"github.com/yukarin/osusume/internal/metrics"
	"github.com/yukarin/osusume/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024 // 64KB

// Sentinel errors surfaced to callers for status-specific handling.
var (
	// ErrUnauthorized indicates an expired or revoked access token; the
	// caller should refresh and retry.
	ErrUnauthorized = errors.New("mal: unauthorized")

	// ErrNotFound indicates the requested item does not exist.
	ErrNotFound = errors.New("mal: not found")

	// ErrRateLimited indicates the rate limit persisted through all
	// backoff retries.
	ErrRateLimited = errors.New("mal: rate limit exceeded")
)

// readBodyForError reads the response body for error reporting (max 64KB).
// Returns the body content or a placeholder if reading fails.
func readBodyForError(r io.Reader) []byte {
	limited := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// CatalogClient defines the MyAnimeList operations the rest of the
// application depends on. Implemented by Client for production use and by
// mocks in tests.
//
// All methods follow a consistent pattern:
//   - Accept context.Context for cancellation and timeout support
//   - Accept the user's access token; tokens are per-user, not per-client
//   - Return normalized domain types, never wire shapes
//   - Return error on HTTP failures, API errors, or JSON parse failures
//
// Thread Safety: all methods are safe for concurrent use.
type CatalogClient interface {
	GetMe(ctx context.Context, token string) (*UserProfile, error)

	GetSeasonalAnime(ctx context.Context, token string, year int, season string, limit int) ([]models.CatalogItem, error)
	GetAnimeRanking(ctx context.Context, token string, rankingType string, limit int) ([]models.CatalogItem, error)
	SearchAnime(ctx context.Context, token string, query string, limit int) ([]models.CatalogItem, error)
	GetAnimeDetails(ctx context.Context, token string, animeID int) (*models.CatalogItem, error)
	GetUserAnimeList(ctx context.Context, token string, userID int) ([]models.ListEntry, error)
	UpdateAnimeListStatus(ctx context.Context, token string, animeID int, status string, score int) error

	GetMangaRanking(ctx context.Context, token string, rankingType string, limit int) ([]models.CatalogItem, error)
	SearchManga(ctx context.Context, token string, query string, limit int) ([]models.CatalogItem, error)
	GetMangaDetails(ctx context.Context, token string, mangaID int) (*models.CatalogItem, error)
	GetUserMangaList(ctx context.Context, token string, userID int) ([]models.ListEntry, error)
	UpdateMangaListStatus(ctx context.Context, token string, mangaID int, status string, score int) error

	AuthorizeURL(state, codeVerifier string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error)
}

// Client handles communication with the MyAnimeList v2 API.
//
// Each user request carries its own bearer token, so a single Client is
// shared across all users; the rate limiter and circuit breaker protect
// the shared upstream quota.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	cfg     *config.MALConfig
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*listResponse]

	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates a MyAnimeList API client from configuration.
func NewClient(cfg *config.MALConfig) *Client {
	cbName := "mal-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*listResponse](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:             cb,
		maxRetries:     5,
		retryBaseDelay: 1 * time.Second,
	}
}

// doRequestWithRateLimit performs an HTTP request with client-side rate
// limiting and automatic HTTP 429 handling. Backoff doubles each attempt
// (1s, 2s, 4s, 8s, 16s) unless the Retry-After header names a longer wait.
// The context cancels both the limiter wait and the backoff sleep. The
// body is a string so retries can rebuild the reader.
func (c *Client) doRequestWithRateLimit(ctx context.Context, method, reqURL, token, body string) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader = http.NoBody
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			// Public endpoints accept the client ID instead of a user token.
			req.Header.Set("X-MAL-CLIENT-ID", c.cfg.ClientID)
		}
		if body != "" {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		_ = resp.Body.Close()
		metrics.MALRateLimitHits.Inc()

		if attempt == c.maxRetries {
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		logging.Warn().Str("url", reqURL).Dur("delay", delay).Int("attempt", attempt+1).Msg("Rate limited by MyAnimeList, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w after %d retries", ErrRateLimited, c.maxRetries)
}

// getList fetches a data-array endpoint through the circuit breaker and
// decodes the standard response wrapper. The endpoint label is used for
// metrics only; path already carries the query string.
func (c *Client) getList(ctx context.Context, endpoint, path, token string) (*listResponse, error) {
	return c.getListURL(ctx, endpoint, c.cfg.BaseURL+path, token)
}

// observeRequest records per-endpoint latency and error metrics.
func observeRequest(endpoint string, start time.Time, err error) {
	metrics.MALRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MALRequestErrors.WithLabelValues(endpoint, errorReason(err)).Inc()
	}
}

// getNode fetches a single-record endpoint. Detail responses are a bare
// node rather than a data array, so this bypasses the list wrapper; it
// still runs inside the breaker by wrapping the node in a synthetic list.
func (c *Client) getNode(ctx context.Context, endpoint, path, token string) (*node, error) {
	start := time.Now()
	out, err := c.cb.Execute(func() (*listResponse, error) {
		resp, err := c.doRequestWithRateLimit(ctx, http.MethodGet, c.cfg.BaseURL+path, token, "")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return nil, err
		}

		var n node
		if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
		return &listResponse{Data: []listItem{{Node: n}}}, nil
	})
	observeRequest(endpoint, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	return &out.Data[0].Node, nil
}

// patchForm sends a form mutation. List mutations are not routed through
// the breaker; they are user-initiated one-offs and a failed write must
// surface immediately rather than trip the read path.
func (c *Client) patchForm(ctx context.Context, endpoint, path, token string, form url.Values) error {
	start := time.Now()
	err := func() error {
		resp, err := c.doRequestWithRateLimit(ctx, http.MethodPatch, c.cfg.BaseURL+path, token, form.Encode())
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return checkStatus(resp)
	}()
	observeRequest(endpoint, start, err)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	return nil
}

// checkStatus maps HTTP error statuses to sentinels, reading a bounded
// slice of the body for context.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		body := readBodyForError(resp.Body)
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, ae.Message)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
}

// errorReason buckets an error into a low-cardinality metrics label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "other"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
