// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yukarin/osusume/internal/auth"
)

// NewRouter assembles the chi routing tree.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.API.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httpMetrics)
	r.Use(httprate.LimitByIP(h.cfg.API.RateLimit, time.Minute))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	requireSession := auth.Middleware(h.jwt, h.sessions)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/auth/url", h.AuthURL)
		r.Post("/auth/callback", h.AuthCallback)
		r.Get("/share/{code}", h.GetShare)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			r.Post("/auth/refresh", h.AuthRefresh)
			r.Post("/auth/logout", h.Logout)
			r.Get("/me", h.Me)

			r.Get("/search", h.Search)

			r.Get("/recommendations/{type}", h.Recommendations)
			r.Post("/feedback", h.Feedback)
			r.Get("/preferences", h.Preferences)
			r.Put("/preferences", h.SavePreferences)

			r.Get("/list", h.List)
			r.Post("/list/sync", h.SyncList)
			r.Post("/list/status", h.UpdateListStatus)

			r.Post("/share", h.CreateShare)
		})
	})

	return r
}
