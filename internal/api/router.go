// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/metrics"
)

// NewRouter assembles the HTTP surface: operator API, health, metrics.
func NewRouter(handler *Handler, cfg *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Permissive limit for health so monitoring never trips it.
	r.With(httprate.LimitByIP(1000, time.Minute)).
		Get("/api/v1/health", handler.Health)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		rateReqs := cfg.RateLimitReqs
		if rateReqs <= 0 {
			rateReqs = 60
		}
		rateWindow := cfg.RateLimitWindow
		if rateWindow <= 0 {
			rateWindow = time.Minute
		}
		r.Use(httprate.LimitByIP(rateReqs, rateWindow))

		r.Get("/status/stats", handler.RegistryStats)

		r.Route("/clients/{clientID}", func(r chi.Router) {
			r.Post("/sync", handler.TriggerSync)
			r.Post("/resync", handler.TriggerResync)
			r.Post("/refresh-current", handler.RefreshCurrent)
			r.Get("/statuses", handler.ClientStatuses)
			r.Delete("/statuses/{period}", handler.ForceExpire)
			r.Get("/validate", handler.ValidateAccess)
		})
	})

	return r
}

// requestMetrics counts requests by method, route pattern and status.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
	})
}
