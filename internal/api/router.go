// Riley CMS is a self-hosted headless content service.
// Copyright (C) 2026  Riley CMS Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package api is the HTTP surface: the read API, the git Smart HTTP
// gateway, and the post-push pipeline that ties them together.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"rileycms/internal/audit"
	"rileycms/internal/config"
	"rileycms/internal/content"
	"rileycms/internal/ctxkeys"
	"rileycms/internal/gitcgi"
	"rileycms/internal/metrics"
	"rileycms/internal/storage"
	"rileycms/internal/webhook"
)

// AssetLister is the slice of the storage layer the API needs.
type AssetLister interface {
	List(ctx context.Context, opts storage.ListOptions) (*storage.AssetPage, error)
}

// Server holds every dependency the HTTP surface uses.
type Server struct {
	cfg      *config.Config
	store    *content.Store
	backend  *gitcgi.Backend
	hooks    *webhook.Dispatcher
	assets   AssetLister
	auditLog *audit.Log // nil when the audit log is not configured
	auth     *Authenticator
	logger   *slog.Logger
	limiter  *rateLimiter
}

// NewServer wires the HTTP surface together.
func NewServer(cfg *config.Config, store *content.Store, backend *gitcgi.Backend,
	hooks *webhook.Dispatcher, assets AssetLister, auditLog *audit.Log,
	auth *Authenticator, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		hooks:    hooks,
		assets:   assets,
		auditLog: auditLog,
		auth:     auth,
		logger:   logger,
		limiter:  newRateLimiter(cfg.Server.BehindProxy),
	}
}

// Routes builds the full router. Git transfers skip the rate limiter and
// CORS; browsers never push.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.accessLog)
	r.Use(securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(g chi.Router) {
		g.Use(s.limiter.Middleware)
		if c := s.corsMiddleware(); c != nil {
			g.Use(c)
		}
		g.Use(s.auth.Middleware)

		g.Route("/api/v1", func(v1 chi.Router) {
			v1.Get("/posts", s.handleListPosts)
			v1.Get("/posts/{slug}", s.handleGetPost)
			v1.Get("/posts/{slug}/raw", s.handleGetPostRaw)
			v1.Get("/series", s.handleListSeries)
			v1.Get("/series/{slug}", s.handleGetSeries)
			v1.Get("/assets", s.handleListAssets)
			v1.Get("/deliveries", s.handleListDeliveries)
		})
	})

	// Path validation runs before the auth challenge so malformed requests
	// are rejected without revealing whether credentials were right.
	r.Handle("/git/*", s.gitPathCheck(s.auth.requireGitAuth(http.HandlerFunc(s.handleGit))))

	return r
}

// corsMiddleware returns nil when no origins are configured, which leaves
// cross-origin requests without CORS headers and therefore denied.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	origins := s.cfg.Server.CorsOrigins
	if len(origins) == 0 {
		return nil
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "If-None-Match"},
		MaxAge:         300,
	}).Handler
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// accessLog assigns a request ID, records metrics, and logs one line per
// request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, requestID := ctxkeys.EnsureRequestID(r.Context())
		w.Header().Set("X-Request-Id", requestID)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		elapsed := time.Since(start)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ObserveHTTPRequest(route, ww.Status(), elapsed)

		s.logger.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestID)
	})
}
