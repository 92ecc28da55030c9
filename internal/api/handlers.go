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

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"rileycms/internal/content"
	"rileycms/internal/ctxkeys"
	"rileycms/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listParams parses pagination and visibility query parameters. Visibility
// flags are admin-only; a public caller asking for drafts gets a 401, not a
// silently filtered listing.
func (s *Server) listParams(w http.ResponseWriter, r *http.Request) (content.ListOptions, bool) {
	var opts content.ListOptions
	q := r.URL.Query()

	opts.IncludeDrafts = q.Get("include_drafts") == "true"
	opts.IncludeScheduled = q.Get("include_scheduled") == "true"
	if opts.IncludeDrafts || opts.IncludeScheduled {
		if ctxkeys.GetAuthStatus(r.Context()) != ctxkeys.Admin {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return opts, false
		}
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return opts, false
		}
		opts.Limit = &n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset parameter")
			return opts, false
		}
		opts.Offset = n
	}
	return opts, true
}

// setCacheHeaders applies the caching policy: public responses are CDN
// cacheable and carry the snapshot ETag, admin responses are never stored.
// Returns true when the request was satisfied with a 304.
func (s *Server) setCacheHeaders(w http.ResponseWriter, r *http.Request, etag string) bool {
	if ctxkeys.GetAuthStatus(r.Context()) == ctxkeys.Admin {
		w.Header().Set("Cache-Control", "private, no-store")
		return false
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
		s.cfg.Server.CacheMaxAge, s.cfg.Server.CacheStaleWhileRevalidate))
	w.Header().Set("ETag", etag)

	if inm := r.Header.Get("If-None-Match"); inm != "" && ifNoneMatchMatches(inm, etag) {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

// canSee applies the visibility tri-state for single-item lookups. Admin
// sees everything; the public only sees items whose goes_live_at has passed.
func canSee(r *http.Request, goesLiveAt *time.Time) bool {
	if ctxkeys.GetAuthStatus(r.Context()) == ctxkeys.Admin {
		return true
	}
	return goesLiveAt != nil && !goesLiveAt.After(time.Now().UTC())
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.listParams(w, r)
	if !ok {
		return
	}

	snap := s.store.Snapshot()
	if s.setCacheHeaders(w, r, snap.ETag()) {
		return
	}

	result := snap.ListPosts(opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"posts":  result.Items,
		"total":  result.Total,
		"limit":  result.Limit,
		"offset": result.Offset,
	})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	post := snap.GetPost(chi.URLParam(r, "slug"))
	// Hidden and missing are indistinguishable to the public.
	if post == nil || !canSee(r, post.GoesLiveAt) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if s.setCacheHeaders(w, r, snap.ETag()) {
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleGetPostRaw(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	post := snap.GetPost(chi.URLParam(r, "slug"))
	if post == nil || !canSee(r, post.GoesLiveAt) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if s.setCacheHeaders(w, r, snap.ETag()) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(post.Content))
}

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.listParams(w, r)
	if !ok {
		return
	}

	snap := s.store.Snapshot()
	if s.setCacheHeaders(w, r, snap.ETag()) {
		return
	}

	result := snap.ListSeries(opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"series": result.Items,
		"total":  result.Total,
		"limit":  result.Limit,
		"offset": result.Offset,
	})
}

func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	series := snap.GetSeries(chi.URLParam(r, "slug"))
	if series == nil || !canSee(r, series.GoesLiveAt) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if s.setCacheHeaders(w, r, snap.ETag()) {
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	if ctxkeys.GetAuthStatus(r.Context()) != ctxkeys.Admin {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if s.assets == nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	var opts storage.ListOptions
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		opts.Limit = n
	}
	opts.Token = r.URL.Query().Get("token")

	page, err := s.assets.List(r.Context(), opts)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if ctxkeys.GetAuthStatus(r.Context()) != ctxkeys.Admin {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if s.auditLog == nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}

	events, err := s.auditLog.Recent(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
