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
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"rileycms/internal/audit"
	"rileycms/internal/gitcgi"
	"rileycms/internal/metrics"
)

// gitPathCheck rejects traversal attempts and junk characters before the
// request reaches the auth check or the child process.
func (s *Server) gitPathCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		combined := strings.TrimPrefix(r.URL.Path, "/git")
		if r.URL.RawQuery != "" {
			combined += "?" + r.URL.RawQuery
		}
		if !gitcgi.ValidRequestPath(combined) {
			writeError(w, http.StatusBadRequest, "Invalid path")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleGit proxies one Smart HTTP request to git-http-backend.
func (s *Server) handleGit(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/git")

	resp, err := s.backend.Run(gitcgi.Request{
		Method:        r.Method,
		PathInfo:      path,
		QueryString:   r.URL.RawQuery,
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		Body:          r.Body,
	})
	if err != nil {
		if errors.Is(err, gitcgi.ErrBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeInternalError(w, err)
		return
	}
	defer resp.Body.Close()

	service := gitService(path, r.URL.Query().Get("service"))
	metrics.ObserveGitRequest(service, resp.StatusCode)

	// The completion handle moves to a detached goroutine: the child is
	// reaped and the post-push pipeline runs even if the client hangs up
	// mid-transfer.
	isPush := r.Method == http.MethodPost && strings.HasSuffix(path, "/git-receive-pack")
	go s.afterGitRequest(resp.Completion, isPush, resp.StatusCode, service)

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	out := io.Writer(w)
	if f, ok := w.(http.Flusher); ok {
		out = flushWriter{w: w, f: f}
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		s.logger.Warn("Git response streaming interrupted", "error", err)
	}
}

// afterGitRequest reaps the CGI child and, for a successful push, reloads
// the content index and fires webhooks.
func (s *Server) afterGitRequest(comp *gitcgi.Completion, isPush bool, status int, service string) {
	timeout := time.Duration(s.cfg.Git.CgiTimeoutSecs) * time.Second
	waitErr := comp.Wait(timeout)
	if waitErr != nil {
		s.logger.Error("git-http-backend did not complete cleanly", "error", waitErr)
	}

	if !isPush {
		return
	}

	ctx := context.Background()
	pushOK := waitErr == nil && status >= 200 && status < 300
	s.recordAudit(ctx, audit.KindPush, service, pushOK, errDetail(waitErr))
	if !pushOK {
		return
	}

	reloadErr := s.store.Reload()
	metrics.IncContentReload(reloadErr == nil)
	s.recordAudit(ctx, audit.KindReload, "", reloadErr == nil, errDetail(reloadErr))
	if reloadErr != nil {
		s.logger.Error("Content reload after push failed", "error", reloadErr)
		return
	}
	s.logger.Info("Content reloaded after push", "etag", s.store.ETag())

	if s.hooks == nil {
		return
	}
	failed := s.hooks.Fire(ctx)
	total := len(s.cfg.Webhooks.OnContentUpdate)
	for i := 0; i < total; i++ {
		metrics.IncWebhookDelivery(i >= failed)
	}
	if total > 0 {
		s.recordAudit(ctx, audit.KindDelivery, "", failed == 0, "")
	}
}

func (s *Server) recordAudit(ctx context.Context, kind, target string, ok bool, detail string) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Record(ctx, kind, target, ok, detail); err != nil {
		s.logger.Warn("Failed to record audit event", "kind", kind, "error", err)
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// gitService names the transfer for metrics: upload-pack for fetches,
// receive-pack for pushes.
func gitService(path, serviceParam string) string {
	switch {
	case strings.HasSuffix(path, "/git-upload-pack") || serviceParam == "git-upload-pack":
		return "upload-pack"
	case strings.HasSuffix(path, "/git-receive-pack") || serviceParam == "git-receive-pack":
		return "receive-pack"
	default:
		return "other"
	}
}

// flushWriter flushes after every write so pack data streams instead of
// buffering.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if n > 0 {
		fw.f.Flush()
	}
	return n, err
}
