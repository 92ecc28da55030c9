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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"rileycms/internal/config"
	"rileycms/internal/content"
	"rileycms/internal/metrics"
	"rileycms/internal/storage"
)

const (
	testAPIToken = "api-secret"
	testGitToken = "git-secret"
)

type fakeAssets struct {
	page *storage.AssetPage
	err  error
	opts storage.ListOptions
}

func (f *fakeAssets) List(_ context.Context, opts storage.ListOptions) (*storage.AssetPage, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

// newTestServer builds a Server over a temp content tree with one live, one
// scheduled, and one draft post plus a live series. mutate can adjust the
// config before wiring.
func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, string) {
	t.Helper()
	metrics.Reset()

	repo := t.TempDir()
	contentDir := filepath.Join(repo, "content")

	writeTestPost(t, filepath.Join(contentDir, "live-post"), "Live Post", "2020-01-01T00:00:00Z")
	writeTestPost(t, filepath.Join(contentDir, "scheduled-post"), "Scheduled Post", "2099-01-01T00:00:00Z")
	writeTestPost(t, filepath.Join(contentDir, "draft-post"), "Draft Post", "")

	seriesDir := filepath.Join(contentDir, "live-series")
	if err := os.MkdirAll(seriesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	series := "title = \"Live Series\"\ngoes_live_at = 2020-01-01T00:00:00Z\n"
	if err := os.WriteFile(filepath.Join(seriesDir, "series.toml"), []byte(series), 0o644); err != nil {
		t.Fatal(err)
	}
	writeTestPost(t, filepath.Join(seriesDir, "episode-one"), "Episode One", "2020-01-02T00:00:00Z")

	cfg := &config.Config{
		Content: config.ContentConfig{RepoPath: repo, ContentDir: "content"},
		Storage: config.StorageConfig{
			Bucket:        "b",
			PublicURLBase: "https://assets.example.com",
		},
		Server: config.ServerConfig{
			Host:                      "127.0.0.1",
			Port:                      8080,
			CacheMaxAge:               60,
			CacheStaleWhileRevalidate: 300,
		},
		Git: config.GitConfig{
			MaxBodySize:    config.DefaultMaxBodySize,
			CgiTimeoutSecs: 5,
		},
		Auth: config.AuthConfig{
			APIToken: testAPIToken,
			GitToken: testGitToken,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := content.NewStore(cfg.Content)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(cfg, store, nil, nil, &fakeAssets{page: &storage.AssetPage{}}, nil, auth, logger)
	return srv, contentDir
}

func writeTestPost(t *testing.T, dir, title, goesLiveAt string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf("title = %q\npreview_text = \"Preview\"\n", title)
	if goesLiveAt != "" {
		body += "goes_live_at = " + goesLiveAt + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "content.mdx"), []byte("# "+title), 0o644); err != nil {
		t.Fatal(err)
	}
}

// get performs one request against the full router.
func get(srv *Server, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	return w
}

func asAdmin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testAPIToken}
}
