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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTokenSourceResolve(t *testing.T) {
	t.Run("literal", func(t *testing.T) {
		got, err := TokenSource("secret123").Resolve()
		if err != nil {
			t.Fatal(err)
		}
		if got != "secret123" {
			t.Errorf("got %q, want %q", got, "secret123")
		}
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("RILEY_TEST_TOKEN", "from-env")
		got, err := TokenSource("env:RILEY_TEST_TOKEN").Resolve()
		if err != nil {
			t.Fatal(err)
		}
		if got != "from-env" {
			t.Errorf("got %q, want %q", got, "from-env")
		}
	})

	t.Run("env missing", func(t *testing.T) {
		if _, err := TokenSource("env:RILEY_NONEXISTENT_VAR_12345").Resolve(); err == nil {
			t.Error("expected error for missing env var")
		}
	})

	t.Run("env set but empty", func(t *testing.T) {
		t.Setenv("RILEY_EMPTY_TOKEN", "")
		got, err := TokenSource("env:RILEY_EMPTY_TOKEN").Resolve()
		if err != nil {
			t.Fatal(err)
		}
		if got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[content]
repo_path = "/data/repo"

[storage]
bucket = "my-bucket"
public_url_base = "https://assets.example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Content.RepoPath != "/data/repo" {
		t.Errorf("repo_path = %q", cfg.Content.RepoPath)
	}
	if cfg.Content.ContentDir != "content" {
		t.Errorf("content_dir default = %q, want content", cfg.Content.ContentDir)
	}
	if cfg.Storage.Backend != "s3" || cfg.Storage.Region != "auto" {
		t.Errorf("storage defaults = %q/%q", cfg.Storage.Backend, cfg.Storage.Region)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.CacheMaxAge != 60 || cfg.Server.CacheStaleWhileRevalidate != 300 {
		t.Errorf("cache defaults = %d/%d", cfg.Server.CacheMaxAge, cfg.Server.CacheStaleWhileRevalidate)
	}
	if cfg.Git.MaxBodySize != 104857600 {
		t.Errorf("max_body_size default = %d", cfg.Git.MaxBodySize)
	}
	if cfg.Git.CgiTimeoutSecs != 300 {
		t.Errorf("cgi_timeout_secs default = %d", cfg.Git.CgiTimeoutSecs)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[content]
repo_path = "/data/repo"
content_dir = "posts"

[storage]
backend = "s3"
bucket = "my-bucket"
region = "us-east-1"
endpoint = "https://s3.amazonaws.com"
public_url_base = "https://assets.example.com"

[server]
host = "127.0.0.1"
port = 3000
cors_origins = ["https://example.com", "https://dev.example.com"]
cache_max_age = 120
cache_stale_while_revalidate = 600
behind_proxy = true

[git]
max_body_size = 1048576
cgi_timeout_secs = 60

[webhooks]
on_content_update = ["https://example.com/webhook"]
secret = "env:WEBHOOK_SECRET"

[auth]
git_token = "secret123"
api_token = "env:API_TOKEN"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Content.ContentDir != "posts" {
		t.Errorf("content_dir = %q", cfg.Content.ContentDir)
	}
	if cfg.Storage.Region != "us-east-1" || cfg.Storage.Endpoint != "https://s3.amazonaws.com" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Server.Port != 3000 || !cfg.Server.BehindProxy {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Server.CorsOrigins) != 2 {
		t.Errorf("cors_origins = %v", cfg.Server.CorsOrigins)
	}
	if cfg.Git.MaxBodySize != 1048576 || cfg.Git.CgiTimeoutSecs != 60 {
		t.Errorf("git = %+v", cfg.Git)
	}
	if len(cfg.Webhooks.OnContentUpdate) != 1 || cfg.Webhooks.Secret != "env:WEBHOOK_SECRET" {
		t.Errorf("webhooks = %+v", cfg.Webhooks)
	}
	if cfg.Auth.GitToken != "secret123" || cfg.Auth.APIToken != "env:API_TOKEN" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
}

func TestLoadInvalidToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.toml")
	if err := os.WriteFile(path, []byte("this is not valid toml {{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[content]
repo_path = "/data/repo"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing storage section")
	}
}

func TestResolveExplicitPath(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[content]
repo_path = "/data/repo"

[storage]
bucket = "b"
public_url_base = "https://a.example.com"
`)
	cfg, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Content.RepoPath != "/data/repo" {
		t.Errorf("repo_path = %q", cfg.Content.RepoPath)
	}
}

func TestResolveEnvVar(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[content]
repo_path = "/env/repo"

[storage]
bucket = "b"
public_url_base = "https://a.example.com"
`)
	t.Setenv(EnvConfigPath, path)
	cfg, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Content.RepoPath != "/env/repo" {
		t.Errorf("repo_path = %q", cfg.Content.RepoPath)
	}
}

func TestResolveWalksAncestors(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[content]
repo_path = "/walk/repo"

[storage]
bucket = "b"
public_url_base = "https://a.example.com"
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	prevDir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prevDir); err != nil {
			t.Fatal(err)
		}
	})

	cfg, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Content.RepoPath != "/walk/repo" {
		t.Errorf("repo_path = %q", cfg.Content.RepoPath)
	}
}
