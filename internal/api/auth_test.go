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
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"rileycms/internal/config"
	"rileycms/internal/ctxkeys"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticatorStatus(t *testing.T) {
	auth, err := NewAuthenticator(config.AuthConfig{APIToken: "tok-123"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		want   ctxkeys.AuthStatus
	}{
		{"no header", "", ctxkeys.Public},
		{"valid token", "Bearer tok-123", ctxkeys.Admin},
		{"wrong token", "Bearer nope", ctxkeys.Public},
		{"wrong scheme", "Basic dG9rLTEyMw==", ctxkeys.Public},
		{"token with whitespace", "Bearer  tok-123 ", ctxkeys.Admin},
		{"prefix of token", "Bearer tok-12", ctxkeys.Public},
		{"token plus suffix", "Bearer tok-1234", ctxkeys.Public},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := auth.Status(r); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticatorStatusNoTokenConfigured(t *testing.T) {
	auth, err := NewAuthenticator(config.AuthConfig{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer anything")
	if got := auth.Status(r); got != ctxkeys.Public {
		t.Errorf("Status() = %v, want Public", got)
	}
}

func TestAuthenticatorEnvToken(t *testing.T) {
	t.Setenv("RILEY_TEST_API_TOKEN", "env-token")
	auth, err := NewAuthenticator(config.AuthConfig{APIToken: "env:RILEY_TEST_API_TOKEN"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer env-token")
	if got := auth.Status(r); got != ctxkeys.Admin {
		t.Errorf("Status() = %v, want Admin", got)
	}
}

func TestAuthenticatorMissingEnvToken(t *testing.T) {
	if _, err := NewAuthenticator(config.AuthConfig{APIToken: "env:RILEY_NO_SUCH_TOKEN_VAR"}, testLogger()); err == nil {
		t.Error("expected error for unresolvable token")
	}
}

func TestAuthenticatorEmptyResolvedAPIToken(t *testing.T) {
	t.Setenv("RILEY_TEST_EMPTY_API_TOKEN", "")
	auth, err := NewAuthenticator(config.AuthConfig{APIToken: "env:RILEY_TEST_EMPTY_API_TOKEN"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	for _, header := range []string{"Bearer ", "Bearer  "} {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", header)
		if got := auth.Status(r); got != ctxkeys.Public {
			t.Errorf("Status() with %q = %v, want Public", header, got)
		}
	}
}

func TestAuthenticatorEmptyResolvedGitToken(t *testing.T) {
	t.Setenv("RILEY_TEST_EMPTY_GIT_TOKEN", "")
	auth, err := NewAuthenticator(config.AuthConfig{GitToken: "env:RILEY_TEST_EMPTY_GIT_TOKEN"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("POST", "/git/site.git/git-receive-pack", nil)
	r.SetBasicAuth("git", "")
	if auth.CheckGitBasic(r) {
		t.Error("empty password accepted against an empty resolved token")
	}
}

func TestCheckGitBasic(t *testing.T) {
	auth, err := NewAuthenticator(config.AuthConfig{GitToken: "git-tok"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("username is ignored", func(t *testing.T) {
		for _, user := range []string{"git", "alice", ""} {
			r := httptest.NewRequest("GET", "/", nil)
			r.SetBasicAuth(user, "git-tok")
			if !auth.CheckGitBasic(r) {
				t.Errorf("user %q rejected with correct token", user)
			}
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.SetBasicAuth("git", "wrong")
		if auth.CheckGitBasic(r) {
			t.Error("wrong password accepted")
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		if auth.CheckGitBasic(r) {
			t.Error("missing credentials accepted")
		}
	})
}

func TestIfNoneMatchMatches(t *testing.T) {
	tests := []struct {
		header string
		etag   string
		want   bool
	}{
		{`"abc"`, `"abc"`, true},
		{`"xyz"`, `"abc"`, false},
		{`*`, `"abc"`, true},
		{`"one", "abc"`, `"abc"`, true},
		{`W/"abc"`, `"abc"`, true},
		{``, `"abc"`, false},
	}
	for _, tt := range tests {
		if got := ifNoneMatchMatches(tt.header, tt.etag); got != tt.want {
			t.Errorf("ifNoneMatchMatches(%q, %q) = %v, want %v", tt.header, tt.etag, got, tt.want)
		}
	}
}
