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
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"rileycms/internal/config"
	"rileycms/internal/ctxkeys"
)

// Authenticator checks bearer tokens on the read API and basic auth on the
// git endpoint. Tokens are resolved once at startup; comparisons go through
// a fixed-length hash so neither the comparison time nor the token length
// leaks.
type Authenticator struct {
	apiToken []byte // sha256 of the token, nil when unconfigured
	gitToken []byte
}

// NewAuthenticator resolves both tokens from the auth config section. A
// token that resolves to the empty string disables that auth path, exactly
// as an unconfigured one does; an empty credential never matches anyone.
func NewAuthenticator(cfg config.AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	a := &Authenticator{}

	if cfg.APIToken != "" {
		tok, err := cfg.APIToken.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve api_token: %w", err)
		}
		if tok == "" {
			logger.Warn("api_token resolved to an empty string; admin API access disabled")
		} else {
			a.apiToken = hashToken(tok)
		}
	}
	if cfg.GitToken != "" {
		tok, err := cfg.GitToken.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve git_token: %w", err)
		}
		if tok == "" {
			logger.Warn("git_token resolved to an empty string; all git requests will be denied")
		} else {
			a.gitToken = hashToken(tok)
		}
	}
	return a, nil
}

func hashToken(tok string) []byte {
	sum := sha256.Sum256([]byte(tok))
	return sum[:]
}

func tokenMatches(presented string, expected []byte) bool {
	if expected == nil {
		return false
	}
	sum := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(sum[:], expected) == 1
}

// Status classifies a read-API request. A valid bearer token yields Admin;
// everything else, including a bad token, is Public. Whether Public is good
// enough is the handler's call.
func (a *Authenticator) Status(r *http.Request) ctxkeys.AuthStatus {
	header := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ctxkeys.Public
	}
	if tokenMatches(strings.TrimSpace(tok), a.apiToken) {
		return ctxkeys.Admin
	}
	return ctxkeys.Public
}

// Middleware stores the caller's auth status in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxkeys.WithAuthStatus(r.Context(), a.Status(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CheckGitBasic validates the basic auth password on a git request. The
// username is ignored; git clients send whatever the remote URL carries.
// With no git token configured every request is denied.
func (a *Authenticator) CheckGitBasic(r *http.Request) bool {
	if a.gitToken == nil {
		return false
	}
	_, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return tokenMatches(password, a.gitToken)
}

// requireGitAuth challenges with the Git realm on failure.
func (a *Authenticator) requireGitAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.CheckGitBasic(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Git"`)
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
