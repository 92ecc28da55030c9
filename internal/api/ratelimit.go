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
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Per-client limits for the read API. Git transfers are exempt; a push is
// one long request, not a burst.
const (
	rateLimitPerSecond = 10
	rateLimitBurst     = 50

	// Idle limiter entries older than this are dropped to bound memory.
	limiterTTL = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientLimiter
	behindProxy bool
}

func newRateLimiter(behindProxy bool) *rateLimiter {
	return &rateLimiter{
		clients:     make(map[string]*clientLimiter),
		behindProxy: behindProxy,
	}
}

// Middleware rejects clients that exceed their bucket with a 429.
func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(rl.clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *rateLimiter) allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now

	if len(rl.clients) > 1000 {
		for key, v := range rl.clients {
			if now.Sub(v.lastSeen) > limiterTTL {
				delete(rl.clients, key)
			}
		}
	}
	return c.limiter.Allow()
}

// clientIP picks the address to bucket on. Forwarding headers are only
// trusted when the service is configured as sitting behind a proxy;
// otherwise they are attacker-controlled.
func (rl *rateLimiter) clientIP(r *http.Request) string {
	if rl.behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
			return ip
		}
		if ip := forwardedFor(r.Header.Get("Forwarded")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor extracts the client address from an RFC 7239 Forwarded
// header, e.g. `for=192.0.2.60;proto=http, for=203.0.113.43`. The first
// element is the original client; quotes, brackets and ports are stripped.
func forwardedFor(header string) string {
	first, _, _ := strings.Cut(header, ",")
	for _, part := range strings.Split(first, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if strings.HasPrefix(value, "[") {
			if end := strings.IndexByte(value, ']'); end > 0 {
				return value[1:end]
			}
			return ""
		}
		if host, _, err := net.SplitHostPort(value); err == nil {
			return host
		}
		return value
	}
	return ""
}
