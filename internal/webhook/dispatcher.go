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

// Package webhook delivers content-update notifications, HMAC-signed when a
// secret is configured. Destinations are resolved once, checked against
// private and internal address ranges, and dialed by pinned IP so a DNS
// rebind between check and connect cannot redirect the request.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rileycms/internal/config"
	"rileycms/internal/security"
)

const (
	// SignatureHeader carries the HMAC of the request body.
	SignatureHeader = "X-Riley-Cms-Signature"

	deliveryTimeout = 10 * time.Second
	maxAttempts     = 3
)

// payload is the fixed notification body. Receivers learn that content
// changed, not what changed.
const payload = "{}"

// Dispatcher fans webhook deliveries out to the configured URLs.
type Dispatcher struct {
	urls   []string
	secret config.TokenSource
	logger *slog.Logger

	// isSafe guards resolved addresses; tests swap it to reach loopback.
	isSafe func(netip.Addr) bool
}

// New builds a Dispatcher from the webhooks config section.
func New(cfg config.WebhooksConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		urls:   cfg.OnContentUpdate,
		secret: cfg.Secret,
		logger: logger,
		isSafe: security.IsSafeIP,
	}
}

// Fire delivers the content-update notification to every configured URL
// concurrently and blocks until all deliveries have finished or given up.
// It returns the number of URLs that could not be delivered.
func (d *Dispatcher) Fire(ctx context.Context) int {
	if len(d.urls) == 0 {
		return 0
	}

	// No secret configured means unsigned deliveries. A configured secret
	// that resolves empty aborts instead: never send unsigned when signing
	// was asked for.
	signature := ""
	if d.secret != "" {
		secret, err := d.secret.Resolve()
		if err != nil {
			d.logger.Error("Webhook secret resolution failed; skipping delivery", "error", err)
			return len(d.urls)
		}
		if secret == "" {
			d.logger.Error("Webhook secret resolved to an empty string; refusing to send unsigned notifications")
			return len(d.urls)
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		signature = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, u := range d.urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if err := d.deliver(ctx, u, signature); err != nil {
				d.logger.Error("Webhook delivery failed", "url", u, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			d.logger.Info("Webhook delivered", "url", u)
		}(u)
	}
	wg.Wait()
	return failed
}

// deliver sends one signed notification with retries. Transport failures and
// 5xx responses retry with exponential backoff; 4xx responses are terminal.
func (d *Dispatcher) deliver(ctx context.Context, rawURL, signature string) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return fmt.Errorf("unsupported webhook scheme %q", target.Scheme)
	}

	port := target.Port()
	if port == "" {
		if target.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	addr, err := d.resolveSafe(ctx, target.Hostname())
	if err != nil {
		return err
	}

	// Dial the vetted IP directly; the Host header and TLS SNI still come
	// from the original URL.
	pinned := net.JoinHostPort(addr.String(), port)
	client := &http.Client{
		Timeout: deliveryTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, network, pinned)
			},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return errors.New("webhook redirects are not followed")
		},
	}

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(SignatureHeader, signature)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("webhook rejected with status %d", resp.StatusCode))
		default:
			return fmt.Errorf("attempt %d: webhook returned status %d", attempt, resp.StatusCode)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx))
}

// resolveSafe resolves host once and returns the first address outside
// private, loopback, and link-local ranges.
func (d *Dispatcher) resolveSafe(ctx context.Context, host string) (netip.Addr, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to resolve webhook host %q: %w", host, err)
	}
	for _, a := range addrs {
		if d.isSafe(a) {
			return a.Unmap(), nil
		}
	}
	return netip.Addr{}, fmt.Errorf("webhook host %q resolves only to private or internal addresses", host)
}
