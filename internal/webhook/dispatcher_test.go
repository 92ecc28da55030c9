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

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"

	"rileycms/internal/config"
)

func testDispatcher(urls []string, secret string) *Dispatcher {
	d := New(config.WebhooksConfig{
		OnContentUpdate: urls,
		Secret:          config.TokenSource(secret),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Tests deliver to loopback httptest servers.
	d.isSafe = func(netip.Addr) bool { return true }
	return d
}

func wantSignature(secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("{}"))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestFireSignsPayload(t *testing.T) {
	var gotSig, gotCT, gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig.Store(r.Header.Get(SignatureHeader))
		gotCT.Store(r.Header.Get("Content-Type"))
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDispatcher([]string{srv.URL}, "hook-secret")
	if failed := d.Fire(context.Background()); failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}

	if got := gotSig.Load(); got != wantSignature("hook-secret") {
		t.Errorf("signature = %v, want %v", got, wantSignature("hook-secret"))
	}
	if got := gotCT.Load(); got != "application/json" {
		t.Errorf("content-type = %v", got)
	}
	if got := gotBody.Load(); got != "{}" {
		t.Errorf("body = %v, want {}", got)
	}
}

func TestFireResolvesSecretFromEnv(t *testing.T) {
	var gotSig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig.Store(r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	t.Setenv("RILEY_TEST_HOOK_SECRET", "env-secret")
	d := testDispatcher([]string{srv.URL}, "env:RILEY_TEST_HOOK_SECRET")
	if failed := d.Fire(context.Background()); failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
	if got := gotSig.Load(); got != wantSignature("env-secret") {
		t.Errorf("signature = %v", got)
	}
}

func TestFireNoSecretSendsUnsigned(t *testing.T) {
	var hits atomic.Int32
	var gotSig, gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		gotSig.Store(r.Header.Get(SignatureHeader))
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDispatcher([]string{srv.URL}, "")
	if failed := d.Fire(context.Background()); failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
	if got := gotSig.Load(); got != "" {
		t.Errorf("signature header = %v, want none", got)
	}
	if got := gotBody.Load(); got != "{}" {
		t.Errorf("body = %v, want {}", got)
	}
}

func TestFireRefusesEmptyResolvedSecret(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	t.Setenv("RILEY_TEST_EMPTY_HOOK_SECRET", "")
	d := testDispatcher([]string{srv.URL}, "env:RILEY_TEST_EMPTY_HOOK_SECRET")
	if failed := d.Fire(context.Background()); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if hits.Load() != 0 {
		t.Error("unsigned request was sent despite a configured secret")
	}
}

func TestFireMissingSecretEnv(t *testing.T) {
	d := testDispatcher([]string{"http://example.com/hook"}, "env:RILEY_NO_SUCH_SECRET_VAR")
	if failed := d.Fire(context.Background()); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestFireNoURLs(t *testing.T) {
	d := testDispatcher(nil, "secret")
	if failed := d.Fire(context.Background()); failed != 0 {
		t.Errorf("failed = %d, want 0", failed)
	}
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDispatcher([]string{srv.URL}, "secret")
	if failed := d.Fire(context.Background()); failed != 0 {
		t.Errorf("failed = %d, want 0", failed)
	}
	if hits.Load() != 2 {
		t.Errorf("attempts = %d, want 2", hits.Load())
	}
}

func TestDeliverClientErrorIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := testDispatcher([]string{srv.URL}, "secret")
	if failed := d.Fire(context.Background()); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if hits.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", hits.Load())
	}
}

func TestDeliverBlocksPrivateAddresses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := New(config.WebhooksConfig{
		OnContentUpdate: []string{srv.URL},
		Secret:          "secret",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Default safety check stays in place; the loopback server must be
	// unreachable.
	if failed := d.Fire(context.Background()); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if hits.Load() != 0 {
		t.Error("request reached a loopback address")
	}
}

func TestDeliverRejectsBadScheme(t *testing.T) {
	d := testDispatcher([]string{"ftp://example.com/hook"}, "secret")
	if failed := d.Fire(context.Background()); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestFireFansOut(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	srv1 := httptest.NewServer(handler)
	defer srv1.Close()
	srv2 := httptest.NewServer(handler)
	defer srv2.Close()

	d := testDispatcher([]string{srv1.URL, srv2.URL}, "secret")
	if failed := d.Fire(context.Background()); failed != 0 {
		t.Errorf("failed = %d, want 0", failed)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}
