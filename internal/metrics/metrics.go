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

package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	gitRequests       *prometheus.CounterVec
	contentReloads    *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors.
// Primarily used by tests to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records a completed API request.
func ObserveHTTPRequest(route string, code int, duration time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
	if httpDuration != nil {
		httpDuration.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// ObserveGitRequest records a git Smart HTTP request by service and status.
func ObserveGitRequest(service string, code int) {
	mu.RLock()
	defer mu.RUnlock()
	if gitRequests != nil {
		gitRequests.WithLabelValues(service, strconv.Itoa(code)).Inc()
	}
}

// IncContentReload records a content index reload attempt.
func IncContentReload(ok bool) {
	mu.RLock()
	defer mu.RUnlock()
	if contentReloads != nil {
		contentReloads.WithLabelValues(outcome(ok)).Inc()
	}
}

// IncWebhookDelivery records a webhook delivery outcome.
func IncWebhookDelivery(ok bool) {
	mu.RLock()
	defer mu.RUnlock()
	if webhookDeliveries != nil {
		webhookDeliveries.WithLabelValues(outcome(ok)).Inc()
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riley",
		Subsystem: "cms",
		Name:      "http_requests_total",
		Help:      "Total API requests grouped by route and status code.",
	}, []string{"route", "code"})

	reqDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "riley",
		Subsystem: "cms",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of API requests by route.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route"})

	gitTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riley",
		Subsystem: "cms",
		Name:      "git_requests_total",
		Help:      "Total git Smart HTTP requests grouped by service and status code.",
	}, []string{"service", "code"})

	reloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riley",
		Subsystem: "cms",
		Name:      "content_reloads_total",
		Help:      "Total content index reloads by outcome.",
	}, []string{"outcome"})

	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riley",
		Subsystem: "cms",
		Name:      "webhook_deliveries_total",
		Help:      "Total webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	registry.MustRegister(reqTotal, reqDuration, gitTotal, reloads, webhooks)

	reg = registry
	httpRequests = reqTotal
	httpDuration = reqDuration
	gitRequests = gitTotal
	contentReloads = reloads
	webhookDeliveries = webhooks
}
