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

// Package ctxkeys defines the context keys shared between middleware and
// handlers.
package ctxkeys

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// RequestID carries the per-request correlation ID.
	RequestID contextKey = "request_id"
	// Auth carries the AuthStatus decided by the bearer middleware.
	Auth contextKey = "auth_status"
)

// AuthStatus is the authentication level of a request. Handlers use it for
// visibility decisions; it never carries an identity beyond admin/public.
type AuthStatus int

const (
	// Public is an unauthenticated request.
	Public AuthStatus = iota
	// Admin is a request that presented the configured API token.
	Admin
)

// WithAuthStatus returns a child context carrying the auth status.
func WithAuthStatus(ctx context.Context, s AuthStatus) context.Context {
	return context.WithValue(ctx, Auth, s)
}

// GetAuthStatus returns the auth status from the context, defaulting to
// Public when the middleware did not run.
func GetAuthStatus(ctx context.Context) AuthStatus {
	if v, ok := ctx.Value(Auth).(AuthStatus); ok {
		return v
	}
	return Public
}

// WithRequestID returns a child context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestID, id)
}

// GetRequestID returns the request ID from the context, or "" if absent.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestID).(string); ok {
		return v
	}
	return ""
}

// EnsureRequestID returns a context that carries a request ID, generating a
// new one when the input has none.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := GetRequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}
