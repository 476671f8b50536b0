// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"

	"github.com/stacklok/mcpdelegate/pkg/verifier"
)

type identityContextKey struct{}

type accessContextKey struct{}

// WithIdentity attaches the authenticated caller to the request context.
func WithIdentity(ctx context.Context, identity *verifier.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the authenticated caller, if any. The bearer
// middleware sets it; handlers behind the middleware can rely on it.
func IdentityFromContext(ctx context.Context) (*verifier.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*verifier.Identity)
	return identity, ok
}

// WithAccessContext attaches a populated AccessContext to the request
// context.
func WithAccessContext(ctx context.Context, ac *AccessContext) context.Context {
	return context.WithValue(ctx, accessContextKey{}, ac)
}

// AccessContextFromContext returns the AccessContext populated by the grant
// pre-handler stage.
func AccessContextFromContext(ctx context.Context) (*AccessContext, bool) {
	ac, ok := ctx.Value(accessContextKey{}).(*AccessContext)
	return ac, ok
}
