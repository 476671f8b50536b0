// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the validated result of an inbound bearer token: the caller's
// claims plus the raw token, which the delegation provider later uses as the
// subject_token of RFC 8693 exchanges.
type Identity struct {
	// Subject is the sub claim.
	Subject string

	// Issuer is the iss claim.
	Issuer string

	// Audience is the aud claim, normalized to a list.
	Audience []string

	// Scopes is the scope claim split on whitespace.
	Scopes []string

	// DelegationChain is the act claim chain, preserved verbatim as the
	// zone emitted it. Nil when the token carries no delegation history.
	DelegationChain any

	// Claims is the full claim set for callers that need more.
	Claims jwt.MapClaims

	// RawToken is the presented token string. Never log it.
	RawToken string
}

// newIdentity projects a validated claim set into an Identity.
func newIdentity(claims jwt.MapClaims, rawToken string) *Identity {
	id := &Identity{Claims: claims, RawToken: rawToken}

	if sub, err := claims.GetSubject(); err == nil {
		id.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		id.Issuer = iss
	}
	if aud, err := claims.GetAudience(); err == nil {
		id.Audience = aud
	}
	if scope, ok := claims["scope"].(string); ok {
		id.Scopes = strings.Fields(scope)
	}
	if act, ok := claims["act"]; ok {
		id.DelegationChain = act
	}
	return id
}

// HasScope reports whether the identity carries the given scope.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
