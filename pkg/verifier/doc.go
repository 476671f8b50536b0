// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package verifier validates inbound bearer tokens for a protected resource
// and publishes the discovery metadata clients need to authenticate.
//
// JWT validation checks signature (against the zone's JWKS), issuer,
// audience, and expiry with a bounded clock skew. Opaque tokens fall back to
// RFC 7662 introspection when an introspection endpoint is configured. The
// JWKS is cached per jwks_uri; an unknown key ID forces exactly one
// coalesced refresh before the token is rejected.
package verifier
