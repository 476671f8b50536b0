// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the OAuth 2.0 client layer of the delegation SDK:
// stateless request builders and HTTP callers for the standardized endpoints
// (token, registration, introspection, revocation, PAR) plus RFC 8414
// authorization-server metadata discovery.
//
// Supported wire protocols:
//   - RFC 6749 authorization-code, client-credentials, and refresh grants
//   - RFC 8693 token exchange
//   - RFC 7591 dynamic client registration
//   - RFC 7636 PKCE (S256)
//   - RFC 7662 introspection and RFC 7009 revocation
//   - RFC 9126 pushed authorization requests
//
// Errors raised by this package follow a fixed taxonomy (ConfigError,
// NetworkError, HTTPError, ProtocolError, TokenExchangeError); use
// [Retriable] to classify a failure before retrying.
package oauth
