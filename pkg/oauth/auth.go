// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"fmt"
	"net/http"
	"net/url"
)

// Authenticator mutates outbound request headers with client credentials.
// Implementations never read response bodies.
type Authenticator interface {
	// Apply adds authentication to the request. zone is the key used by
	// per-zone strategies; single-credential strategies ignore it.
	Apply(req *http.Request, zone string) error
}

// ClientCredentials is a client_id / client_secret pair.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// String redacts the secret.
func (c ClientCredentials) String() string {
	secret := "<empty>"
	if c.ClientSecret != "" {
		secret = redactedPlaceholder
	}
	return fmt.Sprintf("ClientCredentials{ClientID:%s, ClientSecret:%s}", c.ClientID, secret)
}

// NoneAuth sends no credentials (public clients using PKCE).
type NoneAuth struct{}

// Apply implements Authenticator.
func (NoneAuth) Apply(*http.Request, string) error {
	return nil
}

// BasicAuth sends HTTP Basic credentials per RFC 6749 §2.3.1. Credentials are
// URL-encoded before base64 per the OAuth2 requirement.
type BasicAuth struct {
	Credentials ClientCredentials
}

// Apply implements Authenticator.
func (a BasicAuth) Apply(req *http.Request, _ string) error {
	if a.Credentials.ClientID == "" {
		return &ConfigError{Reason: "basic auth strategy requires a client_id"}
	}
	req.SetBasicAuth(url.QueryEscape(a.Credentials.ClientID), url.QueryEscape(a.Credentials.ClientSecret))
	return nil
}

// BearerAuth sends a static bearer token.
type BearerAuth struct {
	Token string
}

// Apply implements Authenticator.
func (a BearerAuth) Apply(req *http.Request, _ string) error {
	if a.Token == "" {
		return &ConfigError{Reason: "bearer auth strategy requires a token"}
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

// PerZoneBasicAuth selects Basic credentials by zone key. Selecting a zone
// with no configured credentials is a configuration error.
type PerZoneBasicAuth struct {
	Credentials map[string]ClientCredentials
}

// Apply implements Authenticator.
func (a PerZoneBasicAuth) Apply(req *http.Request, zone string) error {
	creds, ok := a.Credentials[zone]
	if !ok {
		return &ConfigError{Reason: fmt.Sprintf("no credentials configured for zone %q", zone)}
	}
	return BasicAuth{Credentials: creds}.Apply(req, zone)
}
