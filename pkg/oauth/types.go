// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OAuth 2.0 URN identifiers and well-known paths.
//
//nolint:gosec // G101: OAuth2 URN identifiers, not credentials
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeTokenExchange     = "urn:ietf:params:oauth:grant-type:token-exchange"

	TokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

	ResponseTypeCode = "code"

	PKCEMethodS256 = "S256"

	TokenEndpointAuthMethodNone  = "none"
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	WellKnownOAuthServerPath       = "/.well-known/oauth-authorization-server"
	WellKnownOIDCPath              = "/.well-known/openid-configuration"
	WellKnownProtectedResourcePath = "/.well-known/oauth-protected-resource"
)

// Default endpoint paths used when neither an explicit override nor a
// discovery document provides one.
const (
	DefaultAuthorizePath  = "/oauth2/authorize"
	DefaultTokenPath      = "/oauth2/token"
	DefaultRegisterPath   = "/oauth2/register"
	DefaultIntrospectPath = "/oauth2/introspect"
	DefaultRevokePath     = "/oauth2/revoke"
	DefaultPARPath        = "/oauth2/par"
)

const redactedPlaceholder = "[REDACTED]"

// ServerMetadata is the RFC 8414 authorization-server metadata document,
// restricted to the fields the SDK consumes. Never mutated after fetch.
type ServerMetadata struct {
	Issuer                             string   `json:"issuer"`
	AuthorizationEndpoint              string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                      string   `json:"token_endpoint,omitempty"`
	RegistrationEndpoint               string   `json:"registration_endpoint,omitempty"`
	IntrospectionEndpoint              string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                 string   `json:"revocation_endpoint,omitempty"`
	PushedAuthorizationRequestEndpoint string   `json:"pushed_authorization_request_endpoint,omitempty"`
	JWKSURI                            string   `json:"jwks_uri,omitempty"`
	GrantTypesSupported                []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported      []string `json:"code_challenge_methods_supported,omitempty"`
	ScopesSupported                    []string `json:"scopes_supported,omitempty"`
	TokenEndpointAuthMethodsSupported  []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// Validate checks the fields every conforming document must carry.
func (m *ServerMetadata) Validate() error {
	if m.Issuer == "" {
		return fmt.Errorf("metadata missing issuer")
	}
	if m.TokenEndpoint == "" {
		return fmt.Errorf("metadata missing token_endpoint")
	}
	return nil
}

// SupportsPKCE reports whether the server advertises S256 code challenges.
func (m *ServerMetadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == PKCEMethodS256 {
			return true
		}
	}
	return false
}

// SupportsPAR reports whether the server advertises a PAR endpoint.
func (m *ServerMetadata) SupportsPAR() bool {
	return m.PushedAuthorizationRequestEndpoint != ""
}

// Token is an issued access token together with its lifetime and audience.
// Immutable; a refresh or re-exchange produces a new Token.
type Token struct {
	AccessToken     string    `json:"access_token"`
	TokenType       string    `json:"token_type"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitzero"`
	Scope           string    `json:"scope,omitempty"`
	Resource        string    `json:"resource,omitempty"`
	IssuedTokenType string    `json:"issued_token_type,omitempty"`
}

// Valid reports whether the token is usable for at least margin longer.
// A zero ExpiresAt means the server did not communicate a lifetime.
func (t *Token) Valid(margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Until(t.ExpiresAt) > margin
}

// String redacts the token material to prevent accidental leakage in logs.
func (t *Token) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Token{TokenType:%s, Resource:%s, ExpiresAt:%s, AccessToken:%s}",
		t.TokenType, t.Resource, t.ExpiresAt.Format(time.RFC3339), redactedPlaceholder)
}

// tokenResponse decodes the wire form of a successful /token response.
type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	RefreshToken    string `json:"refresh_token"`
	Scope           string `json:"scope"`
	IssuedTokenType string `json:"issued_token_type"`
}

func (r *tokenResponse) toToken(now time.Time, resource string) *Token {
	tok := &Token{
		AccessToken:     r.AccessToken,
		TokenType:       r.TokenType,
		RefreshToken:    r.RefreshToken,
		Scope:           r.Scope,
		Resource:        resource,
		IssuedTokenType: r.IssuedTokenType,
	}
	if r.ExpiresIn > 0 {
		tok.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return tok
}

// ScopeList tolerates servers that return scope as either a space-delimited
// string or a JSON array.
type ScopeList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *ScopeList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		str = strings.TrimSpace(str)
		if str == "" {
			*s = nil
			return nil
		}
		*s = strings.Fields(str)
		return nil
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = make([]string, 0, len(arr))
		for _, v := range arr {
			if v = strings.TrimSpace(v); v != "" {
				*s = append(*s, v)
			}
		}
		return nil
	}

	return fmt.Errorf("invalid scope format: %s", string(data))
}

// RegistrationRequest is the RFC 7591 dynamic client registration request.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	JWKSURL                 string   `json:"jwks_uri,omitempty"`
}

// RegistrationResponse is the RFC 7591 response, i.e. the registered client
// record persisted per (zone, application name).
type RegistrationResponse struct {
	ClientID                string    `json:"client_id"`
	ClientSecret            string    `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64     `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64     `json:"client_secret_expires_at,omitempty"`
	RegistrationAccessToken string    `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string    `json:"registration_client_uri,omitempty"`
	ClientName              string    `json:"client_name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string  `json:"grant_types,omitempty"`
	ResponseTypes           []string  `json:"response_types,omitempty"`
	Scope                   ScopeList `json:"scope,omitempty"`
	JWKSURL                 string    `json:"jwks_uri,omitempty"`
}

// String redacts the client secret.
func (r *RegistrationResponse) String() string {
	if r == nil {
		return "<nil>"
	}
	secret := "<empty>"
	if r.ClientSecret != "" {
		secret = redactedPlaceholder
	}
	return fmt.Sprintf("RegistrationResponse{ClientID:%s, ClientSecret:%s}", r.ClientID, secret)
}

// IntrospectionResponse is the RFC 7662 response. Claims carries any
// additional top-level members verbatim.
type IntrospectionResponse struct {
	Active    bool           `json:"active"`
	Scope     string         `json:"scope,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	Subject   string         `json:"sub,omitempty"`
	ExpiresAt int64          `json:"exp,omitempty"`
	Issuer    string         `json:"iss,omitempty"`
	Audience  ScopeList      `json:"aud,omitempty"`
	Claims    map[string]any `json:"-"`
}

// UnmarshalJSON keeps the unmodeled members available in Claims.
func (r *IntrospectionResponse) UnmarshalJSON(data []byte) error {
	type alias IntrospectionResponse
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = IntrospectionResponse(a)

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{"active", "scope", "client_id", "sub", "exp", "iss", "aud"} {
		delete(raw, known)
	}
	if len(raw) > 0 {
		r.Claims = raw
	}
	return nil
}

// PARResponse is the RFC 9126 pushed-authorization-request response.
type PARResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}
