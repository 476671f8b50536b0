// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/mcpdelegate/pkg/logger"
	"github.com/stacklok/mcpdelegate/pkg/networking"
)

// UserAgent identifies the SDK on outbound requests.
const UserAgent = "MCPDelegate/1.0"

// maxResponseSize limits response bodies to prevent DoS from a misbehaving
// authorization server.
const maxResponseSize = 1 << 20 // 1MB

// DefaultDiscoveryTTL is how long a fetched metadata document is reused.
const DefaultDiscoveryTTL = 15 * time.Minute

// Endpoint names for resolution and error reporting.
type endpointKind string

const (
	endpointAuthorize  endpointKind = "authorization_endpoint"
	endpointToken      endpointKind = "token_endpoint"
	endpointRegister   endpointKind = "registration_endpoint"
	endpointIntrospect endpointKind = "introspection_endpoint"
	endpointRevoke     endpointKind = "revocation_endpoint"
	endpointPAR        endpointKind = "pushed_authorization_request_endpoint"
)

// Endpoints carries explicit endpoint overrides. An override always wins over
// discovery and over the hard-coded defaults.
type Endpoints struct {
	Authorization              string
	Token                      string
	Registration               string
	Introspection              string
	Revocation                 string
	PushedAuthorizationRequest string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Zone addresses the authorization-server tenant this client talks to.
	Zone Zone

	// Endpoints are explicit endpoint overrides.
	Endpoints Endpoints

	// DiscoveryEnabled turns on RFC 8414 metadata discovery as the second
	// step of endpoint resolution.
	DiscoveryEnabled bool

	// DiscoveryTTL bounds reuse of a fetched metadata document.
	DiscoveryTTL time.Duration

	// Auth is the authentication strategy applied to token, introspection,
	// revocation, and PAR calls. Defaults to NoneAuth.
	Auth Authenticator

	// HTTPClient overrides the transport; mainly for tests.
	HTTPClient networking.HTTPClient

	// Timeout is the per-call deadline when HTTPClient is nil.
	Timeout time.Duration

	// MaxAttempts bounds retries of retriable failures, including the
	// initial attempt. Zero means 3.
	MaxAttempts uint

	// MaxRetryDelay caps the exponential backoff interval.
	MaxRetryDelay time.Duration

	// InsecureAllowHTTP permits plain-HTTP endpoints on non-local hosts.
	// Testing only.
	InsecureAllowHTTP bool
}

// Client issues RFC-conformant requests against one authorization server.
// Safe for concurrent use.
type Client struct {
	cfg  ClientConfig
	http networking.HTTPClient

	mu          sync.Mutex
	meta        *ServerMetadata
	metaFetched time.Time

	discoverGroup singleflight.Group
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Zone.BaseURL() == "" {
		return nil, &ConfigError{Reason: "zone base URL is required"}
	}
	if err := networking.ValidateEndpointURLWithInsecure(cfg.Zone.BaseURL(), cfg.InsecureAllowHTTP); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid zone base URL: %v", err)}
	}
	if cfg.Auth == nil {
		cfg.Auth = NoneAuth{}
	}
	if cfg.DiscoveryTTL <= 0 {
		cfg.DiscoveryTTL = DefaultDiscoveryTTL
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = networking.NewHttpClientBuilder().WithTimeout(cfg.Timeout).Build()
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

// Zone returns the zone this client is bound to.
func (c *Client) Zone() Zone {
	return c.cfg.Zone
}

// DiscoverMetadata fetches (or returns the cached) RFC 8414 metadata
// document for the zone. It tries the OAuth authorization-server well-known
// path first and falls back to OIDC discovery, merging registration_endpoint
// when only the fallback document carries it.
func (c *Client) DiscoverMetadata(ctx context.Context) (*ServerMetadata, error) {
	c.mu.Lock()
	if c.meta != nil && time.Since(c.metaFetched) < c.cfg.DiscoveryTTL {
		meta := c.meta
		c.mu.Unlock()
		return meta, nil
	}
	c.mu.Unlock()

	// Coalesce concurrent cold-cache callers into one fetch.
	doc, err, _ := c.discoverGroup.Do("discover", func() (any, error) {
		return c.discoverMetadata(ctx)
	})
	if err != nil {
		return nil, err
	}
	return doc.(*ServerMetadata), nil
}

func (c *Client) discoverMetadata(ctx context.Context) (*ServerMetadata, error) {
	c.mu.Lock()
	if c.meta != nil && time.Since(c.metaFetched) < c.cfg.DiscoveryTTL {
		meta := c.meta
		c.mu.Unlock()
		return meta, nil
	}
	c.mu.Unlock()

	base := strings.TrimSuffix(c.cfg.Zone.BaseURL(), "/")
	oauthURL, oidcURL, err := wellKnownURLs(base)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	doc, oauthErr := c.fetchMetadata(ctx, oauthURL)
	if oauthErr != nil {
		logger.Debugf("OAuth server metadata unavailable at %s: %v", oauthURL, oauthErr)
		doc, err = c.fetchMetadata(ctx, oidcURL)
		if err != nil {
			return nil, fmt.Errorf("unable to discover server metadata at %q or %q: %v; %w", oauthURL, oidcURL, oauthErr, err)
		}
	} else if doc.RegistrationEndpoint == "" {
		// Some servers publish registration only in the OIDC document.
		if oidcDoc, oidcErr := c.fetchMetadata(ctx, oidcURL); oidcErr == nil &&
			oidcDoc.RegistrationEndpoint != "" && oidcDoc.Issuer == doc.Issuer {
			doc.RegistrationEndpoint = oidcDoc.RegistrationEndpoint
			logger.Debugf("Merged registration_endpoint from OIDC discovery: %s", doc.RegistrationEndpoint)
		}
	}

	c.mu.Lock()
	c.meta = doc
	c.metaFetched = time.Now()
	c.mu.Unlock()
	return doc, nil
}

// wellKnownURLs builds the RFC 8414 and OIDC discovery URLs, handling
// path-scoped tenants (/.well-known/oauth-authorization-server/{tenant} vs
// /{tenant}/.well-known/openid-configuration).
func wellKnownURLs(base string) (oauthURL, oidcURL string, err error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("invalid zone base URL: %w", err)
	}
	tenant := strings.Trim(u.EscapedPath(), "/")
	root := url.URL{Scheme: u.Scheme, Host: u.Host}

	oauth := root
	oauth.Path = WellKnownOAuthServerPath
	if tenant != "" {
		oauth.Path += "/" + tenant
	}

	oidc := root
	oidc.Path = "/"
	if tenant != "" {
		oidc.Path += tenant
	}
	oidc.Path = strings.TrimSuffix(oidc.Path, "/") + WellKnownOIDCPath

	return oauth.String(), oidc.String(), nil
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*ServerMetadata, error) {
	body, err := c.getJSON(ctx, metadataURL)
	if err != nil {
		return nil, err
	}
	var doc ServerMetadata
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%s: malformed metadata document: %w", metadataURL, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", metadataURL, err)
	}
	for name, endpoint := range map[string]string{
		"authorization_endpoint": doc.AuthorizationEndpoint,
		"token_endpoint":         doc.TokenEndpoint,
		"jwks_uri":               doc.JWKSURI,
	} {
		if endpoint == "" {
			continue
		}
		if err := networking.ValidateEndpointURLWithInsecure(endpoint, c.cfg.InsecureAllowHTTP); err != nil {
			return nil, fmt.Errorf("%s: invalid %s: %w", metadataURL, name, err)
		}
	}
	return &doc, nil
}

// resolveEndpoint applies the strict precedence rule: explicit override,
// then discovery (if enabled), then the hard-coded default path.
func (c *Client) resolveEndpoint(ctx context.Context, kind endpointKind) (string, error) {
	if override := c.endpointOverride(kind); override != "" {
		return override, nil
	}

	if c.cfg.DiscoveryEnabled {
		meta, err := c.DiscoverMetadata(ctx)
		if err != nil {
			return "", err
		}
		if discovered := endpointFromMetadata(meta, kind); discovered != "" {
			return discovered, nil
		}
	}

	base := strings.TrimSuffix(c.cfg.Zone.BaseURL(), "/")
	switch kind {
	case endpointAuthorize:
		return base + DefaultAuthorizePath, nil
	case endpointToken:
		return base + DefaultTokenPath, nil
	case endpointRegister:
		return base + DefaultRegisterPath, nil
	case endpointIntrospect:
		return base + DefaultIntrospectPath, nil
	case endpointRevoke:
		return base + DefaultRevokePath, nil
	case endpointPAR:
		return base + DefaultPARPath, nil
	}
	return "", &ConfigError{Reason: fmt.Sprintf("no endpoint resolvable for %s", kind)}
}

func (c *Client) endpointOverride(kind endpointKind) string {
	switch kind {
	case endpointAuthorize:
		return c.cfg.Endpoints.Authorization
	case endpointToken:
		return c.cfg.Endpoints.Token
	case endpointRegister:
		return c.cfg.Endpoints.Registration
	case endpointIntrospect:
		return c.cfg.Endpoints.Introspection
	case endpointRevoke:
		return c.cfg.Endpoints.Revocation
	case endpointPAR:
		return c.cfg.Endpoints.PushedAuthorizationRequest
	}
	return ""
}

func endpointFromMetadata(meta *ServerMetadata, kind endpointKind) string {
	switch kind {
	case endpointAuthorize:
		return meta.AuthorizationEndpoint
	case endpointToken:
		return meta.TokenEndpoint
	case endpointRegister:
		return meta.RegistrationEndpoint
	case endpointIntrospect:
		return meta.IntrospectionEndpoint
	case endpointRevoke:
		return meta.RevocationEndpoint
	case endpointPAR:
		return meta.PushedAuthorizationRequestEndpoint
	}
	return ""
}

// AuthorizationEndpoint resolves the authorization endpoint for URL building.
func (c *Client) AuthorizationEndpoint(ctx context.Context) (string, error) {
	return c.resolveEndpoint(ctx, endpointAuthorize)
}

// TokenEndpoint resolves the token endpoint.
func (c *Client) TokenEndpoint(ctx context.Context) (string, error) {
	return c.resolveEndpoint(ctx, endpointToken)
}

// RegisterClient performs RFC 7591 dynamic client registration.
func (c *Client) RegisterClient(ctx context.Context, request *RegistrationRequest) (*RegistrationResponse, error) {
	if request == nil {
		return nil, &ConfigError{Reason: "registration request cannot be nil"}
	}
	if len(request.RedirectURIs) == 0 {
		return nil, &ConfigError{Reason: "at least one redirect URI is required"}
	}
	if len(request.GrantTypes) == 0 {
		request.GrantTypes = []string{GrantTypeAuthorizationCode}
	}
	if len(request.ResponseTypes) == 0 {
		request.ResponseTypes = []string{ResponseTypeCode}
	}
	if request.TokenEndpointAuthMethod == "" {
		request.TokenEndpointAuthMethod = TokenEndpointAuthMethodNone
	}

	endpoint, err := c.resolveEndpoint(ctx, endpointRegister)
	if err != nil {
		return nil, err
	}

	body, err := c.retry(ctx, func() ([]byte, error) {
		return c.postJSONOnce(ctx, endpoint, request)
	})
	if err != nil {
		return nil, err
	}

	var response RegistrationResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode registration response: %w", err)
	}
	if response.ClientID == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}
	logger.Infof("Registered OAuth client dynamically - client_id: %s", response.ClientID)
	return &response, nil
}

// ExchangeRequest carries the RFC 8693 token-exchange parameters.
type ExchangeRequest struct {
	SubjectToken       string
	SubjectTokenType   string
	ActorToken         string
	ActorTokenType     string
	Resource           string
	Audience           string
	Scope              []string
	RequestedTokenType string
}

// ExchangeToken performs an RFC 8693 token exchange. When both resource and
// audience are set, both are sent verbatim and the server chooses.
func (c *Client) ExchangeToken(ctx context.Context, request ExchangeRequest) (*Token, error) {
	if request.SubjectToken == "" {
		return nil, &ConfigError{Reason: "subject_token is required"}
	}
	if request.SubjectTokenType == "" {
		request.SubjectTokenType = TokenTypeAccessToken
	}
	if request.RequestedTokenType == "" {
		request.RequestedTokenType = TokenTypeAccessToken
	}

	data := url.Values{}
	data.Set("grant_type", GrantTypeTokenExchange)
	data.Set("subject_token", request.SubjectToken)
	data.Set("subject_token_type", request.SubjectTokenType)
	data.Set("requested_token_type", request.RequestedTokenType)
	if request.ActorToken != "" {
		data.Set("actor_token", request.ActorToken)
		if request.ActorTokenType != "" {
			data.Set("actor_token_type", request.ActorTokenType)
		}
	}
	if request.Resource != "" {
		data.Set("resource", request.Resource)
	}
	if request.Audience != "" {
		data.Set("audience", request.Audience)
	}
	if len(request.Scope) > 0 {
		data.Set("scope", strings.Join(request.Scope, " "))
	}

	tok, err := c.tokenGrant(ctx, data, request.Resource)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return nil, &TokenExchangeError{
				ProtocolError: *pe,
				Resource:      request.Resource,
				Audience:      request.Audience,
			}
		}
		return nil, err
	}
	if tok.IssuedTokenType != "" && tok.IssuedTokenType != TokenTypeAccessToken {
		logger.Warnf("Token exchange issued non-access token type %q", tok.IssuedTokenType)
	}
	return tok, nil
}

// AuthorizationCodeGrant redeems an authorization code with its PKCE
// verifier. clientID is sent in the body for public clients; confidential
// clients authenticate via the configured strategy instead.
func (c *Client) AuthorizationCodeGrant(
	ctx context.Context,
	code, codeVerifier, redirectURI, clientID, resource string,
) (*Token, error) {
	if code == "" {
		return nil, &ConfigError{Reason: "authorization code is required"}
	}
	data := url.Values{}
	data.Set("grant_type", GrantTypeAuthorizationCode)
	data.Set("code", code)
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}
	if redirectURI != "" {
		data.Set("redirect_uri", redirectURI)
	}
	if clientID != "" {
		data.Set("client_id", clientID)
	}
	if resource != "" {
		data.Set("resource", resource)
	}
	return c.tokenGrant(ctx, data, resource)
}

// RefreshGrant redeems a refresh token.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken, clientID, resource string) (*Token, error) {
	if refreshToken == "" {
		return nil, &ConfigError{Reason: "refresh token is required"}
	}
	data := url.Values{}
	data.Set("grant_type", GrantTypeRefreshToken)
	data.Set("refresh_token", refreshToken)
	if clientID != "" {
		data.Set("client_id", clientID)
	}
	if resource != "" {
		data.Set("resource", resource)
	}
	return c.tokenGrant(ctx, data, resource)
}

// ClientCredentialsGrant obtains a token for the client itself.
func (c *Client) ClientCredentialsGrant(ctx context.Context, scopes []string, resource string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", GrantTypeClientCredentials)
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}
	if resource != "" {
		data.Set("resource", resource)
	}
	return c.tokenGrant(ctx, data, resource)
}

func (c *Client) tokenGrant(ctx context.Context, data url.Values, resource string) (*Token, error) {
	endpoint, err := c.resolveEndpoint(ctx, endpointToken)
	if err != nil {
		return nil, err
	}
	body, err := c.retry(ctx, func() ([]byte, error) {
		return c.postFormOnce(ctx, endpoint, data)
	})
	if err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	if resp.TokenType == "" {
		return nil, fmt.Errorf("token response missing token_type")
	}
	return resp.toToken(time.Now(), resource), nil
}

// Introspect calls the RFC 7662 introspection endpoint.
func (c *Client) Introspect(ctx context.Context, token string) (*IntrospectionResponse, error) {
	endpoint, err := c.resolveEndpoint(ctx, endpointIntrospect)
	if err != nil {
		return nil, err
	}
	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")

	body, err := c.retry(ctx, func() ([]byte, error) {
		return c.postFormOnce(ctx, endpoint, data)
	})
	if err != nil {
		return nil, err
	}
	var resp IntrospectionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse introspection response: %w", err)
	}
	return &resp, nil
}

// Revoke calls the RFC 7009 revocation endpoint. Revoking an unknown or
// already-revoked token succeeds per the RFC.
func (c *Client) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	endpoint, err := c.resolveEndpoint(ctx, endpointRevoke)
	if err != nil {
		return err
	}
	data := url.Values{}
	data.Set("token", token)
	if tokenTypeHint != "" {
		data.Set("token_type_hint", tokenTypeHint)
	}
	_, err = c.retry(ctx, func() ([]byte, error) {
		return c.postFormOnce(ctx, endpoint, data)
	})
	return err
}

// PushAuthorizationRequest posts authorization parameters per RFC 9126 and
// returns the request_uri to use at the authorization endpoint.
func (c *Client) PushAuthorizationRequest(ctx context.Context, params url.Values) (*PARResponse, error) {
	endpoint, err := c.resolveEndpoint(ctx, endpointPAR)
	if err != nil {
		return nil, err
	}
	body, err := c.retry(ctx, func() ([]byte, error) {
		return c.postFormOnce(ctx, endpoint, params)
	})
	if err != nil {
		return nil, err
	}
	var resp PARResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse PAR response: %w", err)
	}
	if resp.RequestURI == "" {
		return nil, fmt.Errorf("PAR response missing request_uri")
	}
	return &resp, nil
}

// retry runs op with exponential backoff and full jitter, bounded by the
// configured attempt count. Non-retriable errors abort immediately; bodies
// are never resent after a protocol-level error.
func (c *Client) retry(ctx context.Context, op func() ([]byte, error)) ([]byte, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxInterval = c.cfg.MaxRetryDelay

	return backoff.Retry(ctx, func() ([]byte, error) {
		body, err := op()
		if err != nil && !Retriable(err) {
			return nil, backoff.Permanent(err)
		}
		return body, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, delay time.Duration) {
			logger.Debugf("Retrying OAuth call after %s: %v", delay, err)
		}),
	)
}

// postFormOnce issues a single authenticated form POST and classifies the
// outcome into the error taxonomy.
func (c *Client) postFormOnce(ctx context.Context, endpoint string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if err := c.cfg.Auth.Apply(req, c.cfg.Zone.Key()); err != nil {
		return nil, err
	}
	return c.do(req)
}

// postJSONOnce issues a single JSON POST (registration).
func (c *Client) postJSONOnce(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	return c.do(req)
}

// getJSON issues a GET expecting a JSON body (discovery).
func (c *Client) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debugf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return body, nil
	}
	if pe := parseProtocolError(resp.StatusCode, body); pe != nil {
		return nil, pe
	}
	return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
}
