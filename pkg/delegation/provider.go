// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcpdelegate/pkg/logger"
	"github.com/stacklok/mcpdelegate/pkg/networking"
	"github.com/stacklok/mcpdelegate/pkg/oauth"
	"github.com/stacklok/mcpdelegate/pkg/telemetry"
	"github.com/stacklok/mcpdelegate/pkg/verifier"
)

// DefaultMaxParallelExchanges caps the concurrency of multi-resource grants.
const DefaultMaxParallelExchanges = 8

// Config configures a Provider for one protected MCP server.
type Config struct {
	// Zone is the authorization-server tenant that issues inbound tokens
	// and performs exchanges.
	Zone oauth.Zone

	// MCPServerName is the logical service name, reported on /status.
	MCPServerName string

	// MCPBaseURL is the public base URL of this server. Its normalized
	// form is the resource URL inbound tokens must be scoped to.
	MCPBaseURL string

	// ProtectedPath is where the MCP application is mounted. Defaults to
	// "/mcp".
	ProtectedPath string

	// Credential authenticates the provider's own token-exchange calls.
	// Without it, grants fail with a configuration error.
	Credential *oauth.ClientCredentials

	// Scopes advertised in the protected-resource metadata.
	Scopes []string

	// ClockSkew, JWKSCacheTTL, and DiscoveryTTL tune validation; zero
	// values use the package defaults.
	ClockSkew    time.Duration
	JWKSCacheTTL time.Duration
	DiscoveryTTL time.Duration

	// MaxParallelExchanges bounds grant_multi concurrency. Zero means 8.
	MaxParallelExchanges int

	// HTTPClient overrides the transport; mainly for tests.
	HTTPClient networking.HTTPClient

	// InsecureAllowHTTP permits plain-HTTP zone endpoints. Testing only.
	InsecureAllowHTTP bool
}

// ToolGrant declares, as tool metadata, the downstream resources a tool
// needs delegated tokens for. The pre-handler stage materializes them into
// an AccessContext before the tool body runs.
type ToolGrant struct {
	Resources []string
}

// Grant declares a single-resource delegation requirement.
func Grant(resource string) ToolGrant {
	return ToolGrant{Resources: []string{resource}}
}

// GrantMulti declares a multi-resource delegation requirement; exchanges run
// concurrently.
func GrantMulti(resources ...string) ToolGrant {
	return ToolGrant{Resources: resources}
}

// Provider protects an MCP server with bearer-token authentication and
// performs per-tool token exchange on behalf of the authenticated caller.
type Provider struct {
	cfg         Config
	resourceURL string
	client      *oauth.Client
	verifier    *verifier.Verifier
	metrics     *telemetry.Metrics
}

// New discovers the zone's metadata and returns a ready Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.MCPBaseURL == "" {
		return nil, fmt.Errorf("MCP base URL is required")
	}
	if cfg.ProtectedPath == "" {
		cfg.ProtectedPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.ProtectedPath, "/") {
		cfg.ProtectedPath = "/" + cfg.ProtectedPath
	}
	if cfg.MaxParallelExchanges <= 0 {
		cfg.MaxParallelExchanges = DefaultMaxParallelExchanges
	}
	resourceURL, err := oauth.NormalizeResourceURI(strings.TrimSuffix(cfg.MCPBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid MCP base URL: %w", err)
	}

	var auth oauth.Authenticator = oauth.NoneAuth{}
	if cfg.Credential != nil {
		auth = oauth.BasicAuth{Credentials: *cfg.Credential}
	}
	client, err := oauth.NewClient(oauth.ClientConfig{
		Zone:              cfg.Zone,
		DiscoveryEnabled:  true,
		DiscoveryTTL:      cfg.DiscoveryTTL,
		Auth:              auth,
		HTTPClient:        cfg.HTTPClient,
		InsecureAllowHTTP: cfg.InsecureAllowHTTP,
	})
	if err != nil {
		return nil, err
	}

	meta, err := client.DiscoverMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover zone metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return nil, fmt.Errorf("zone %s advertises no jwks_uri", cfg.Zone.BaseURL())
	}

	verifierCfg := verifier.Config{
		Issuer:       meta.Issuer,
		Audience:     resourceURL,
		JWKSURL:      meta.JWKSURI,
		ClockSkew:    cfg.ClockSkew,
		JWKSCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.Credential != nil && meta.IntrospectionEndpoint != "" {
		verifierCfg.IntrospectionEndpoint = meta.IntrospectionEndpoint
		verifierCfg.ClientID = cfg.Credential.ClientID
		verifierCfg.ClientSecret = cfg.Credential.ClientSecret
	}
	v, err := verifier.New(ctx, verifierCfg)
	if err != nil {
		return nil, err
	}

	return &Provider{
		cfg:         cfg,
		resourceURL: resourceURL,
		client:      client,
		verifier:    v,
		metrics:     telemetry.NewMetrics(),
	}, nil
}

// ResourceURL returns the normalized resource URL this provider protects.
func (p *Provider) ResourceURL() string {
	return p.resourceURL
}

// ResourceMetadataURL returns the absolute URL of the protected-resource
// metadata document for the protected path, used in challenges.
func (p *Provider) ResourceMetadataURL() string {
	return p.resourceURL + oauth.WellKnownProtectedResourcePath + p.cfg.ProtectedPath
}

// Authenticate validates the bearer token on an incoming request.
func (p *Provider) Authenticate(r *http.Request) (*verifier.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, verifier.ErrNoToken
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return nil, verifier.ErrNoToken
	}
	identity, err := p.verifier.VerifyToken(r.Context(), tokenString)
	if err != nil {
		telemetry.Add(r.Context(), p.metrics.VerifierRejections,
			telemetry.AttrResource.String(p.resourceURL))
		return nil, err
	}
	return identity, nil
}

// Exchange obtains a downstream token for resource using the caller's token
// as subject_token, authenticated with the provider's own credentials.
func (p *Provider) Exchange(ctx context.Context, identity *verifier.Identity, resource string) (*oauth.Token, error) {
	if p.cfg.Credential == nil {
		return nil, &oauth.ConfigError{Reason: "token exchange requires an application credential"}
	}
	token, err := p.client.ExchangeToken(ctx, oauth.ExchangeRequest{
		SubjectToken:     identity.RawToken,
		SubjectTokenType: oauth.TokenTypeAccessToken,
		Resource:         resource,
	})
	telemetry.Add(ctx, p.metrics.TokenExchanges,
		telemetry.AttrResource.String(resource), telemetry.Outcome(err))
	return token, err
}

// PopulateAccessContext runs the exchanges a ToolGrant declares and returns
// the fully materialized AccessContext. Protocol-level denials land in the
// per-resource slot; configuration errors and terminal transport failures
// land in the global slot. The tool body runs either way.
func (p *Provider) PopulateAccessContext(
	ctx context.Context,
	identity *verifier.Identity,
	grant ToolGrant,
) *AccessContext {
	ac := newAccessContext(len(grant.Resources))
	if len(grant.Resources) == 0 {
		return ac
	}
	if p.cfg.Credential == nil {
		ac.setGlobalError(&oauth.ConfigError{Reason: "token exchange requires an application credential"})
		return ac
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(min(len(grant.Resources), p.cfg.MaxParallelExchanges))

	for _, resource := range grant.Resources {
		group.Go(func() error {
			token, err := p.Exchange(groupCtx, identity, resource)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ac.setToken(resource, token)
			case isResourceError(err):
				logger.Debugw("Delegation denied", "resource", resource, "error", err)
				ac.setError(resource, err)
			default:
				logger.Warnw("Delegation failed", "resource", resource, "error", err)
				ac.setError(resource, err)
				if ac.globalErr == nil {
					ac.setGlobalError(err)
				}
			}
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes completion.
	_ = group.Wait()
	return ac
}

// isResourceError reports whether the failure is attributable to the single
// resource (an authorization-server denial) rather than to the exchange
// machinery as a whole.
func isResourceError(err error) bool {
	var te *oauth.TokenExchangeError
	var pe *oauth.ProtocolError
	return errors.As(err, &te) || errors.As(err, &pe)
}
