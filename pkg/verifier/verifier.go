// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
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

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/mcpdelegate/pkg/logger"
	"github.com/stacklok/mcpdelegate/pkg/networking"
)

// Defaults for the validation knobs of Config.
const (
	DefaultJWKSCacheTTL = 15 * time.Minute
	DefaultClockSkew    = 60 * time.Second
	MaxClockSkew        = 60 * time.Second
)

// Config configures a Verifier for one protected resource.
type Config struct {
	// Issuer is the zone issuer the iss claim must equal.
	Issuer string

	// Audience is the resource URL the aud claim must contain, exactly.
	Audience string

	// JWKSURL is where the zone publishes its signing keys.
	JWKSURL string

	// ClockSkew is the tolerance applied to exp and nbf. Values above 60s
	// are clamped; zero means 60s.
	ClockSkew time.Duration

	// JWKSCacheTTL bounds reuse of a force-refreshed key set. Zero means
	// 15 minutes.
	JWKSCacheTTL time.Duration

	// IntrospectionEndpoint enables the RFC 7662 fallback for opaque
	// (non-JWT) tokens when set.
	IntrospectionEndpoint string

	// ClientID and ClientSecret authenticate introspection calls.
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the transport used for JWKS and introspection.
	HTTPClient *http.Client
}

// Verifier validates bearer tokens against one zone's JWKS. Safe for
// concurrent use; concurrent refreshes of the same JWKS coalesce to a single
// in-flight fetch.
type Verifier struct {
	cfg    Config
	client *http.Client
	cache  *jwk.Cache

	// refreshed holds the result of the last forced fetch, consulted when
	// the background cache does not know a key ID yet.
	mu          sync.RWMutex
	refreshed   jwk.Set
	refreshedAt time.Time

	refreshGroup singleflight.Group

	registerOnce sync.Once
	registerErr  error
}

// New validates the configuration and returns a Verifier. The JWKS is
// registered lazily on first use so construction never blocks on the network.
func New(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("verifier requires an issuer")
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("verifier requires an audience")
	}
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("verifier requires a JWKS URL")
	}
	if cfg.ClockSkew <= 0 || cfg.ClockSkew > MaxClockSkew {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.JWKSCacheTTL <= 0 {
		cfg.JWKSCacheTTL = DefaultJWKSCacheTTL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = networking.NewHttpClientBuilder().Build()
	}

	httprcClient := httprc.NewClient(httprc.WithHTTPClient(client))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	return &Verifier{cfg: cfg, client: client, cache: cache}, nil
}

// Audience returns the resource URL this verifier accepts tokens for.
func (v *Verifier) Audience() string {
	return v.cfg.Audience
}

// Issuer returns the configured zone issuer.
func (v *Verifier) Issuer() string {
	return v.cfg.Issuer
}

// VerifyToken validates a presented bearer token and returns the caller's
// Identity. Non-JWT tokens fall back to introspection when configured.
func (v *Verifier) VerifyToken(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithLeeway(v.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.keyForToken(ctx, token)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) && v.cfg.IntrospectionEndpoint != "" {
			return v.introspectOpaqueToken(ctx, tokenString)
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}
	return newIdentity(claims, tokenString), nil
}

// validateClaims checks issuer and audience. Expiry and nbf were already
// enforced by the parser with the configured leeway.
func (v *Verifier) validateClaims(claims jwt.MapClaims) error {
	issuer, err := claims.GetIssuer()
	if err != nil || strings.TrimSpace(issuer) != strings.TrimSpace(v.cfg.Issuer) {
		return ErrInvalidIssuer
	}

	audiences, err := claims.GetAudience()
	if err != nil {
		return ErrInvalidAudience
	}
	for _, aud := range audiences {
		if aud == v.cfg.Audience {
			return nil
		}
	}
	return ErrInvalidAudience
}

// keyForToken resolves the signing key by kid. A kid the cache does not know
// triggers exactly one coalesced refresh of the jwks_uri before failing.
func (v *Verifier) keyForToken(ctx context.Context, token *jwt.Token) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("token header missing kid")
	}

	if key, found := v.lookupCached(ctx, kid); found {
		return exportKey(key)
	}

	set, err := v.forceRefresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}
	if key, found := set.LookupKeyID(kid); found {
		return exportKey(key)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
}

// lookupCached consults the background cache first, then the most recent
// forced fetch if it is still within the cache TTL.
func (v *Verifier) lookupCached(ctx context.Context, kid string) (jwk.Key, bool) {
	if err := v.ensureRegistered(ctx); err == nil {
		if set, err := v.cache.Lookup(ctx, v.cfg.JWKSURL); err == nil {
			if key, found := set.LookupKeyID(kid); found {
				return key, true
			}
		}
	} else {
		logger.Debugf("JWKS registration failed, falling back to direct fetch: %v", err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.refreshed != nil && time.Since(v.refreshedAt) < v.cfg.JWKSCacheTTL {
		if key, found := v.refreshed.LookupKeyID(kid); found {
			return key, true
		}
	}
	return nil, false
}

// forceRefresh fetches the jwks_uri directly. Concurrent callers observing
// the same unknown kid coalesce into one HTTP fetch.
func (v *Verifier) forceRefresh(ctx context.Context) (jwk.Set, error) {
	set, err, _ := v.refreshGroup.Do(v.cfg.JWKSURL, func() (any, error) {
		fetched, err := jwk.Fetch(ctx, v.cfg.JWKSURL, jwk.WithHTTPClient(v.client))
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.refreshed = fetched
		v.refreshedAt = time.Now()
		v.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return set.(jwk.Set), nil
}

// ensureRegistered registers the JWKS URL with the background cache once.
func (v *Verifier) ensureRegistered(ctx context.Context) error {
	v.registerOnce.Do(func() {
		registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := v.cache.Register(registrationCtx, v.cfg.JWKSURL); err != nil {
			v.registerErr = fmt.Errorf("failed to register JWKS URL: %w", err)
		}
	})
	return v.registerErr
}

func exportKey(key jwk.Key) (any, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return raw, nil
}

// introspectOpaqueToken validates a non-JWT token against the RFC 7662
// endpoint and projects the returned claims into an Identity.
func (v *Verifier) introspectOpaqueToken(ctx context.Context, tokenString string) (*Identity, error) {
	form := url.Values{}
	form.Set("token", tokenString)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, v.cfg.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if v.cfg.ClientID != "" && v.cfg.ClientSecret != "" {
		req.SetBasicAuth(v.cfg.ClientID, v.cfg.ClientSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: introspection returned status %d", ErrInvalidToken, resp.StatusCode)
	}

	claims, err := parseIntrospectionClaims(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := v.validateIntrospectedClaims(claims); err != nil {
		return nil, err
	}
	return newIdentity(claims, tokenString), nil
}

// validateIntrospectedClaims applies the same issuer/audience/expiry rules to
// introspection output, with the configured skew.
func (v *Verifier) validateIntrospectedClaims(claims jwt.MapClaims) error {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Before(time.Now().Add(-v.cfg.ClockSkew)) {
		return ErrTokenExpired
	}
	return v.validateClaims(claims)
}

func parseIntrospectionClaims(r io.Reader) (jwt.MapClaims, error) {
	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	active, ok := raw["active"].(bool)
	if !ok || !active {
		return nil, ErrInvalidToken
	}
	delete(raw, "active")
	return jwt.MapClaims(raw), nil
}
