// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/mcpdelegate/pkg/logger"
	"github.com/stacklok/mcpdelegate/pkg/networking"
	"github.com/stacklok/mcpdelegate/pkg/oauth"
	"github.com/stacklok/mcpdelegate/pkg/storage"
	"github.com/stacklok/mcpdelegate/pkg/telemetry"
)

// ErrAuthorizationPending is returned by Connect when the session awaits
// user completion of the authorization flow.
var ErrAuthorizationPending = errors.New("authorization pending: user action required")

// ErrInvalidState is returned when a callback carries an unknown, expired,
// or already used state value.
var ErrInvalidState = errors.New("invalid_request: unknown or expired state")

// ErrUnknownServer is returned for a server name absent from the
// configuration.
var ErrUnknownServer = errors.New("unknown server")

type sessionKey struct {
	contextID  string
	serverName string
}

// AuthChallenge describes a pending authorization the embedding application
// must surface to the user.
type AuthChallenge struct {
	ContextID        string
	ServerName       string
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

// Coordinator orchestrates OAuth for an MCP client across multiple upstream
// servers and contexts. Safe for concurrent use.
type Coordinator struct {
	cfg     Config
	store   storage.Store
	http    networking.HTTPClient
	metrics *telemetry.Metrics

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	clients  map[string]*oauth.Client

	regGroup singleflight.Group

	subMu       sync.Mutex
	subscribers []Subscriber

	// localPort is the resolved loopback port (Local profile). The
	// listener is shared by all concurrent local flows; localWaiters keys
	// each flow's completion channel by session.
	localPort    int
	localMu      sync.Mutex
	localServer  *http.Server
	localWaiters map[sessionKey]chan CompletionEvent
}

// New validates the configuration and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:      cfg,
		store:    cfg.Storage,
		http:     cfg.HTTPClient,
		metrics:  telemetry.NewMetrics(),
		sessions:     make(map[sessionKey]*Session),
		clients:      make(map[string]*oauth.Client),
		localWaiters: make(map[sessionKey]chan CompletionEvent),
	}
	if c.http == nil {
		c.http = networking.NewHttpClientBuilder().Build()
	}
	if cfg.Profile == ProfileLocal {
		port, err := networking.FindOrUsePort(cfg.CallbackPort)
		if err != nil {
			return nil, err
		}
		c.localPort = port
	}
	return c, nil
}

// RedirectURI returns the redirect URI used for authorization requests.
func (c *Coordinator) RedirectURI() string {
	if c.cfg.Profile == ProfileLocal {
		return fmt.Sprintf("http://%s:%d%s", c.cfg.CallbackHost, c.localPort, c.cfg.CallbackPath)
	}
	return c.cfg.RedirectURI
}

// Session returns the session for (context, server), creating it on first
// use.
func (c *Coordinator) Session(contextID, serverName string) (*Session, error) {
	server, ok := c.cfg.Servers[serverName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverName)
	}
	key := sessionKey{contextID: contextID, serverName: serverName}

	c.mu.Lock()
	defer c.mu.Unlock()
	if session, ok := c.sessions[key]; ok {
		return session, nil
	}
	session := newSession(contextID, serverName, server)
	c.sessions[key] = session
	return session, nil
}

// Connect drives the session toward the connected state. It returns nil once
// the session is operational, ErrAuthorizationPending when user action is
// required (Remote, or non-blocking Local), or a terminal error.
func (c *Coordinator) Connect(ctx context.Context, contextID, serverName string) error {
	session, err := c.Session(contextID, serverName)
	if err != nil {
		return err
	}
	c.expirePendingIfStale(ctx, session)

	switch session.Status() {
	case StatusAuthPending:
		return ErrAuthorizationPending
	case StatusInitializing, StatusConnected, StatusAuthFailed, StatusConnectionFailed:
		if err := session.transition(StatusConnecting, nil); err != nil {
			return err
		}
	case StatusConnecting, StatusAuthenticating:
		// Another caller is already driving this session.
		return fmt.Errorf("session %s/%s is busy (%s)", contextID, serverName, session.Status())
	}

	token, err := c.EnsureToken(ctx, contextID, serverName)
	if err != nil {
		logger.Debugw("Token unavailable before connect", "server", serverName, "error", err)
	}

	status, challenge, err := c.probe(ctx, session.Server().URL, token)
	if err != nil {
		_ = session.transition(StatusConnectionFailed, err)
		return fmt.Errorf("failed to reach %s: %w", serverName, err)
	}

	switch {
	case status >= 200 && status <= 299:
		return session.transition(StatusConnected, nil)
	case status == http.StatusUnauthorized:
		if err := c.beginAuthorization(ctx, session, challenge); err != nil {
			return err
		}
		if c.cfg.Profile == ProfileLocal {
			return c.runLocalFlow(ctx, session)
		}
		return ErrAuthorizationPending
	default:
		err := fmt.Errorf("server %s returned status %d", serverName, status)
		_ = session.transition(StatusConnectionFailed, err)
		return err
	}
}

// probe issues a GET against the MCP endpoint, with bearer auth when a token
// is available. Transport failures and 5xx responses are retried with
// backoff before giving up.
func (c *Coordinator) probe(ctx context.Context, serverURL string, token *oauth.Token) (int, string, error) {
	type probeResult struct {
		status    int
		challenge string
	}
	expBackoff := backoff.NewExponentialBackOff()

	result, err := backoff.Retry(ctx, func() (probeResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL, nil)
		if err != nil {
			return probeResult{}, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", oauth.UserAgent)
		if token != nil {
			req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return probeResult{}, &oauth.NetworkError{Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return probeResult{}, &oauth.HTTPError{StatusCode: resp.StatusCode}
		}
		return probeResult{
			status:    resp.StatusCode,
			challenge: resp.Header.Get("WWW-Authenticate"),
		}, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
	)
	if err != nil {
		return 0, "", err
	}
	return result.status, result.challenge, nil
}

// beginAuthorization runs discovery and registration, stores the pending
// record, and parks the session in auth_pending with the authorization URL.
func (c *Coordinator) beginAuthorization(ctx context.Context, session *Session, challengeHeader string) error {
	if err := session.transition(StatusAuthenticating, nil); err != nil {
		return err
	}

	authorizationURL, state, err := c.prepareAuthorization(ctx, session, challengeHeader)
	if err != nil {
		_ = session.transition(StatusAuthFailed, err)
		return err
	}

	expiry := time.Now().Add(c.cfg.PendingTTL)
	if err := session.setAuthPending(authorizationURL, state, expiry); err != nil {
		return err
	}
	telemetry.Add(ctx, c.metrics.AuthFlowsStarted,
		telemetry.AttrServerName.String(session.ServerName()))
	logger.Infow("Authorization pending",
		"context", session.ContextID(), "server", session.ServerName())
	return nil
}

// prepareAuthorization performs steps 1-6 of the authorization-code flow:
// metadata fetch, zone selection, client registration, PKCE, pending-record
// storage, and URL construction.
func (c *Coordinator) prepareAuthorization(
	ctx context.Context,
	session *Session,
	challengeHeader string,
) (authorizationURL, state string, err error) {
	resourceMeta, err := c.fetchResourceMetadata(ctx, session, challengeHeader)
	if err != nil {
		return "", "", err
	}
	zoneURL := resourceMeta.AuthorizationServers[0]

	resource, err := oauth.NormalizeResourceURI(resourceMeta.Resource)
	if err != nil {
		resource, _ = session.Server().baseResource()
	}

	zoneClient, err := c.zoneClient(zoneURL, nil)
	if err != nil {
		return "", "", err
	}
	registered, err := c.ensureRegisteredClient(ctx, zoneClient)
	if err != nil {
		return "", "", err
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return "", "", err
	}
	state, err = oauth.GenerateState()
	if err != nil {
		return "", "", err
	}

	record := &pendingRecord{
		ContextID:    session.ContextID(),
		ServerName:   session.ServerName(),
		State:        state,
		CodeVerifier: pkce.Verifier,
		RedirectURI:  c.RedirectURI(),
		ClientID:     registered.ClientID,
		ZoneURL:      zoneURL,
		Resource:     resource,
		CreatedAt:    time.Now(),
	}
	// The pending record must be durable before the user is redirected.
	if err := c.savePending(ctx, record); err != nil {
		return "", "", err
	}

	authorizationURL, err = c.buildAuthorizationURL(ctx, zoneClient, session, record, pkce)
	if err != nil {
		c.discardPending(ctx, record.ContextID, record.ServerName, record.State)
		return "", "", err
	}
	return authorizationURL, state, nil
}

// fetchResourceMetadata follows the RFC 9728 resource_metadata hint from the
// 401 challenge, falling back to the server's own well-known path when the
// challenge carries no hint.
func (c *Coordinator) fetchResourceMetadata(
	ctx context.Context,
	session *Session,
	challengeHeader string,
) (*oauth.ProtectedResourceMetadata, error) {
	metadataURL := ""
	if challengeHeader != "" {
		if challenge, err := oauth.ParseWWWAuthenticate(challengeHeader); err == nil {
			metadataURL = challenge.ResourceMetadata
		}
	}
	if metadataURL == "" {
		serverURL, err := url.Parse(session.Server().URL)
		if err != nil {
			return nil, fmt.Errorf("invalid server URL: %w", err)
		}
		metadataURL = serverURL.Scheme + "://" + serverURL.Host +
			oauth.WellKnownProtectedResourcePath + serverURL.EscapedPath()
	}
	return oauth.FetchProtectedResourceMetadata(ctx, c.http, metadataURL)
}

// buildAuthorizationURL assembles the authorization request, optionally
// routed through PAR when configured and advertised by the zone.
func (c *Coordinator) buildAuthorizationURL(
	ctx context.Context,
	zoneClient *oauth.Client,
	session *Session,
	record *pendingRecord,
	pkce *oauth.PKCE,
) (string, error) {
	endpoint, err := zoneClient.AuthorizationEndpoint(ctx)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("client_id", record.ClientID)
	params.Set("redirect_uri", record.RedirectURI)
	params.Set("response_type", oauth.ResponseTypeCode)
	params.Set("code_challenge", pkce.Challenge)
	params.Set("code_challenge_method", pkce.Method)
	params.Set("state", record.State)
	params.Set("resource", record.Resource)
	if scopes := session.Server().Scopes; len(scopes) > 0 {
		params.Set("scope", strings.Join(scopes, " "))
	}

	if c.cfg.UsePAR {
		if meta, err := zoneClient.DiscoverMetadata(ctx); err == nil && meta.SupportsPAR() {
			parResp, err := zoneClient.PushAuthorizationRequest(ctx, params)
			if err != nil {
				return "", err
			}
			short := url.Values{}
			short.Set("client_id", record.ClientID)
			short.Set("request_uri", parResp.RequestURI)
			return endpoint + "?" + short.Encode(), nil
		}
	}
	return endpoint + "?" + params.Encode(), nil
}

// CompleteAuthorization is the completion endpoint contract: a framework
// neutral callable taking the callback parameter map. It consumes the
// pending record, exchanges the code, stores the token, transitions the
// session, and publishes a CompletionEvent.
//
// A nil error with event.Success == false means the authorization server
// reported a user-visible failure; a non-nil error means the callback itself
// was invalid (unknown or replayed state).
func (c *Coordinator) CompleteAuthorization(ctx context.Context, params map[string]string) (*CompletionEvent, error) {
	state := params["state"]
	if state == "" {
		return nil, fmt.Errorf("%w: missing state parameter", ErrInvalidState)
	}

	record, err := c.consumePending(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	session, err := c.Session(record.ContextID, record.ServerName)
	if err != nil {
		return nil, err
	}
	// Callback received: the exchange is in progress.
	if err := session.transition(StatusAuthenticating, nil); err != nil {
		logger.Debugw("Completing authorization outside auth_pending", "error", err)
	}

	if errParam := params["error"]; errParam != "" {
		cause := fmt.Errorf("authorization failed: %s: %s", errParam, params["error_description"])
		return c.completeFailure(ctx, session, record, ReasonDenied, cause), nil
	}
	code := params["code"]
	if code == "" {
		cause := errors.New("callback missing authorization code")
		return c.completeFailure(ctx, session, record, ReasonInvalid, cause), nil
	}

	token, err := c.redeemCode(ctx, record, code)
	if err != nil {
		return c.completeFailure(ctx, session, record, ReasonExchange, err), nil
	}

	// The token must be durably stored before the session reports success.
	if err := c.saveToken(ctx, record.ContextID, record.ServerName, token); err != nil {
		return c.completeFailure(ctx, session, record, ReasonExchange, err), nil
	}
	if err := session.transition(StatusConnected, nil); err != nil {
		logger.Warnw("Session transition after token exchange failed", "error", err)
	}

	event := &CompletionEvent{
		ContextID:  record.ContextID,
		ServerName: record.ServerName,
		State:      record.State,
		Success:    true,
		Result:     "authorization complete",
		Metadata:   session.Metadata(),
	}
	telemetry.Add(ctx, c.metrics.AuthFlowsCompleted,
		telemetry.AttrServerName.String(record.ServerName), telemetry.Outcome(nil))
	c.publish(*event)
	return event, nil
}

// redeemCode exchanges the authorization code using the stored PKCE verifier
// and the registered client's credentials.
func (c *Coordinator) redeemCode(ctx context.Context, record *pendingRecord, code string) (*tokenRecord, error) {
	credentials, err := c.clientCredentials(ctx, record.ZoneURL)
	if err != nil {
		return nil, err
	}
	zoneClient, err := c.zoneClient(record.ZoneURL, credentials)
	if err != nil {
		return nil, err
	}
	token, err := zoneClient.AuthorizationCodeGrant(
		ctx, code, record.CodeVerifier, record.RedirectURI, record.ClientID, record.Resource)
	if err != nil {
		return nil, err
	}
	return &tokenRecord{Token: *token, ZoneURL: record.ZoneURL, ClientID: record.ClientID}, nil
}

// completeFailure transitions the session to auth_failed and publishes the
// failure event.
func (c *Coordinator) completeFailure(
	ctx context.Context,
	session *Session,
	record *pendingRecord,
	reason string,
	cause error,
) *CompletionEvent {
	logger.Warnw("Authorization failed",
		"context", record.ContextID, "server", record.ServerName,
		"reason", reason, "error", cause)
	_ = session.transition(StatusAuthFailed, cause)

	event := &CompletionEvent{
		ContextID:  record.ContextID,
		ServerName: record.ServerName,
		State:      record.State,
		Success:    false,
		Reason:     reason,
		Result:     cause.Error(),
		Metadata:   session.Metadata(),
	}
	telemetry.Add(ctx, c.metrics.AuthFlowsCompleted,
		telemetry.AttrServerName.String(record.ServerName), telemetry.Outcome(cause))
	c.publish(*event)
	return event
}

// EnsureToken returns a token valid for at least the safety margin, silently
// refreshing when possible. It returns (nil, nil) when no usable token
// exists and a fresh authorization is required.
func (c *Coordinator) EnsureToken(ctx context.Context, contextID, serverName string) (*oauth.Token, error) {
	record, err := c.loadToken(ctx, contextID, serverName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if record.Valid(c.cfg.TokenSafetyMargin) {
		return &record.Token, nil
	}

	if record.RefreshToken != "" {
		refreshed, err := c.refreshToken(ctx, contextID, serverName, record)
		if err == nil {
			return refreshed, nil
		}
		logger.Warnw("Token refresh failed, re-authentication required",
			"server", serverName, "error", err)
	}

	// Not refreshable: discard and provoke a fresh 401 on the next
	// connect.
	_ = c.deleteToken(ctx, contextID, serverName)
	if session, err := c.Session(contextID, serverName); err == nil && session.Status() == StatusConnected {
		_ = session.transition(StatusConnecting, nil)
	}
	return nil, nil
}

// refreshToken redeems the refresh token and replaces the stored record.
func (c *Coordinator) refreshToken(
	ctx context.Context,
	contextID, serverName string,
	record *tokenRecord,
) (*oauth.Token, error) {
	credentials, err := c.clientCredentials(ctx, record.ZoneURL)
	if err != nil {
		return nil, err
	}
	zoneClient, err := c.zoneClient(record.ZoneURL, credentials)
	if err != nil {
		return nil, err
	}
	token, err := zoneClient.RefreshGrant(ctx, record.RefreshToken, record.ClientID, record.Resource)
	telemetry.Add(ctx, c.metrics.TokenRefreshes,
		telemetry.AttrServerName.String(serverName), telemetry.Outcome(err))
	if err != nil {
		return nil, err
	}

	replaced := &tokenRecord{Token: *token, ZoneURL: record.ZoneURL, ClientID: record.ClientID}
	if err := c.saveToken(ctx, contextID, serverName, replaced); err != nil {
		return nil, err
	}
	return token, nil
}

// GetAuthChallenges lists the pending authorizations for a context. Stale
// pendings are expired as a side effect.
func (c *Coordinator) GetAuthChallenges(ctx context.Context, contextID string) []AuthChallenge {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for key, session := range c.sessions {
		if key.contextID == contextID {
			sessions = append(sessions, session)
		}
	}
	c.mu.Unlock()

	var challenges []AuthChallenge
	for _, session := range sessions {
		c.expirePendingIfStale(ctx, session)
		session.mu.Lock()
		if session.status == StatusAuthPending {
			challenges = append(challenges, AuthChallenge{
				ContextID:        session.contextID,
				ServerName:       session.serverName,
				AuthorizationURL: session.authorizationURL,
				State:            session.pendingState,
				ExpiresAt:        session.pendingExpiry,
			})
		}
		session.mu.Unlock()
	}
	return challenges
}

// GetAuthPending returns the pending challenge for (context, server), or nil
// once the flow has completed, failed, or expired.
func (c *Coordinator) GetAuthPending(ctx context.Context, contextID, serverName string) *AuthChallenge {
	for _, challenge := range c.GetAuthChallenges(ctx, contextID) {
		if challenge.ServerName == serverName {
			return &challenge
		}
	}
	return nil
}

// CancelAuthorization aborts a pending authorization: the pending record and
// state index are removed and the session fails with cause cancelled.
func (c *Coordinator) CancelAuthorization(ctx context.Context, contextID, serverName string) error {
	session, err := c.Session(contextID, serverName)
	if err != nil {
		return err
	}
	session.mu.Lock()
	state := session.pendingState
	pending := session.status == StatusAuthPending
	session.mu.Unlock()
	if !pending {
		return nil
	}

	c.discardPending(ctx, contextID, serverName, state)
	cause := errors.New(ReasonCancelled)
	if err := session.transition(StatusAuthFailed, cause); err != nil {
		return err
	}
	c.publish(CompletionEvent{
		ContextID:  contextID,
		ServerName: serverName,
		State:      state,
		Success:    false,
		Reason:     ReasonCancelled,
		Result:     "authorization cancelled",
		Metadata:   session.Metadata(),
	})
	return nil
}

// expirePendingIfStale auto-fails a pending authorization whose TTL has
// elapsed. The storage TTL already guarantees a late callback cannot redeem
// the state; this keeps the session state machine in agreement.
func (c *Coordinator) expirePendingIfStale(ctx context.Context, session *Session) {
	session.mu.Lock()
	expired := session.status == StatusAuthPending &&
		!session.pendingExpiry.IsZero() && time.Now().After(session.pendingExpiry)
	state := session.pendingState
	session.mu.Unlock()
	if !expired {
		return
	}

	c.discardPending(ctx, session.ContextID(), session.ServerName(), state)
	cause := errors.New(ReasonTimeout)
	if err := session.transition(StatusAuthFailed, cause); err != nil {
		return
	}
	logger.Infow("Pending authorization expired",
		"context", session.ContextID(), "server", session.ServerName())
	c.publish(CompletionEvent{
		ContextID:  session.ContextID(),
		ServerName: session.ServerName(),
		State:      state,
		Success:    false,
		Reason:     ReasonTimeout,
		Result:     "authorization timed out",
		Metadata:   session.Metadata(),
	})
}

// zoneClient returns (building and caching as needed) the OAuth client for a
// zone, optionally bound to client credentials for confidential clients.
func (c *Coordinator) zoneClient(zoneURL string, credentials *oauth.ClientCredentials) (*oauth.Client, error) {
	zone := oauth.Zone{URL: strings.TrimSuffix(zoneURL, "/")}
	cacheKey := zone.Key()
	var auth oauth.Authenticator = oauth.NoneAuth{}
	if credentials != nil {
		cacheKey += "|" + credentials.ClientID
		auth = oauth.BasicAuth{Credentials: *credentials}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[cacheKey]; ok {
		return client, nil
	}
	client, err := oauth.NewClient(oauth.ClientConfig{
		Zone:              zone,
		DiscoveryEnabled:  true,
		Auth:              auth,
		HTTPClient:        c.http,
		MaxAttempts:       c.cfg.MaxAttempts,
		InsecureAllowHTTP: c.cfg.InsecureAllowHTTP,
	})
	if err != nil {
		return nil, err
	}
	c.clients[cacheKey] = client
	return client, nil
}

// ensureRegisteredClient returns the registered client record for the zone,
// registering dynamically at most once per (zone, app name) even under
// concurrent first-callers.
func (c *Coordinator) ensureRegisteredClient(ctx context.Context, zoneClient *oauth.Client) (*oauth.RegistrationResponse, error) {
	zoneKey := zoneClient.Zone().Key()
	if client, err := c.loadClient(ctx, zoneKey); err == nil {
		return client, nil
	}

	result, err, _ := c.regGroup.Do(zoneKey, func() (any, error) {
		// Re-check under the flight lock: a concurrent caller may have
		// registered while we waited.
		if client, err := c.loadClient(ctx, zoneKey); err == nil {
			return client, nil
		}
		request := &oauth.RegistrationRequest{
			ClientName:   c.cfg.ApplicationName,
			RedirectURIs: []string{c.RedirectURI()},
			GrantTypes:   []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
			JWKSURL:      c.cfg.ClientJWKSURL,
		}
		registered, err := zoneClient.RegisterClient(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("dynamic registration with %s failed: %w", zoneClient.Zone().BaseURL(), err)
		}
		if err := c.saveClient(ctx, zoneKey, registered); err != nil {
			return nil, err
		}
		return registered, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*oauth.RegistrationResponse), nil
}

// clientCredentials returns the stored registration credentials for a zone,
// or nil for public clients.
func (c *Coordinator) clientCredentials(ctx context.Context, zoneURL string) (*oauth.ClientCredentials, error) {
	zone := oauth.Zone{URL: strings.TrimSuffix(zoneURL, "/")}
	client, err := c.loadClient(ctx, zone.Key())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if client.ClientSecret == "" {
		return nil, nil
	}
	return &oauth.ClientCredentials{ClientID: client.ClientID, ClientSecret: client.ClientSecret}, nil
}

// Close shuts down the loopback listener, if running, and releases the
// storage backend.
func (c *Coordinator) Close() error {
	c.localMu.Lock()
	server := c.localServer
	c.localServer = nil
	c.localMu.Unlock()
	if server != nil {
		shutdownLoopbackServer(server)
	}
	return c.store.Close()
}
