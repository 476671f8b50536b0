// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/mcpdelegate/pkg/networking"
	"github.com/stacklok/mcpdelegate/pkg/storage"
)

// Profile selects how the coordinator hands the authorization URL to the
// user.
type Profile string

// Operational profiles.
const (
	// ProfileLocal opens the system browser and serves the callback on a
	// loopback listener. Single-process.
	ProfileLocal Profile = "local"

	// ProfileRemote returns authorization URLs to the embedding
	// application and processes callbacks through CallbackHandler.
	// Non-blocking and multi-tenant.
	ProfileRemote Profile = "remote"
)

// Defaults for Config knobs.
const (
	DefaultPendingTTL        = 10 * time.Minute
	DefaultTokenSafetyMargin = 30 * time.Second
	DefaultCallbackPath      = "/oauth/callback"
	DefaultApplicationName   = "mcpdelegate"
)

// ServerConfig is one upstream MCP server entry.
type ServerConfig struct {
	// URL is the MCP endpoint, e.g. http://srv:8000/mcp.
	URL string

	// Transport names the MCP transport ("streamable-http", "sse").
	// Opaque to the coordinator; carried for the embedding client.
	Transport string

	// Scopes requested during authorization, space-joined.
	Scopes []string
}

// baseResource derives the default resource indicator for the server: its
// origin with a trailing slash.
func (s ServerConfig) baseResource() (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", s.URL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + "/", nil
}

// Config configures a Coordinator.
type Config struct {
	// ApplicationName is the logical client name used for dynamic
	// registration and client-record cache keys.
	ApplicationName string

	// Servers maps server name to its upstream entry.
	Servers map[string]ServerConfig

	// Profile selects Local or Remote behavior. Defaults to Remote.
	Profile Profile

	// RedirectURI is the registered redirect URI (Remote profile).
	RedirectURI string

	// CallbackHost, CallbackPort, and CallbackPath configure the loopback
	// listener (Local profile). A zero port picks a free one.
	CallbackHost string
	CallbackPort int
	CallbackPath string

	// SuppressBrowser disables opening the system browser (Local).
	SuppressBrowser bool

	// NonBlocking makes Local connects return as soon as the
	// authorization URL is ready instead of awaiting the callback;
	// callers then poll GetAuthPending until it returns nil.
	NonBlocking bool

	// CallbackWaitTimeout bounds a blocking Local wait. Zero means no
	// upper bound beyond the pending TTL.
	CallbackWaitTimeout time.Duration

	// PendingTTL bounds how long an authorization may stay pending.
	// Zero means 10 minutes.
	PendingTTL time.Duration

	// TokenSafetyMargin is the pre-expiry window treated as expired.
	// Zero means 30 seconds.
	TokenSafetyMargin time.Duration

	// MaxAttempts bounds retries of retriable connect and exchange
	// failures. Zero means 3.
	MaxAttempts uint

	// UsePAR routes authorization through RFC 9126 when the zone
	// advertises support. Off by default.
	UsePAR bool

	// Storage persists tokens, client records, and pending flows.
	// Defaults to an in-memory store.
	Storage storage.Store

	// ClientJWKSURL is advertised during dynamic registration for zones
	// that authenticate clients by key.
	ClientJWKSURL string

	// HTTPClient overrides the transport; mainly for tests.
	HTTPClient networking.HTTPClient

	// InsecureAllowHTTP permits plain-HTTP zone endpoints. Testing only.
	InsecureAllowHTTP bool
}

// withDefaults validates the configuration and fills defaults.
func (cfg Config) withDefaults() (Config, error) {
	if len(cfg.Servers) == 0 {
		return cfg, fmt.Errorf("coordinator requires at least one server")
	}
	for name, server := range cfg.Servers {
		if _, err := server.baseResource(); err != nil {
			return cfg, fmt.Errorf("server %q: %w", name, err)
		}
	}
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = DefaultApplicationName
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileRemote
	}
	switch cfg.Profile {
	case ProfileRemote:
		if cfg.RedirectURI == "" {
			return cfg, fmt.Errorf("remote profile requires a redirect URI")
		}
	case ProfileLocal:
		if cfg.CallbackHost == "" {
			cfg.CallbackHost = "localhost"
		}
		if cfg.CallbackPath == "" {
			cfg.CallbackPath = DefaultCallbackPath
		}
		if !strings.HasPrefix(cfg.CallbackPath, "/") {
			cfg.CallbackPath = "/" + cfg.CallbackPath
		}
	default:
		return cfg, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.TokenSafetyMargin <= 0 {
		cfg.TokenSafetyMargin = DefaultTokenSafetyMargin
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.NewMemoryStore()
	}
	return cfg, nil
}
