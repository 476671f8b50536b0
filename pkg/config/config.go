// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the SDK configuration surface from YAML files and
// environment variables and materializes the coordinator, provider, and
// storage settings from it.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/mcpdelegate/pkg/coordinator"
	"github.com/stacklok/mcpdelegate/pkg/oauth"
	"github.com/stacklok/mcpdelegate/pkg/storage"
)

// envPrefix namespaces environment overrides, e.g.
// MCPDELEGATE_SERVER_ZONE_URL.
const envPrefix = "MCPDELEGATE"

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	Storage StorageConfig `mapstructure:"storage"`
}

// ServerConfig configures the delegation provider side.
type ServerConfig struct {
	// ZoneID or ZoneURL addresses the authorization-server tenant.
	// ZoneID is combined with ZoneBaseDomain.
	ZoneID         string `mapstructure:"zone_id"`
	ZoneURL        string `mapstructure:"zone_url"`
	ZoneBaseDomain string `mapstructure:"zone_base_domain"`

	MCPServerName string `mapstructure:"mcp_server_name"`
	MCPBaseURL    string `mapstructure:"mcp_base_url"`
	ProtectedPath string `mapstructure:"protected_path"`

	// ApplicationCredential authenticates the provider's token exchanges.
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	Scopes []string `mapstructure:"scopes"`

	JWKSCacheTTL time.Duration `mapstructure:"jwks_cache_ttl"`
	ClockSkew    time.Duration `mapstructure:"clock_skew"`
	DiscoveryTTL time.Duration `mapstructure:"discovery_ttl"`
}

// ServerEntry is one upstream MCP server in the client configuration.
type ServerEntry struct {
	URL       string   `mapstructure:"url"`
	Transport string   `mapstructure:"transport"`
	Scopes    []string `mapstructure:"scopes"`
}

// ClientConfig configures the auth coordinator side.
type ClientConfig struct {
	ApplicationName string                 `mapstructure:"application_name"`
	Servers         map[string]ServerEntry `mapstructure:"servers"`

	Profile string `mapstructure:"profile"`

	// Remote profile.
	RedirectURI string `mapstructure:"redirect_uri"`

	// Local profile.
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	CallbackPath string `mapstructure:"callback_path"`

	AutoOpenBrowser    *bool `mapstructure:"auto_open_browser"`
	BlockUntilCallback *bool `mapstructure:"block_until_callback"`

	PendingTTL        time.Duration `mapstructure:"pending_ttl"`
	TokenSafetyMargin time.Duration `mapstructure:"token_safety_margin"`
	UsePAR            bool          `mapstructure:"use_par"`
	ClientJWKSURL     string        `mapstructure:"client_jwks_url"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", "redis". Defaults to memory.
	Backend string `mapstructure:"backend"`

	// Path is the database file (sqlite).
	Path string `mapstructure:"path"`

	// Addr, Password, DB, and KeyPrefix configure redis.
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Load reads the configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("client.profile", string(coordinator.ProfileRemote))
	v.SetDefault("storage.backend", "memory")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &cfg, nil
}

// Zone resolves the configured zone for the server side.
func (s *ServerConfig) Zone() (oauth.Zone, error) {
	return oauth.ResolveZone(s.ZoneID, s.ZoneURL, s.ZoneBaseDomain)
}

// CoordinatorConfig maps the client section onto a coordinator.Config. The
// storage backend is constructed separately via OpenStore.
func (c *ClientConfig) CoordinatorConfig(store storage.Store) (coordinator.Config, error) {
	servers := make(map[string]coordinator.ServerConfig, len(c.Servers))
	for name, entry := range c.Servers {
		servers[name] = coordinator.ServerConfig{
			URL:       entry.URL,
			Transport: entry.Transport,
			Scopes:    entry.Scopes,
		}
	}

	cfg := coordinator.Config{
		ApplicationName:   c.ApplicationName,
		Servers:           servers,
		Profile:           coordinator.Profile(c.Profile),
		RedirectURI:       c.RedirectURI,
		CallbackHost:      c.Host,
		CallbackPort:      c.Port,
		CallbackPath:      c.CallbackPath,
		PendingTTL:        c.PendingTTL,
		TokenSafetyMargin: c.TokenSafetyMargin,
		UsePAR:            c.UsePAR,
		ClientJWKSURL:     c.ClientJWKSURL,
		Storage:           store,
	}
	if c.AutoOpenBrowser != nil {
		cfg.SuppressBrowser = !*c.AutoOpenBrowser
	}
	if c.BlockUntilCallback != nil {
		cfg.NonBlocking = !*c.BlockUntilCallback
	}
	return cfg, nil
}

// OpenStore constructs the configured storage backend.
func (s *StorageConfig) OpenStore(ctx context.Context) (storage.Store, error) {
	switch strings.ToLower(s.Backend) {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		path := s.Path
		if path == "" {
			path = "mcpdelegate.db"
		}
		return storage.NewSQLiteStore(ctx, path)
	case "redis":
		if s.Addr == "" {
			return nil, fmt.Errorf("redis storage requires an addr")
		}
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:      s.Addr,
			Password:  s.Password,
			DB:        s.DB,
			KeyPrefix: s.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}
