// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/stacklok/mcpdelegate/pkg/networking"
)

// Zone identifies an authorization-server tenant. A zone is addressed either
// by an explicit URL or by a zone ID combined with a base domain. Zones are
// configured once and immutable for their configured lifetime.
type Zone struct {
	// ID is the tenant identifier, used with a base domain
	// (e.g. ID "acme" + domain "zones.example.com" -> https://acme.zones.example.com).
	ID string

	// URL is the explicit zone base URL. Takes precedence over ID.
	URL string
}

// ResolveZone builds a Zone from the configuration surface: exactly one of
// zoneID (with baseDomain) or zoneURL must be provided.
func ResolveZone(zoneID, zoneURL, baseDomain string) (Zone, error) {
	switch {
	case zoneURL != "":
		if err := networking.ValidateEndpointURL(zoneURL); err != nil {
			return Zone{}, &ConfigError{Reason: fmt.Sprintf("invalid zone URL: %v", err)}
		}
		return Zone{URL: strings.TrimSuffix(zoneURL, "/")}, nil
	case zoneID != "":
		if baseDomain == "" {
			return Zone{}, &ConfigError{Reason: "zone_id requires a base domain"}
		}
		return Zone{ID: zoneID, URL: fmt.Sprintf("https://%s.%s", zoneID, baseDomain)}, nil
	default:
		return Zone{}, &ConfigError{Reason: "either zone_id or zone_url must be set"}
	}
}

// BaseURL returns the zone's base URL.
func (z Zone) BaseURL() string {
	return z.URL
}

// Key returns a stable identifier for cache and storage keys. Zone IDs are
// used as-is; URL-addressed zones fall back to the host (plus escaped path
// for path-scoped tenants).
func (z Zone) Key() string {
	if z.ID != "" {
		return z.ID
	}
	u, err := url.Parse(z.URL)
	if err != nil || u.Host == "" {
		return z.URL
	}
	key := u.Host
	if p := strings.Trim(u.EscapedPath(), "/"); p != "" {
		key += "/" + p
	}
	return key
}
