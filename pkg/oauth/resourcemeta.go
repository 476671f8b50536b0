// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/mcpdelegate/pkg/networking"
)

// ProtectedResourceMetadata is the RFC 9728 protected-resource metadata
// document. Published by the delegation provider and consumed by the
// coordinator when a 401 carries a resource_metadata hint.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	JWKSURI                string   `json:"jwks_uri,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

// FetchProtectedResourceMetadata retrieves and validates an RFC 9728
// document from the hinted URL.
func FetchProtectedResourceMetadata(
	ctx context.Context,
	client networking.HTTPClient,
	metadataURL string,
) (*ProtectedResourceMetadata, error) {
	if metadataURL == "" {
		return nil, &ConfigError{Reason: "resource metadata URL is empty"}
	}
	parsed, err := url.Parse(metadataURL)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid resource metadata URL: %v", err)}
	}
	if parsed.Scheme != networking.HttpsScheme && !networking.IsLocalhost(parsed.Host) {
		return nil, &ConfigError{Reason: fmt.Sprintf("resource metadata URL must use HTTPS: %s", metadataURL)}
	}

	if client == nil {
		client = networking.NewHttpClientBuilder().Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		return nil, fmt.Errorf("unexpected content type for resource metadata: %s", ct)
	}

	var metadata ProtectedResourceMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse resource metadata: %w", err)
	}
	if metadata.Resource == "" {
		return nil, fmt.Errorf("resource metadata missing required 'resource' field")
	}
	if len(metadata.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("resource metadata lists no authorization servers")
	}
	return &metadata, nil
}

// NormalizeResourceURI normalizes a resource indicator (RFC 8707):
// lowercase scheme and host, fragment stripped.
func NormalizeResourceURI(resourceURI string) (string, error) {
	if resourceURI == "" {
		return "", fmt.Errorf("resource URI cannot be empty")
	}
	parsed, err := url.Parse(resourceURI)
	if err != nil {
		return "", fmt.Errorf("invalid resource URI: %w", err)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed.String(), nil
}
