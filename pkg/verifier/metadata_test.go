// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpdelegate/pkg/oauth"
)

func TestProtectedResourceHandler(t *testing.T) {
	t.Parallel()

	handler := ProtectedResourceHandler(&oauth.ProtectedResourceMetadata{
		Resource:             "https://mcp.example.com/",
		AuthorizationServers: []string{"https://zone.example.com"},
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var doc oauth.ProtectedResourceMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://mcp.example.com/", doc.Resource)
	assert.Equal(t, []string{"https://zone.example.com"}, doc.AuthorizationServers)
	assert.Equal(t, []string{"header"}, doc.BearerMethodsSupported)
}

func TestProtectedResourceHandlerOptions(t *testing.T) {
	t.Parallel()

	handler := ProtectedResourceHandler(&oauth.ProtectedResourceMetadata{
		Resource:             "https://mcp.example.com/",
		AuthorizationServers: []string{"https://zone.example.com"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/.well-known/oauth-protected-resource", nil)
	req.Header.Set("Origin", "https://inspector.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://inspector.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProtectedResourceHandlerUnconfigured(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	ProtectedResourceHandler(nil).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthServerMetadataHandler(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != oauth.WellKnownOAuthServerPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"issuer":         "https://zone.example.com",
			"token_endpoint": "https://zone.example.com/oauth2/token",
		}))
	}))
	defer upstream.Close()

	client, err := oauth.NewClient(oauth.ClientConfig{
		Zone:             oauth.Zone{URL: upstream.URL},
		DiscoveryEnabled: true,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	AuthServerMetadataHandler(client).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc oauth.ServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://zone.example.com", doc.Issuer)
}
