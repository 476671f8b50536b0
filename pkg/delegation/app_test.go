// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpdelegate/pkg/oauth"
)

func TestAppChallengeWithoutToken(t *testing.T) {
	t.Parallel()

	zone := newFakeZone(t)
	p := newTestProvider(t, zone, nil)
	app := p.App(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	challenge, err := oauth.ParseWWWAuthenticate(rec.Header().Get("WWW-Authenticate"))
	require.NoError(t, err)
	// A missing token gets a bare challenge: metadata hint, no error code.
	assert.Empty(t, challenge.Error)
	assert.Equal(t, p.ResourceMetadataURL(), challenge.ResourceMetadata)
}

func TestAppChallengeWithExpiredToken(t *testing.T) {
	t.Parallel()

	zone := newFakeZone(t)
	p := newTestProvider(t, zone, nil)
	app := p.App(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	expired := zone.mint(t, func(c jwt.MapClaims) {
		c["exp"] = time.Now().Add(-time.Hour).Unix()
	})
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	challenge, err := oauth.ParseWWWAuthenticate(rec.Header().Get("WWW-Authenticate"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_token", challenge.Error)
	assert.NotEmpty(t, challenge.ErrorDescription)
	assert.Equal(t, p.ResourceMetadataURL(), challenge.ResourceMetadata)
}

func TestAppAuthenticatedRequestReachesHandler(t *testing.T) {
	t.Parallel()

	zone := newFakeZone(t)
	p := newTestProvider(t, zone, nil)
	app := p.App(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"sub": identity.Subject}))
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+zone.mint(t, nil))
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user-1", body["sub"])

	// Subpaths of the protected mount are covered too.
	req = httptest.NewRequest(http.MethodPost, "/mcp/tools/list", nil)
	req.Header.Set("Authorization", "Bearer "+zone.mint(t, nil))
	rec = httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGrantMiddlewarePopulatesAccessContext(t *testing.T) {
	t.Parallel()

	zone := newFakeZone(t)
	p := newTestProvider(t, zone, nil)

	tool := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := AccessContextFromContext(r.Context())
		require.True(t, ok)
		token, err := ac.Access(resourceAPI)
		require.NoError(t, err)
		w.Header().Set("X-Delegated", token.AccessToken)
		w.WriteHeader(http.StatusOK)
	})
	handler := p.Middleware(p.GrantMiddleware(Grant(resourceAPI))(tool))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+zone.mint(t, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "delegated-api-token", rec.Header().Get("X-Delegated"))
}

func TestAppStatus(t *testing.T) {
	t.Parallel()

	zone := newFakeZone(t)
	p := newTestProvider(t, zone, nil)
	app := p.App(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status   string `json:"status"`
		Service  string `json:"service"`
		Identity string `json:"identity"`
		Version  string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "test-mcp", status.Service)
	assert.Equal(t, "mcp-server", status.Identity)
	assert.NotEmpty(t, status.Version)
}

func TestAppWellKnownEndpoints(t *testing.T) {
	t.Parallel()

	zone := newFakeZone(t)
	p := newTestProvider(t, zone, nil)
	app := p.App(http.NotFoundHandler())

	for _, path := range []string{
		oauth.WellKnownProtectedResourcePath,
		oauth.WellKnownProtectedResourcePath + "/mcp",
	} {
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)

		var doc oauth.ProtectedResourceMetadata
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, p.ResourceURL(), doc.Resource)
		assert.Equal(t, []string{zone.URL}, doc.AuthorizationServers)
		assert.Equal(t, []string{"mcp:invoke"}, doc.ScopesSupported)
	}

	// The authorization-server mirror reflects the upstream document.
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, oauth.WellKnownOAuthServerPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var meta oauth.ServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, zone.URL, meta.Issuer)
}
