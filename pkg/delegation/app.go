// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/mcpdelegate/pkg/logger"
	"github.com/stacklok/mcpdelegate/pkg/oauth"
	"github.com/stacklok/mcpdelegate/pkg/verifier"
	"github.com/stacklok/mcpdelegate/pkg/versions"
)

// Middleware enforces bearer authentication and attaches the caller's
// Identity to the request context. Unauthenticated requests receive an
// RFC 6750 challenge carrying the resource_metadata hint.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := p.Authenticate(r)
		if err != nil {
			p.writeChallenge(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// GrantMiddleware is the pre-handler stage for a granted tool: it populates
// the AccessContext from the tool's declared resources before the handler
// runs. It must be mounted behind Middleware.
func (p *Provider) GrantMiddleware(grant ToolGrant) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				p.writeChallenge(w, verifier.ErrNoToken)
				return
			}
			ac := p.PopulateAccessContext(r.Context(), identity, grant)
			next.ServeHTTP(w, r.WithContext(WithAccessContext(r.Context(), ac)))
		})
	}
}

// writeChallenge writes the 401 response. Missing tokens get a bare
// challenge; invalid tokens carry error="invalid_token" per RFC 6750 §3.
func (p *Provider) writeChallenge(w http.ResponseWriter, err error) {
	var parts []string
	if !errors.Is(err, verifier.ErrNoToken) {
		parts = append(parts,
			`error="invalid_token"`,
			fmt.Sprintf(`error_description="%s"`, oauth.EscapeQuotes(err.Error())),
		)
	}
	parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, oauth.EscapeQuotes(p.ResourceMetadataURL())))

	w.Header().Set("WWW-Authenticate", "Bearer "+strings.Join(parts, ", "))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// statusResponse is the /status document.
type statusResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Identity string `json:"identity"`
	Version  string `json:"version"`
}

// App composes the provider's HTTP surface: the well-known discovery
// endpoints, /status, and the MCP application mounted behind the bearer
// middleware at the protected path.
func (p *Provider) App(mcp http.Handler) http.Handler {
	router := chi.NewRouter()

	resourceMeta := &oauth.ProtectedResourceMetadata{
		Resource:               p.resourceURL,
		AuthorizationServers:   []string{p.cfg.Zone.BaseURL()},
		JWKSURI:                p.jwksURI(),
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        p.cfg.Scopes,
	}
	prHandler := verifier.ProtectedResourceHandler(resourceMeta)
	// Per RFC 9728 §3.3, each protected path gets its own document at
	// /.well-known/oauth-protected-resource/<path>.
	router.Handle(oauth.WellKnownProtectedResourcePath, prHandler)
	router.Handle(oauth.WellKnownProtectedResourcePath+p.cfg.ProtectedPath, prHandler)
	router.Handle(oauth.WellKnownOAuthServerPath, verifier.AuthServerMetadataHandler(p.client))

	router.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := statusResponse{
			Status:   "healthy",
			Service:  p.cfg.MCPServerName,
			Identity: p.identityName(),
			Version:  versions.Get(),
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Errorf("Failed to encode status response: %v", err)
		}
	})

	protected := p.Middleware(mcp)
	router.Handle(p.cfg.ProtectedPath, protected)
	router.Handle(p.cfg.ProtectedPath+"/*", protected)

	return router
}

func (p *Provider) jwksURI() string {
	// Discovery already succeeded during construction, so this is a cache
	// read in practice.
	meta, err := p.client.DiscoverMetadata(context.Background())
	if err != nil {
		return ""
	}
	return meta.JWKSURI
}

func (p *Provider) identityName() string {
	if p.cfg.Credential != nil {
		return p.cfg.Credential.ClientID
	}
	return p.cfg.Zone.Key()
}
