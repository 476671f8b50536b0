// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/mcpdelegate/pkg/logger"
	"github.com/stacklok/mcpdelegate/pkg/oauth"
)

// writeCORSHeaders marks a discovery endpoint readable from browser-based
// inspectors. The documents are public, so any origin is acceptable.
func writeCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "mcp-protocol-version, Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400")
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Failed to encode discovery response: %v", err)
	}
}

// ProtectedResourceHandler serves an RFC 9728 protected-resource metadata
// document. Mount one per protected path under
// /.well-known/oauth-protected-resource[/<path>].
func ProtectedResourceHandler(metadata *oauth.ProtectedResourceMetadata) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if metadata == nil || metadata.Resource == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		doc := *metadata
		if len(doc.BearerMethodsSupported) == 0 {
			doc.BearerMethodsSupported = []string{"header"}
		}
		writeJSON(w, &doc)
	})
}

// AuthServerMetadataHandler mirrors the upstream zone's RFC 8414 discovery
// document. The upstream fetch is cached by the OAuth client for its
// discovery TTL, so the handler is cheap to hit.
func AuthServerMetadataHandler(upstream *oauth.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		doc, err := upstream.DiscoverMetadata(r.Context())
		if err != nil {
			logger.Errorf("Failed to fetch upstream authorization-server metadata: %v", err)
			http.Error(w, "upstream metadata unavailable", http.StatusBadGateway)
			return
		}
		writeJSON(w, doc)
	})
}
