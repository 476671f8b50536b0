// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stacklok/mcpdelegate/pkg/logger"
)

// CallbackHandler returns the HTTP handler the embedding application mounts
// at its redirect URI (Remote profile). It accepts the authorization-server
// redirect, completes the flow, and answers JSON.
func (c *Coordinator) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeCallbackError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
			return
		}

		params := callbackParams(r)
		event, err := c.CompleteAuthorization(r.Context(), params)
		if err != nil {
			if errors.Is(err, ErrInvalidState) {
				writeCallbackError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			logger.Errorf("Callback processing failed: %v", err)
			writeCallbackError(w, http.StatusInternalServerError, "server_error", "callback processing failed")
			return
		}
		if !event.Success {
			writeCallbackError(w, http.StatusBadRequest, event.Reason, event.Result)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "complete"}); err != nil {
			logger.Debugf("Failed to write callback response: %v", err)
		}
	})
}

// callbackParams flattens the redirect query into the completion-endpoint
// parameter map.
func callbackParams(r *http.Request) map[string]string {
	query := r.URL.Query()
	params := make(map[string]string, len(query))
	for key := range query {
		params[key] = query.Get(key)
	}
	return params
}

func writeCallbackError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]string{"error": code}
	if description != "" {
		payload["error_description"] = description
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debugf("Failed to write callback error: %v", err)
	}
}
