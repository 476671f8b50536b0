// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ConfigError reports missing or inconsistent client configuration. It is
// raised before any network I/O and is never retriable.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "oauth configuration error: " + e.Reason
}

// NetworkError wraps a DNS, TLS, socket, or read/write failure. Retriable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "oauth network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-OAuth 4xx/5xx response from an OAuth endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("oauth endpoint returned HTTP %d", e.StatusCode)
}

// Retriable reports whether the status code indicates a transient condition.
func (e *HTTPError) Retriable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, // 408
		http.StatusTooEarly,            // 425
		http.StatusTooManyRequests,     // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	}
	return false
}

// ProtocolError is an RFC 6749 §5.2 error response body. Non-retriable.
type ProtocolError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	StatusCode  int    `json:"-"`
}

func (e *ProtocolError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error %q (status %d): %s", e.Code, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("oauth error %q (status %d)", e.Code, e.StatusCode)
}

// TokenExchangeError is a ProtocolError from a token-exchange grant. It
// carries the resource/audience the exchange was scoped to so callers can
// attribute the failure per resource.
type TokenExchangeError struct {
	ProtocolError
	Resource string
	Audience string
}

func (e *TokenExchangeError) Error() string {
	target := e.Resource
	if target == "" {
		target = e.Audience
	}
	return fmt.Sprintf("token exchange for %q failed: %s", target, e.ProtocolError.Error())
}

// parseProtocolError attempts to decode an RFC 6749 error body. Returns nil
// when the body is not a recognizable OAuth error.
func parseProtocolError(statusCode int, body []byte) *ProtocolError {
	var pe ProtocolError
	if err := json.Unmarshal(body, &pe); err != nil {
		return nil
	}
	if pe.Code == "" {
		return nil
	}
	pe.StatusCode = statusCode
	return &pe
}

// Retriable classifies an error per the SDK taxonomy: transport failures and
// 408/425/429/5xx HTTP responses are retriable; protocol and configuration
// errors are not.
func Retriable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retriable()
	}
	return false
}
