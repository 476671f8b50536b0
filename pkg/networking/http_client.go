// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking provides shared HTTP client construction and endpoint
// validation used by the OAuth client, verifier, and coordinator.
package networking

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HttpsScheme is the scheme required for non-local OAuth endpoints.
const HttpsScheme = "https"

// Default timeouts applied to every outbound HTTP client.
const (
	DefaultHTTPTimeout           = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
)

// HTTPClient is the minimal interface used by callers so tests can inject
// fakes without standing up a transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HttpClientBuilder constructs http.Clients with consistent timeouts.
type HttpClientBuilder struct {
	timeout time.Duration
}

// NewHttpClientBuilder returns a builder with the default timeouts.
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{timeout: DefaultHTTPTimeout}
}

// WithTimeout overrides the per-request deadline.
func (b *HttpClientBuilder) WithTimeout(d time.Duration) *HttpClientBuilder {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// Build returns the configured client.
func (b *HttpClientBuilder) Build() *http.Client {
	return &http.Client{
		Timeout: b.timeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
			ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		},
	}
}

// IsLocalhost reports whether host (optionally host:port) refers to the
// local machine.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateEndpointURL checks that an OAuth endpoint URL is absolute and uses
// HTTPS, except for localhost which may use HTTP for development.
func ValidateEndpointURL(endpoint string) error {
	return ValidateEndpointURLWithInsecure(endpoint, false)
}

// ValidateEndpointURLWithInsecure is ValidateEndpointURL with an escape hatch
// for tests that must talk plain HTTP to non-local hosts.
func ValidateEndpointURLWithInsecure(endpoint string, insecureAllowHTTP bool) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("URL must be absolute: %s", endpoint)
	}
	if u.Scheme != HttpsScheme && !IsLocalhost(u.Host) && !insecureAllowHTTP {
		return fmt.Errorf("URL must use HTTPS: %s", endpoint)
	}
	return nil
}

// FindOrUsePort returns the requested port if it is non-zero, otherwise asks
// the kernel for a free loopback port.
func FindOrUsePort(port int) (int, error) {
	if port != 0 {
		return port, nil
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find available port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
