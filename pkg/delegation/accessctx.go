// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"fmt"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcpdelegate/pkg/oauth"
)

// Result is the outcome of one delegation attempt: exactly one of Token or
// Err is set.
type Result struct {
	Token *oauth.Token
	Err   error
}

// AccessContext is the per-call projection of downstream delegations. It is
// fully populated before the tool body runs and consumed read-only by the
// tool; tools must check HasErrors before using a token.
type AccessContext struct {
	results   map[string]Result
	globalErr error
}

// newAccessContext returns an empty AccessContext sized for the requested
// resources.
func newAccessContext(capacity int) *AccessContext {
	return &AccessContext{results: make(map[string]Result, capacity)}
}

func (a *AccessContext) setToken(resource string, token *oauth.Token) {
	a.results[resource] = Result{Token: token}
}

func (a *AccessContext) setError(resource string, err error) {
	a.results[resource] = Result{Err: err}
}

func (a *AccessContext) setGlobalError(err error) {
	a.globalErr = err
}

// Access returns the delegated token for resource, or the failure that
// prevented it. A resource the tool never requested is an error.
func (a *AccessContext) Access(resource string) (*oauth.Token, error) {
	if a.globalErr != nil {
		return nil, a.globalErr
	}
	result, ok := a.results[resource]
	if !ok {
		return nil, fmt.Errorf("no delegation requested for resource %q", resource)
	}
	return result.Token, result.Err
}

// TokenSource returns a static oauth2.TokenSource over the delegated token
// for resource, suitable for oauth2.NewClient and generated API clients.
// Delegated tokens are valid for the lifetime of one tool call, so there is
// no refresh behind the source.
func (a *AccessContext) TokenSource(resource string) (oauth2.TokenSource, error) {
	token, err := a.Access(resource)
	if err != nil {
		return nil, err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.ExpiresAt,
	}), nil
}

// HasErrors reports whether any delegation failed or a global error is set.
func (a *AccessContext) HasErrors() bool {
	if a.globalErr != nil {
		return true
	}
	for _, result := range a.results {
		if result.Err != nil {
			return true
		}
	}
	return false
}

// GetErrors returns the global error (if any) followed by every per-resource
// failure.
func (a *AccessContext) GetErrors() []error {
	var errs []error
	if a.globalErr != nil {
		errs = append(errs, a.globalErr)
	}
	for resource, result := range a.results {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("resource %s: %w", resource, result.Err))
		}
	}
	return errs
}

// HasResourceError reports whether the delegation for resource failed.
func (a *AccessContext) HasResourceError(resource string) bool {
	return a.results[resource].Err != nil
}

// GetResourceError returns the failure recorded for resource, or nil.
func (a *AccessContext) GetResourceError(resource string) error {
	return a.results[resource].Err
}

// GlobalError returns the non-resource-specific failure, or nil.
func (a *AccessContext) GlobalError() error {
	return a.globalErr
}

// Resources lists the resources delegation was attempted for.
func (a *AccessContext) Resources() []string {
	resources := make([]string, 0, len(a.results))
	for resource := range a.results {
		resources = append(resources, resource)
	}
	return resources
}
