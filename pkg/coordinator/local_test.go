// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalCoordinator(t *testing.T, mcpURL string, mutate func(*Config)) *Coordinator {
	t.Helper()
	return newTestCoordinator(t, mcpURL, func(cfg *Config) {
		cfg.Profile = ProfileLocal
		cfg.RedirectURI = ""
		cfg.SuppressBrowser = true
		if mutate != nil {
			mutate(cfg)
		}
	})
}

// waitForLoopback polls the callback server's waiting page until it accepts
// connections.
func waitForLoopback(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("callback server never came up")
}

func TestLocalFlowNonBlocking(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	c := newLocalCoordinator(t, mcp.URL, func(cfg *Config) {
		cfg.NonBlocking = true
	})
	ctx := context.Background()

	redirect, err := url.Parse(c.RedirectURI())
	require.NoError(t, err)
	assert.Equal(t, DefaultCallbackPath, redirect.Path)

	require.ErrorIs(t, c.Connect(ctx, "alice", "github"), ErrAuthorizationPending)
	challenge := c.GetAuthPending(ctx, "alice", "github")
	require.NotNil(t, challenge)

	waitForLoopback(t, fmt.Sprintf("%s://%s/", redirect.Scheme, redirect.Host))

	// Simulate the browser redirect back to the loopback listener.
	as.addCode("code-local", authParams(t, challenge).Get("code_challenge"))
	resp, err := http.Get(c.RedirectURI() +
		"?state=" + url.QueryEscape(challenge.State) + "&code=code-local")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	session, err := c.Session("alice", "github")
	require.NoError(t, err)
	assert.True(t, session.IsOperational())

	token, err := c.EnsureToken(ctx, "alice", "github")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "tok-code-local", token.AccessToken)
}

func TestLocalFlowBlocking(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	c := newLocalCoordinator(t, mcp.URL, func(cfg *Config) {
		cfg.CallbackWaitTimeout = 10 * time.Second
	})
	ctx := context.Background()

	// Complete the flow from a "browser" goroutine while Connect blocks.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			challenge := c.GetAuthPending(ctx, "alice", "github")
			if challenge == nil {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			as.addCode("code-blocking", authParams(t, challenge).Get("code_challenge"))
			resp, err := http.Get(c.RedirectURI() +
				"?state=" + url.QueryEscape(challenge.State) + "&code=code-blocking")
			if err == nil {
				resp.Body.Close()
			}
			return
		}
	}()

	require.NoError(t, c.Connect(ctx, "alice", "github"))

	session, err := c.Session("alice", "github")
	require.NoError(t, err)
	assert.True(t, session.IsOperational())

	token, err := c.EnsureToken(ctx, "alice", "github")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "tok-code-blocking", token.AccessToken)
}

func TestLocalConcurrentFlowsShareListener(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	c := newLocalCoordinator(t, mcp.URL, func(cfg *Config) {
		cfg.Servers["jira"] = ServerConfig{URL: mcp.URL + "/mcp", Scopes: []string{"mcp:invoke"}}
		cfg.CallbackWaitTimeout = 10 * time.Second
	})
	ctx := context.Background()

	githubResult := make(chan error, 1)
	jiraResult := make(chan error, 1)
	go func() { githubResult <- c.Connect(ctx, "alice", "github") }()
	go func() { jiraResult <- c.Connect(ctx, "alice", "jira") }()

	// Both flows park pending on the shared listener.
	var jira *AuthChallenge
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.GetAuthPending(ctx, "alice", "github") != nil {
			if jira = c.GetAuthPending(ctx, "alice", "jira"); jira != nil {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, jira, "both flows should reach auth_pending")

	// Complete only the jira flow. The github flow must keep waiting: a
	// completion for one session is never delivered to another.
	as.addCode("code-jira", authParams(t, jira).Get("code_challenge"))
	resp, err := http.Get(c.RedirectURI() +
		"?state=" + url.QueryEscape(jira.State) + "&code=code-jira")
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case err := <-jiraResult:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("completed flow did not return from Connect")
	}

	jiraSession, err := c.Session("alice", "jira")
	require.NoError(t, err)
	assert.True(t, jiraSession.IsOperational())

	select {
	case err := <-githubResult:
		t.Fatalf("github Connect returned (%v) on jira's completion", err)
	default:
	}
	githubSession, err := c.Session("alice", "github")
	require.NoError(t, err)
	assert.True(t, githubSession.RequiresUserAction())

	// The remaining flow still completes through the same listener.
	github := c.GetAuthPending(ctx, "alice", "github")
	require.NotNil(t, github)
	as.addCode("code-github", authParams(t, github).Get("code_challenge"))
	resp, err = http.Get(c.RedirectURI() +
		"?state=" + url.QueryEscape(github.State) + "&code=code-github")
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case err := <-githubResult:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second flow did not return from Connect")
	}
	assert.True(t, githubSession.IsOperational())

	token, err := c.EnsureToken(ctx, "alice", "jira")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "tok-code-jira", token.AccessToken)
}

func TestLocalNonBlockingCancelStopsListener(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	c := newLocalCoordinator(t, mcp.URL, func(cfg *Config) {
		cfg.NonBlocking = true
	})
	ctx := context.Background()

	require.ErrorIs(t, c.Connect(ctx, "alice", "github"), ErrAuthorizationPending)

	redirect, err := url.Parse(c.RedirectURI())
	require.NoError(t, err)
	base := fmt.Sprintf("%s://%s/", redirect.Scheme, redirect.Host)
	waitForLoopback(t, base)

	require.NoError(t, c.CancelAuthorization(ctx, "alice", "github"))

	// Cancellation releases the waiter, which shuts the listener down well
	// before the pending TTL.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base)
		if err != nil {
			return
		}
		resp.Body.Close()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("callback listener still serving after cancellation")
}

func TestLocalFlowCancelled(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	c := newLocalCoordinator(t, mcp.URL, nil)

	// The caller abandons the blocking wait.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx, "alice", "github")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")

	// Cancellation cleaned up the pending flow.
	assert.Nil(t, c.GetAuthPending(context.Background(), "alice", "github"))
	session, err := c.Session("alice", "github")
	require.NoError(t, err)
	assert.True(t, session.IsFailed())
}
