// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientManagerReturnsSameClient(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	c := newTestCoordinator(t, mcp.URL, nil)
	manager := NewClientManager(c)

	alice := manager.ClientFor("alice")
	assert.Equal(t, "alice", alice.ContextID())
	assert.Same(t, alice, manager.ClientFor("alice"))
	assert.Same(t, c, manager.Coordinator())
}

func TestClientManagerAllocatesContextID(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	manager := NewClientManager(newTestCoordinator(t, mcp.URL, nil))

	first := manager.ClientFor("")
	second := manager.ClientFor("")
	assert.NotEmpty(t, first.ContextID())
	assert.NotEmpty(t, second.ContextID())
	assert.NotEqual(t, first.ContextID(), second.ContextID())
}

func TestClientIsolation(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	manager := NewClientManager(newTestCoordinator(t, mcp.URL, nil))
	ctx := context.Background()

	alice := manager.ClientFor("alice")
	bob := manager.ClientFor("bob")

	require.ErrorIs(t, alice.Connect(ctx, "github"), ErrAuthorizationPending)

	// Bob sees none of Alice's pending work.
	assert.Empty(t, bob.GetAuthChallenges(ctx))
	challenges := alice.GetAuthChallenges(ctx)
	require.Len(t, challenges, 1)
	assert.Equal(t, "alice", challenges[0].ContextID)

	// Alice finishes; Bob still has no token.
	challenge := alice.GetAuthPending(ctx, "github")
	require.NotNil(t, challenge)
	as.addCode("code-mgr", authParams(t, challenge).Get("code_challenge"))
	_, err := manager.Coordinator().CompleteAuthorization(ctx, map[string]string{
		"state": challenge.State,
		"code":  "code-mgr",
	})
	require.NoError(t, err)

	token, err := alice.EnsureToken(ctx, "github")
	require.NoError(t, err)
	require.NotNil(t, token)

	bobToken, err := bob.EnsureToken(ctx, "github")
	require.NoError(t, err)
	assert.Nil(t, bobToken)
}

func TestClientCancelAuthorization(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	client := NewClientManager(newTestCoordinator(t, mcp.URL, nil)).ClientFor("alice")
	ctx := context.Background()

	require.ErrorIs(t, client.Connect(ctx, "github"), ErrAuthorizationPending)
	challenge := client.GetAuthPending(ctx, "github")
	require.NotNil(t, challenge)
	// The challenge URL is well-formed before we abandon it.
	_, err := url.Parse(challenge.AuthorizationURL)
	require.NoError(t, err)

	require.NoError(t, client.CancelAuthorization(ctx, "github"))
	assert.Nil(t, client.GetAuthPending(ctx, "github"))

	session, err := client.Session("github")
	require.NoError(t, err)
	assert.True(t, session.IsFailed())
}
