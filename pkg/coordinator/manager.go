// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stacklok/mcpdelegate/pkg/oauth"
)

// Client is a coordinator bound to one context. Every storage read and write
// it performs is prefixed by its context ID, so two clients never observe
// each other's tokens or pending records.
type Client struct {
	coordinator *Coordinator
	contextID   string
}

// ContextID returns the isolation boundary this client operates in.
func (c *Client) ContextID() string {
	return c.contextID
}

// Connect drives the session for serverName; see Coordinator.Connect.
func (c *Client) Connect(ctx context.Context, serverName string) error {
	return c.coordinator.Connect(ctx, c.contextID, serverName)
}

// EnsureToken returns a usable token for serverName, refreshing if needed.
func (c *Client) EnsureToken(ctx context.Context, serverName string) (*oauth.Token, error) {
	return c.coordinator.EnsureToken(ctx, c.contextID, serverName)
}

// Session returns the session for serverName.
func (c *Client) Session(serverName string) (*Session, error) {
	return c.coordinator.Session(c.contextID, serverName)
}

// GetAuthChallenges lists this context's pending authorizations only.
func (c *Client) GetAuthChallenges(ctx context.Context) []AuthChallenge {
	return c.coordinator.GetAuthChallenges(ctx, c.contextID)
}

// GetAuthPending returns this context's pending challenge for serverName.
func (c *Client) GetAuthPending(ctx context.Context, serverName string) *AuthChallenge {
	return c.coordinator.GetAuthPending(ctx, c.contextID, serverName)
}

// CancelAuthorization aborts this context's pending flow for serverName.
func (c *Client) CancelAuthorization(ctx context.Context, serverName string) error {
	return c.coordinator.CancelAuthorization(ctx, c.contextID, serverName)
}

// ClientManager hands out coordinator-bound clients keyed by context ID.
type ClientManager struct {
	coordinator *Coordinator

	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientManager wraps a coordinator for multi-context use.
func NewClientManager(coordinator *Coordinator) *ClientManager {
	return &ClientManager{
		coordinator: coordinator,
		clients:     make(map[string]*Client),
	}
}

// ClientFor returns the client bound to contextID, creating it on first use.
// An empty contextID allocates a fresh one.
func (m *ClientManager) ClientFor(contextID string) *Client {
	if contextID == "" {
		contextID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[contextID]; ok {
		return client
	}
	client := &Client{coordinator: m.coordinator, contextID: contextID}
	m.clients[contextID] = client
	return client
}

// Coordinator returns the shared underlying coordinator.
func (m *ClientManager) Coordinator() *Coordinator {
	return m.coordinator
}
