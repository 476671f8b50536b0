// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stacklok/mcpdelegate/pkg/oauth"
	"github.com/stacklok/mcpdelegate/pkg/storage"
)

// pendingRecord holds the PKCE verifier and flow parameters between the
// authorization redirect and its callback. Single-use: redeemed via
// Store.Consume.
type pendingRecord struct {
	ContextID    string    `json:"context_id"`
	ServerName   string    `json:"server_name"`
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	ClientID     string    `json:"client_id"`
	ZoneURL      string    `json:"zone_url"`
	Resource     string    `json:"resource"`
	CreatedAt    time.Time `json:"created_at"`
}

// stateIndex maps an opaque state string back to its (context, server) pair.
type stateIndex struct {
	ContextID  string `json:"context_id"`
	ServerName string `json:"server_name"`
}

// tokenRecord is the persisted form of an issued token, annotated with the
// zone and client that obtained it so a refresh can be routed without
// re-discovery.
type tokenRecord struct {
	oauth.Token
	ZoneURL  string `json:"zone_url,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

func (c *Coordinator) saveToken(ctx context.Context, contextID, serverName string, record *tokenRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode token record: %w", err)
	}
	var ttl time.Duration
	if !record.ExpiresAt.IsZero() {
		// Refresh tokens outlive the access token, so keep the record
		// around long enough to attempt a refresh.
		ttl = time.Until(record.ExpiresAt)
		if record.RefreshToken != "" {
			ttl += 24 * time.Hour
		}
		if ttl <= 0 {
			return fmt.Errorf("refusing to store an already expired token")
		}
	}
	return c.store.Set(ctx, storage.TokenKey(contextID, serverName), raw, ttl)
}

// loadToken returns the stored token for (context, server). Expired records
// without a refresh token are discarded on read.
func (c *Coordinator) loadToken(ctx context.Context, contextID, serverName string) (*tokenRecord, error) {
	raw, err := c.store.Get(ctx, storage.TokenKey(contextID, serverName))
	if err != nil {
		return nil, err
	}
	var record tokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode token record: %w", err)
	}
	if !record.Valid(0) && record.RefreshToken == "" {
		_ = c.store.Delete(ctx, storage.TokenKey(contextID, serverName))
		return nil, storage.ErrNotFound
	}
	return &record, nil
}

func (c *Coordinator) deleteToken(ctx context.Context, contextID, serverName string) error {
	return c.store.Delete(ctx, storage.TokenKey(contextID, serverName))
}

// savePending stores the pending record and its state reverse index, both
// bounded by the pending TTL so abandoned flows cannot be redeemed late.
func (c *Coordinator) savePending(ctx context.Context, record *pendingRecord) error {
	rawPending, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode pending record: %w", err)
	}
	rawIndex, err := json.Marshal(&stateIndex{ContextID: record.ContextID, ServerName: record.ServerName})
	if err != nil {
		return fmt.Errorf("failed to encode state index: %w", err)
	}
	if err := c.store.Set(ctx, storage.PendingKey(record.ContextID, record.ServerName), rawPending, c.cfg.PendingTTL); err != nil {
		return err
	}
	return c.store.Set(ctx, storage.StateKey(record.State), rawIndex, c.cfg.PendingTTL)
}

// consumePending resolves a callback state to its pending record, removing
// both records so the state and verifier are single-use.
func (c *Coordinator) consumePending(ctx context.Context, state string) (*pendingRecord, error) {
	rawIndex, err := c.store.Consume(ctx, storage.StateKey(state))
	if err != nil {
		return nil, err
	}
	var index stateIndex
	if err := json.Unmarshal(rawIndex, &index); err != nil {
		return nil, fmt.Errorf("failed to decode state index: %w", err)
	}

	rawPending, err := c.store.Consume(ctx, storage.PendingKey(index.ContextID, index.ServerName))
	if err != nil {
		return nil, err
	}
	var record pendingRecord
	if err := json.Unmarshal(rawPending, &record); err != nil {
		return nil, fmt.Errorf("failed to decode pending record: %w", err)
	}
	if record.State != state {
		// A newer flow replaced the pending record; the old state must
		// not redeem it.
		return nil, storage.ErrNotFound
	}
	return &record, nil
}

// discardPending removes the pending record and state index for a session,
// used on cancellation and timeout.
func (c *Coordinator) discardPending(ctx context.Context, contextID, serverName, state string) {
	_ = c.store.Delete(ctx, storage.PendingKey(contextID, serverName))
	if state != "" {
		_ = c.store.Delete(ctx, storage.StateKey(state))
	}
}

// saveClient persists a registered client record per (zone, app name).
func (c *Coordinator) saveClient(ctx context.Context, zoneKey string, client *oauth.RegistrationResponse) error {
	raw, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to encode client record: %w", err)
	}
	return c.store.Set(ctx, storage.ClientKey(zoneKey, c.cfg.ApplicationName), raw, 0)
}

func (c *Coordinator) loadClient(ctx context.Context, zoneKey string) (*oauth.RegistrationResponse, error) {
	raw, err := c.store.Get(ctx, storage.ClientKey(zoneKey, c.cfg.ApplicationName))
	if err != nil {
		return nil, err
	}
	var client oauth.RegistrationResponse
	if err := json.Unmarshal(raw, &client); err != nil {
		return nil, fmt.Errorf("failed to decode client record: %w", err)
	}
	return &client, nil
}
