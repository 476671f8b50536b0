// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenSource adapts a (context, server) session to oauth2.TokenSource so
// the stored token can feed oauth2.NewClient and other x/oauth2 consumers.
// Token returns the current access token, refreshing through the coordinator
// when it is near expiry, and fails with ErrAuthorizationPending when the
// user has to re-authorize.
func (c *Coordinator) TokenSource(ctx context.Context, contextID, serverName string) oauth2.TokenSource {
	return &coordinatorTokenSource{
		coordinator: c,
		ctx:         ctx,
		contextID:   contextID,
		serverName:  serverName,
	}
}

// TokenSource returns an oauth2.TokenSource bound to this client's context.
func (c *Client) TokenSource(ctx context.Context, serverName string) oauth2.TokenSource {
	return c.coordinator.TokenSource(ctx, c.contextID, serverName)
}

type coordinatorTokenSource struct {
	coordinator *Coordinator
	ctx         context.Context
	contextID   string
	serverName  string
}

func (s *coordinatorTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.coordinator.EnsureToken(s.ctx, s.contextID, s.serverName)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token for %s: %w", s.serverName, err)
	}
	if token == nil {
		return nil, fmt.Errorf("server %s: %w", s.serverName, ErrAuthorizationPending)
	}
	return &oauth2.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.ExpiresAt,
	}, nil
}
