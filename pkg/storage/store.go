// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the narrow key/value contract the SDK persists
// through: registered clients, token records, pending authorizations, and
// the state reverse index. Backends must be linearizable per key.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("storage: key not found")

// Store is the backend contract. All values are opaque bytes; callers own
// serialization. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Consume atomically reads and removes key, enforcing single-use
	// semantics for pending authorization records. Returns ErrNotFound
	// when the key is absent, expired, or already consumed.
	Consume(ctx context.Context, key string) ([]byte, error)

	// Close releases any resources held by the store.
	Close() error
}
