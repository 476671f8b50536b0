// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeBackends builds one instance of every backend so the contract tests
// run against all of them.
func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	redisStore, err := NewRedisStore(ctx, RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisStore.Close() })

	sqliteStore, err := NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
		"sqlite": sqliteStore,
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, "k", []byte("v1"), 0))
			value, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), value)

			// Overwrite.
			require.NoError(t, store.Set(ctx, "k", []byte("v2"), 0))
			value, err = store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), value)

			require.NoError(t, store.Delete(ctx, "k"))
			_, err = store.Get(ctx, "k")
			require.ErrorIs(t, err, ErrNotFound)

			// Deleting an absent key is not an error.
			require.NoError(t, store.Delete(ctx, "k"))
		})
	}
}

func TestStoreTTL(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		if name == "redis" {
			// miniredis does not advance TTLs in real time; covered in
			// TestRedisStoreTTL with a fast-forwarded clock.
			continue
		}
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "short", []byte("v"), 30*time.Millisecond))
			value, err := store.Get(ctx, "short")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), value)

			time.Sleep(60 * time.Millisecond)
			_, err = store.Get(ctx, "short")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(ctx, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)
	_, err = store.Get(ctx, "short")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Consume(ctx, "short")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreConsumeSingleUse(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "pending", []byte("record"), time.Minute))

			value, err := store.Consume(ctx, "pending")
			require.NoError(t, err)
			assert.Equal(t, []byte("record"), value)

			// Second consume must fail: single-use semantics.
			_, err = store.Consume(ctx, "pending")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = store.Get(ctx, "pending")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreConsumeConcurrent(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "race", []byte("once"), time.Minute))

			const workers = 16
			var wg sync.WaitGroup
			successes := make(chan struct{}, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := store.Consume(ctx, "race"); err == nil {
						successes <- struct{}{}
					}
				}()
			}
			wg.Wait()
			close(successes)

			count := 0
			for range successes {
				count++
			}
			assert.Equal(t, 1, count, "exactly one consumer may win")
		})
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	original := []byte("value")
	require.NoError(t, store.Set(ctx, "k", original, 0))
	original[0] = 'X'

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)

	// Mutating the returned slice must not affect the stored copy.
	value[0] = 'Y'
	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestSQLiteStorePersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/store.db"

	store, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "durable", []byte("v"), 0))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestKeyBuilders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "client:acme:my-agent", ClientKey("acme", "my-agent"))
	assert.Equal(t, "token:ctx-1:github", TokenKey("ctx-1", "github"))
	assert.Equal(t, "pending:ctx-1:github", PendingKey("ctx-1", "github"))
	assert.Equal(t, "state:abc123", StateKey("abc123"))

	// Distinct contexts never collide.
	assert.NotEqual(t, TokenKey("alice", "github"), TokenKey("bob", "github"))
}
