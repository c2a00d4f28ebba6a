package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))

		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		ok, err := s.Exists(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k2", []byte("a"), 0))
		require.NoError(t, s.Set(ctx, "k2", []byte("b"), 0))

		got, err := s.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), got)
	})

	t.Run("delete reports removal once", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k3", []byte("v"), time.Minute))

		removed, err := s.Delete(ctx, "k3")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = s.Delete(ctx, "k3")
		require.NoError(t, err)
		assert.False(t, removed)

		ok, err := s.Exists(ctx, "k3")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("take returns and removes", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k4", []byte("once"), time.Minute))

		got, err := s.Take(ctx, "k4")
		require.NoError(t, err)
		assert.Equal(t, []byte("once"), got)

		_, err = s.Take(ctx, "k4")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent delete has a single winner", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k5", []byte("v"), time.Minute))

		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				removed, err := s.Delete(ctx, "k5")
				if err == nil && removed {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
