// Package storetest provides store fixtures for tests and a behaviour suite
// every backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/store/pebblestore"
	"anoa.com/reviewfeed/pkg/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// FixedNow is the clock the fixtures resolve server timestamps against.
var FixedNow = time.UnixMilli(1_700_000_000_000)

func clock() time.Time { return FixedNow }

// NewRedis returns a Redis-backed store on a throwaway miniredis server.
func NewRedis(t testing.TB) *redisstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := redisstore.New(client, redisstore.WithClock(clock))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewPebble returns a Pebble-backed store on an in-memory filesystem.
func NewPebble(t testing.TB) *pebblestore.Store {
	t.Helper()
	s, err := pebblestore.Open("reviewfeed", pebblestore.WithFS(vfs.NewMem()), pebblestore.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// New is the default fixture for packages that only need some store.
func New(t testing.TB) store.Store {
	return NewRedis(t)
}

// Seed writes each value at its path.
func Seed(t testing.TB, s store.Store, data map[string]any) {
	t.Helper()
	require.NoError(t, s.WriteBatch(context.Background(), data))
}

// MustGet reads path or fails the test.
func MustGet(t testing.TB, s store.Store, path string) any {
	t.Helper()
	v, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	return v
}

// Run exercises the behaviour shared by every backend.
func Run(t *testing.T, newStore func(t testing.TB) store.Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		v, err := s.Get(ctx, "users/nobody")
		require.NoError(t, err)
		require.Nil(t, v)

		ok, err := s.Exists(ctx, "users/nobody")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("write and read subtree", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, map[string]any{
			"users/u1": map[string]any{
				"username":    "alice",
				"reviewCount": 2,
				"profile":     map[string]any{"bio": "hi", "verified": true},
			},
		})

		require.Equal(t, map[string]any{
			"username":    "alice",
			"reviewCount": float64(2),
			"profile":     map[string]any{"bio": "hi", "verified": true},
		}, MustGet(t, s, "users/u1"))
		require.Equal(t, "alice", MustGet(t, s, "/users//u1/username/"))
		require.Equal(t, map[string]any{"u1": MustGet(t, s, "users/u1")}, MustGet(t, s, "users"))

		ok, err := s.Exists(ctx, "users/u1/profile")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("write replaces subtree", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, map[string]any{"a/b": map[string]any{"x": 1, "y": 2}})
		Seed(t, s, map[string]any{"a/b": map[string]any{"z": 3}})
		require.Equal(t, map[string]any{"z": float64(3)}, MustGet(t, s, "a/b"))

		Seed(t, s, map[string]any{"a/b": "leaf"})
		require.Equal(t, "leaf", MustGet(t, s, "a/b"))

		Seed(t, s, map[string]any{"a/b/c": true})
		require.Equal(t, map[string]any{"c": true}, MustGet(t, s, "a/b"))
	})

	t.Run("nil deletes", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, map[string]any{"a/b": 1, "a/c": 2})
		Seed(t, s, map[string]any{"a/b": nil})
		require.Equal(t, map[string]any{"c": float64(2)}, MustGet(t, s, "a"))

		Seed(t, s, map[string]any{"a": nil})
		require.Nil(t, MustGet(t, s, "a"))
	})

	t.Run("multi path batch", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, map[string]any{
			"notifications/bob/r1/content": "great",
			"notifications/bob/r1/rating":  4,
			"notifications/bob/r1/read":    false,
		})
		require.Equal(t, map[string]any{
			"content": "great",
			"rating":  float64(4),
			"read":    false,
		}, MustGet(t, s, "notifications/bob/r1"))
	})

	t.Run("overlapping batch paths rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.WriteBatch(ctx, map[string]any{"a": map[string]any{"b": 1}, "a/b": 2})
		require.Error(t, err)
		require.Nil(t, MustGet(t, s, "a"))
	})

	t.Run("server timestamp", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, map[string]any{
			"users/u1/timestamp": store.ServerTimestamp,
			"users/u1/wire":      map[string]any{".sv": "timestamp"},
		})
		want := float64(FixedNow.UnixMilli())
		require.Equal(t, want, MustGet(t, s, "users/u1/timestamp"))
		require.Equal(t, want, MustGet(t, s, "users/u1/wire"))
	})

	t.Run("transact", func(t *testing.T) {
		s := newStore(t)
		v, err := s.Transact(ctx, "books/dune/reviewCount", func(current any) (any, error) {
			require.Nil(t, current)
			return 1, nil
		})
		require.NoError(t, err)
		require.Equal(t, float64(1), v)
		require.Equal(t, float64(1), MustGet(t, s, "books/dune/reviewCount"))
		require.Equal(t, map[string]any{"reviewCount": float64(1)}, MustGet(t, s, "books/dune"))
	})

	t.Run("transact abort leaves value", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, map[string]any{"books/dune/averageRating": 3})
		boom := errors.New("boom")
		_, err := s.Transact(ctx, "books/dune/averageRating", func(any) (any, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, float64(3), MustGet(t, s, "books/dune/averageRating"))
	})

	t.Run("transact rejects interior node", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, map[string]any{"books/dune/reviewCount": 3})
		_, err := s.Transact(ctx, "books/dune", func(any) (any, error) { return 1, nil })
		require.ErrorIs(t, err, store.ErrNotLeaf)
	})

	t.Run("transact nil deletes", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, map[string]any{"a/b": 1})
		_, err := s.Transact(ctx, "a/b", func(any) (any, error) { return nil, nil })
		require.NoError(t, err)
		require.Nil(t, MustGet(t, s, "a"))
	})

	t.Run("concurrent increments", func(t *testing.T) {
		s := newStore(t)
		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Transact(ctx, "counter", func(current any) (any, error) {
					n, _ := store.Float(current)
					return n + 1, nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var committed float64
		for err := range errs {
			if err == nil {
				committed++
				continue
			}
			require.ErrorIs(t, err, store.ErrRetriesExhausted)
		}
		require.Equal(t, committed, MustGet(t, s, "counter"))
	})

	t.Run("new ids are unique and ordered", func(t *testing.T) {
		s := newStore(t)
		a, err := s.NewID(ctx, "reviewsSent/alice")
		require.NoError(t, err)
		b, err := s.NewID(ctx, "reviewsSent/alice")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
		require.LessOrEqual(t, a[:13], b[:13])
	})
}
