package redisstore_test

import (
	"context"
	"testing"

	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/store/redisstore"
	"anoa.com/reviewfeed/pkg/store/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t testing.TB) store.Store { return storetest.NewRedis(t) })
}

func TestPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := redisstore.New(client, redisstore.WithPrefix("a:"))
	b := redisstore.New(client, redisstore.WithPrefix("b:"))

	require.NoError(t, a.WriteBatch(ctx, map[string]any{"users/u1/username": "alice"}))

	v, err := b.Get(ctx, "users/u1")
	require.NoError(t, err)
	require.Nil(t, v)

	raw, err := mr.Get("a:doc:users/u1/username")
	require.NoError(t, err)
	require.Equal(t, `"alice"`, raw)
}
