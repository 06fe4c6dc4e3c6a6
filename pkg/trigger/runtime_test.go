package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"anoa.com/reviewfeed/pkg/store/storetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestPattern(t *testing.T) {
	p, err := ParsePattern("/following/{follower}/{followee}")
	require.NoError(t, err)
	require.Equal(t, 3, p.Depth())

	params, ok := p.Match("following/alice/bob")
	require.True(t, ok)
	require.Equal(t, map[string]string{"follower": "alice", "followee": "bob"}, params)

	_, ok = p.Match("following/alice")
	require.False(t, ok)
	_, ok = p.Match("followers/alice/bob")
	require.False(t, ok)
	_, ok = p.Match("following/alice/bob/timestamp")
	require.False(t, ok)

	for _, bad := range []string{"", "a/{x}/{x}", "a/{}", "a/{x"} {
		_, err := ParsePattern(bad)
		require.Error(t, err, bad)
	}
}

func TestClassify(t *testing.T) {
	require.Equal(t, Created, classify(nil, map[string]any{"a": 1.0}))
	require.Equal(t, Deleted, classify(map[string]any{"a": 1.0}, nil))
	require.Equal(t, Updated, classify(map[string]any{"a": 1.0}, map[string]any{"a": 2.0}))
	require.Equal(t, ChangeType(""), classify(map[string]any{"a": 1.0}, map[string]any{"a": 1.0}))
	require.Equal(t, ChangeType(""), classify(nil, nil))
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func startRuntime(t *testing.T, cfg Config, register func(rt *Runtime), opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	rt, err := New(storetest.New(t), cfg, opts...)
	require.NoError(t, err)
	register(rt)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = rt.Run(ctx) }()
	select {
	case <-rt.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not start")
	}
	t.Cleanup(func() {
		cancel()
		_ = rt.Close()
	})
	return rt
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
	return Event{}
}

func TestObservedWrites(t *testing.T) {
	ctx := context.Background()
	events := make(chan Event, 16)

	rt := startRuntime(t, Config{}, func(rt *Runtime) {
		require.NoError(t, rt.Register("follow", "following/{follower}/{followee}", OnWrite, func(_ context.Context, e Event) error {
			events <- e
			return nil
		}))
	})
	s := rt.Store()

	t.Run("create", func(t *testing.T) {
		require.NoError(t, s.WriteBatch(ctx, map[string]any{
			"following/alice/bob": map[string]any{"type": "users", "username": "bob"},
		}))
		e := receive(t, events)
		require.Equal(t, "follow", e.Trigger)
		require.Equal(t, Created, e.Type)
		require.Equal(t, "following/alice/bob", e.Path)
		require.Equal(t, "alice", e.Param("follower"))
		require.Equal(t, "bob", e.Param("followee"))
		require.Nil(t, e.Before)
		require.Equal(t, map[string]any{"type": "users", "username": "bob"}, e.After)
		require.NotEmpty(t, e.ID)
	})

	t.Run("deeper write is an update of the node", func(t *testing.T) {
		require.NoError(t, s.WriteBatch(ctx, map[string]any{"following/alice/bob/type": "books"}))
		e := receive(t, events)
		require.Equal(t, Updated, e.Type)
		require.Equal(t, "following/alice/bob", e.Path)
	})

	t.Run("ancestor write fans out", func(t *testing.T) {
		require.NoError(t, s.WriteBatch(ctx, map[string]any{
			"following/carol": map[string]any{
				"dune": map[string]any{"type": "books"},
				"bob":  map[string]any{"type": "users"},
			},
		}))
		first, second := receive(t, events), receive(t, events)
		paths := []string{first.Path, second.Path}
		require.ElementsMatch(t, []string{"following/carol/bob", "following/carol/dune"}, paths)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.WriteBatch(ctx, map[string]any{"following/alice/bob": nil}))
		e := receive(t, events)
		require.Equal(t, Deleted, e.Type)
		require.NotNil(t, e.Before)
		require.Nil(t, e.After)
	})

	t.Run("unwatched and raw writes are silent", func(t *testing.T) {
		require.NoError(t, s.WriteBatch(ctx, map[string]any{"followers/bob/alice": true}))
		require.NoError(t, rt.Raw().WriteBatch(ctx, map[string]any{"following/dave/bob": true}))
		select {
		case e := <-events:
			t.Fatalf("unexpected event %+v", e)
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func TestKindFiltering(t *testing.T) {
	ctx := context.Background()
	created := make(chan Event, 4)
	updated := make(chan Event, 4)

	rt := startRuntime(t, Config{}, func(rt *Runtime) {
		require.NoError(t, rt.Register("newReview", "reviewsSent/{sender}/{reviewID}", OnCreate, func(_ context.Context, e Event) error {
			created <- e
			return nil
		}))
		require.NoError(t, rt.Register("reviewEdit", "reviewsSent/{sender}/{reviewID}", OnUpdate, func(_ context.Context, e Event) error {
			updated <- e
			return nil
		}))
	})

	require.NoError(t, rt.Store().WriteBatch(ctx, map[string]any{"reviewsSent/alice/r1": map[string]any{"rating": 3}}))
	require.Equal(t, "newReview", receive(t, created).Trigger)

	_, err := rt.Store().Transact(ctx, "reviewsSent/alice/r1/rating", func(any) (any, error) { return 4, nil })
	require.NoError(t, err)
	e := receive(t, updated)
	require.Equal(t, "reviewEdit", e.Trigger)
	require.Equal(t, float64(3), e.Before.(map[string]any)["rating"])
	require.Equal(t, float64(4), e.After.(map[string]any)["rating"])

	require.Empty(t, created)
}

func TestRetryThenSucceed(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})

	rt := startRuntime(t, Config{MaxRetries: 3, RetryInterval: time.Millisecond}, func(rt *Runtime) {
		require.NoError(t, rt.Register("flaky", "users/{uid}", OnWrite, func(context.Context, Event) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		}))
	})

	require.NoError(t, rt.Store().WriteBatch(context.Background(), map[string]any{"users/u1/name": "A"}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never succeeded")
	}
	require.Equal(t, int32(3), calls.Load())
}

func TestExhaustedRetriesDropEvent(t *testing.T) {
	var calls atomic.Int32
	next := make(chan Event, 1)

	rt := startRuntime(t, Config{MaxRetries: 1, RetryInterval: time.Millisecond}, func(rt *Runtime) {
		require.NoError(t, rt.Register("broken", "users/{uid}", OnWrite, func(_ context.Context, e Event) error {
			calls.Add(1)
			if e.Param("uid") == "u1" {
				return errors.New("permanent")
			}
			next <- e
			return nil
		}))
	})

	require.NoError(t, rt.Store().WriteBatch(context.Background(), map[string]any{"users/u1/name": "A"}))
	require.NoError(t, rt.Store().WriteBatch(context.Background(), map[string]any{"users/u2/name": "B"}))

	e := receive(t, next)
	require.Equal(t, "u2", e.Param("uid"))
	require.Equal(t, int32(3), calls.Load())
}

func TestDeliverDedupesWithLedger(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	seen := make(chan Event, 4)

	rt := startRuntime(t, Config{}, func(rt *Runtime) {
		require.NoError(t, rt.Register("follow", "following/{follower}/{followee}", OnWrite, func(_ context.Context, e Event) error {
			calls.Add(1)
			seen <- e
			return nil
		}))
	}, WithLedger(NewMemoryLedger()))

	e := Event{
		ID:      "evt-1",
		Trigger: "follow",
		Path:    "/following/alice/bob/",
		After:   map[string]any{"type": "users"},
	}
	delivered, err := rt.Deliver(ctx, e)
	require.NoError(t, err)
	require.Equal(t, Created, delivered.Type)
	require.Equal(t, "following/alice/bob", delivered.Path)
	require.Equal(t, "bob", delivered.Param("followee"))
	receive(t, seen)

	_, err = rt.Deliver(ctx, e)
	require.NoError(t, err)
	select {
	case <-seen:
		t.Fatal("duplicate event was processed")
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, int32(1), calls.Load())

	_, err = rt.Deliver(ctx, Event{Trigger: "nope", Path: "x"})
	require.ErrorIs(t, err, ErrUnknownTrigger)
	_, err = rt.Deliver(ctx, Event{Trigger: "follow", Path: "following/alice"})
	require.ErrorIs(t, err, ErrPathMismatch)
	_, err = rt.Deliver(ctx, Event{Trigger: "follow", Path: "following/alice/bob"})
	require.ErrorIs(t, err, ErrKindMismatch)
}
