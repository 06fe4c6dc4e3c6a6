package service

import (
	"context"
	"testing"

	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestNewAverage(t *testing.T) {
	t.Run("first sample", func(t *testing.T) {
		avg, err := NewAverage(nil, 4, 7, ReviewDomain)
		require.NoError(t, err)
		require.Equal(t, 4.0, avg)
	})

	t.Run("running average", func(t *testing.T) {
		avg, err := NewAverage(float64(3), 5, 2, ReviewDomain)
		require.NoError(t, err)
		require.InDelta(t, 11.0/3.0, avg, 1e-12)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := NewAverage(float64(5), 9, 1, ReviewDomain)
		require.ErrorIs(t, err, apperror.ErrOutOfRange)

		_, err = NewAverage(nil, 2, 0, ReplyDomain)
		require.ErrorIs(t, err, apperror.ErrOutOfRange)
	})

	t.Run("non numeric", func(t *testing.T) {
		_, err := NewAverage("three", 1, 1, ReviewDomain)
		require.ErrorIs(t, err, apperror.ErrOutOfRange)
	})
}

func TestRecalculatedAverageRoundTrip(t *testing.T) {
	for _, count := range []int64{1, 2, 5, 40} {
		start := 3.25
		changed, err := RecalculatedAverage(start, 1, 4, count, ReviewDomain)
		require.NoError(t, err)
		back, err := RecalculatedAverage(changed, 4, 1, count, ReviewDomain)
		require.NoError(t, err)
		require.InDelta(t, start, back, 1e-9, "count %d", count)
	}

	_, err := RecalculatedAverage(float64(2), 5, 1, 0, ReviewDomain)
	require.ErrorIs(t, err, apperror.ErrOutOfRange)
}

func TestDomain(t *testing.T) {
	require.Equal(t, 2.5, ReviewDomain.Midpoint())
	require.Equal(t, 0.0, ReplyDomain.Midpoint())
	require.NoError(t, ReplyDomain.Validate(-1))
	require.NoError(t, ReplyDomain.Validate(1))
	require.Error(t, ReplyDomain.Validate(1.0001))
}

func TestAggregateService(t *testing.T) {
	ctx := context.Background()

	t.Run("increment", func(t *testing.T) {
		s := storetest.New(t)
		svc := NewAggregateService(s)

		n, err := svc.Increment(ctx, "users/u1/reviewCount")
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		n, err = svc.Increment(ctx, "users/u1/reviewCount")
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
	})

	t.Run("decrement to zero never goes negative", func(t *testing.T) {
		s := storetest.New(t)
		svc := NewAggregateService(s)

		n, err := svc.DecrementToZero(ctx, "books/dune/followerCount")
		require.NoError(t, err)
		require.Equal(t, int64(0), n)
		require.Equal(t, float64(0), storetest.MustGet(t, s, "books/dune/followerCount"))

		storetest.Seed(t, s, map[string]any{"books/dune/followerCount": 1})
		for i := 0; i < 3; i++ {
			_, err = svc.DecrementToZero(ctx, "books/dune/followerCount")
			require.NoError(t, err)
		}
		require.Equal(t, float64(0), storetest.MustGet(t, s, "books/dune/followerCount"))
	})

	t.Run("new average", func(t *testing.T) {
		s := storetest.New(t)
		svc := NewAggregateService(s)
		storetest.Seed(t, s, map[string]any{"books/dune/averageRating": 3})

		avg, err := svc.IncrementNewAverage(ctx, 5, 2, "books/dune/averageRating", ReviewDomain)
		require.NoError(t, err)
		require.InDelta(t, 11.0/3.0, avg, 1e-12)
		require.InDelta(t, 11.0/3.0, storetest.MustGet(t, s, "books/dune/averageRating"), 1e-12)
	})

	t.Run("out of range leaves leaf unchanged", func(t *testing.T) {
		s := storetest.New(t)
		svc := NewAggregateService(s)
		storetest.Seed(t, s, map[string]any{"bookReviews/dune/r1/averageRatingFromReplies": 1})

		_, err := svc.IncrementNewAverage(ctx, 3, 1, "bookReviews/dune/r1/averageRatingFromReplies", ReplyDomain)
		require.ErrorIs(t, err, apperror.ErrOutOfRange)
		require.Equal(t, float64(1), storetest.MustGet(t, s, "bookReviews/dune/r1/averageRatingFromReplies"))
	})

	t.Run("recalculated average", func(t *testing.T) {
		s := storetest.New(t)
		svc := NewAggregateService(s)
		storetest.Seed(t, s, map[string]any{"books/dune/averageRating": 4})

		avg, err := svc.IncrementRecalculatedAverage(ctx, 2, 4, 2, "books/dune/averageRating", ReviewDomain)
		require.NoError(t, err)
		require.Equal(t, 3.0, avg)
	})
}
