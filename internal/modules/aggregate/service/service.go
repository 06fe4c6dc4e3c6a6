package service

import (
	"context"
	"fmt"
	"math"

	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/store"
)

// Domain is the closed interval a rating and its averages must lie in.
type Domain struct {
	Min float64
	Max float64
}

var (
	ReviewDomain = Domain{Min: 0, Max: 5}
	ReplyDomain  = Domain{Min: -1, Max: 1}
)

func (d Domain) Midpoint() float64 {
	return (d.Min + d.Max) / 2
}

func (d Domain) Validate(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < d.Min || v > d.Max {
		return fmt.Errorf("%w: average must be a number between %g and %g, got %g", apperror.ErrOutOfRange, d.Min, d.Max, v)
	}
	return nil
}

// NewAverage folds one more rating into a running average over oldCount samples.
// A missing average means newRating is the first sample.
func NewAverage(current any, newRating float64, oldCount int64, d Domain) (float64, error) {
	if current == nil {
		return newRating, d.Validate(newRating)
	}
	oldAverage, ok := store.Float(current)
	if !ok {
		return 0, fmt.Errorf("%w: stored average %v is not a number", apperror.ErrOutOfRange, current)
	}
	avg := (oldAverage*float64(oldCount) + newRating) / float64(oldCount+1)
	return avg, d.Validate(avg)
}

// RecalculatedAverage swaps oldRating for newRating inside a running average
// over count samples.
func RecalculatedAverage(current any, newRating, oldRating float64, count int64, d Domain) (float64, error) {
	if current == nil {
		return newRating, d.Validate(newRating)
	}
	oldAverage, ok := store.Float(current)
	if !ok {
		return 0, fmt.Errorf("%w: stored average %v is not a number", apperror.ErrOutOfRange, current)
	}
	avg := (oldAverage*float64(count) - oldRating + newRating) / float64(count)
	return avg, d.Validate(avg)
}

// AggregateService applies counter and average updates as single-leaf
// transactions. A failed validation leaves the leaf untouched.
type AggregateService interface {
	Increment(ctx context.Context, path string) (int64, error)
	DecrementToZero(ctx context.Context, path string) (int64, error)
	IncrementNewAverage(ctx context.Context, newRating float64, oldCount int64, path string, d Domain) (float64, error)
	IncrementRecalculatedAverage(ctx context.Context, newRating, oldRating float64, count int64, path string, d Domain) (float64, error)
}

type aggregateService struct {
	store store.Store
}

func NewAggregateService(s store.Store) AggregateService {
	return &aggregateService{store: s}
}

func (s *aggregateService) Increment(ctx context.Context, path string) (int64, error) {
	v, err := s.store.Transact(ctx, path, func(current any) (any, error) {
		n, _ := store.Float(current)
		return n + 1, nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", path, err)
	}
	return store.Int(v), nil
}

func (s *aggregateService) DecrementToZero(ctx context.Context, path string) (int64, error) {
	v, err := s.store.Transact(ctx, path, func(current any) (any, error) {
		n, _ := store.Float(current)
		return math.Max(n-1, 0), nil
	})
	if err != nil {
		return 0, fmt.Errorf("decrement %s: %w", path, err)
	}
	return store.Int(v), nil
}

func (s *aggregateService) IncrementNewAverage(ctx context.Context, newRating float64, oldCount int64, path string, d Domain) (float64, error) {
	v, err := s.store.Transact(ctx, path, func(current any) (any, error) {
		return NewAverage(current, newRating, oldCount, d)
	})
	if err != nil {
		return 0, fmt.Errorf("average %s: %w", path, err)
	}
	avg, _ := store.Float(v)
	return avg, nil
}

func (s *aggregateService) IncrementRecalculatedAverage(ctx context.Context, newRating, oldRating float64, count int64, path string, d Domain) (float64, error) {
	v, err := s.store.Transact(ctx, path, func(current any) (any, error) {
		return RecalculatedAverage(current, newRating, oldRating, count, d)
	})
	if err != nil {
		return 0, fmt.Errorf("recalculate average %s: %w", path, err)
	}
	avg, _ := store.Float(v)
	return avg, nil
}
