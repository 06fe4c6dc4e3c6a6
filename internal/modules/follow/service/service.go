package service

import (
	"context"
	"fmt"

	aggregate "anoa.com/reviewfeed/internal/modules/aggregate/service"
	userRepo "anoa.com/reviewfeed/internal/modules/user/repository"
	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/trigger"
	"github.com/sirupsen/logrus"
)

const usersNamespace = "users"

type FollowService interface {
	// Follow writes the edge following/{own}/{target}.
	Follow(ctx context.Context, ownUsername, target, namespace string) error
	// Unfollow removes the edge.
	Unfollow(ctx context.Context, ownUsername, target string) error
	// HandleFollow maintains follower and following counts and the
	// followers/{followee}/{follower} mirror.
	HandleFollow(ctx context.Context, e trigger.Event) error
}

type followService struct {
	users      userRepo.UserRepository
	aggregates aggregate.AggregateService
	records    store.Store
	raw        store.Store
}

// NewFollowService takes the observed store for edge writes and the raw store
// for derived writes.
func NewFollowService(users userRepo.UserRepository, aggregates aggregate.AggregateService, records, raw store.Store) FollowService {
	return &followService{
		users:      users,
		aggregates: aggregates,
		records:    records,
		raw:        raw,
	}
}

func edgePath(own, target string) string {
	return permalink.Join("following", own, target)
}

func (s *followService) Follow(ctx context.Context, ownUsername, target, namespace string) error {
	target = permalink.EscapeKey(target)
	if namespace == "" {
		namespace = usersNamespace
	}
	if target == "" {
		return apperror.ErrInvalidInput
	}
	if !permalink.IsTopicNamespace(namespace) {
		return fmt.Errorf("%w: %q is not a followable namespace", apperror.ErrBadRequest, namespace)
	}
	if namespace == usersNamespace && target == ownUsername {
		return fmt.Errorf("%w: cannot follow yourself", apperror.ErrBadRequest)
	}

	return s.records.WriteBatch(ctx, map[string]any{
		edgePath(ownUsername, target): map[string]any{
			"timestamp": store.ServerTimestamp,
			"type":      namespace,
			"username":  ownUsername,
		},
	})
}

func (s *followService) Unfollow(ctx context.Context, ownUsername, target string) error {
	target = permalink.EscapeKey(target)
	if target == "" {
		return apperror.ErrInvalidInput
	}
	return s.records.WriteBatch(ctx, map[string]any{edgePath(ownUsername, target): nil})
}

func (s *followService) HandleFollow(ctx context.Context, e trigger.Event) error {
	own := e.Param("follower")
	target := e.Param("followee")

	ownUID, err := s.users.ResolveUID(ctx, own)
	if err != nil {
		return err
	}
	if ownUID == "" {
		return fmt.Errorf("follower %s: %w", own, apperror.ErrIdentityNotFound)
	}

	isFollow := e.Before == nil && e.After != nil
	isUnfollow := e.Before != nil && e.After == nil
	if !isFollow && !isUnfollow {
		return nil
	}

	edge := e.After
	if isUnfollow {
		edge = e.Before
	}
	namespace := store.String(store.Field(edge, "type"))
	if !permalink.IsTopicNamespace(namespace) {
		return fmt.Errorf("%w: follow edge %s has type %q", apperror.ErrInvalidInput, e.Path, namespace)
	}

	key := target
	if namespace == usersNamespace {
		key, err = s.users.ResolveUID(ctx, target)
		if err != nil {
			return err
		}
		if key == "" {
			return fmt.Errorf("followee %s: %w", target, apperror.ErrIdentityNotFound)
		}
	}

	followerCount := permalink.Join(namespace, key, "followerCount")
	followingCount := permalink.Join("users", ownUID, "followingCount")
	if isFollow {
		if _, err := s.aggregates.Increment(ctx, followerCount); err != nil {
			return err
		}
		if _, err := s.aggregates.Increment(ctx, followingCount); err != nil {
			return err
		}
	} else {
		if _, err := s.aggregates.DecrementToZero(ctx, followerCount); err != nil {
			return err
		}
		if _, err := s.aggregates.DecrementToZero(ctx, followingCount); err != nil {
			return err
		}
	}

	if err := s.raw.WriteBatch(ctx, map[string]any{
		permalink.Join("followers", target, own): e.After,
	}); err != nil {
		return err
	}

	if err := s.users.MirrorAlias(ctx, ownUID); err != nil {
		return err
	}
	if namespace == usersNamespace {
		if err := s.users.MirrorAlias(ctx, key); err != nil {
			return err
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"event_id": e.ID,
		"follower": own,
		"followee": target,
		"follow":   isFollow,
	}).Debug("follow edge propagated")
	return nil
}
