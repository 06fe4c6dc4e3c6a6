package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"anoa.com/reviewfeed/internal/modules/user/dto"
	"anoa.com/reviewfeed/internal/modules/user/repository"
	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/trigger"
	"github.com/sirupsen/logrus"
)

type UserService interface {
	// InitializeUser creates users/{uid} with zeroed counters. It reports false
	// when the user already exists.
	InitializeUser(ctx context.Context, uid string, req dto.InitializeUserRequest) (bool, error)
	// ClaimUsername reserves a username for uid and returns the stored key.
	ClaimUsername(ctx context.Context, uid, username string) (string, error)
	// UpdateUserAlias reacts to writes on users/{uid}.
	UpdateUserAlias(ctx context.Context, e trigger.Event) error
}

type userService struct {
	repo    repository.UserRepository
	records store.Store
}

// NewUserService takes the store primary records are written through; writes to
// it fire triggers.
func NewUserService(repo repository.UserRepository, records store.Store) UserService {
	return &userService{repo: repo, records: records}
}

func (s *userService) InitializeUser(ctx context.Context, uid string, req dto.InitializeUserRequest) (bool, error) {
	path := permalink.Join("users", uid)
	exists, err := s.records.Exists(ctx, path)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	user := map[string]any{
		"uid":              uid,
		"email":            req.Email,
		"name":             req.Name,
		"image":            req.Image,
		"roz":              0,
		"reviewCount":      0,
		"reviewsSentCount": 0,
		"repliesSentCount": 0,
		"replyCount":       0,
		"followingCount":   0,
		"followerCount":    0,
		"timestamp":        store.ServerTimestamp,
	}
	if err := s.records.WriteBatch(ctx, map[string]any{path: user}); err != nil {
		return false, fmt.Errorf("initialize user %s: %w", uid, err)
	}
	logger.Log.WithField("uid", uid).Info("user initialized")
	return true, nil
}

func (s *userService) ClaimUsername(ctx context.Context, uid, username string) (string, error) {
	key := permalink.EscapeKey(strings.TrimSpace(username))
	if key == "" {
		return "", apperror.ErrInvalidInput
	}

	exists, err := s.records.Exists(ctx, permalink.Join("users", uid))
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("user %s: %w", uid, apperror.ErrNotFound)
	}

	reservation := permalink.Join("usernames", key)
	_, err = s.records.Transact(ctx, reservation, func(current any) (any, error) {
		if owner := store.String(current); current == nil || owner == uid {
			return uid, nil
		}
		return nil, apperror.ErrUsernameTaken
	})
	if err != nil {
		return "", err
	}

	_, err = s.records.Transact(ctx, permalink.Join("users", uid, "username"), func(current any) (any, error) {
		if existing := store.String(current); current == nil || existing == key {
			return key, nil
		}
		return nil, apperror.ErrUsernameAlreadySet
	})
	if err != nil {
		if errors.Is(err, apperror.ErrUsernameAlreadySet) {
			s.release(ctx, reservation, uid)
		}
		return "", err
	}

	logger.Log.WithFields(logrus.Fields{"uid": uid, "username": key}).Info("username claimed")
	return key, nil
}

// release drops a reservation still owned by uid.
func (s *userService) release(ctx context.Context, reservation, uid string) {
	_, err := s.records.Transact(ctx, reservation, func(current any) (any, error) {
		if store.String(current) == uid {
			return nil, nil
		}
		return current, nil
	})
	if err != nil {
		logger.Log.WithError(err).WithField("reservation", reservation).Warn("failed to release username reservation")
	}
}

func (s *userService) UpdateUserAlias(ctx context.Context, e trigger.Event) error {
	uid := e.Param("uid")
	after, _ := e.After.(map[string]any)
	if after == nil {
		return s.repo.DeleteAlias(ctx, store.String(store.Field(e.Before, "username")))
	}
	return s.repo.WriteAlias(ctx, uid, after)
}
