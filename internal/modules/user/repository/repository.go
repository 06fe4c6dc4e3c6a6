package repository

import (
	"context"
	"fmt"

	"anoa.com/reviewfeed/internal/modules/user/dto"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
)

// privateFields never leave users/{uid}.
var privateFields = map[string]bool{
	"email":         true,
	"ip":            true,
	"referredBy":    true,
	"referralCount": true,
}

type UserRepository interface {
	// ResolveUID maps a username key to its uid, or "" when no alias exists.
	ResolveUID(ctx context.Context, username string) (string, error)
	// FindProfile reads {namespace}/{key}; nil when the document is absent.
	FindProfile(ctx context.Context, namespace, key string) (*dto.Profile, error)
	FindUser(ctx context.Context, uid string) (map[string]any, error)
	// WriteAlias mirrors the public part of a user document to userAliases/{username}.
	WriteAlias(ctx context.Context, uid string, user map[string]any) error
	// MirrorAlias refreshes the alias from the current users/{uid}.
	MirrorAlias(ctx context.Context, uid string) error
	DeleteAlias(ctx context.Context, username string) error
}

type userRepository struct {
	store store.Store
}

func NewUserRepository(s store.Store) UserRepository {
	return &userRepository{store: s}
}

func (r *userRepository) ResolveUID(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", nil
	}
	v, err := r.store.Get(ctx, permalink.Join("userAliases", username, "uid"))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", username, err)
	}
	return store.String(v), nil
}

func (r *userRepository) FindProfile(ctx context.Context, namespace, key string) (*dto.Profile, error) {
	v, err := r.store.Get(ctx, permalink.Join(namespace, key))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var p dto.Profile
	if err := store.Decode(v, &p); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return &p, nil
}

func (r *userRepository) FindUser(ctx context.Context, uid string) (map[string]any, error) {
	v, err := r.store.Get(ctx, permalink.Join("users", uid))
	if err != nil {
		return nil, err
	}
	user, _ := v.(map[string]any)
	return user, nil
}

func (r *userRepository) WriteAlias(ctx context.Context, uid string, user map[string]any) error {
	username := store.String(user["username"])
	if username == "" {
		return nil
	}
	public := make(map[string]any, len(user)+1)
	for k, v := range user {
		if !privateFields[k] {
			public[k] = v
		}
	}
	public["uid"] = uid
	return r.store.WriteBatch(ctx, map[string]any{
		permalink.Join("userAliases", username): public,
	})
}

func (r *userRepository) MirrorAlias(ctx context.Context, uid string) error {
	user, err := r.FindUser(ctx, uid)
	if err != nil || user == nil {
		return err
	}
	return r.WriteAlias(ctx, uid, user)
}

func (r *userRepository) DeleteAlias(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	return r.store.WriteBatch(ctx, map[string]any{
		permalink.Join("userAliases", username): nil,
	})
}
