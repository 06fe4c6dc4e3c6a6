package service

import (
	"context"
	"sync"
	"testing"

	"anoa.com/reviewfeed/internal/modules/user/dto"
	"anoa.com/reviewfeed/internal/modules/user/repository"
	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/store/storetest"
	"anoa.com/reviewfeed/pkg/trigger"
	"github.com/stretchr/testify/require"
)

func TestInitializeUser(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	svc := NewUserService(repository.NewUserRepository(s), s)

	created, err := svc.InitializeUser(ctx, "u1", dto.InitializeUserRequest{Email: "a@b.c", Name: "Alice"})
	require.NoError(t, err)
	require.True(t, created)

	user := storetest.MustGet(t, s, "users/u1").(map[string]any)
	require.Equal(t, "u1", user["uid"])
	require.Equal(t, "Alice", user["name"])
	require.Equal(t, float64(storetest.FixedNow.UnixMilli()), user["timestamp"])
	for _, counter := range []string{"reviewCount", "reviewsSentCount", "repliesSentCount", "replyCount", "followingCount", "followerCount"} {
		require.Equal(t, float64(0), user[counter], counter)
	}

	storetest.Seed(t, s, map[string]any{"users/u1/reviewCount": 4})
	created, err = svc.InitializeUser(ctx, "u1", dto.InitializeUserRequest{Name: "Other"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, float64(4), storetest.MustGet(t, s, "users/u1/reviewCount"))
}

func TestClaimUsername(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves and sets once", func(t *testing.T) {
		s := storetest.New(t)
		svc := NewUserService(repository.NewUserRepository(s), s)
		storetest.Seed(t, s, map[string]any{"users/u1/uid": "u1", "users/u2/uid": "u2"})

		key, err := svc.ClaimUsername(ctx, "u1", " j.doe ")
		require.NoError(t, err)
		require.Equal(t, "j%2Edoe", key)
		require.Equal(t, "u1", storetest.MustGet(t, s, "usernames/j%2Edoe"))
		require.Equal(t, "j%2Edoe", storetest.MustGet(t, s, "users/u1/username"))

		key, err = svc.ClaimUsername(ctx, "u1", "j.doe")
		require.NoError(t, err)
		require.Equal(t, "j%2Edoe", key)

		_, err = svc.ClaimUsername(ctx, "u2", "j.doe")
		require.ErrorIs(t, err, apperror.ErrUsernameTaken)

		_, err = svc.ClaimUsername(ctx, "u1", "other")
		require.ErrorIs(t, err, apperror.ErrUsernameAlreadySet)
		require.Nil(t, storetest.MustGet(t, s, "usernames/other"))
	})

	t.Run("unknown user", func(t *testing.T) {
		s := storetest.New(t)
		svc := NewUserService(repository.NewUserRepository(s), s)
		_, err := svc.ClaimUsername(ctx, "ghost", "casper")
		require.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		s := storetest.New(t)
		svc := NewUserService(repository.NewUserRepository(s), s)
		uids := []string{"u1", "u2", "u3", "u4"}
		for _, uid := range uids {
			storetest.Seed(t, s, map[string]any{"users/" + uid + "/uid": uid})
		}

		var wg sync.WaitGroup
		results := make(chan error, len(uids))
		for _, uid := range uids {
			wg.Add(1)
			go func(uid string) {
				defer wg.Done()
				_, err := svc.ClaimUsername(ctx, uid, "popular")
				results <- err
			}(uid)
		}
		wg.Wait()
		close(results)

		winners := 0
		for err := range results {
			if err == nil {
				winners++
				continue
			}
			require.ErrorIs(t, err, apperror.ErrUsernameTaken)
		}
		require.Equal(t, 1, winners)
	})
}

func TestUpdateUserAlias(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	repo := repository.NewUserRepository(s)
	svc := NewUserService(repo, s)

	user := map[string]any{"username": "alice", "email": "a@b.c", "ip": "1.2.3.4", "reviewCount": float64(1)}
	require.NoError(t, svc.UpdateUserAlias(ctx, trigger.Event{
		Type:   trigger.Updated,
		Params: map[string]string{"uid": "u1"},
		After:  user,
	}))
	require.Equal(t, map[string]any{
		"username":    "alice",
		"reviewCount": float64(1),
		"uid":         "u1",
	}, storetest.MustGet(t, s, "userAliases/alice"))

	uid, err := repo.ResolveUID(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "u1", uid)

	require.NoError(t, svc.UpdateUserAlias(ctx, trigger.Event{
		Params: map[string]string{"uid": "u2"},
		After:  map[string]any{"name": "no username yet"},
	}))
	require.Nil(t, storetest.MustGet(t, s, "userAliases/u2"))

	require.NoError(t, svc.UpdateUserAlias(ctx, trigger.Event{
		Type:   trigger.Deleted,
		Params: map[string]string{"uid": "u1"},
		Before: user,
	}))
	uid, err = repo.ResolveUID(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, uid)
}
