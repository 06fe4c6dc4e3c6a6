package service

import (
	"context"
	"fmt"
	"testing"

	"anoa.com/reviewfeed/internal/modules/notification/dto"
	notifRepo "anoa.com/reviewfeed/internal/modules/notification/repository"
	"anoa.com/reviewfeed/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(ids ...string) []dto.Notification {
	out := make([]dto.Notification, len(ids))
	for i, id := range ids {
		out[i] = dto.Notification{ID: id}
	}
	return out
}

func ids(ns []dto.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func TestAssemble(t *testing.T) {
	own := items("A", "B", "C", "D", "E", "F", "G", "H")
	followed := items("X1", "X2", "X3", "X4", "X5", "X6", "X7", "X8")

	tests := []struct {
		page int
		want []string
	}{
		{1, []string{"A", "B", "X1", "X2", "X3", "X4", "X5", "X6"}},
		{2, []string{"C", "D", "X7", "X8"}},
		{3, []string{"E", "F"}},
		{4, []string{"G", "H"}},
		{5, []string{}},
		{0, []string{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			got := Assemble(own, followed, tt.page, 8, 0.25)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	// inputs are not consumed across calls
	assert.Len(t, own, 8)
	assert.Equal(t, "A", Assemble(own, followed, 1, 8, 0.25)[0].ID)
}

func TestAssembleQuotaRoundsUp(t *testing.T) {
	own := make([]dto.Notification, 20)
	followed := make([]dto.Notification, 100)
	for i := range own {
		own[i].ID = "own"
	}

	page := Assemble(own, followed, 1, DefaultPageSize, DefaultOwnRatio)
	require.Len(t, page, 50)
	ownCount := 0
	for _, n := range page {
		if n.ID == "own" {
			ownCount++
		}
	}
	assert.Equal(t, 13, ownCount)
}

func TestAssembleOnlyFollowed(t *testing.T) {
	got := Assemble(nil, items("X1", "X2", "X3"), 1, 2, 0.25)
	assert.Equal(t, []string{"X1", "X2"}, ids(got))
	got = Assemble(nil, items("X1", "X2", "X3"), 2, 2, 0.25)
	assert.Equal(t, []string{"X3"}, ids(got))
}

func TestSortDescending(t *testing.T) {
	in := []dto.Notification{
		{ID: "a", Timestamp: 2},
		{ID: "b", Timestamp: 3},
		{ID: "c", Timestamp: 2},
		{ID: "d", Timestamp: 1},
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, ids(SortDescending(in)))
	assert.Equal(t, "a", in[0].ID)
}

func TestGetNewsfeed(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	storetest.Seed(t, s, map[string]any{
		"notifications/alice": map[string]any{
			"a1": map[string]any{"type": "review", "timestamp": 10},
			"a2": map[string]any{"type": "reply", "timestamp": 30},
		},
		"notifications/bob": map[string]any{
			"b1": map[string]any{"type": "review", "timestamp": 20},
			"b2": map[string]any{"type": "follow", "timestamp": 40},
		},
		"notifications/dune": map[string]any{
			"d1": map[string]any{"type": "review", "timestamp": 25},
			"d2": map[string]any{"type": "referral", "timestamp": 50},
		},
		"following/alice": map[string]any{
			"bob":  map[string]any{"type": "users"},
			"dune": map[string]any{"type": "books"},
		},
	})

	svc := NewFeedService(notifRepo.NewNotificationRepository(s), s, 3, 0.25)

	page, err := svc.GetNewsfeed(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "d1", "b1"}, ids(page))

	page, err = svc.GetNewsfeed(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(page))

	page, err = svc.GetNewsfeed(ctx, "alice", 3)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.NotNil(t, page)

	page, err = svc.GetNewsfeed(ctx, "nobody", 1)
	require.NoError(t, err)
	assert.Empty(t, page)
}
