package service

import (
	"context"
	"math"
	"sort"

	"anoa.com/reviewfeed/internal/modules/notification/dto"
	notifRepo "anoa.com/reviewfeed/internal/modules/notification/repository"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
)

const (
	DefaultPageSize = 50
	DefaultOwnRatio = 0.25
)

// excludedTypes never reach a follower's feed.
var excludedTypes = map[string]bool{
	"follow":   true,
	"referral": true,
}

// Assemble builds page (1-based) of a feed. Each page takes up to
// ceil(pageSize*ownRatio) items from own, then fills the rest from followed.
// Both queues are consumed across pages, so page P is built by filling pages
// 1..P in turn. Pages past the point where both queues ran dry are empty.
func Assemble(own, followed []dto.Notification, page, pageSize int, ownRatio float64) []dto.Notification {
	quota := int(math.Ceil(float64(pageSize) * ownRatio))
	var current []dto.Notification

	for p := 1; p <= page; p++ {
		if len(own) == 0 && len(followed) == 0 {
			return []dto.Notification{}
		}
		current = make([]dto.Notification, 0, pageSize)

		n := min(quota, len(own))
		current = append(current, own[:n]...)
		own = own[n:]

		n = min(pageSize-len(current), len(followed))
		if n > 0 {
			current = append(current, followed[:n]...)
			followed = followed[n:]
		}
	}
	if current == nil {
		return []dto.Notification{}
	}
	return current
}

// SortDescending orders newest first. Items with equal timestamps end up in
// reverse input order.
func SortDescending(items []dto.Notification) []dto.Notification {
	out := append([]dto.Notification(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type FeedService interface {
	// GetNewsfeed mixes username's own notifications with those of everything
	// it follows.
	GetNewsfeed(ctx context.Context, username string, page int) ([]dto.Notification, error)
}

type feedService struct {
	notifications notifRepo.NotificationRepository
	store         store.Store
	pageSize      int
	ownRatio      float64
}

func NewFeedService(notifications notifRepo.NotificationRepository, s store.Store, pageSize int, ownRatio float64) FeedService {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if ownRatio < 0 || ownRatio > 1 {
		ownRatio = DefaultOwnRatio
	}
	return &feedService{
		notifications: notifications,
		store:         s,
		pageSize:      pageSize,
		ownRatio:      ownRatio,
	}
}

func (s *feedService) GetNewsfeed(ctx context.Context, username string, page int) ([]dto.Notification, error) {
	own, err := s.notifications.FindByRecipient(ctx, username)
	if err != nil {
		return nil, err
	}

	following, err := s.store.Get(ctx, permalink.Join("following", username))
	if err != nil {
		return nil, err
	}
	var followed []dto.Notification
	for _, key := range store.SortedKeys(store.Map(following)) {
		items, err := s.notifications.FindByRecipient(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, n := range items {
			if !excludedTypes[n.Type] {
				followed = append(followed, n)
			}
		}
	}

	return Assemble(SortDescending(own), SortDescending(followed), page, s.pageSize, s.ownRatio), nil
}
