package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"anoa.com/reviewfeed/internal/modules/notification/dto"
	notifRepo "anoa.com/reviewfeed/internal/modules/notification/repository"
	"anoa.com/reviewfeed/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	TypeReview = "review"
	TypeReply  = "reply"
)

// Channel is the Redis pub/sub channel live notifications for username go to.
func Channel(username string) string {
	return fmt.Sprintf("user_notifications:%s", username)
}

// ReviewFields is the fixed projection of a new review into a notification.
func ReviewFields(src dto.Source) map[string]any {
	fields := baseFields(src, TypeReview)
	fields["title"] = nil
	if src.Title != nil {
		fields["title"] = *src.Title
	}
	return fields
}

// ReplyFields projects a new reply. Replies have no title.
func ReplyFields(src dto.Source) map[string]any {
	return baseFields(src, TypeReply)
}

func baseFields(src dto.Source, kind string) map[string]any {
	return map[string]any{
		"content":    src.Content,
		"from":       src.Sender,
		"permalink":  src.Permalink,
		"rating":     src.Rating,
		"read":       false,
		"replyCount": src.ReplyCount,
		"synced":     src.Synced,
		"timestamp":  src.Timestamp,
		"to":         src.Recipient,
		"type":       kind,
	}
}

type NotificationService interface {
	// Notify writes the given fields of notifications/{recipient}/{id} and pushes
	// the resulting record to live subscribers.
	Notify(ctx context.Context, recipient, id string, fields map[string]any) error
	// GetNotifications returns the recipient's notifications, newest first.
	GetNotifications(ctx context.Context, username string) ([]dto.Notification, error)
	MarkAsRead(ctx context.Context, username, id string) error
}

type notificationService struct {
	repo        notifRepo.NotificationRepository
	redisClient *redis.Client
}

func NewNotificationService(repo notifRepo.NotificationRepository, redisClient *redis.Client) NotificationService {
	return &notificationService{
		repo:        repo,
		redisClient: redisClient,
	}
}

func (s *notificationService) Notify(ctx context.Context, recipient, id string, fields map[string]any) error {
	// 1. Save to store
	if err := s.repo.Upsert(ctx, recipient, id, fields); err != nil {
		return fmt.Errorf("write notification %s/%s: %w", recipient, id, err)
	}

	// 2. Publish to Redis if Redis is available
	if s.redisClient == nil {
		return nil
	}
	record, err := s.repo.FindByID(ctx, recipient, id)
	if err != nil || record == nil {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil
	}
	if err := s.redisClient.Publish(ctx, Channel(recipient), payload).Err(); err != nil {
		logger.Log.WithFields(logrus.Fields{"recipient": recipient, "id": id}).WithError(err).Warn("failed to publish live notification")
	}
	return nil
}

func (s *notificationService) GetNotifications(ctx context.Context, username string) ([]dto.Notification, error) {
	items, err := s.repo.FindByRecipient(ctx, username)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp > items[j].Timestamp })
	return items, nil
}

func (s *notificationService) MarkAsRead(ctx context.Context, username, id string) error {
	return s.repo.MarkAsRead(ctx, username, id)
}
