package repository

import (
	"context"
	"fmt"

	"anoa.com/reviewfeed/internal/modules/notification/dto"
	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
)

type NotificationRepository interface {
	// Upsert writes each field of notifications/{recipient}/{id} individually,
	// leaving fields it does not mention untouched.
	Upsert(ctx context.Context, recipient, id string, fields map[string]any) error
	FindByID(ctx context.Context, recipient, id string) (*dto.Notification, error)
	// FindByRecipient returns notifications in key order.
	FindByRecipient(ctx context.Context, recipient string) ([]dto.Notification, error)
	MarkAsRead(ctx context.Context, recipient, id string) error
}

type notificationRepository struct {
	store store.Store
}

func NewNotificationRepository(s store.Store) NotificationRepository {
	return &notificationRepository{store: s}
}

func recordPath(recipient, id string) string {
	return permalink.Join("notifications", recipient, id)
}

func (r *notificationRepository) Upsert(ctx context.Context, recipient, id string, fields map[string]any) error {
	updates := make(map[string]any, len(fields))
	base := recordPath(recipient, id)
	for field, v := range fields {
		updates[permalink.Join(base, field)] = v
	}
	return r.store.WriteBatch(ctx, updates)
}

func (r *notificationRepository) FindByID(ctx context.Context, recipient, id string) (*dto.Notification, error) {
	v, err := r.store.Get(ctx, recordPath(recipient, id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	n, err := decode(id, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) FindByRecipient(ctx context.Context, recipient string) ([]dto.Notification, error) {
	v, err := r.store.Get(ctx, permalink.Join("notifications", recipient))
	if err != nil {
		return nil, err
	}
	records := store.Map(v)
	out := make([]dto.Notification, 0, len(records))
	for _, id := range store.SortedKeys(records) {
		// counters kept on the same node sit beside the records
		if _, ok := records[id].(map[string]any); !ok {
			continue
		}
		n, err := decode(id, records[id])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, recipient, id string) error {
	exists, err := r.store.Exists(ctx, recordPath(recipient, id))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("notification %s: %w", id, apperror.ErrNotFound)
	}
	return r.store.WriteBatch(ctx, map[string]any{permalink.Join(recordPath(recipient, id), "read"): true})
}

func decode(id string, v any) (dto.Notification, error) {
	var n dto.Notification
	if err := store.Decode(v, &n); err != nil {
		return n, fmt.Errorf("decode notification %s: %w", id, err)
	}
	n.ID = id
	return n, nil
}
