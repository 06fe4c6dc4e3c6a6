package repository

import (
	"context"
	"errors"

	"anoa.com/reviewfeed/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LedgerRepository interface {
	Processed(ctx context.Context, eventID, trigger string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, trigger string) error
}

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Processed(ctx context.Context, eventID, trigger string) (bool, error) {
	var row entity.ProcessedEvent
	err := r.db.WithContext(ctx).
		Where(&entity.ProcessedEvent{EventID: eventID, Trigger: trigger}).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkProcessed is idempotent: marking the same pair twice is not an error.
func (r *ledgerRepository) MarkProcessed(ctx context.Context, eventID, trigger string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entity.ProcessedEvent{EventID: eventID, Trigger: trigger}).Error
}
