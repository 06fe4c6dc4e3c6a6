package entity

import "time"

// ProcessedEvent records that a trigger finished handling an event, so a
// redelivery of the same event is skipped.
type ProcessedEvent struct {
	EventID     string    `gorm:"size:64;primaryKey" json:"event_id"`
	Trigger     string    `gorm:"size:100;primaryKey" json:"trigger"`
	ProcessedAt time.Time `gorm:"autoCreateTime" json:"processed_at"`
}
