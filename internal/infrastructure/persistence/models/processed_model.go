package models

import "time"

// ProcessedModel records an inbound transport message that was already
// handled. The primary key doubles as the replay guard.
type ProcessedModel struct {
	MessageID   string `gorm:"primaryKey;size:128"`
	Sender      string `gorm:"size:64"`
	Type        string `gorm:"size:16"`
	ProcessedAt time.Time
}

func (ProcessedModel) TableName() string {
	return "processed_messages"
}
