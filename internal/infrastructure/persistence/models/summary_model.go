package models

import "time"

// SummaryModel is the long-term conversation summary row.
type SummaryModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"index;size:64;not null"`
	Summary     string `gorm:"type:text;not null"`
	ContextHash string `gorm:"uniqueIndex;size:64;not null"`
	Timestamp   time.Time
}

func (SummaryModel) TableName() string {
	return "conversation_summaries"
}
