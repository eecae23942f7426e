package models

import "time"

// HistoryModel is one row of the append-only message log.
type HistoryModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"index;size:64;not null"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text;not null"`
	Type      string `gorm:"size:16"`
	Metadata  string `gorm:"type:text"` // JSON encoded metadata
	Timestamp time.Time `gorm:"index"`
}

func (HistoryModel) TableName() string {
	return "message_history"
}
