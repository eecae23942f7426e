package models

import "time"

// ProfileModel stores durable per-user facts.
type ProfileModel struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	Location  string `gorm:"size:128"`
	Language  string `gorm:"size:16"`
	Facts     string `gorm:"type:text"` // JSON encoded map
	LastAsked time.Time
	UpdatedAt time.Time
}

func (ProfileModel) TableName() string {
	return "user_profiles"
}
