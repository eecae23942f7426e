package models

import "time"

// KnowledgeModel is a learned document row. The embedding is stored as a
// little-endian float32 BLOB next to the content it encodes.
type KnowledgeModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	Content     string `gorm:"type:text;not null"`
	Vector      []byte `gorm:"type:blob"`
	Source      string `gorm:"size:512"`
	Category    string `gorm:"index;size:64"`
	Tags        string `gorm:"type:text"` // JSON encoded list
	ContentHash string `gorm:"uniqueIndex;size:64;not null"`
	Timestamp   time.Time `gorm:"index"`
}

func (KnowledgeModel) TableName() string {
	return "knowledge_documents"
}
