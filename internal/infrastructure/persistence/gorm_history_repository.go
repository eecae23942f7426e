package persistence

import (
	"context"
	"encoding/json"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence/models"
	domainErrors "github.com/magpiebot/magpie/pkg/errors"
	"gorm.io/gorm"
)

// GormHistoryRepository is the GORM-backed append-only message log.
type GormHistoryRepository struct {
	db *gorm.DB
}

func NewGormHistoryRepository(db *gorm.DB) repository.HistoryRepository {
	return &GormHistoryRepository{db: db}
}

func (r *GormHistoryRepository) Append(ctx context.Context, e *entity.HistoryEntry) error {
	metadataBytes, err := json.Marshal(e.Metadata)
	if err != nil {
		return domainErrors.NewInternalError("failed to marshal metadata: " + err.Error())
	}

	model := &models.HistoryModel{
		UserID:    e.UserID,
		Role:      string(e.Role),
		Content:   e.Content,
		Type:      string(e.MessageType),
		Metadata:  string(metadataBytes),
		Timestamp: e.Timestamp,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to append history: " + err.Error())
	}
	e.ID = model.ID
	return nil
}

func (r *GormHistoryRepository) Query(ctx context.Context, q entity.HistoryQuery) ([]*entity.HistoryEntry, error) {
	query := r.db.WithContext(ctx).Model(&models.HistoryModel{})
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if !q.Since.IsZero() {
		query = query.Where("timestamp >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		query = query.Where("timestamp <= ?", q.Until)
	}
	if len(q.Keywords) > 0 {
		sub := r.db.Where("content LIKE ?", "%"+q.Keywords[0]+"%")
		for _, kw := range q.Keywords[1:] {
			sub = sub.Or("content LIKE ?", "%"+kw+"%")
		}
		query = query.Where(sub)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows []models.HistoryModel
	err := query.Order("timestamp desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query history: " + err.Error())
	}

	entries := make([]*entity.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]interface{}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
				metadata = nil
			}
		}
		entries = append(entries, &entity.HistoryEntry{
			ID:          row.ID,
			UserID:      row.UserID,
			Role:        entity.Role(row.Role),
			Content:     row.Content,
			MessageType: entity.MessageType(row.Type),
			Timestamp:   row.Timestamp,
			Metadata:    metadata,
		})
	}
	return entries, nil
}
