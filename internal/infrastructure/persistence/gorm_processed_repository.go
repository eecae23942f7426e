package persistence

import (
	"context"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence/models"
	domainErrors "github.com/magpiebot/magpie/pkg/errors"
	"gorm.io/gorm"
)

// GormProcessedRepository is the GORM-backed inbound replay guard.
type GormProcessedRepository struct {
	db *gorm.DB
}

func NewGormProcessedRepository(db *gorm.DB) repository.ProcessedMessageRepository {
	return &GormProcessedRepository{db: db}
}

// Mark records the message. A replayed MessageID hits the primary key
// and surfaces as a duplicate-content error.
func (r *GormProcessedRepository) Mark(ctx context.Context, m *entity.ProcessedMessage) error {
	model := &models.ProcessedModel{
		MessageID:   m.MessageID,
		Sender:      m.Sender,
		Type:        string(m.Type),
		ProcessedAt: m.ProcessedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domainErrors.NewDuplicateError("message already processed")
		}
		return domainErrors.NewInternalError("failed to mark message: " + err.Error())
	}
	return nil
}
