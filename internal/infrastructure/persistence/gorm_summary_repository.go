package persistence

import (
	"context"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence/models"
	domainErrors "github.com/magpiebot/magpie/pkg/errors"
	"gorm.io/gorm"
)

// GormSummaryRepository is the GORM-backed summary store.
type GormSummaryRepository struct {
	db *gorm.DB
}

func NewGormSummaryRepository(db *gorm.DB) repository.SummaryRepository {
	return &GormSummaryRepository{db: db}
}

// Store inserts a summary. The unique index on context_hash turns a
// re-archive of unchanged context into a duplicate-content error.
func (r *GormSummaryRepository) Store(ctx context.Context, summary *entity.ConversationSummary) error {
	model := &models.SummaryModel{
		UserID:      summary.UserID,
		Summary:     summary.Summary,
		ContextHash: summary.ContextHash,
		Timestamp:   summary.Timestamp,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domainErrors.NewDuplicateError("summary already archived")
		}
		return domainErrors.NewInternalError("failed to store summary: " + err.Error())
	}
	return nil
}

func (r *GormSummaryRepository) Recent(ctx context.Context, userID string, n int) ([]*entity.ConversationSummary, error) {
	var rows []models.SummaryModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp desc").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to load summaries: " + err.Error())
	}

	summaries := make([]*entity.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, &entity.ConversationSummary{
			UserID:      row.UserID,
			Summary:     row.Summary,
			Timestamp:   row.Timestamp,
			ContextHash: row.ContextHash,
		})
	}
	return summaries, nil
}

// Prune keeps the newest keep summaries for the user.
func (r *GormSummaryRepository) Prune(ctx context.Context, userID string, keep int) (int64, error) {
	var keepIDs []uint
	err := r.db.WithContext(ctx).
		Model(&models.SummaryModel{}).
		Where("user_id = ?", userID).
		Order("timestamp desc").
		Limit(keep).
		Pluck("id", &keepIDs).Error
	if err != nil {
		return 0, domainErrors.NewInternalError("failed to list summaries: " + err.Error())
	}
	if len(keepIDs) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Where("user_id = ? AND id NOT IN ?", userID, keepIDs).
		Delete(&models.SummaryModel{})
	if result.Error != nil {
		return 0, domainErrors.NewInternalError("failed to prune summaries: " + result.Error.Error())
	}
	return result.RowsAffected, nil
}

func (r *GormSummaryRepository) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).
		Model(&models.SummaryModel{}).
		Distinct("user_id").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list summary users: " + err.Error())
	}
	return users, nil
}
