package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence/models"
	domainErrors "github.com/magpiebot/magpie/pkg/errors"
	"gorm.io/gorm"
)

// GormKnowledgeRepository is the GORM-backed document store. Vectors
// travel as BLOBs; similarity scoring happens in the domain layer.
type GormKnowledgeRepository struct {
	db *gorm.DB
}

func NewGormKnowledgeRepository(db *gorm.DB) repository.KnowledgeRepository {
	return &GormKnowledgeRepository{db: db}
}

func (r *GormKnowledgeRepository) Insert(ctx context.Context, doc *entity.KnowledgeDocument) error {
	model, err := r.toModel(doc)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domainErrors.NewDuplicateError("content hash already stored")
		}
		return domainErrors.NewInternalError("failed to insert document: " + err.Error())
	}
	return nil
}

func (r *GormKnowledgeRepository) HasContentHash(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.KnowledgeModel{}).
		Where("content_hash = ?", hash).
		Count(&count).Error
	if err != nil {
		return false, domainErrors.NewInternalError("failed to check content hash: " + err.Error())
	}
	return count > 0, nil
}

func (r *GormKnowledgeRepository) CandidatesSince(ctx context.Context, since time.Time) ([]*entity.KnowledgeDocument, error) {
	query := r.db.WithContext(ctx).Model(&models.KnowledgeModel{})
	if !since.IsZero() {
		query = query.Where("timestamp > ?", since)
	}

	var rows []models.KnowledgeModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to load candidates: " + err.Error())
	}
	return r.toEntities(rows, true)
}

func (r *GormKnowledgeRepository) Recent(ctx context.Context, limit int) ([]*entity.KnowledgeDocument, error) {
	var rows []models.KnowledgeModel
	err := r.db.WithContext(ctx).
		Omit("vector").
		Order("timestamp desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to load recent documents: " + err.Error())
	}
	return r.toEntities(rows, false)
}

func (r *GormKnowledgeRepository) ByTags(ctx context.Context, tags []string, limit int) ([]*entity.KnowledgeDocument, error) {
	// Tags are a JSON array in one text column; substring match keeps the
	// query portable across both drivers.
	query := r.db.WithContext(ctx).Model(&models.KnowledgeModel{}).Omit("vector")
	for i, tag := range tags {
		clause := "tags LIKE ?"
		pattern := "%\"" + tag + "\"%"
		if i == 0 {
			query = query.Where(clause, pattern)
		} else {
			query = query.Or(clause, pattern)
		}
	}

	var rows []models.KnowledgeModel
	if err := query.Order("timestamp desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to query by tags: " + err.Error())
	}
	return r.toEntities(rows, false)
}

func (r *GormKnowledgeRepository) ByCategory(ctx context.Context, category string, limit int) ([]*entity.KnowledgeDocument, error) {
	var rows []models.KnowledgeModel
	err := r.db.WithContext(ctx).
		Omit("vector").
		Where("category = ?", category).
		Order("timestamp desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query by category: " + err.Error())
	}
	return r.toEntities(rows, false)
}

func (r *GormKnowledgeRepository) SearchContent(ctx context.Context, substr string, limit int) ([]*entity.KnowledgeDocument, error) {
	var rows []models.KnowledgeModel
	err := r.db.WithContext(ctx).
		Omit("vector").
		Where("content LIKE ?", "%"+substr+"%").
		Order("timestamp desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to search content: " + err.Error())
	}
	return r.toEntities(rows, false)
}

func (r *GormKnowledgeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.KnowledgeModel{})
	if result.Error != nil {
		return 0, domainErrors.NewInternalError("failed to delete stale documents: " + result.Error.Error())
	}
	return result.RowsAffected, nil
}

func (r *GormKnowledgeRepository) Stats(ctx context.Context) (*entity.KnowledgeStats, error) {
	stats := &entity.KnowledgeStats{
		Categories: make(map[string]int64),
	}

	err := r.db.WithContext(ctx).
		Model(&models.KnowledgeModel{}).
		Count(&stats.TotalDocuments).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to count documents: " + err.Error())
	}

	type categoryCount struct {
		Category string
		Count    int64
	}
	var counts []categoryCount
	err = r.db.WithContext(ctx).
		Model(&models.KnowledgeModel{}).
		Select("category, count(*) as count").
		Group("category").
		Scan(&counts).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to count categories: " + err.Error())
	}
	for _, c := range counts {
		stats.Categories[c.Category] = c.Count
	}

	var oldest models.KnowledgeModel
	if err := r.db.WithContext(ctx).Omit("vector").Order("timestamp asc").First(&oldest).Error; err == nil {
		stats.OldestDocument = oldest.Timestamp
	}
	var newest models.KnowledgeModel
	if err := r.db.WithContext(ctx).Omit("vector").Order("timestamp desc").First(&newest).Error; err == nil {
		stats.NewestDocument = newest.Timestamp
	}

	return stats, nil
}

func (r *GormKnowledgeRepository) toModel(doc *entity.KnowledgeDocument) (*models.KnowledgeModel, error) {
	tagsBytes, err := json.Marshal(doc.Tags)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal tags: " + err.Error())
	}
	return &models.KnowledgeModel{
		ID:          doc.ID,
		Content:     doc.Content,
		Vector:      knowledge.EncodeVector(doc.Vector),
		Source:      doc.Source,
		Category:    doc.Category,
		Tags:        string(tagsBytes),
		ContentHash: doc.ContentHash,
		Timestamp:   doc.Timestamp,
	}, nil
}

func (r *GormKnowledgeRepository) toEntities(rows []models.KnowledgeModel, withVectors bool) ([]*entity.KnowledgeDocument, error) {
	docs := make([]*entity.KnowledgeDocument, 0, len(rows))
	for _, row := range rows {
		var tags []string
		if row.Tags != "" {
			if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
				tags = nil
			}
		}
		doc := &entity.KnowledgeDocument{
			ID:          row.ID,
			Content:     row.Content,
			Source:      row.Source,
			Category:    row.Category,
			Tags:        tags,
			Timestamp:   row.Timestamp,
			ContentHash: row.ContentHash,
		}
		if withVectors {
			doc.Vector = knowledge.DecodeVector(row.Vector)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
