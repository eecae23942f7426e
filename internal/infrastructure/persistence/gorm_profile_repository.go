package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence/models"
	domainErrors "github.com/magpiebot/magpie/pkg/errors"
	"gorm.io/gorm"
)

// GormProfileRepository is the GORM-backed user profile store.
type GormProfileRepository struct {
	db *gorm.DB
}

func NewGormProfileRepository(db *gorm.DB) repository.ProfileRepository {
	return &GormProfileRepository{db: db}
}

func (r *GormProfileRepository) Get(ctx context.Context, userID string) (*entity.UserProfile, error) {
	var model models.ProfileModel
	if err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("profile not found")
		}
		return nil, domainErrors.NewInternalError("failed to load profile: " + err.Error())
	}

	var facts map[string]string
	if model.Facts != "" {
		if err := json.Unmarshal([]byte(model.Facts), &facts); err != nil {
			facts = make(map[string]string)
		}
	}
	return &entity.UserProfile{
		UserID:    model.UserID,
		Name:      model.Name,
		Location:  model.Location,
		Language:  model.Language,
		Facts:     facts,
		LastAsked: model.LastAsked,
	}, nil
}

func (r *GormProfileRepository) Save(ctx context.Context, profile *entity.UserProfile) error {
	factsBytes, err := json.Marshal(profile.Facts)
	if err != nil {
		return domainErrors.NewInternalError("failed to marshal facts: " + err.Error())
	}

	model := &models.ProfileModel{
		UserID:    profile.UserID,
		Name:      profile.Name,
		Location:  profile.Location,
		Language:  profile.Language,
		Facts:     string(factsBytes),
		LastAsked: profile.LastAsked,
		UpdatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save profile: " + err.Error())
	}
	return nil
}
