package persistence

import (
	"context"
	"sync"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/pkg/errors"
)

// MemoryProfileRepository is the in-memory profile store for development
// and tests.
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]*entity.UserProfile
}

func NewMemoryProfileRepository() repository.ProfileRepository {
	return &MemoryProfileRepository{
		profiles: make(map[string]*entity.UserProfile),
	}
}

func (r *MemoryProfileRepository) Get(ctx context.Context, userID string) (*entity.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[userID]
	if !ok {
		return nil, errors.NewNotFoundError("profile not found")
	}
	clone := *profile
	return &clone, nil
}

func (r *MemoryProfileRepository) Save(ctx context.Context, profile *entity.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *profile
	r.profiles[profile.UserID] = &clone
	return nil
}
