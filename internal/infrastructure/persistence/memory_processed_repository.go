package persistence

import (
	"context"
	"sync"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/pkg/errors"
)

// MemoryProcessedRepository is the in-memory replay guard for development
// and tests.
type MemoryProcessedRepository struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedRepository() repository.ProcessedMessageRepository {
	return &MemoryProcessedRepository{
		seen: make(map[string]struct{}),
	}
}

func (r *MemoryProcessedRepository) Mark(ctx context.Context, m *entity.ProcessedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[m.MessageID]; ok {
		return errors.NewDuplicateError("message already processed")
	}
	r.seen[m.MessageID] = struct{}{}
	return nil
}
