package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
)

// MemoryHistoryRepository is the in-memory message log for development
// and tests.
type MemoryHistoryRepository struct {
	mu      sync.RWMutex
	entries []*entity.HistoryEntry
	nextID  int64
}

func NewMemoryHistoryRepository() repository.HistoryRepository {
	return &MemoryHistoryRepository{nextID: 1}
}

func (r *MemoryHistoryRepository) Append(ctx context.Context, e *entity.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = r.nextID
	r.nextID++

	clone := *e
	r.entries = append(r.entries, &clone)
	return nil
}

func (r *MemoryHistoryRepository) Query(ctx context.Context, q entity.HistoryQuery) ([]*entity.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.HistoryEntry
	for _, e := range r.entries {
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		if len(q.Keywords) > 0 && !matchesAnyKeyword(e.Content, q.Keywords) {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// matchesAnyKeyword is case-insensitive, matching the LIKE semantics of
// the SQL-backed repository.
func matchesAnyKeyword(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
