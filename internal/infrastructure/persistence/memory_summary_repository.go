package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/pkg/errors"
)

// MemorySummaryRepository is the in-memory summary store for development
// and tests.
type MemorySummaryRepository struct {
	mu        sync.RWMutex
	summaries []*entity.ConversationSummary
	hashes    map[string]struct{}
}

func NewMemorySummaryRepository() repository.SummaryRepository {
	return &MemorySummaryRepository{
		hashes: make(map[string]struct{}),
	}
}

func (r *MemorySummaryRepository) Store(ctx context.Context, summary *entity.ConversationSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hashes[summary.ContextHash]; ok {
		return errors.NewDuplicateError("summary already archived")
	}
	r.hashes[summary.ContextHash] = struct{}{}

	clone := *summary
	r.summaries = append(r.summaries, &clone)
	return nil
}

func (r *MemorySummaryRepository) Recent(ctx context.Context, userID string, n int) ([]*entity.ConversationSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.ConversationSummary
	for _, s := range r.summaries {
		if s.UserID == userID {
			clone := *s
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *MemorySummaryRepository) Prune(ctx context.Context, userID string, keep int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var mine []*entity.ConversationSummary
	for _, s := range r.summaries {
		if s.UserID == userID {
			mine = append(mine, s)
		}
	}
	if len(mine) <= keep {
		return 0, nil
	}

	sort.Slice(mine, func(i, j int) bool { return mine[i].Timestamp.After(mine[j].Timestamp) })
	doomed := make(map[*entity.ConversationSummary]struct{})
	for _, s := range mine[keep:] {
		doomed[s] = struct{}{}
	}

	kept := r.summaries[:0]
	var deleted int64
	for _, s := range r.summaries {
		if _, ok := doomed[s]; ok {
			delete(r.hashes, s.ContextHash)
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	r.summaries = kept
	return deleted, nil
}

func (r *MemorySummaryRepository) Users(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var users []string
	for _, s := range r.summaries {
		if _, ok := seen[s.UserID]; !ok {
			seen[s.UserID] = struct{}{}
			users = append(users, s.UserID)
		}
	}
	return users, nil
}
