package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/pkg/errors"
)

// MemoryKnowledgeRepository is the in-memory document store for
// development and tests.
type MemoryKnowledgeRepository struct {
	mu     sync.RWMutex
	docs   []*entity.KnowledgeDocument
	hashes map[string]struct{}
}

func NewMemoryKnowledgeRepository() repository.KnowledgeRepository {
	return &MemoryKnowledgeRepository{
		hashes: make(map[string]struct{}),
	}
}

func (r *MemoryKnowledgeRepository) Insert(ctx context.Context, doc *entity.KnowledgeDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hashes[doc.ContentHash]; ok {
		return errors.NewDuplicateError("content hash already stored")
	}
	r.hashes[doc.ContentHash] = struct{}{}

	clone := *doc
	r.docs = append(r.docs, &clone)
	return nil
}

func (r *MemoryKnowledgeRepository) HasContentHash(ctx context.Context, hash string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hashes[hash]
	return ok, nil
}

func (r *MemoryKnowledgeRepository) CandidatesSince(ctx context.Context, since time.Time) ([]*entity.KnowledgeDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.KnowledgeDocument
	for _, d := range r.docs {
		if since.IsZero() || d.Timestamp.After(since) {
			clone := *d
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *MemoryKnowledgeRepository) Recent(ctx context.Context, limit int) ([]*entity.KnowledgeDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.KnowledgeDocument, 0, len(r.docs))
	for _, d := range r.docs {
		clone := *d
		clone.Vector = nil
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryKnowledgeRepository) ByTags(ctx context.Context, tags []string, limit int) ([]*entity.KnowledgeDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.KnowledgeDocument
	for _, d := range r.docs {
		if !hasAnyTag(d.Tags, tags) {
			continue
		}
		clone := *d
		clone.Vector = nil
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryKnowledgeRepository) ByCategory(ctx context.Context, category string, limit int) ([]*entity.KnowledgeDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.KnowledgeDocument
	for _, d := range r.docs {
		if d.Category != category {
			continue
		}
		clone := *d
		clone.Vector = nil
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryKnowledgeRepository) SearchContent(ctx context.Context, substr string, limit int) ([]*entity.KnowledgeDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.KnowledgeDocument
	for _, d := range r.docs {
		if !strings.Contains(d.Content, substr) {
			continue
		}
		clone := *d
		clone.Vector = nil
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryKnowledgeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.docs[:0]
	var deleted int64
	for _, d := range r.docs {
		if d.Timestamp.Before(cutoff) {
			delete(r.hashes, d.ContentHash)
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	r.docs = kept
	return deleted, nil
}

func (r *MemoryKnowledgeRepository) Stats(ctx context.Context) (*entity.KnowledgeStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &entity.KnowledgeStats{
		TotalDocuments: int64(len(r.docs)),
		Categories:     make(map[string]int64),
	}
	for _, d := range r.docs {
		stats.Categories[d.Category]++
		if stats.OldestDocument.IsZero() || d.Timestamp.Before(stats.OldestDocument) {
			stats.OldestDocument = d.Timestamp
		}
		if d.Timestamp.After(stats.NewestDocument) {
			stats.NewestDocument = d.Timestamp
		}
	}
	return stats, nil
}

func hasAnyTag(docTags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range docTags {
			if t == w {
				return true
			}
		}
	}
	return false
}
