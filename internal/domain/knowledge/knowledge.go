package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/llm"
	"github.com/magpiebot/magpie/internal/domain/repository"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

// Freshness glyphs embedded in formatted search output. GlyphFresh is a
// protocol signal: the proactive loop treats any result carrying it as
// fresh relevant content without re-querying timestamps.
const (
	GlyphFresh  = "🆕"
	GlyphRecent = "📅"
	GlyphOld    = "📜"
)

// NoResults is the sentinel returned when a search matches nothing.
const NoResults = "No relevant knowledge found."

const (
	minContentLen = 10
	maxContentLen = 2000
	recentWindow  = 7 * 24 * time.Hour
)

// Base is the vector knowledge base: hash-deduplicated document storage
// with recency-weighted retrieval.
type Base struct {
	repo      repository.KnowledgeRepository
	embedder  llm.Embedder
	threshold float64
	boostAge  time.Duration
	logger    *zap.Logger
	nowFn     func() time.Time
}

// NewBase creates the knowledge base. threshold is the minimum cosine
// similarity for a search hit; boostAge is the window that earns the
// freshness boost.
func NewBase(repo repository.KnowledgeRepository, embedder llm.Embedder, threshold float64, boostAge time.Duration, logger *zap.Logger) *Base {
	if threshold <= 0 {
		threshold = 0.6
	}
	if boostAge <= 0 {
		boostAge = 24 * time.Hour
	}
	return &Base{
		repo:      repo,
		embedder:  embedder,
		threshold: threshold,
		boostAge:  boostAge,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// Learn embeds and persists a document. Content below the minimum length
// is rejected; a known content hash is a duplicate regardless of source.
func (b *Base) Learn(ctx context.Context, content, source, category string, tags []string, ts time.Time, contentHash string) error {
	if len(content) < minContentLen {
		return apperrors.NewInvalidInputError("content too short to learn")
	}

	known, err := b.repo.HasContentHash(ctx, contentHash)
	if err != nil {
		return err
	}
	if known {
		return apperrors.NewDuplicateError("content hash already learned")
	}

	vector, err := b.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}

	if len(content) > maxContentLen {
		content = content[:maxContentLen]
	}

	doc := &entity.KnowledgeDocument{
		ID:          uuid.NewString(),
		Content:     content,
		Vector:      vector,
		Source:      source,
		Category:    category,
		Tags:        tags,
		Timestamp:   ts,
		ContentHash: contentHash,
	}
	if err := b.repo.Insert(ctx, doc); err != nil {
		return err
	}

	b.logger.Info("Learned document",
		zap.String("source", source),
		zap.String("category", category),
		zap.Int("content_len", len(content)),
	)
	return nil
}

// HasContentHash reports whether the hash is already stored.
func (b *Base) HasContentHash(ctx context.Context, hash string) (bool, error) {
	return b.repo.HasContentHash(ctx, hash)
}

type scoredDoc struct {
	doc       *entity.KnowledgeDocument
	relevance float64
}

// Search embeds the query and returns formatted results ranked by
// similarity weighted with recency. Candidates start in the last 7 days;
// an empty window expands to all time with an age penalty applied.
func (b *Base) Search(ctx context.Context, query string, limit int, category string) (string, error) {
	if limit <= 0 {
		limit = 3
	}

	queryVec, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	now := b.nowFn()
	candidates, err := b.repo.CandidatesSince(ctx, now.Add(-recentWindow))
	if err != nil {
		return "", err
	}

	expanded := false
	if len(candidates) == 0 {
		expanded = true
		candidates, err = b.repo.CandidatesSince(ctx, time.Time{})
		if err != nil {
			return "", err
		}
	}

	var hits []scoredDoc
	for _, doc := range candidates {
		if category != "" && doc.Category != category {
			continue
		}
		similarity := CosineSimilarity(queryVec, doc.Vector)
		if similarity < b.threshold {
			continue
		}

		age := now.Sub(doc.Timestamp)
		recency := recencyScore(age)
		boost := 1.0
		if age < b.boostAge {
			boost = 1.5
		}
		penalty := 1.0
		if expanded {
			penalty = recency
			if penalty < 0.1 {
				penalty = 0.1
			}
		}

		hits = append(hits, scoredDoc{
			doc:       doc,
			relevance: similarity * recency * boost * penalty,
		})
	}

	if len(hits) == 0 {
		return NoResults, nil
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].relevance > hits[j].relevance })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	var sb strings.Builder
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.formatResult(h.doc, now))
	}
	return sb.String(), nil
}

func (b *Base) formatResult(doc *entity.KnowledgeDocument, now time.Time) string {
	age := now.Sub(doc.Timestamp)
	glyph := GlyphOld
	switch {
	case age < b.boostAge:
		glyph = GlyphFresh
	case age < recentWindow:
		glyph = GlyphRecent
	}
	return fmt.Sprintf("%s [%s] (%s) %s:\n%s",
		glyph, doc.Source, doc.Category, doc.Timestamp.Format("2006-01-02"), doc.Content)
}

// recencyScore is the stepwise age weight from the retrieval policy.
func recencyScore(age time.Duration) float64 {
	day := 24 * time.Hour
	switch {
	case age <= day:
		return 1.0
	case age <= 3*day:
		return 0.8
	case age <= 7*day:
		return 0.6
	case age <= 14*day:
		return 0.3
	case age <= 30*day:
		return 0.1
	default:
		return 0.05
	}
}

// RecentDocuments returns the newest documents.
func (b *Base) RecentDocuments(ctx context.Context, limit int) ([]*entity.KnowledgeDocument, error) {
	return b.repo.Recent(ctx, limit)
}

// ByTags returns documents carrying any of the tags.
func (b *Base) ByTags(ctx context.Context, tags []string, limit int) ([]*entity.KnowledgeDocument, error) {
	return b.repo.ByTags(ctx, tags, limit)
}

// ByCategory returns documents in the category.
func (b *Base) ByCategory(ctx context.Context, category string, limit int) ([]*entity.KnowledgeDocument, error) {
	return b.repo.ByCategory(ctx, category, limit)
}

// SearchContent returns documents whose content contains substr.
func (b *Base) SearchContent(ctx context.Context, substr string, limit int) ([]*entity.KnowledgeDocument, error) {
	return b.repo.SearchContent(ctx, substr, limit)
}

// CleanupOlderThan deletes documents older than the given number of days.
func (b *Base) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := b.nowFn().AddDate(0, 0, -days)
	deleted, err := b.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		b.logger.Info("Pruned stale documents",
			zap.Int64("deleted", deleted),
			zap.Int("max_age_days", days),
		)
	}
	return deleted, nil
}

// Stats returns knowledge base statistics.
func (b *Base) Stats(ctx context.Context) (*entity.KnowledgeStats, error) {
	return b.repo.Stats(ctx)
}
