package repository

import (
	"context"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
)

// SummaryRepository stores long-term conversation summaries.
type SummaryRepository interface {
	// Store inserts a summary. A context-hash collision returns a
	// duplicate-content error; callers treat that as a success-noop.
	Store(ctx context.Context, summary *entity.ConversationSummary) error
	// Recent returns up to n summaries for the user, newest first.
	Recent(ctx context.Context, userID string, n int) ([]*entity.ConversationSummary, error)
	// Prune keeps the newest keep summaries per user, deleting the rest.
	// Returns the number of rows deleted.
	Prune(ctx context.Context, userID string, keep int) (int64, error)
	// Users returns the distinct user IDs with stored summaries.
	Users(ctx context.Context) ([]string, error)
}

// HistoryRepository is the append-only durable message log.
type HistoryRepository interface {
	Append(ctx context.Context, e *entity.HistoryEntry) error
	Query(ctx context.Context, q entity.HistoryQuery) ([]*entity.HistoryEntry, error)
}

// KnowledgeRepository persists knowledge documents with their vectors.
type KnowledgeRepository interface {
	// Insert persists a document. A content-hash collision returns a
	// duplicate-content error.
	Insert(ctx context.Context, doc *entity.KnowledgeDocument) error
	// HasContentHash reports whether an undeleted document carries the hash.
	HasContentHash(ctx context.Context, hash string) (bool, error)
	// CandidatesSince returns documents with Timestamp > since, vectors
	// included. A zero since returns all documents.
	CandidatesSince(ctx context.Context, since time.Time) ([]*entity.KnowledgeDocument, error)
	// Recent returns the newest documents, vectors omitted.
	Recent(ctx context.Context, limit int) ([]*entity.KnowledgeDocument, error)
	ByTags(ctx context.Context, tags []string, limit int) ([]*entity.KnowledgeDocument, error)
	ByCategory(ctx context.Context, category string, limit int) ([]*entity.KnowledgeDocument, error)
	SearchContent(ctx context.Context, substr string, limit int) ([]*entity.KnowledgeDocument, error)
	// DeleteOlderThan removes documents older than cutoff, returning the count.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (*entity.KnowledgeStats, error)
}

// ProcessedMessageRepository deduplicates inbound transport messages.
type ProcessedMessageRepository interface {
	// Mark records the message as processed. A replayed MessageID returns
	// a duplicate-content error.
	Mark(ctx context.Context, m *entity.ProcessedMessage) error
}

// ProfileRepository stores durable per-user facts.
type ProfileRepository interface {
	// Get returns the profile or a not-found error.
	Get(ctx context.Context, userID string) (*entity.UserProfile, error)
	Save(ctx context.Context, profile *entity.UserProfile) error
}
