package memory

import (
	"context"
	"testing"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

type recordingSummaryRepo struct {
	stored []*entity.ConversationSummary
	err    error
}

func (r *recordingSummaryRepo) Store(ctx context.Context, s *entity.ConversationSummary) error {
	if r.err != nil {
		return r.err
	}
	r.stored = append(r.stored, s)
	return nil
}

func (r *recordingSummaryRepo) Recent(ctx context.Context, userID string, limit int) ([]*entity.ConversationSummary, error) {
	return nil, nil
}

func (r *recordingSummaryRepo) Prune(ctx context.Context, userID string, keep int) (int64, error) {
	return 0, nil
}

func (r *recordingSummaryRepo) Users(ctx context.Context) ([]string, error) {
	return nil, nil
}

func sampleConversation() []entity.ConversationMessage {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []entity.ConversationMessage{
		{Role: entity.RoleUser, Content: "what's new in go?", Timestamp: ts},
		{Role: entity.RoleAssistant, Content: "generics got faster", Timestamp: ts},
		{Role: entity.RoleUser, Content: "nice, thanks", Timestamp: ts},
	}
}

func TestArchiveStoresSummaryWithHash(t *testing.T) {
	repo := &recordingSummaryRepo{}
	a := NewSummaryArchiver(&scriptedCompleter{response: "- go\n- generics\n- happy"}, repo, zap.NewNop())

	msgs := sampleConversation()
	if err := a.Archive(context.Background(), "u1", msgs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.stored) != 1 {
		t.Fatalf("expected 1 stored summary, got %d", len(repo.stored))
	}
	got := repo.stored[0]
	if got.UserID != "u1" {
		t.Errorf("wrong user: %q", got.UserID)
	}
	if got.ContextHash != ContextHash("u1", msgs) {
		t.Errorf("hash mismatch")
	}
}

func TestArchiveSkipsShortContexts(t *testing.T) {
	repo := &recordingSummaryRepo{}
	a := NewSummaryArchiver(&scriptedCompleter{response: "summary"}, repo, zap.NewNop())

	err := a.Archive(context.Background(), "u1", sampleConversation()[:2])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.stored) != 0 {
		t.Errorf("short context must not be archived")
	}
}

func TestArchiveDuplicateIsNoop(t *testing.T) {
	repo := &recordingSummaryRepo{err: apperrors.NewDuplicateError("already archived")}
	a := NewSummaryArchiver(&scriptedCompleter{response: "summary"}, repo, zap.NewNop())

	if err := a.Archive(context.Background(), "u1", sampleConversation()); err != nil {
		t.Fatalf("duplicate store must not surface: %v", err)
	}
}

func TestArchiveSwallowsSummarizationFailure(t *testing.T) {
	repo := &recordingSummaryRepo{}
	a := NewSummaryArchiver(&scriptedCompleter{err: context.DeadlineExceeded}, repo, zap.NewNop())

	if err := a.Archive(context.Background(), "u1", sampleConversation()); err != nil {
		t.Fatalf("summarization failure must not surface: %v", err)
	}
	if len(repo.stored) != 0 {
		t.Errorf("nothing should be stored on failure")
	}
}

func TestContextHashStableAndUserScoped(t *testing.T) {
	msgs := sampleConversation()
	if ContextHash("u1", msgs) != ContextHash("u1", msgs) {
		t.Errorf("hash not deterministic")
	}
	if ContextHash("u1", msgs) == ContextHash("u2", msgs) {
		t.Errorf("hash must include the user id")
	}
}
