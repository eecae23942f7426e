package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/llm"
	"github.com/magpiebot/magpie/internal/domain/repository"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

// minArchiveMessages is the smallest context worth summarizing.
const minArchiveMessages = 3

// SummaryArchiver turns an expiring context into a durable 3-bullet
// summary. Duplicate context hashes are treated as already archived.
type SummaryArchiver struct {
	completer llm.TextCompleter
	summaries repository.SummaryRepository
	logger    *zap.Logger
}

// NewSummaryArchiver creates the archiver.
func NewSummaryArchiver(completer llm.TextCompleter, summaries repository.SummaryRepository, logger *zap.Logger) *SummaryArchiver {
	return &SummaryArchiver{
		completer: completer,
		summaries: summaries,
		logger:    logger,
	}
}

// Archive summarizes the messages and stores the result. Contexts with
// fewer than three messages are skipped. Summarization failures are
// swallowed: an expiring context must never block eviction.
func (a *SummaryArchiver) Archive(ctx context.Context, userID string, messages []entity.ConversationMessage) error {
	if len(messages) < minArchiveMessages {
		return nil
	}

	encoded, err := json.Marshal(messages)
	if err != nil {
		return err
	}

	summary, err := a.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You write terse conversation summaries."},
		{Role: "user", Content: fmt.Sprintf(
			"Summarize this conversation in exactly 3 short bullet points "+
				"covering topics, user preferences, and outcomes:\n\n%s", encoded)},
	})
	if err != nil {
		a.logger.Warn("Summarization failed, skipping archive",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}

	err = a.summaries.Store(ctx, &entity.ConversationSummary{
		UserID:      userID,
		Summary:     summary,
		Timestamp:   time.Now(),
		ContextHash: ContextHash(userID, messages),
	})
	if apperrors.IsDuplicate(err) {
		return nil
	}
	return err
}

// ContextHash derives the dedup key for a (user, messages) pair: md5 of
// the user ID concatenated with the canonical JSON encoding.
func ContextHash(userID string, messages []entity.ConversationMessage) string {
	encoded, _ := json.Marshal(messages)
	sum := md5.Sum(append([]byte(userID), encoded...))
	return hex.EncodeToString(sum[:])
}
