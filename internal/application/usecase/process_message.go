package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/llm"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/internal/domain/service"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

// CrawlInterrupter lets inbound traffic preempt the autonomous crawl.
type CrawlInterrupter interface {
	Interrupt()
}

// ProcessMessageUseCase is the inbound pipeline: replay dedup, crawl
// preemption, agent dispatch, durable history, and outbound queueing.
type ProcessMessageUseCase struct {
	processed   repository.ProcessedMessageRepository
	history     repository.HistoryRepository
	agent       *service.Agent
	queue       *service.ActionQueue
	interrupter CrawlInterrupter

	vision llm.VisionAnalyzer
	stt    llm.SpeechTranscriber
	tts    llm.SpeechSynthesizer

	mediaDir string
	logger   *zap.Logger
}

// NewProcessMessageUseCase creates the inbound pipeline.
func NewProcessMessageUseCase(
	processed repository.ProcessedMessageRepository,
	history repository.HistoryRepository,
	agent *service.Agent,
	queue *service.ActionQueue,
	interrupter CrawlInterrupter,
	vision llm.VisionAnalyzer,
	stt llm.SpeechTranscriber,
	tts llm.SpeechSynthesizer,
	mediaDir string,
	logger *zap.Logger,
) *ProcessMessageUseCase {
	return &ProcessMessageUseCase{
		processed:   processed,
		history:     history,
		agent:       agent,
		queue:       queue,
		interrupter: interrupter,
		vision:      vision,
		stt:         stt,
		tts:         tts,
		mediaDir:    mediaDir,
		logger:      logger,
	}
}

// HandleIncomingMessage runs the text pipeline. A replayed messageId is
// dropped silently: no reply, no history row.
func (uc *ProcessMessageUseCase) HandleIncomingMessage(ctx context.Context, userID, text, messageID string) error {
	if uc.markProcessed(ctx, userID, messageID, entity.MessageTypeText) {
		return nil
	}

	uc.interrupter.Interrupt()

	reply := uc.agent.HandleUserMessage(ctx, userID, text)
	uc.appendHistory(ctx, userID, entity.RoleUser, text, entity.MessageTypeText)
	uc.appendHistory(ctx, userID, entity.RoleAssistant, reply, entity.MessageTypeText)

	uc.queue.Enqueue(service.EnqueueRequest{
		Kind:    entity.ActionMessage,
		UserID:  userID,
		Content: reply,
	})
	return nil
}

// HandleImageMessage analyzes the image and feeds the analysis to the
// text pipeline as a synthetic user message.
func (uc *ProcessMessageUseCase) HandleImageMessage(ctx context.Context, userID string, image []byte, mimeType, caption, messageID string) error {
	if uc.markProcessed(ctx, userID, messageID, entity.MessageTypeImage) {
		return nil
	}

	uc.interrupter.Interrupt()

	analysis, err := uc.vision.AnalyzeImage(ctx, image, mimeType, "")
	if err != nil {
		uc.logger.Error("Image analysis failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		analysis = "(image could not be analyzed)"
	}

	synthetic := fmt.Sprintf("[USER SENT AN IMAGE]\n\nImage Analysis:\n%s", analysis)
	if caption != "" {
		synthetic += "\n\n" + caption
	}

	reply := uc.agent.HandleUserMessage(ctx, userID, synthetic)
	uc.appendHistory(ctx, userID, entity.RoleUser, synthetic, entity.MessageTypeImage)
	uc.appendHistory(ctx, userID, entity.RoleAssistant, reply, entity.MessageTypeText)

	uc.queue.Enqueue(service.EnqueueRequest{
		Kind:    entity.ActionMessage,
		UserID:  userID,
		Content: reply,
	})
	return nil
}

// HandleAudioMessage transcribes the voice note, replies through the text
// pipeline, and queues a spoken version of the reply alongside the text.
func (uc *ProcessMessageUseCase) HandleAudioMessage(ctx context.Context, userID string, audio []byte, mimeType, messageID string) error {
	if uc.markProcessed(ctx, userID, messageID, entity.MessageTypeAudio) {
		return nil
	}

	uc.interrupter.Interrupt()

	transcript, err := uc.stt.Transcribe(ctx, audio, mimeType)
	if err != nil {
		uc.logger.Error("Transcription failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		uc.queue.Enqueue(service.EnqueueRequest{
			Kind:    entity.ActionMessage,
			UserID:  userID,
			Content: service.FallbackReply,
		})
		return err
	}

	reply := uc.agent.HandleUserMessage(ctx, userID, transcript)
	uc.appendHistory(ctx, userID, entity.RoleUser, transcript, entity.MessageTypeAudio)
	uc.appendHistory(ctx, userID, entity.RoleAssistant, reply, entity.MessageTypeText)

	// Voice in, voice out. Text is the fallback when synthesis fails.
	path, synthErr := uc.synthesizeToFile(ctx, reply)
	if synthErr == nil {
		uc.queue.Enqueue(service.EnqueueRequest{
			Kind:     entity.ActionMedia,
			UserID:   userID,
			Content:  reply,
			Metadata: map[string]string{"media_path": path, "media_type": "voice"},
		})
		return nil
	}
	uc.logger.Warn("Speech synthesis failed, sending text",
		zap.String("user_id", userID),
		zap.Error(synthErr),
	)

	uc.queue.Enqueue(service.EnqueueRequest{
		Kind:    entity.ActionMessage,
		UserID:  userID,
		Content: reply,
	})
	return nil
}

// markProcessed returns true when the message was already handled.
func (uc *ProcessMessageUseCase) markProcessed(ctx context.Context, userID, messageID string, msgType entity.MessageType) bool {
	err := uc.processed.Mark(ctx, &entity.ProcessedMessage{
		MessageID:   messageID,
		ProcessedAt: time.Now(),
		Sender:      userID,
		Type:        msgType,
	})
	if err == nil {
		return false
	}
	if apperrors.IsDuplicate(err) {
		uc.logger.Debug("Duplicate message dropped",
			zap.String("message_id", messageID),
			zap.String("user_id", userID),
		)
		return true
	}
	// Marking failed for another reason; better to answer twice than
	// never, so continue.
	uc.logger.Warn("Processed-message marking failed",
		zap.String("message_id", messageID),
		zap.Error(err),
	)
	return false
}

func (uc *ProcessMessageUseCase) appendHistory(ctx context.Context, userID string, role entity.Role, content string, msgType entity.MessageType) {
	err := uc.history.Append(ctx, &entity.HistoryEntry{
		UserID:      userID,
		Role:        role,
		Content:     content,
		MessageType: msgType,
		Timestamp:   time.Now(),
	})
	if err != nil {
		uc.logger.Error("History append failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (uc *ProcessMessageUseCase) synthesizeToFile(ctx context.Context, text string) (string, error) {
	audio, err := uc.tts.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(uc.mediaDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(uc.mediaDir, uuid.NewString()+".mp3")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
