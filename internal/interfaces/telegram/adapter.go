// Package telegram adapts the core to the Telegram Bot API: polling,
// allowlisting, command handling, and outbound delivery.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/magpiebot/magpie/internal/application/usecase"
	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/memory"
	"github.com/magpiebot/magpie/internal/domain/service"
	"github.com/magpiebot/magpie/pkg/safego"
	"go.uber.org/zap"
)

// Config holds the Telegram adapter settings.
type Config struct {
	BotToken       string
	AllowedUserIDs []int64 // empty means open to everyone
	Debug          bool
}

// Adapter is the Telegram transport. It owns the polling loop and the
// outbound MessageSender registered with the ActionQueue.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	config   *Config
	pipeline *usecase.ProcessMessageUseCase
	contexts *memory.ContextStore
	kb       *knowledge.Base
	queue    *service.ActionQueue
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewAdapter authorizes the bot and wires the outbound sender.
func NewAdapter(
	config *Config,
	pipeline *usecase.ProcessMessageUseCase,
	contexts *memory.ContextStore,
	kb *knowledge.Base,
	queue *service.ActionQueue,
	logger *zap.Logger,
) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = config.Debug

	logger.Info("Telegram bot authorized",
		zap.String("username", bot.Self.UserName),
	)

	adapter := &Adapter{
		bot:      bot,
		config:   config,
		pipeline: pipeline,
		contexts: contexts,
		kb:       kb,
		queue:    queue,
		logger:   logger,
	}
	queue.RegisterMessageSender(adapter.send)
	return adapter, nil
}

// Start begins long polling. Each update is handled on its own goroutine
// so users do not block each other.
func (a *Adapter) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	innerCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.setupBotCommands(); err != nil {
		a.logger.Warn("Failed to setup bot commands", zap.Error(err))
	}

	updates := a.bot.GetUpdatesChan(u)
	a.logger.Info("Starting Telegram polling")

	safego.Go(a.logger, "telegram-polling", func() {
		for {
			select {
			case <-innerCtx.Done():
				a.bot.StopReceivingUpdates()
				a.logger.Info("Telegram adapter stopped")
				return
			case update := <-updates:
				upd := update
				safego.Go(a.logger, "telegram-update", func() {
					a.handleUpdate(innerCtx, upd)
				})
			}
		}
	})
	return nil
}

// Stop halts the polling loop.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Adapter) setupBotCommands() error {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Say hello"},
		{Command: "forget", Description: "Forget our current conversation"},
		{Command: "stats", Description: "Show what I have learned"},
	}
	_, err := a.bot.Request(tgbotapi.NewSetMyCommands(commands...))
	return err
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	if !a.isAllowed(msg.From.ID) {
		a.logger.Warn("Message from unauthorized user dropped",
			zap.Int64("user_id", msg.From.ID),
		)
		return
	}

	userID := strconv.FormatInt(msg.Chat.ID, 10)
	// Dedup key survives Telegram update replays after restarts.
	messageID := fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID)

	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	media := ExtractMedia(msg)
	switch {
	case media != nil && media.Type == MediaTypePhoto:
		data, err := DownloadFile(a.bot, media.FileID, a.logger)
		if err != nil {
			a.logger.Error("Photo download failed", zap.Error(err))
			a.sendPlain(msg.Chat.ID, service.FallbackReply)
			return
		}
		if err := a.pipeline.HandleImageMessage(ctx, userID, data, media.MimeType, media.Caption, messageID); err != nil {
			a.logger.Error("Image pipeline failed", zap.Error(err))
		}

	case media != nil && (media.Type == MediaTypeVoice || media.Type == MediaTypeAudio):
		data, err := DownloadFile(a.bot, media.FileID, a.logger)
		if err != nil {
			a.logger.Error("Audio download failed", zap.Error(err))
			a.sendPlain(msg.Chat.ID, service.FallbackReply)
			return
		}
		if err := a.pipeline.HandleAudioMessage(ctx, userID, data, media.MimeType, messageID); err != nil {
			a.logger.Error("Audio pipeline failed", zap.Error(err))
		}

	case msg.Text != "":
		if err := a.pipeline.HandleIncomingMessage(ctx, userID, msg.Text, messageID); err != nil {
			a.logger.Error("Text pipeline failed", zap.Error(err))
		}
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := strconv.FormatInt(msg.Chat.ID, 10)

	switch msg.Command() {
	case "start":
		a.sendPlain(msg.Chat.ID,
			"Hi! I'm Magpie. Chat with me about anything; I browse the web "+
				"on my own and I'll ping you when I find something you care about.")

	case "forget":
		a.contexts.Forget(userID)
		a.sendPlain(msg.Chat.ID, "Done, current conversation forgotten.")

	case "stats":
		a.sendPlain(msg.Chat.ID, a.buildStats(ctx, userID))

	default:
		a.sendPlain(msg.Chat.ID, "Unknown command.")
	}
}

func (a *Adapter) buildStats(ctx context.Context, userID string) string {
	var sb strings.Builder

	if stats, err := a.kb.Stats(ctx); err == nil {
		fmt.Fprintf(&sb, "Documents learned: %d\n", stats.TotalDocuments)
		for category, count := range stats.Categories {
			fmt.Fprintf(&sb, "  %s: %d\n", category, count)
		}
	}

	interests := a.contexts.Interests(userID)
	if len(interests) > 0 {
		fmt.Fprintf(&sb, "Your interests: %s\n", strings.Join(interests, ", "))
	} else {
		sb.WriteString("No interests picked up yet.\n")
	}

	qs := a.queue.Stats()
	fmt.Fprintf(&sb, "Outbound queue: %d pending, %d sent", qs.Pending, qs.Executed)
	return sb.String()
}

func (a *Adapter) isAllowed(userID int64) bool {
	if len(a.config.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range a.config.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// send is the MessageSender registered with the ActionQueue.
func (a *Adapter) send(action *entity.QueuedAction) error {
	chatID, err := strconv.ParseInt(action.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", action.UserID, err)
	}

	if action.Kind == entity.ActionMedia {
		if path := action.Metadata["media_path"]; path != "" {
			return a.sendVoice(chatID, path)
		}
	}
	return a.sendText(chatID, action.Content)
}

// sendText delivers formatted text, falling back to plaintext when
// Telegram rejects the HTML rendering.
func (a *Adapter) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, MarkdownToTelegramHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := a.bot.Send(msg); err != nil {
		a.logger.Warn("HTML send failed, retrying as plaintext", zap.Error(err))
		return a.sendPlain(chatID, StripMarkdownForPlaintext(text))
	}
	return nil
}

func (a *Adapter) sendPlain(chatID int64, text string) error {
	_, err := a.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (a *Adapter) sendVoice(chatID int64, path string) error {
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FilePath(path))
	_, err := a.bot.Send(voice)
	return err
}
