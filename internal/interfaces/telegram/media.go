package telegram

import (
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// MediaType is the kind of attachment on an inbound message.
type MediaType string

const (
	MediaTypePhoto MediaType = "photo"
	MediaTypeVoice MediaType = "voice"
	MediaTypeAudio MediaType = "audio"
)

// MediaInfo describes one inbound attachment.
type MediaInfo struct {
	Type     MediaType
	FileID   string
	MimeType string
	FileSize int
	Caption  string
}

// ExtractMedia pulls the attachment the pipeline can handle out of a
// message. Unsupported media kinds return nil.
func ExtractMedia(msg *tgbotapi.Message) *MediaInfo {
	if msg == nil {
		return nil
	}

	if len(msg.Photo) > 0 {
		// Telegram sends several sizes; the last is the largest.
		largest := msg.Photo[len(msg.Photo)-1]
		return &MediaInfo{
			Type:     MediaTypePhoto,
			FileID:   largest.FileID,
			MimeType: "image/jpeg",
			FileSize: largest.FileSize,
			Caption:  msg.Caption,
		}
	}

	if msg.Voice != nil {
		mime := msg.Voice.MimeType
		if mime == "" {
			mime = "audio/ogg"
		}
		return &MediaInfo{
			Type:     MediaTypeVoice,
			FileID:   msg.Voice.FileID,
			MimeType: mime,
			FileSize: msg.Voice.FileSize,
			Caption:  msg.Caption,
		}
	}

	if msg.Audio != nil {
		mime := msg.Audio.MimeType
		if mime == "" {
			mime = "audio/mpeg"
		}
		return &MediaInfo{
			Type:     MediaTypeAudio,
			FileID:   msg.Audio.FileID,
			MimeType: mime,
			FileSize: msg.Audio.FileSize,
			Caption:  msg.Caption,
		}
	}

	return nil
}

// DownloadFile fetches a Telegram-hosted file by its file ID.
func DownloadFile(bot *tgbotapi.BotAPI, fileID string, logger *zap.Logger) ([]byte, error) {
	file, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	fileURL := file.Link(bot.Token)
	logger.Debug("Downloading Telegram file",
		zap.String("file_id", fileID),
		zap.String("file_path", file.FilePath),
	)

	resp, err := http.Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
