package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestExtractMediaPicksLargestPhoto(t *testing.T) {
	msg := &tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", FileSize: 100},
			{FileID: "large", FileSize: 9000},
		},
		Caption: "sunset",
	}

	media := ExtractMedia(msg)
	if media == nil || media.Type != MediaTypePhoto {
		t.Fatalf("media = %+v", media)
	}
	if media.FileID != "large" {
		t.Errorf("picked %q, want the largest size", media.FileID)
	}
	if media.Caption != "sunset" {
		t.Errorf("caption lost: %q", media.Caption)
	}
}

func TestExtractMediaVoiceDefaults(t *testing.T) {
	msg := &tgbotapi.Message{
		Voice: &tgbotapi.Voice{FileID: "v1"},
	}

	media := ExtractMedia(msg)
	if media == nil || media.Type != MediaTypeVoice {
		t.Fatalf("media = %+v", media)
	}
	if media.MimeType != "audio/ogg" {
		t.Errorf("voice mime default = %q", media.MimeType)
	}
}

func TestExtractMediaUnsupported(t *testing.T) {
	if got := ExtractMedia(&tgbotapi.Message{Text: "just text"}); got != nil {
		t.Fatalf("text message is not media: %+v", got)
	}
	if got := ExtractMedia(nil); got != nil {
		t.Fatalf("nil message must yield nil")
	}
	if got := ExtractMedia(&tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d"}}); got != nil {
		t.Fatalf("documents are unsupported: %+v", got)
	}
}
