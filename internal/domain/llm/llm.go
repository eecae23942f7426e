// Package llm defines the model-provider contracts the core consumes.
// Implementations live under internal/infrastructure/llm.
package llm

import (
	"context"

	"github.com/magpiebot/magpie/internal/domain/tool"
)

// Message is a single chat turn sent to or received from a provider.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResponse is an assistant turn that may carry tool calls instead of
// (or alongside) plain content.
type ToolResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// TextCompleter produces a plain completion without tool access.
type TextCompleter interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ToolCompleter produces a completion that may request tool calls.
type ToolCompleter interface {
	CompleteWithTools(ctx context.Context, messages []Message, tools []tool.Definition) (*ToolResponse, error)
}

// Embedder maps text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VisionAnalyzer describes an image in text.
type VisionAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// SpeechTranscriber converts recorded audio to text.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// SpeechSynthesizer converts text to spoken audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
