package openai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/magpiebot/magpie/internal/domain/llm"
	"github.com/magpiebot/magpie/internal/domain/tool"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

// Config selects the backend and the models used for each capability.
type Config struct {
	BaseURL     string
	APIKey      string
	ChatModel   string
	EmbedModel  string
	VisionModel string
	SpeechModel string
	Voice       string
	Timeout     time.Duration
}

// Provider is an OpenAI-compatible HTTP client covering chat, tools,
// embeddings, vision, and speech in both directions.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates the provider with defaults filled in.
func New(cfg Config, logger *zap.Logger) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: logger.With(zap.String("provider", "openai")),
	}
}

// Compile-time interface checks
var (
	_ llm.TextCompleter     = (*Provider)(nil)
	_ llm.ToolCompleter     = (*Provider)(nil)
	_ llm.Embedder          = (*Provider)(nil)
	_ llm.VisionAnalyzer    = (*Provider)(nil)
	_ llm.SpeechTranscriber = (*Provider)(nil)
	_ llm.SpeechSynthesizer = (*Provider)(nil)
)

// Complete produces a plain completion without tool access.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := p.chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CompleteWithTools produces a completion that may request tool calls.
func (p *Provider) CompleteWithTools(ctx context.Context, messages []llm.Message, tools []tool.Definition) (*llm.ToolResponse, error) {
	return p.chat(ctx, messages, tools)
}

func (p *Provider) chat(ctx context.Context, messages []llm.Message, tools []tool.Definition) (*llm.ToolResponse, error) {
	req := chatRequest{
		Model:    p.cfg.ChatModel,
		Messages: make([]chatMessage, 0, len(messages)),
	}
	for _, m := range messages {
		msg := chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("marshal tool call arguments: %w", err)
			}
			msg.ToolCalls = append(msg.ToolCalls, apiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: apiToolCallFunc{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		req.Messages = append(req.Messages, msg)
	}
	for _, td := range tools {
		req.Tools = append(req.Tools, apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  convertSchema(td.Parameters),
			},
		})
	}

	body, err := p.postJSON(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, apperrors.NewParseError("parse completion response", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, apperrors.NewParseError("empty completion response: no choices", nil)
	}

	out := &llm.ToolResponse{Content: apiResp.Choices[0].Message.Content}
	for _, tc := range apiResp.Choices[0].Message.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, apperrors.NewParseError(
					fmt.Sprintf("parse arguments for tool %s", tc.Function.Name), err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// Embed maps text to a dense vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := p.postJSON(ctx, "/embeddings", embedRequest{
		Model: p.cfg.EmbedModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}

	var apiResp embedResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, apperrors.NewParseError("parse embedding response", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, apperrors.NewParseError("empty embedding response", nil)
	}
	return apiResp.Data[0].Embedding, nil
}

// AnalyzeImage describes an image using the vision model. The image is
// inlined as a base64 data URL in a multimodal content part.
func (p *Provider) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	if prompt == "" {
		prompt = "Describe this image concisely."
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	req := chatRequest{
		Model: p.cfg.VisionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
	}

	body, err := p.postJSON(ctx, "/chat/completions", req)
	if err != nil {
		return "", err
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", apperrors.NewParseError("parse vision response", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", apperrors.NewParseError("empty vision response", nil)
	}
	return apiResp.Choices[0].Message.Content, nil
}

// Transcribe converts recorded audio to text via the transcription
// endpoint, which takes multipart form data rather than JSON.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := writer.WriteField("model", p.cfg.SpeechModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	body, err := p.do(httpReq)
	if err != nil {
		return "", err
	}

	var apiResp transcriptionResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", apperrors.NewParseError("parse transcription response", err)
	}
	return apiResp.Text, nil
}

// Synthesize converts text to spoken audio. The response body is the raw
// audio bytes.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(speechRequest{
		Model: p.cfg.SpeechModel,
		Input: text,
		Voice: p.cfg.Voice,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	return p.do(httpReq)
}

func (p *Provider) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	return p.do(httpReq)
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransientError("HTTP request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransientError("read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		// 5xx and 429 are worth retrying upstream, everything else is not.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperrors.NewTransientError(
				fmt.Sprintf("API error %d: %s", resp.StatusCode, truncateBody(body)), nil)
		}
		return nil, apperrors.NewInternalError(
			fmt.Sprintf("API error %d: %s", resp.StatusCode, truncateBody(body)))
	}
	return body, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}
