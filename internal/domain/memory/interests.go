package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/llm"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

// intentPrefixes gate the fast path: without one of these the message is
// not treated as an interest signal. This keeps negations ("I hate news")
// from tagging.
var intentPrefixes = []string{
	"i like",
	"i love",
	"interested in",
	"tell me about",
	"news about",
	"updates on",
	"looking for",
}

var categoryKeywords = map[string][]string{
	"tech":    {"tech", "technology", "programming", "coding", "ai", "software"},
	"finance": {"business", "finance", "stock", "market", "economy", "crypto"},
	"sports":  {"sports", "football", "basketball", "soccer", "game"},
	"news":    {"news", "headlines", "events", "world"},
	"science": {"science", "space", "biology", "physics"},
}

// ExtractFastInterests runs the cheap keyword pass over one user message.
// It returns matched category tags, or nothing when no intent prefix is
// present.
func ExtractFastInterests(text string) []string {
	lower := strings.ToLower(text)

	hasIntent := false
	for _, p := range intentPrefixes {
		if strings.Contains(lower, p) {
			hasIntent = true
			break
		}
	}
	if !hasIntent {
		return nil
	}

	var tags []string
	for category, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if containsWord(lower, kw) {
				tags = append(tags, category)
				break
			}
		}
	}
	return tags
}

// containsWord matches kw as a whole word inside lower-cased text.
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// DeepInterestAnalyzer refines interest tags with the model. Implements
// the interestAnalyzer contract of the ContextStore.
type DeepInterestAnalyzer struct {
	completer llm.TextCompleter
	logger    *zap.Logger
}

// NewDeepInterestAnalyzer creates the LLM-backed analyzer.
func NewDeepInterestAnalyzer(completer llm.TextCompleter, logger *zap.Logger) *DeepInterestAnalyzer {
	return &DeepInterestAnalyzer{completer: completer, logger: logger}
}

// Analyze asks the model for a refined lowercase JSON array of tags based
// on the recent messages and the current set. A response that does not
// parse yields a parse-failure error so callers keep the previous tags.
func (a *DeepInterestAnalyzer) Analyze(ctx context.Context, messages []entity.ConversationMessage, current []string) ([]string, error) {
	var convo strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&convo, "%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf(
		"Based on this conversation, list the user's topical interests.\n\n"+
			"Conversation:\n%s\nCurrent tags: %s\n\n"+
			"Respond with ONLY a JSON array of short lowercase tags, e.g. [\"tech\",\"finance\"].",
		convo.String(), strings.Join(current, ", "))

	resp, err := a.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You extract interest tags. Output only a JSON array."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	tags, err := parseTagArray(resp)
	if err != nil {
		return nil, apperrors.NewParseError("interest tags did not parse", err)
	}
	return tags, nil
}

// parseTagArray extracts a JSON string array from a model response that
// may wrap it in prose or code fences.
func parseTagArray(resp string) ([]string, error) {
	start := strings.Index(resp, "[")
	end := strings.LastIndex(resp, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var raw []string
	if err := json.Unmarshal([]byte(resp[start:end+1]), &raw); err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}
