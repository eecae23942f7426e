package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/repository"
	domaintool "github.com/magpiebot/magpie/internal/domain/tool"
	"go.uber.org/zap"
)

// RecallHistoryTool searches the durable message log for past
// conversations with the current user.
type RecallHistoryTool struct {
	history repository.HistoryRepository
	userID  string
	logger  *zap.Logger
}

// NewRecallHistoryTool is bound to one user; the agent builds a registry
// per request so the model never chooses whose history to read.
func NewRecallHistoryTool(history repository.HistoryRepository, userID string, logger *zap.Logger) *RecallHistoryTool {
	return &RecallHistoryTool{history: history, userID: userID, logger: logger}
}

func (t *RecallHistoryTool) Name() string {
	return "recall_history"
}

func (t *RecallHistoryTool) Description() string {
	return "Search past conversations with this user. " +
		"Use when the user refers to something discussed before."
}

func (t *RecallHistoryTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Keywords to search for, space separated",
			},
			"days_back": map[string]interface{}{
				"type":        "integer",
				"description": "How many days back to search (default 30)",
				"default":     30,
			},
		},
		"required": []string{"query"},
	}
}

func (t *RecallHistoryTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return &domaintool.Result{
			Output:  "Error: 'query' parameter is required",
			Success: false,
		}, nil
	}

	daysBack := 30
	if n, ok := args["days_back"].(float64); ok && n > 0 {
		daysBack = int(n)
	}

	entries, err := t.history.Query(ctx, entity.HistoryQuery{
		UserID:   t.userID,
		Keywords: strings.Fields(query),
		Since:    time.Now().AddDate(0, 0, -daysBack),
		Limit:    10,
	})
	if err != nil {
		return &domaintool.Result{
			Output:  "History lookup failed: " + err.Error(),
			Success: false,
			Error:   err.Error(),
		}, nil
	}
	if len(entries) == 0 {
		return &domaintool.Result{
			Output:  "No matching past conversations found.",
			Success: false,
		}, nil
	}

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s: %s\n",
			e.Timestamp.Format("2006-01-02 15:04"), e.Role, e.Content)
	}
	return &domaintool.Result{
		Output:  sb.String(),
		Success: true,
		Metadata: map[string]interface{}{
			"entry_count": len(entries),
		},
	}, nil
}
