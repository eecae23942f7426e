package tool

import (
	"context"
	"fmt"

	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/service"
	domaintool "github.com/magpiebot/magpie/internal/domain/tool"
	"go.uber.org/zap"
)

// DeepResearchTool runs a focused browse session and answers from
// whatever the session learned. It is the expensive last resort.
type DeepResearchTool struct {
	browser service.Browser
	kb      *knowledge.Base
	logger  *zap.Logger
}

func NewDeepResearchTool(browser service.Browser, kb *knowledge.Base, logger *zap.Logger) *DeepResearchTool {
	return &DeepResearchTool{browser: browser, kb: kb, logger: logger}
}

func (t *DeepResearchTool) Name() string {
	return "deep_research"
}

func (t *DeepResearchTool) Description() string {
	return "Run a focused multi-page research session on a topic. " +
		"Slow and expensive; use only when cheaper tools returned nothing."
}

func (t *DeepResearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Research topic or question",
			},
		},
		"required": []string{"query"},
	}
}

func (t *DeepResearchTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return &domaintool.Result{
			Output:  "Error: 'query' parameter is required",
			Success: false,
		}, nil
	}

	t.logger.Info("Starting deep research", zap.String("query", query))

	report, err := t.browser.Surf(ctx, query)
	if err != nil {
		t.logger.Warn("Research session failed", zap.Error(err))
	}

	// Answer from the knowledge base either way; the session may have
	// partially succeeded, or prior crawls may already cover the topic.
	found, searchErr := t.kb.Search(ctx, query, 3, "")
	if searchErr != nil {
		return &domaintool.Result{
			Output:  "Research failed: " + searchErr.Error(),
			Success: false,
			Error:   searchErr.Error(),
		}, nil
	}
	if found == knowledge.NoResults {
		return &domaintool.Result{
			Output:  "Research session finished but found nothing relevant.",
			Success: false,
		}, nil
	}

	output := found
	if report != nil && len(report.Visited) > 0 {
		output = fmt.Sprintf("Visited %d pages, learned %d new documents.\n\n%s",
			len(report.Visited), report.Learned, found)
	}
	return &domaintool.Result{
		Output:  output,
		Success: true,
	}, nil
}
