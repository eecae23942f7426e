// Package tool implements the concrete tools exposed to the agent.
package tool

import (
	"context"

	domaintool "github.com/magpiebot/magpie/internal/domain/tool"
	"github.com/magpiebot/magpie/internal/infrastructure/search"
	"go.uber.org/zap"
)

// WebSearchTool is a thin wrapper over the search provider.
type WebSearchTool struct {
	searcher *search.Client
	logger   *zap.Logger
}

func NewWebSearchTool(searcher *search.Client, logger *zap.Logger) *WebSearchTool {
	return &WebSearchTool{searcher: searcher, logger: logger}
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. " +
		"Returns a numbered list of results with titles, URLs, and snippets."
}

func (t *WebSearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query string",
			},
			"num_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results (default 5)",
				"default":     5,
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return &domaintool.Result{
			Output:  "Error: 'query' parameter is required",
			Success: false,
		}, nil
	}

	limit := 5
	if n, ok := args["num_results"].(float64); ok && n > 0 {
		limit = int(n)
	}

	t.logger.Info("Executing web search", zap.String("query", query))

	results, err := t.searcher.Search(ctx, query, limit)
	if err != nil {
		return &domaintool.Result{
			Output:  "Search failed: " + err.Error(),
			Success: false,
			Error:   err.Error(),
		}, nil
	}
	if len(results) == 0 {
		return &domaintool.Result{
			Output:  "No search results found.",
			Success: false,
		}, nil
	}

	return &domaintool.Result{
		Output:  search.FormatResults(results),
		Success: true,
		Metadata: map[string]interface{}{
			"result_count": len(results),
		},
	}, nil
}
