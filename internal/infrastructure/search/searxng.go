// Package search wraps a SearXNG instance behind a small client.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Client queries a SearXNG instance over its JSON API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates the search client with defaults filled in.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Search runs a query and returns up to limit results.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransientError("search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.NewTransientError(
			fmt.Sprintf("search returned %d: %s", resp.StatusCode, string(body)), nil)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewParseError("decode search response", err)
	}

	results := parsed.Results
	if len(results) > limit {
		results = results[:limit]
	}
	c.logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// FormatResults renders hits as a compact numbered list for prompts.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No search results found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n", i+1, r.Title, r.URL, r.Content)
		if i < len(results)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
