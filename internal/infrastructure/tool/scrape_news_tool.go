package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/magpiebot/magpie/internal/domain/knowledge"
	domaintool "github.com/magpiebot/magpie/internal/domain/tool"
	"go.uber.org/zap"
)

// digestTTL is how long a cached category digest stays served.
const digestTTL = 30 * time.Minute

var newsCategories = map[string]string{
	"general":  "news",
	"tech":     "tech",
	"business": "finance",
	"sports":   "sports",
	"world":    "news",
}

// ScrapeNewsTool serves the latest knowledge for a news category,
// cached per category so repeated asks within a session stay cheap.
type ScrapeNewsTool struct {
	kb     *knowledge.Base
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedDigest
}

type cachedDigest struct {
	content string
	builtAt time.Time
}

func NewScrapeNewsTool(kb *knowledge.Base, logger *zap.Logger) *ScrapeNewsTool {
	return &ScrapeNewsTool{
		kb:     kb,
		logger: logger,
		cache:  make(map[string]cachedDigest),
	}
}

func (t *ScrapeNewsTool) Name() string {
	return "scrape_news"
}

func (t *ScrapeNewsTool) Description() string {
	return "Get the latest news the system has gathered for a category. " +
		"Categories: general, tech, business, sports, world."
}

func (t *ScrapeNewsTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"category": map[string]interface{}{
				"type":        "string",
				"description": "News category",
				"enum":        []string{"general", "tech", "business", "sports", "world"},
			},
		},
		"required": []string{"category"},
	}
}

func (t *ScrapeNewsTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	category, _ := args["category"].(string)
	kbCategory, ok := newsCategories[category]
	if !ok {
		return &domaintool.Result{
			Output:  "Error: category must be one of general, tech, business, sports, world",
			Success: false,
		}, nil
	}

	t.mu.Lock()
	cached, hit := t.cache[category]
	t.mu.Unlock()
	if hit && time.Since(cached.builtAt) < digestTTL {
		return &domaintool.Result{Output: cached.content, Success: true}, nil
	}

	docs, err := t.kb.ByCategory(ctx, kbCategory, 5)
	if err != nil {
		return &domaintool.Result{
			Output:  "News lookup failed: " + err.Error(),
			Success: false,
			Error:   err.Error(),
		}, nil
	}
	if len(docs) == 0 {
		return &domaintool.Result{
			Output:  "No recent news gathered for " + category + " yet.",
			Success: false,
		}, nil
	}

	var sb strings.Builder
	for i, doc := range docs {
		content := doc.Content
		if len(content) > 300 {
			content = content[:300] + "..."
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n%s\n", i+1, doc.Timestamp.Format("2006-01-02"), doc.Source, content)
	}
	digest := sb.String()

	t.mu.Lock()
	t.cache[category] = cachedDigest{content: digest, builtAt: time.Now()}
	t.mu.Unlock()

	return &domaintool.Result{
		Output:  digest,
		Success: true,
		Metadata: map[string]interface{}{
			"doc_count": len(docs),
		},
	}, nil
}
