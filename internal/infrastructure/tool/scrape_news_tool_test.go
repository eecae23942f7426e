package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newsTestBase(t *testing.T) (*knowledge.Base, repository.KnowledgeRepository) {
	t.Helper()
	repo := persistence.NewMemoryKnowledgeRepository()
	return knowledge.NewBase(repo, fixedEmbedder{}, 0.6, 24*time.Hour, zap.NewNop()), repo
}

func TestScrapeNewsRejectsUnknownCategory(t *testing.T) {
	kb, _ := newsTestBase(t)
	nt := NewScrapeNewsTool(kb, zap.NewNop())

	res, err := nt.Execute(context.Background(), map[string]interface{}{"category": "gossip"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatalf("unknown category must fail: %+v", res)
	}
}

func TestScrapeNewsDigestAndTruncation(t *testing.T) {
	kb, repo := newsTestBase(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	long := strings.Repeat("go compiler news ", 30)
	repo.Insert(ctx, &entity.KnowledgeDocument{
		ID: "d1", Content: long, Source: "go.dev",
		Category: "tech", Timestamp: ts, ContentHash: "h1",
	})
	repo.Insert(ctx, &entity.KnowledgeDocument{
		ID: "d2", Content: "short tech note", Source: "example.com",
		Category: "tech", Timestamp: ts, ContentHash: "h2",
	})

	nt := NewScrapeNewsTool(kb, zap.NewNop())
	res, err := nt.Execute(ctx, map[string]interface{}{"category": "tech"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("digest failed: %+v", res)
	}
	if !strings.Contains(res.Output, "1. [2026-03-01]") {
		t.Errorf("date prefix missing: %q", res.Output)
	}
	if !strings.Contains(res.Output, long[:300]+"...") {
		t.Errorf("long content not truncated: %q", res.Output)
	}
	if !strings.Contains(res.Output, "short tech note") {
		t.Errorf("short content mangled: %q", res.Output)
	}
	if res.Metadata["doc_count"] != 2 {
		t.Errorf("doc_count = %v", res.Metadata["doc_count"])
	}
}

func TestScrapeNewsCachesPerCategory(t *testing.T) {
	kb, repo := newsTestBase(t)
	ctx := context.Background()

	repo.Insert(ctx, &entity.KnowledgeDocument{
		ID: "d1", Content: "first headline", Source: "a.example",
		Category: "tech", Timestamp: time.Now(), ContentHash: "h1",
	})

	nt := NewScrapeNewsTool(kb, zap.NewNop())
	first, _ := nt.Execute(ctx, map[string]interface{}{"category": "tech"})

	// New documents do not show up until the cached digest expires.
	repo.Insert(ctx, &entity.KnowledgeDocument{
		ID: "d2", Content: "second headline", Source: "b.example",
		Category: "tech", Timestamp: time.Now(), ContentHash: "h2",
	})
	second, _ := nt.Execute(ctx, map[string]interface{}{"category": "tech"})
	if second.Output != first.Output {
		t.Errorf("cache miss within TTL:\n%q\nvs\n%q", first.Output, second.Output)
	}
}

func TestScrapeNewsEmptyCategory(t *testing.T) {
	kb, _ := newsTestBase(t)
	nt := NewScrapeNewsTool(kb, zap.NewNop())

	res, _ := nt.Execute(context.Background(), map[string]interface{}{"category": "sports"})
	if res.Success {
		t.Fatalf("empty category must not succeed: %+v", res)
	}
	if want := "No recent news gathered for sports yet."; res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}
}
