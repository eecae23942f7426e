package knowledge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

type stubEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	if s.fallback != nil {
		return s.fallback, nil
	}
	return []float32{1, 0, 0}, nil
}

type stubKnowledgeRepo struct {
	docs     []*entity.KnowledgeDocument
	hashes   map[string]bool
	inserted []*entity.KnowledgeDocument
}

func newStubKnowledgeRepo(docs ...*entity.KnowledgeDocument) *stubKnowledgeRepo {
	r := &stubKnowledgeRepo{docs: docs, hashes: make(map[string]bool)}
	for _, d := range docs {
		r.hashes[d.ContentHash] = true
	}
	return r
}

func (r *stubKnowledgeRepo) Insert(ctx context.Context, doc *entity.KnowledgeDocument) error {
	if r.hashes[doc.ContentHash] {
		return apperrors.NewDuplicateError("content hash exists")
	}
	r.hashes[doc.ContentHash] = true
	r.docs = append(r.docs, doc)
	r.inserted = append(r.inserted, doc)
	return nil
}

func (r *stubKnowledgeRepo) HasContentHash(ctx context.Context, hash string) (bool, error) {
	return r.hashes[hash], nil
}

func (r *stubKnowledgeRepo) CandidatesSince(ctx context.Context, since time.Time) ([]*entity.KnowledgeDocument, error) {
	var out []*entity.KnowledgeDocument
	for _, d := range r.docs {
		if since.IsZero() || d.Timestamp.After(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *stubKnowledgeRepo) Recent(ctx context.Context, limit int) ([]*entity.KnowledgeDocument, error) {
	return r.docs, nil
}

func (r *stubKnowledgeRepo) ByTags(ctx context.Context, tags []string, limit int) ([]*entity.KnowledgeDocument, error) {
	return nil, nil
}

func (r *stubKnowledgeRepo) ByCategory(ctx context.Context, category string, limit int) ([]*entity.KnowledgeDocument, error) {
	return nil, nil
}

func (r *stubKnowledgeRepo) SearchContent(ctx context.Context, substr string, limit int) ([]*entity.KnowledgeDocument, error) {
	return nil, nil
}

func (r *stubKnowledgeRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var kept []*entity.KnowledgeDocument
	var deleted int64
	for _, d := range r.docs {
		if d.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	r.docs = kept
	return deleted, nil
}

func (r *stubKnowledgeRepo) Stats(ctx context.Context) (*entity.KnowledgeStats, error) {
	return &entity.KnowledgeStats{TotalDocuments: int64(len(r.docs))}, nil
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestBase(repo *stubKnowledgeRepo, emb *stubEmbedder) *Base {
	b := NewBase(repo, emb, 0.6, 24*time.Hour, zap.NewNop())
	b.nowFn = func() time.Time { return testNow }
	return b
}

func doc(content string, vector []float32, age time.Duration) *entity.KnowledgeDocument {
	return &entity.KnowledgeDocument{
		ID:          content,
		Content:     content,
		Vector:      vector,
		Source:      "example.com",
		Category:    "tech",
		Timestamp:   testNow.Add(-age),
		ContentHash: "hash-" + content,
	}
}

func TestLearnRejectsShortContent(t *testing.T) {
	b := newTestBase(newStubKnowledgeRepo(), &stubEmbedder{})

	err := b.Learn(context.Background(), "too short", "src", "tech", nil, testNow, "h1")
	if !apperrors.IsInvalidInput(err) {
		t.Fatalf("expected invalid-input error, got %v", err)
	}
}

func TestLearnRejectsKnownHash(t *testing.T) {
	repo := newStubKnowledgeRepo(doc("existing article content", []float32{1, 0, 0}, time.Hour))
	b := newTestBase(repo, &stubEmbedder{})

	err := b.Learn(context.Background(), "some fresh article content", "src", "tech", nil, testNow, "hash-existing article content")
	if !apperrors.IsDuplicate(err) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Errorf("duplicate must not insert")
	}
}

func TestLearnTruncatesLongContent(t *testing.T) {
	repo := newStubKnowledgeRepo()
	b := newTestBase(repo, &stubEmbedder{})

	long := strings.Repeat("x", 3000)
	if err := b.Learn(context.Background(), long, "src", "tech", nil, testNow, "h-long"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(repo.inserted[0].Content); got != maxContentLen {
		t.Errorf("content not truncated: %d", got)
	}
}

func TestSearchRanksFreshAboveStale(t *testing.T) {
	vec := []float32{1, 0, 0}
	repo := newStubKnowledgeRepo(
		doc("stale article about go", vec, 5*24*time.Hour),
		doc("fresh article about go", vec, 2*time.Hour),
	)
	b := newTestBase(repo, &stubEmbedder{fallback: vec})

	out, err := b.Search(context.Background(), "go", 5, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	freshIdx := strings.Index(out, "fresh article")
	staleIdx := strings.Index(out, "stale article")
	if freshIdx < 0 || staleIdx < 0 {
		t.Fatalf("missing results:\n%s", out)
	}
	if freshIdx > staleIdx {
		t.Errorf("fresh document should rank first:\n%s", out)
	}
	if !strings.Contains(out[:staleIdx], GlyphFresh) {
		t.Errorf("fresh result missing %s glyph:\n%s", GlyphFresh, out)
	}
	if !strings.Contains(out[freshIdx:], GlyphRecent) {
		t.Errorf("5-day-old result should carry %s:\n%s", GlyphRecent, out)
	}
}

func TestSearchFiltersBelowThreshold(t *testing.T) {
	repo := newStubKnowledgeRepo(
		doc("unrelated article content", []float32{0, 1, 0}, time.Hour),
	)
	b := newTestBase(repo, &stubEmbedder{fallback: []float32{1, 0, 0}})

	out, err := b.Search(context.Background(), "go", 5, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != NoResults {
		t.Fatalf("expected sentinel, got %q", out)
	}
}

func TestSearchCategoryFilter(t *testing.T) {
	vec := []float32{1, 0, 0}
	sports := doc("sports article content", vec, time.Hour)
	sports.Category = "sports"
	repo := newStubKnowledgeRepo(
		doc("tech article content", vec, time.Hour),
		sports,
	)
	b := newTestBase(repo, &stubEmbedder{fallback: vec})

	out, err := b.Search(context.Background(), "anything", 5, "sports")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "tech article") {
		t.Errorf("category filter leaked:\n%s", out)
	}
	if !strings.Contains(out, "sports article") {
		t.Errorf("expected sports article:\n%s", out)
	}
}

func TestSearchExpandsToAllTimeWithPenalty(t *testing.T) {
	vec := []float32{1, 0, 0}
	repo := newStubKnowledgeRepo(
		doc("ancient but relevant article", vec, 60*24*time.Hour),
	)
	b := newTestBase(repo, &stubEmbedder{fallback: vec})

	out, err := b.Search(context.Background(), "go", 5, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "ancient but relevant") {
		t.Fatalf("expanded search should surface old document:\n%s", out)
	}
	if !strings.Contains(out, GlyphOld) {
		t.Errorf("old document should carry %s:\n%s", GlyphOld, out)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	vec := []float32{1, 0, 0}
	repo := newStubKnowledgeRepo(
		doc("first candidate article", vec, time.Hour),
		doc("second candidate article", vec, 2*time.Hour),
		doc("third candidate article", vec, 3*time.Hour),
	)
	b := newTestBase(repo, &stubEmbedder{fallback: vec})

	out, err := b.Search(context.Background(), "go", 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Count(out, GlyphFresh); got != 2 {
		t.Errorf("expected 2 results, got %d:\n%s", got, out)
	}
}

func TestRecencyScoreSteps(t *testing.T) {
	day := 24 * time.Hour
	cases := []struct {
		age  time.Duration
		want float64
	}{
		{12 * time.Hour, 1.0},
		{2 * day, 0.8},
		{5 * day, 0.6},
		{10 * day, 0.3},
		{20 * day, 0.1},
		{45 * day, 0.05},
	}
	for _, tc := range cases {
		if got := recencyScore(tc.age); got != tc.want {
			t.Errorf("recencyScore(%v) = %v, want %v", tc.age, got, tc.want)
		}
	}
}

func TestCleanupOlderThan(t *testing.T) {
	vec := []float32{1, 0, 0}
	repo := newStubKnowledgeRepo(
		doc("very old article content", vec, 100*24*time.Hour),
		doc("recent article content", vec, time.Hour),
	)
	b := newTestBase(repo, &stubEmbedder{})

	deleted, err := b.CleanupOlderThan(context.Background(), 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if len(repo.docs) != 1 || repo.docs[0].Content != "recent article content" {
		t.Errorf("wrong document deleted")
	}
}
