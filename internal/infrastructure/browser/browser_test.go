package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/llm"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence"
	"github.com/magpiebot/magpie/internal/infrastructure/search"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubCompleter struct {
	response string
	err      error
}

func (s *stubCompleter) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return s.response, s.err
}

type stubSearcher struct {
	results []search.Result
}

func (s *stubSearcher) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	return s.results, nil
}

// articleBody pads unique content past the minimum article length.
func articleBody(seed string) string {
	return fmt.Sprintf("<html><body><article><h1>%s</h1><p>%s</p></article></body></html>",
		seed, strings.Repeat(seed+" filler sentence for the extractor. ", 20))
}

type crawlHarness struct {
	browser *Browser
	kb      *knowledge.Base
	server  *httptest.Server
	now     time.Time
}

// newCrawlHarness serves a hub linking to /article/1..n, each with unique
// content unless aliasContent maps a path to another path's content.
func newCrawlHarness(t *testing.T, articles int, aliasContent map[string]string) *crawlHarness {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		sb.WriteString("<html><body>")
		for i := 1; i <= articles; i++ {
			fmt.Fprintf(&sb, `<a href="/article/%d">story %d</a>`, i, i)
		}
		sb.WriteString("</body></html>")
		w.Write([]byte(sb.String()))
	})
	mux.HandleFunc("/article/", func(w http.ResponseWriter, r *http.Request) {
		seed := r.URL.Path
		if alias, ok := aliasContent[r.URL.Path]; ok {
			seed = alias
		}
		w.Write([]byte(articleBody(strings.ReplaceAll(seed, "/", "-"))))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	kb := knowledge.NewBase(persistence.NewMemoryKnowledgeRepository(), fixedEmbedder{}, 0.6, 24*time.Hour, zap.NewNop())

	b := New(kb, &stubCompleter{err: context.Canceled}, &stubSearcher{}, Config{
		DataDir: t.TempDir(),
	}, zap.NewNop())

	h := &crawlHarness{browser: b, kb: kb, server: server,
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	b.nowFn = func() time.Time { return h.now }
	b.randFn = func() float64 { return 0.99 } // no discovery unless a test opts in

	// Replace the seeded rotation with the test hub.
	b.favMu.Lock()
	b.favorites = []*entity.FavoriteHub{{
		URL:      server.URL,
		Category: "tech",
		Source:   entity.HubSourceUser,
	}}
	b.favMu.Unlock()
	return h
}

func TestSurfLearnsArticles(t *testing.T) {
	h := newCrawlHarness(t, 2, nil)

	report, err := h.browser.Surf(context.Background(), "")
	if err != nil {
		t.Fatalf("surf: %v", err)
	}
	if report.Hub != h.server.URL {
		t.Errorf("report hub = %q", report.Hub)
	}
	if report.Learned != 2 {
		t.Fatalf("learned = %d, want 2 (report: %+v)", report.Learned, report)
	}

	docs, err := h.kb.RecentDocuments(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("stored %d documents, want 2", len(docs))
	}
	if docs[0].Category != "tech" {
		t.Errorf("category = %q", docs[0].Category)
	}
	if !containsTag(docs[0].Tags, "autonomous_browse") {
		t.Errorf("missing autonomous_browse tag: %v", docs[0].Tags)
	}
}

func TestSurfDeduplicatesIdenticalContentAcrossURLs(t *testing.T) {
	// Article 2 serves the same bytes as article 1.
	h := newCrawlHarness(t, 2, map[string]string{"/article/2": "/article/1"})

	report, err := h.browser.Surf(context.Background(), "")
	if err != nil {
		t.Fatalf("surf: %v", err)
	}
	if report.Learned != 1 {
		t.Errorf("learned = %d, want 1", report.Learned)
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", report.Skipped)
	}
}

func TestSurfSkipsFreshTrackedLinks(t *testing.T) {
	h := newCrawlHarness(t, 2, nil)

	if _, err := h.browser.Surf(context.Background(), ""); err != nil {
		t.Fatalf("first surf: %v", err)
	}

	// Past the hub cooldown but inside the link-stale window: the hub is
	// revisited, the tracked articles are not.
	h.now = h.now.Add(3 * time.Hour)
	report, err := h.browser.Surf(context.Background(), "")
	if err != nil {
		t.Fatalf("second surf: %v", err)
	}
	if report.Learned != 0 {
		t.Errorf("relearned tracked links: %d", report.Learned)
	}
	if report.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", report.Skipped)
	}
	if len(report.Visited) != 0 {
		t.Errorf("tracked links should not cost page budget: %v", report.Visited)
	}
}

func TestSurfUnchangedContentPastStaleWindow(t *testing.T) {
	h := newCrawlHarness(t, 1, nil)

	if _, err := h.browser.Surf(context.Background(), ""); err != nil {
		t.Fatalf("first surf: %v", err)
	}

	// Past the stale window the link is re-fetched, but identical bytes
	// must not produce a second document.
	h.now = h.now.Add(25 * time.Hour)
	report, err := h.browser.Surf(context.Background(), "")
	if err != nil {
		t.Fatalf("second surf: %v", err)
	}
	if report.Learned != 0 {
		t.Errorf("unchanged content relearned: %d", report.Learned)
	}
	if len(report.Visited) != 1 {
		t.Errorf("update check should fetch the page: %v", report.Visited)
	}
}

func TestSurfRespectsPageBudget(t *testing.T) {
	h := newCrawlHarness(t, 3, nil)
	h.browser.cfg.MaxPagesPerHour = 2 // hub + one article

	report, err := h.browser.Surf(context.Background(), "")
	if err != nil {
		t.Fatalf("surf: %v", err)
	}
	if report.Learned != 1 {
		t.Errorf("learned = %d, want 1 under budget", report.Learned)
	}

	// Budget resets on the next hour.
	h.now = h.now.Add(61 * time.Minute)
	h.browser.favorites[0].LastVisited = time.Time{}
	report, err = h.browser.Surf(context.Background(), "")
	if err != nil {
		t.Fatalf("second surf: %v", err)
	}
	if report.Learned != 1 {
		t.Errorf("budget did not reset: learned %d", report.Learned)
	}
}

func TestInterruptStopsBetweenArticles(t *testing.T) {
	h := newCrawlHarness(t, 3, nil)

	// The first article fetch raises the flag; the loop must stop before
	// the next article.
	var interrupted atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/article/1">a</a><a href="/article/2">b</a><a href="/article/3">c</a></body></html>`))
	})
	mux.HandleFunc("/article/", func(w http.ResponseWriter, r *http.Request) {
		if interrupted.CompareAndSwap(false, true) {
			h.browser.Interrupt()
		}
		w.Write([]byte(articleBody("story")))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	h.browser.favorites[0].URL = server.URL

	report, err := h.browser.Surf(context.Background(), "")
	if err != nil {
		t.Fatalf("surf: %v", err)
	}
	if len(report.Visited) != 1 {
		t.Fatalf("expected the session to stop after 1 article, visited %v", report.Visited)
	}
}

func TestDiscoveryAddsOriginHost(t *testing.T) {
	h := newCrawlHarness(t, 1, nil)
	h.browser.randFn = func() float64 { return 0.0 } // always discover

	if _, err := h.browser.Surf(context.Background(), ""); err != nil {
		t.Fatalf("surf: %v", err)
	}

	// The article origin equals the hub here, so no duplicate is added.
	favorites := h.browser.Favorites()
	if len(favorites) != 1 {
		t.Fatalf("duplicate origin discovered: %v", favorites)
	}

	h.browser.discover("https://elsewhere.example/post/1", "tech")
	favorites = h.browser.Favorites()
	if len(favorites) != 2 {
		t.Fatalf("discovery failed: %v", favorites)
	}
	added := favorites[1]
	if added.URL != "https://elsewhere.example" {
		t.Errorf("discovered URL = %q", added.URL)
	}
	if added.Source != entity.HubSourceDiscovered {
		t.Errorf("discovered source = %q", added.Source)
	}
}

func TestPickFavoriteIntentAndCooldown(t *testing.T) {
	b := New(nil, nil, nil, Config{}, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.nowFn = func() time.Time { return now }

	tech := &entity.FavoriteHub{URL: "https://tech.example", Category: "tech"}
	news := &entity.FavoriteHub{URL: "https://news.example", Category: "news"}
	b.favorites = []*entity.FavoriteHub{tech, news}

	if got := b.pickFavorite("tech"); got != tech {
		t.Fatalf("intent filter picked %v", got)
	}

	// A hub inside its cooldown is skipped even when it matches the intent;
	// the rotation falls back to an eligible hub.
	tech.LastVisited = now.Add(-time.Hour)
	if got := b.pickFavorite("tech"); got != news {
		t.Fatalf("cooldown ignored, picked %v", got)
	}

	// Everything cooling down: nothing to visit.
	news.LastVisited = now.Add(-time.Hour)
	if got := b.pickFavorite(""); got != nil {
		t.Fatalf("expected no eligible hub, got %v", got)
	}
}

func TestPickFavoritePrefersLeastRecentlyVisited(t *testing.T) {
	b := New(nil, nil, nil, Config{}, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.nowFn = func() time.Time { return now }

	older := &entity.FavoriteHub{URL: "https://a.example", Category: "tech", LastVisited: now.Add(-5 * time.Hour)}
	newer := &entity.FavoriteHub{URL: "https://b.example", Category: "tech", LastVisited: now.Add(-3 * time.Hour)}
	b.favorites = []*entity.FavoriteHub{newer, older}

	if got := b.pickFavorite(""); got != older {
		t.Fatalf("expected least recently visited hub, got %v", got)
	}
}

func TestAddFavoriteValidation(t *testing.T) {
	b := New(nil, nil, nil, Config{}, zap.NewNop())

	if err := b.AddFavorite("ftp://files.example", "tech"); !apperrors.IsInvalidInput(err) {
		t.Errorf("non-http scheme accepted: %v", err)
	}
	if err := b.AddFavorite("https://blog.example", "tech"); err != nil {
		t.Fatalf("valid hub rejected: %v", err)
	}
	if err := b.AddFavorite("https://blog.example", "tech"); !apperrors.IsDuplicate(err) {
		t.Errorf("duplicate hub accepted: %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()

	b := New(nil, nil, nil, Config{DataDir: dir}, zap.NewNop())
	if err := b.AddFavorite("https://blog.example", "tech"); err != nil {
		t.Fatalf("add favorite: %v", err)
	}
	b.touchTracker("https://blog.example/post", "abc123", time.Now())
	b.Checkpoint()

	restored := New(nil, nil, nil, Config{DataDir: dir}, zap.NewNop())
	var found bool
	for _, hub := range restored.Favorites() {
		if hub.URL == "https://blog.example" {
			found = true
		}
	}
	if !found {
		t.Errorf("favorite lost across checkpoint")
	}
	restored.trackMu.Lock()
	entry := restored.tracker["https://blog.example/post"]
	restored.trackMu.Unlock()
	if entry == nil || entry.ContentHash != "abc123" {
		t.Errorf("tracker lost across checkpoint: %+v", entry)
	}

	// Writes go through a temp file and rename; no temp litter remains.
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestEnrichAppendsResearchContext(t *testing.T) {
	h := newCrawlHarness(t, 1, nil)
	h.browser.text = &stubCompleter{response: `["go release date"]`}
	h.browser.searcher = &stubSearcher{results: []search.Result{
		{Title: "Go history", URL: "https://go.dev", Content: "Go was released in 2009."},
	}}

	if _, err := h.browser.Surf(context.Background(), ""); err != nil {
		t.Fatalf("surf: %v", err)
	}

	docs, err := h.kb.RecentDocuments(context.Background(), 1)
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected 1 document: %v", err)
	}
	if !strings.Contains(docs[0].Content, "## Research Context") {
		t.Errorf("enrichment section missing")
	}
	if !containsTag(docs[0].Tags, "enriched") {
		t.Errorf("enriched tag missing: %v", docs[0].Tags)
	}
}

func TestParseQueryList(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`["a", "b"]`, 2},
		{"Here:\n```json\n[\"one\"]\n```", 1},
		{"no array here", 0},
		{`{"not": "an array"}`, 0},
	}
	for _, tc := range cases {
		if got := len(parseQueryList(tc.in)); got != tc.want {
			t.Errorf("parseQueryList(%q) = %d queries, want %d", tc.in, got, tc.want)
		}
	}
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
