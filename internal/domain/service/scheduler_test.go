package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/memory"
	domaintool "github.com/magpiebot/magpie/internal/domain/tool"
	"github.com/magpiebot/magpie/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

type fakeBrowser struct {
	mu          sync.Mutex
	intents     []string
	interrupts  int
	checkpoints int
}

func (f *fakeBrowser) Surf(ctx context.Context, intent string) (*entity.BrowseReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	return &entity.BrowseReport{Hub: "https://example.com", Learned: 1}, nil
}

func (f *fakeBrowser) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
}

func (f *fakeBrowser) Checkpoint() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints++
}

type schedulerHarness struct {
	sched    *Scheduler
	contexts *memory.ContextStore
	kb       *knowledge.Base
	queue    *ActionQueue
	browser  *fakeBrowser
	text     *scriptedText
}

func newSchedulerHarness(t *testing.T, flushTicks int) *schedulerHarness {
	t.Helper()

	contexts := memory.NewContextStore(time.Hour, 100, nil, nil, "", zap.NewNop())
	kb := knowledge.NewBase(persistence.NewMemoryKnowledgeRepository(), nullEmbedder{}, 0.6, 24*time.Hour, zap.NewNop())
	queue := NewActionQueue(ActionQueueConfig{}, zap.NewNop())
	summaries := persistence.NewMemorySummaryRepository()
	browser := &fakeBrowser{}
	text := &scriptedText{responses: []string{"Digest: fresh things happened."}}

	agent := NewAgent(
		contexts, kb, summaries,
		persistence.NewMemoryProfileRepository(),
		text, &scriptedTools{},
		func(string) *domaintool.Registry { return domaintool.NewRegistry() },
		AgentConfig{}, zap.NewNop(),
	)

	sched := NewScheduler(contexts, kb, queue, agent, browser, summaries,
		SchedulerConfig{BatchFlushTicks: flushTicks}, zap.NewNop())

	return &schedulerHarness{
		sched:    sched,
		contexts: contexts,
		kb:       kb,
		queue:    queue,
		browser:  browser,
		text:     text,
	}
}

// learn inserts a document whose embedding matches every query.
func (h *schedulerHarness) learn(t *testing.T, content string, age time.Duration) {
	t.Helper()
	err := h.kb.Learn(context.Background(), content, "example.com", "tech", nil,
		time.Now().Add(-age), "hash-"+content)
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
}

func TestTickCrawlsWithUserInterest(t *testing.T) {
	h := newSchedulerHarness(t, 100)
	h.sched.randFn = func(n int) int { return 0 }
	h.contexts.Append("u1", entity.RoleUser, "I like tech stuff")

	h.sched.Tick(context.Background())

	if len(h.browser.intents) != 1 {
		t.Fatalf("expected 1 surf session, got %d", len(h.browser.intents))
	}
	if h.browser.intents[0] != "tech" {
		t.Errorf("surf intent = %q, want tech", h.browser.intents[0])
	}
}

func TestTickCrawlsUndirectedWithoutUsers(t *testing.T) {
	h := newSchedulerHarness(t, 100)

	h.sched.Tick(context.Background())

	if len(h.browser.intents) != 1 || h.browser.intents[0] != "" {
		t.Fatalf("expected one undirected surf, got %v", h.browser.intents)
	}
}

func TestAccumulateNewsBanksOnlyFreshResults(t *testing.T) {
	h := newSchedulerHarness(t, 100)
	h.sched.randFn = func(n int) int { return 0 }
	h.contexts.Append("u1", entity.RoleUser, "I like tech stuff")

	// Only stale knowledge: nothing banks.
	h.learn(t, "an old article about compilers", 3*24*time.Hour)
	h.sched.Tick(context.Background())
	if got := h.sched.PendingNewsCount("u1"); got != 0 {
		t.Fatalf("stale result banked: %d", got)
	}

	// A fresh document makes the search output carry the fresh glyph.
	h.learn(t, "a fresh article about compilers", time.Hour)
	h.sched.Tick(context.Background())
	if got := h.sched.PendingNewsCount("u1"); got != 1 {
		t.Fatalf("fresh result not banked: %d", got)
	}

	// The same result accumulating twice stays one snippet.
	h.sched.Tick(context.Background())
	if got := h.sched.PendingNewsCount("u1"); got != 1 {
		t.Fatalf("duplicate snippet banked: %d", got)
	}
}

func TestFlushEnqueuesDigestAtBatchBoundary(t *testing.T) {
	h := newSchedulerHarness(t, 2)
	h.sched.randFn = func(n int) int { return 0 }
	h.contexts.Append("u1", entity.RoleUser, "I like tech stuff")
	h.learn(t, "a fresh article about compilers", time.Hour)

	// Tick 1: accumulate only.
	h.sched.Tick(context.Background())
	if got := len(h.queue.UserActions("u1")); got != 0 {
		t.Fatalf("digest flushed before the batch boundary: %d", got)
	}

	// Tick 2 hits the flush boundary.
	h.sched.Tick(context.Background())
	actions := h.queue.UserActions("u1")
	if len(actions) != 1 {
		t.Fatalf("expected 1 queued digest, got %d", len(actions))
	}
	a := actions[0]
	if a.Kind != entity.ActionProactive {
		t.Errorf("digest kind = %q", a.Kind)
	}
	if a.Priority != 8 {
		t.Errorf("digest priority = %d, want 8", a.Priority)
	}
	if a.Metadata["origin"] != "news_digest" {
		t.Errorf("digest metadata = %v", a.Metadata)
	}
	if h.sched.PendingNewsCount("u1") != 0 {
		t.Errorf("batch not drained after flush")
	}
}

func TestFlushSkipsUsersWithoutInterests(t *testing.T) {
	h := newSchedulerHarness(t, 1)

	// Bank a snippet directly: the user chatted but never signaled interests.
	h.contexts.Append("u2", entity.RoleUser, "hello there")
	h.sched.mu.Lock()
	h.sched.pendingNews["u2"] = map[string]struct{}{"🆕 something": {}}
	h.sched.mu.Unlock()

	h.sched.Tick(context.Background())

	if got := len(h.queue.UserActions("u2")); got != 0 {
		t.Fatalf("user without interests got a digest")
	}
}

func TestInterruptReachesBrowser(t *testing.T) {
	h := newSchedulerHarness(t, 100)
	h.sched.Interrupt()
	if h.browser.interrupts != 1 {
		t.Fatalf("interrupt not forwarded")
	}
}

func TestMaintainPrunesAndCheckpoints(t *testing.T) {
	h := newSchedulerHarness(t, 100)
	h.learn(t, "a document well past retention", 100*24*time.Hour)
	h.learn(t, "a document inside retention", time.Hour)

	h.sched.Maintain(context.Background())

	stats, err := h.kb.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalDocuments != 1 {
		t.Errorf("retention did not prune: %d documents", stats.TotalDocuments)
	}
	if h.browser.checkpoints != 1 {
		t.Errorf("checkpoint not called")
	}
}
