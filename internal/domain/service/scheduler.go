package service

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/memory"
	"github.com/magpiebot/magpie/internal/domain/repository"
	"github.com/magpiebot/magpie/pkg/safego"
	"go.uber.org/zap"
)

// Browser is the scheduler's port to the autonomous crawler.
type Browser interface {
	// Surf runs one crawl session guided by the intent hint.
	Surf(ctx context.Context, intent string) (*entity.BrowseReport, error)
	// Interrupt requests that an in-flight session stop between page fetches.
	Interrupt()
	// Checkpoint persists crawler state to disk.
	Checkpoint()
}

// SchedulerConfig holds the heartbeat knobs.
type SchedulerConfig struct {
	TickInterval        time.Duration // crawl heartbeat (default 1m)
	MaintenanceInterval time.Duration // cleanup cadence (default 5m)
	BatchFlushTicks     int           // ticks between digest flushes (default 30)
	KnowledgeMaxAgeDays int           // document retention (default 90)
	SummaryKeep         int           // summaries kept per user (default 10)
}

// Scheduler drives the autonomous side of the system: periodic crawl
// ticks, news accumulation into per-user batches, digest flushes, and
// memory maintenance.
type Scheduler struct {
	contexts  *memory.ContextStore
	kb        *knowledge.Base
	queue     *ActionQueue
	agent     *Agent
	browser   Browser
	summaries repository.SummaryRepository

	cfg    SchedulerConfig
	logger *zap.Logger

	mu          sync.Mutex
	tickCount   int
	pendingNews map[string]map[string]struct{} // userID → set of snippets
	crawling    bool

	cancel context.CancelFunc
	nowFn  func() time.Time
	randFn func(n int) int
}

// NewScheduler creates the scheduler with defaults filled in.
func NewScheduler(
	contexts *memory.ContextStore,
	kb *knowledge.Base,
	queue *ActionQueue,
	agent *Agent,
	browser Browser,
	summaries repository.SummaryRepository,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 5 * time.Minute
	}
	if cfg.BatchFlushTicks <= 0 {
		cfg.BatchFlushTicks = 30
	}
	if cfg.KnowledgeMaxAgeDays <= 0 {
		cfg.KnowledgeMaxAgeDays = 90
	}
	if cfg.SummaryKeep <= 0 {
		cfg.SummaryKeep = 10
	}
	return &Scheduler{
		contexts:    contexts,
		kb:          kb,
		queue:       queue,
		agent:       agent,
		browser:     browser,
		summaries:   summaries,
		cfg:         cfg,
		logger:      logger,
		pendingNews: make(map[string]map[string]struct{}),
		nowFn:       time.Now,
		randFn:      rand.Intn,
	}
}

// Start launches the tick and maintenance loops.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	safego.Go(s.logger, "scheduler-tick", func() {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	})

	safego.Go(s.logger, "scheduler-maintenance", func() {
		ticker := time.NewTicker(s.cfg.MaintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Maintain(ctx)
			}
		}
	})
}

// Stop halts both loops and interrupts any in-flight crawl.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.browser.Interrupt()
}

// Interrupt asks the browser to yield between page fetches. Called when
// an inbound user message arrives so conversation wins over crawling.
func (s *Scheduler) Interrupt() {
	s.browser.Interrupt()
}

// Tick runs one heartbeat: maybe crawl, accumulate fresh news, and flush
// digests when the batch window closes.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	s.tickCount++
	tick := s.tickCount
	s.mu.Unlock()

	s.crawl(ctx)
	s.accumulateNews(ctx)

	if tick%s.cfg.BatchFlushTicks == 0 {
		s.flushDigests(ctx)
	}
}

// crawl picks a random active user and a random interest of theirs as the
// surf intent. No active users or no interests still crawls, undirected.
func (s *Scheduler) crawl(ctx context.Context) {
	s.mu.Lock()
	if s.crawling {
		s.mu.Unlock()
		return
	}
	s.crawling = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.crawling = false
		s.mu.Unlock()
	}()

	intent := s.pickIntent()

	report, err := s.browser.Surf(ctx, intent)
	if err != nil {
		s.logger.Warn("Surf session failed",
			zap.String("intent", intent),
			zap.Error(err),
		)
		return
	}
	if report != nil && report.Learned > 0 {
		s.logger.Info("Surf session finished",
			zap.String("hub", report.Hub),
			zap.Int("pages", len(report.Visited)),
			zap.Int("learned", report.Learned),
			zap.Int("skipped", report.Skipped),
		)
	}
}

func (s *Scheduler) pickIntent() string {
	users := s.contexts.ActiveUsers()
	if len(users) == 0 {
		return ""
	}
	user := users[s.randFn(len(users))]
	interests := s.contexts.Interests(user)
	if len(interests) == 0 {
		return ""
	}
	return interests[s.randFn(len(interests))]
}

// accumulateNews checks each active user's interests against the
// knowledge base and banks results that carry the fresh glyph.
func (s *Scheduler) accumulateNews(ctx context.Context) {
	for _, user := range s.contexts.ActiveUsers() {
		for _, interest := range s.contexts.Interests(user) {
			result, err := s.kb.Search(ctx, interest, 2, "")
			if err != nil || result == knowledge.NoResults {
				continue
			}
			if !strings.Contains(result, knowledge.GlyphFresh) {
				continue
			}
			s.mu.Lock()
			if s.pendingNews[user] == nil {
				s.pendingNews[user] = make(map[string]struct{})
			}
			s.pendingNews[user][result] = struct{}{}
			s.mu.Unlock()
		}
	}
}

// flushDigests drains every user's batch atomically and enqueues one
// proactive digest per user with anything worth saying.
func (s *Scheduler) flushDigests(ctx context.Context) {
	s.mu.Lock()
	batches := s.pendingNews
	s.pendingNews = make(map[string]map[string]struct{})
	s.mu.Unlock()

	for user, set := range batches {
		items := make([]string, 0, len(set))
		for item := range set {
			items = append(items, item)
		}

		digest, err := s.agent.GenerateNewsDigest(ctx, user, items)
		if err != nil {
			s.logger.Warn("Digest generation failed",
				zap.String("user_id", user),
				zap.Error(err),
			)
			continue
		}
		if digest == "" {
			continue
		}

		s.queue.Enqueue(EnqueueRequest{
			Kind:     entity.ActionProactive,
			UserID:   user,
			Content:  digest,
			Priority: 8,
			Metadata: map[string]string{"origin": "news_digest"},
		})
		s.logger.Info("News digest queued",
			zap.String("user_id", user),
			zap.Int("items", len(items)),
		)
	}
}

// PendingNewsCount returns the number of banked snippets for the user.
func (s *Scheduler) PendingNewsCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingNews[userID])
}

// Maintain runs one maintenance sweep: context expiry, knowledge
// retention, summary pruning, and crawler checkpointing.
func (s *Scheduler) Maintain(ctx context.Context) {
	if evicted := s.contexts.CleanupExpired(ctx); evicted > 0 {
		s.logger.Info("Expired contexts evicted", zap.Int("count", evicted))
	}

	if _, err := s.kb.CleanupOlderThan(ctx, s.cfg.KnowledgeMaxAgeDays); err != nil {
		s.logger.Warn("Knowledge cleanup failed", zap.Error(err))
	}

	users, err := s.summaries.Users(ctx)
	if err != nil {
		s.logger.Warn("Summary user listing failed", zap.Error(err))
	} else {
		for _, user := range users {
			if _, err := s.summaries.Prune(ctx, user, s.cfg.SummaryKeep); err != nil {
				s.logger.Warn("Summary prune failed",
					zap.String("user_id", user),
					zap.Error(err),
				)
			}
		}
	}

	s.browser.Checkpoint()
	s.contexts.Flush()
}
