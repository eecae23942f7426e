package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/pkg/safego"
	"go.uber.org/zap"
)

// MessageSender delivers one outbound action over the transport.
// The core never talks to the transport directly.
type MessageSender func(action *entity.QueuedAction) error

// retryBaseDelay is the linear backoff unit for failed sends.
const retryBaseDelay = 30 * time.Second

// ActionQueueConfig holds the outbound pacing knobs.
type ActionQueueConfig struct {
	RateLimitDelay    time.Duration // pause after each successful send (default 2s)
	MaxRetries        int           // drops after this many failures (default 3)
	ProactiveCooldown time.Duration // min gap between proactive sends per user (default 15m)
	PollInterval      time.Duration // worker wake-up cadence (default 1s)
}

// EnqueueRequest describes an action to queue.
type EnqueueRequest struct {
	Kind     entity.ActionKind
	UserID   string
	Content  string
	Delay    time.Duration
	Priority int // 1..10; 0 means default 5
	Metadata map[string]string
}

// QueueStats is a point-in-time queue snapshot for the stats surface.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Executed  int64 `json:"executed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Proactive int64 `json:"proactive"`
}

// ActionQueue is the single-consumer outbound queue: strict priority over
// FIFO, a post-send rate-limit pause, per-user proactive cooldowns, and
// linear-backoff retries. One worker means one send at a time.
type ActionQueue struct {
	mu            sync.Mutex
	actions       []*entity.QueuedAction
	lastProactive map[string]time.Time

	cfg    ActionQueueConfig
	sender MessageSender

	executed  int64
	failed    int64
	dropped   int64
	proactive int64

	cancel context.CancelFunc
	logger *zap.Logger
	nowFn  func() time.Time
}

// NewActionQueue creates the queue with defaults filled in.
func NewActionQueue(cfg ActionQueueConfig, logger *zap.Logger) *ActionQueue {
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ProactiveCooldown <= 0 {
		cfg.ProactiveCooldown = 15 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &ActionQueue{
		lastProactive: make(map[string]time.Time),
		cfg:           cfg,
		logger:        logger,
		nowFn:         time.Now,
	}
}

// RegisterMessageSender wires the external transport callback.
func (q *ActionQueue) RegisterMessageSender(sender MessageSender) {
	q.mu.Lock()
	q.sender = sender
	q.mu.Unlock()
}

// Enqueue queues an action and returns its ID.
func (q *ActionQueue) Enqueue(req EnqueueRequest) string {
	now := q.nowFn()
	priority := req.Priority
	if priority <= 0 {
		priority = 5
	}
	if priority > 10 {
		priority = 10
	}

	action := &entity.QueuedAction{
		ID:           uuid.NewString(),
		Kind:         req.Kind,
		UserID:       req.UserID,
		Content:      req.Content,
		ScheduledFor: now.Add(req.Delay),
		Priority:     priority,
		Metadata:     req.Metadata,
		EnqueuedAt:   now,
	}

	q.mu.Lock()
	q.actions = append(q.actions, action)
	pending := len(q.actions)
	q.mu.Unlock()

	q.logger.Debug("Action enqueued",
		zap.String("action_id", action.ID),
		zap.String("kind", string(action.Kind)),
		zap.String("user_id", action.UserID),
		zap.Int("priority", action.Priority),
		zap.Int("pending", pending),
	)
	return action.ID
}

// CanSendProactive reports whether the user's proactive cooldown elapsed.
func (q *ActionQueue) CanSendProactive(userID string) bool {
	return q.ProactiveCooldownRemaining(userID) == 0
}

// ProactiveCooldownRemaining returns the time until the next proactive
// send is allowed for the user (zero when allowed now).
func (q *ActionQueue) ProactiveCooldownRemaining(userID string) time.Duration {
	q.mu.Lock()
	last, ok := q.lastProactive[userID]
	q.mu.Unlock()
	if !ok {
		return 0
	}
	remaining := q.cfg.ProactiveCooldown - q.nowFn().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Cancel removes a pending action by ID.
func (q *ActionQueue) Cancel(actionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, a := range q.actions {
		if a.ID == actionID {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			return true
		}
	}
	return false
}

// UserActions returns copies of the user's pending actions.
func (q *ActionQueue) UserActions(userID string) []entity.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []entity.QueuedAction
	for _, a := range q.actions {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out
}

// Stats returns queue counters.
func (q *ActionQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:   len(q.actions),
		Executed:  q.executed,
		Failed:    q.failed,
		Dropped:   q.dropped,
		Proactive: q.proactive,
	}
}

// Clear drops all pending actions.
func (q *ActionQueue) Clear() {
	q.mu.Lock()
	q.actions = nil
	q.mu.Unlock()
}

// Start launches the single worker. Stop cancels it.
func (q *ActionQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	safego.Go(q.logger, "action-queue-worker", func() {
		q.workerLoop(ctx)
	})
}

// Stop halts the worker.
func (q *ActionQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
}

func (q *ActionQueue) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.processNext() {
				// Post-send pause keeps the transport under its rate limit.
				select {
				case <-ctx.Done():
					return
				case <-time.After(q.cfg.RateLimitDelay):
				}
			}
		}
	}
}

// processNext executes the first eligible action. Returns true when a
// send was attempted (success or terminal failure), false when idle.
func (q *ActionQueue) processNext() bool {
	action := q.popEligible()
	if action == nil {
		return false
	}

	// Proactive cooldown is enforced at execution time: a queued proactive
	// that arrives early is rescheduled, not dropped, and the deferral is
	// not counted as a retry.
	if action.Kind == entity.ActionProactive {
		if remaining := q.ProactiveCooldownRemaining(action.UserID); remaining > 0 {
			action.ScheduledFor = q.nowFn().Add(remaining)
			q.reinsert(action)
			return false
		}
	}

	q.mu.Lock()
	sender := q.sender
	q.mu.Unlock()
	if sender == nil {
		q.reinsert(action)
		return false
	}

	err := sender(action)
	now := q.nowFn()

	if err == nil {
		q.mu.Lock()
		q.executed++
		if action.Kind == entity.ActionProactive {
			q.lastProactive[action.UserID] = now
			q.proactive++
		}
		q.mu.Unlock()
		return true
	}

	q.mu.Lock()
	q.failed++
	q.mu.Unlock()

	action.RetryCount++
	if action.RetryCount < q.cfg.MaxRetries {
		action.ScheduledFor = now.Add(time.Duration(action.RetryCount) * retryBaseDelay)
		q.reinsert(action)
		q.logger.Warn("Send failed, retrying",
			zap.String("action_id", action.ID),
			zap.Int("retry", action.RetryCount),
			zap.Error(err),
		)
		return true
	}

	q.mu.Lock()
	q.dropped++
	q.mu.Unlock()
	q.logger.Error("Action dropped after retries",
		zap.String("action_id", action.ID),
		zap.String("user_id", action.UserID),
		zap.Error(err),
	)
	return true
}

// popEligible removes and returns the best eligible action: highest
// priority first, earliest schedule among equals, FIFO among exact ties.
func (q *ActionQueue) popEligible() *entity.QueuedAction {
	now := q.nowFn()

	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i, a := range q.actions {
		if a.ScheduledFor.After(now) {
			continue
		}
		if best < 0 || actionLess(a, q.actions[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	action := q.actions[best]
	q.actions = append(q.actions[:best], q.actions[best+1:]...)
	return action
}

func (q *ActionQueue) reinsert(action *entity.QueuedAction) {
	q.mu.Lock()
	q.actions = append(q.actions, action)
	q.mu.Unlock()
}

// actionLess orders a before b in the queue.
func actionLess(a, b *entity.QueuedAction) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}
