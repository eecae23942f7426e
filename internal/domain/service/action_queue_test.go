package service

import (
	"errors"
	"testing"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"go.uber.org/zap"
)

func newTestQueue(sender MessageSender) (*ActionQueue, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewActionQueue(ActionQueueConfig{}, zap.NewNop())
	q.nowFn = func() time.Time { return now }
	if sender != nil {
		q.RegisterMessageSender(sender)
	}
	return q, &now
}

func TestProcessNextPriorityOrder(t *testing.T) {
	var sent []string
	q, _ := newTestQueue(func(a *entity.QueuedAction) error {
		sent = append(sent, a.Content)
		return nil
	})

	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "low", Priority: 3})
	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "high", Priority: 9})
	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "default"})

	for i := 0; i < 3; i++ {
		if !q.processNext() {
			t.Fatalf("expected a send on iteration %d", i)
		}
	}
	want := []string{"high", "default", "low"}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("send order %v, want %v", sent, want)
		}
	}
}

func TestProcessNextFIFOWithinPriority(t *testing.T) {
	var sent []string
	q, now := newTestQueue(func(a *entity.QueuedAction) error {
		sent = append(sent, a.Content)
		return nil
	})

	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "first"})
	*now = now.Add(time.Millisecond)
	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "second"})

	q.processNext()
	q.processNext()
	if len(sent) != 2 || sent[0] != "first" || sent[1] != "second" {
		t.Fatalf("expected FIFO order, got %v", sent)
	}
}

func TestDelayedActionNotEligible(t *testing.T) {
	q, now := newTestQueue(func(a *entity.QueuedAction) error { return nil })

	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "later", Delay: time.Minute})
	if q.processNext() {
		t.Fatalf("delayed action must not run early")
	}

	*now = now.Add(2 * time.Minute)
	if !q.processNext() {
		t.Fatalf("delayed action should run after its delay")
	}
}

func TestProactiveCooldownReschedulesWithoutRetry(t *testing.T) {
	var sent int
	q, now := newTestQueue(func(a *entity.QueuedAction) error {
		sent++
		return nil
	})

	q.Enqueue(EnqueueRequest{Kind: entity.ActionProactive, UserID: "u1", Content: "one"})
	if !q.processNext() {
		t.Fatalf("first proactive should send")
	}
	if q.CanSendProactive("u1") {
		t.Fatalf("cooldown should be active after a proactive send")
	}

	// A second proactive inside the cooldown is deferred, not dropped.
	q.Enqueue(EnqueueRequest{Kind: entity.ActionProactive, UserID: "u1", Content: "two"})
	if q.processNext() {
		t.Fatalf("cooled-down proactive must not send")
	}
	if sent != 1 {
		t.Fatalf("expected 1 send, got %d", sent)
	}
	pending := q.UserActions("u1")
	if len(pending) != 1 {
		t.Fatalf("deferred action lost: %d pending", len(pending))
	}
	if pending[0].RetryCount != 0 {
		t.Errorf("deferral must not count as a retry")
	}

	// After the cooldown it goes out.
	*now = now.Add(16 * time.Minute)
	if !q.processNext() {
		t.Fatalf("proactive should send after cooldown")
	}
	if sent != 2 {
		t.Fatalf("expected 2 sends, got %d", sent)
	}
}

func TestRetryLinearBackoffThenDrop(t *testing.T) {
	attempts := 0
	q, now := newTestQueue(func(a *entity.QueuedAction) error {
		attempts++
		return errors.New("network down")
	})

	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "flaky"})

	// First failure: rescheduled 30s out.
	q.processNext()
	pending := q.UserActions("u1")
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("expected one pending retry, got %+v", pending)
	}
	if got := pending[0].ScheduledFor.Sub(*now); got != 30*time.Second {
		t.Errorf("first backoff = %v, want 30s", got)
	}

	// Second failure: 60s backoff.
	*now = now.Add(31 * time.Second)
	q.processNext()
	pending = q.UserActions("u1")
	if len(pending) != 1 || pending[0].RetryCount != 2 {
		t.Fatalf("expected second retry pending, got %+v", pending)
	}
	if got := pending[0].ScheduledFor.Sub(*now); got != 60*time.Second {
		t.Errorf("second backoff = %v, want 60s", got)
	}

	// Third failure exhausts MaxRetries: dropped.
	*now = now.Add(61 * time.Second)
	q.processNext()
	if len(q.UserActions("u1")) != 0 {
		t.Fatalf("action should be dropped after max retries")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	stats := q.Stats()
	if stats.Dropped != 1 || stats.Failed != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestNoSenderReinserts(t *testing.T) {
	q, _ := newTestQueue(nil)
	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "hello"})

	if q.processNext() {
		t.Fatalf("no sender registered, nothing should be attempted")
	}
	if len(q.UserActions("u1")) != 1 {
		t.Fatalf("action must survive until a sender exists")
	}
}

func TestCancelRemovesPending(t *testing.T) {
	q, _ := newTestQueue(func(a *entity.QueuedAction) error { return nil })

	id := q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "soon", Delay: time.Minute})
	if !q.Cancel(id) {
		t.Fatalf("cancel should find the pending action")
	}
	if q.Cancel(id) {
		t.Fatalf("second cancel must report not found")
	}
	if got := q.Stats().Pending; got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestPriorityClamped(t *testing.T) {
	q, _ := newTestQueue(nil)
	q.Enqueue(EnqueueRequest{Kind: entity.ActionMessage, UserID: "u1", Content: "over", Priority: 99})
	if got := q.UserActions("u1")[0].Priority; got != 10 {
		t.Errorf("priority = %d, want clamped to 10", got)
	}
}
