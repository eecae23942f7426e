package entity

import "time"

// ActionKind tags a queued outbound action.
type ActionKind string

const (
	ActionMessage   ActionKind = "message"   // direct reply
	ActionProactive ActionKind = "proactive" // unsolicited push, subject to cooldown
	ActionMedia     ActionKind = "media"     // audio/image payload referenced via metadata
)

// QueuedAction is one pending outbound send. Lifecycle: enqueued →
// eligible (ScheduledFor ≤ now) → executing → completed, retried with
// backoff, or dropped after the retry limit.
type QueuedAction struct {
	ID           string
	Kind         ActionKind
	UserID       string
	Content      string
	ScheduledFor time.Time
	Priority     int // 1..10, higher first
	RetryCount   int
	Metadata     map[string]string
	EnqueuedAt   time.Time
}
