package entity

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType distinguishes inbound payload kinds.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeAudio MessageType = "audio"
)

// ConversationMessage is one turn in a user's short-term context window.
// Immutable once created; expires from the context store with the TTL.
type ConversationMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is one row of the durable append-only message log.
type HistoryEntry struct {
	ID          int64
	UserID      string
	Role        Role
	Content     string
	MessageType MessageType
	Timestamp   time.Time
	Metadata    map[string]interface{}
}

// HistoryQuery filters the message log. Zero fields are ignored.
type HistoryQuery struct {
	UserID   string
	Keywords []string // OR-matched substrings against content
	Since    time.Time
	Until    time.Time
	Limit    int
}

// ConversationSummary is a durable long-term summary of an expired context.
// ContextHash is unique per (user, messages) so re-archiving is a noop.
type ConversationSummary struct {
	UserID      string
	Summary     string
	Timestamp   time.Time
	ContextHash string
}

// ProcessedMessage marks an inbound transport message as handled.
// Replays of the same MessageID are rejected at the boundary.
type ProcessedMessage struct {
	MessageID   string
	ProcessedAt time.Time
	Sender      string
	Type        MessageType
}

// UserProfile holds durable per-user facts surfaced in the system prompt.
type UserProfile struct {
	UserID    string
	Name      string
	Location  string
	Language  string
	Facts     map[string]string
	LastAsked time.Time
}
