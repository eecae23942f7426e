package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/pkg/safego"
	"go.uber.org/zap"
)

// snapshotDebounce limits how often the snapshot file is rewritten.
const snapshotDebounce = 2 * time.Second

// conversationContext is one user's rolling short-term window.
type conversationContext struct {
	UserID           string                       `json:"user_id"`
	Messages         []entity.ConversationMessage `json:"messages"`
	LastInteraction  time.Time                    `json:"last_interaction"`
	Interests        []string                     `json:"interests"`
	MsgSinceAnalysis int                          `json:"msg_since_analysis"`
}

// interestAnalyzer refines a user's interest tags from recent messages.
// A parse-failure error means "keep the previous tags".
type interestAnalyzer interface {
	Analyze(ctx context.Context, messages []entity.ConversationMessage, current []string) ([]string, error)
}

// contextArchiver summarizes an expiring context into durable storage.
type contextArchiver interface {
	Archive(ctx context.Context, userID string, messages []entity.ConversationMessage) error
}

// ContextStore owns every ConversationContext. Access is by its API only;
// snapshots round-trip the full reachable state through a JSON file.
type ContextStore struct {
	mu       sync.RWMutex
	contexts map[string]*conversationContext

	ttl           time.Duration
	analysisEvery int

	analyzer interestAnalyzer
	archiver contextArchiver

	snapshotPath string
	snapMu       sync.Mutex
	lastSnapshot time.Time
	dirty        bool

	logger *zap.Logger
	nowFn  func() time.Time
}

// NewContextStore creates the store and loads a previous snapshot if one
// exists at snapshotPath (empty path disables persistence).
func NewContextStore(ttl time.Duration, analysisEvery int, analyzer interestAnalyzer, archiver contextArchiver, snapshotPath string, logger *zap.Logger) *ContextStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if analysisEvery <= 0 {
		analysisEvery = 5
	}

	s := &ContextStore{
		contexts:      make(map[string]*conversationContext),
		ttl:           ttl,
		analysisEvery: analysisEvery,
		analyzer:      analyzer,
		archiver:      archiver,
		snapshotPath:  snapshotPath,
		logger:        logger,
		nowFn:         time.Now,
	}
	if err := s.loadSnapshot(); err != nil {
		logger.Warn("Context snapshot load failed", zap.Error(err))
	}
	return s
}

// Append records a message for the user, updating interaction time and,
// for user messages, running fast interest extraction inline. Every
// analysisEvery user messages a deep interest analysis is fired in the
// background; its result replaces the tag set when it parses.
func (s *ContextStore) Append(userID string, role entity.Role, content string) {
	now := s.nowFn()

	s.mu.Lock()
	c, ok := s.contexts[userID]
	if !ok {
		c = &conversationContext{UserID: userID}
		s.contexts[userID] = c
	}
	c.Messages = append(c.Messages, entity.ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	c.LastInteraction = now

	var runDeep []entity.ConversationMessage
	var current []string
	if role == entity.RoleUser {
		c.MsgSinceAnalysis++
		for _, tag := range ExtractFastInterests(content) {
			if !containsString(c.Interests, tag) {
				c.Interests = append(c.Interests, tag)
			}
		}
		if c.MsgSinceAnalysis >= s.analysisEvery {
			c.MsgSinceAnalysis = 0
			runDeep = lastMessages(c.Messages, 10)
			current = append([]string(nil), c.Interests...)
		}
	}
	s.mu.Unlock()

	if runDeep != nil && s.analyzer != nil {
		safego.Go(s.logger, "deep-interest-analysis", func() {
			s.runDeepAnalysis(userID, runDeep, current)
		})
	}

	s.persist()
}

func (s *ContextStore) runDeepAnalysis(userID string, messages []entity.ConversationMessage, current []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tags, err := s.analyzer.Analyze(ctx, messages, current)
	if err != nil {
		s.logger.Warn("Deep interest analysis failed, keeping tags",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	if c, ok := s.contexts[userID]; ok {
		c.Interests = tags
	}
	s.mu.Unlock()
	s.persist()
}

// History returns the user's messages still within the TTL. Expired
// messages are filtered on read, not eagerly purged.
func (s *ContextStore) History(userID string) []entity.ConversationMessage {
	cutoff := s.nowFn().Add(-s.ttl)

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[userID]
	if !ok {
		return nil
	}
	var out []entity.ConversationMessage
	for _, m := range c.Messages {
		if m.Timestamp.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

// ActiveUsers returns the users whose last interaction is within the TTL.
func (s *ContextStore) ActiveUsers() []string {
	cutoff := s.nowFn().Add(-s.ttl)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for id, c := range s.contexts {
		if c.LastInteraction.After(cutoff) {
			users = append(users, id)
		}
	}
	return users
}

// Interests returns the user's current interest tags.
func (s *ContextStore) Interests(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[userID]
	if !ok {
		return nil
	}
	return append([]string(nil), c.Interests...)
}

// CleanupExpired summarizes and evicts every context whose last
// interaction is at least the TTL old, returning the count evicted.
// The terminal analysis and archive run before eviction so the summary
// survives the context.
func (s *ContextStore) CleanupExpired(ctx context.Context) int {
	now := s.nowFn()

	s.mu.Lock()
	var expired []*conversationContext
	for id, c := range s.contexts {
		if now.Sub(c.LastInteraction) >= s.ttl {
			expired = append(expired, c)
			delete(s.contexts, id)
		}
	}
	s.mu.Unlock()

	for _, c := range expired {
		if s.analyzer != nil && len(c.Messages) > 0 {
			if tags, err := s.analyzer.Analyze(ctx, lastMessages(c.Messages, 10), c.Interests); err == nil {
				c.Interests = tags
			}
		}
		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, c.UserID, c.Messages); err != nil {
				s.logger.Warn("Context archive failed",
					zap.String("user_id", c.UserID),
					zap.Error(err),
				)
			}
		}
	}

	if len(expired) > 0 {
		s.persist()
	}
	return len(expired)
}

// Forget drops a user's context without archiving (user-initiated reset).
func (s *ContextStore) Forget(userID string) {
	s.mu.Lock()
	delete(s.contexts, userID)
	s.mu.Unlock()
	s.persist()
}

// persist writes the snapshot, debounced. A skipped write marks the store
// dirty; Flush picks it up during maintenance.
func (s *ContextStore) persist() {
	if s.snapshotPath == "" {
		return
	}

	s.snapMu.Lock()
	if time.Since(s.lastSnapshot) < snapshotDebounce {
		s.dirty = true
		s.snapMu.Unlock()
		return
	}
	s.lastSnapshot = time.Now()
	s.dirty = false
	s.snapMu.Unlock()

	if err := s.writeSnapshot(); err != nil {
		s.logger.Warn("Context snapshot write failed", zap.Error(err))
	}
}

// Flush writes the snapshot if a debounced write was skipped.
func (s *ContextStore) Flush() {
	if s.snapshotPath == "" {
		return
	}

	s.snapMu.Lock()
	dirty := s.dirty
	s.dirty = false
	s.lastSnapshot = time.Now()
	s.snapMu.Unlock()

	if !dirty {
		return
	}
	if err := s.writeSnapshot(); err != nil {
		s.logger.Warn("Context snapshot flush failed", zap.Error(err))
	}
}

func (s *ContextStore) writeSnapshot() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.contexts, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func (s *ContextStore) loadSnapshot() error {
	if s.snapshotPath == "" {
		return nil
	}
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	contexts := make(map[string]*conversationContext)
	if err := json.Unmarshal(data, &contexts); err != nil {
		return err
	}

	s.mu.Lock()
	s.contexts = contexts
	s.mu.Unlock()
	return nil
}

func lastMessages(msgs []entity.ConversationMessage, n int) []entity.ConversationMessage {
	if len(msgs) <= n {
		return append([]entity.ConversationMessage(nil), msgs...)
	}
	return append([]entity.ConversationMessage(nil), msgs[len(msgs)-n:]...)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
