package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/llm"
	"github.com/magpiebot/magpie/internal/domain/memory"
	"github.com/magpiebot/magpie/internal/domain/repository"
	domaintool "github.com/magpiebot/magpie/internal/domain/tool"
	"go.uber.org/zap"
)

// FallbackReply is the deterministic reply used whenever a reply path
// fails. The system never leaves an inbound message unanswered silently.
const FallbackReply = "Sorry, I encountered an issue. Please try again in a moment."

// Sentinels the model is instructed to emit for gating decisions.
const (
	sentinelSkip      = "SKIP"
	sentinelNoMatches = "NO_MATCHES"
)

// RegistryFactory builds the tool registry for one user's request. Tools
// that read per-user state (history recall) are bound at build time so
// the model never chooses whose data to touch.
type RegistryFactory func(userID string) *domaintool.Registry

// AgentConfig bounds the orchestrator.
type AgentConfig struct {
	MaxToolRounds int           // tool loop budget (default 5)
	MobileWordCap int           // soft word cap on replies (default 50)
	ToolTimeout   time.Duration // per-tool execution timeout (default 30s)
}

// Agent is the tool-calling orchestrator: it answers inbound messages,
// decides on proactive pushes, and synthesizes news digests.
type Agent struct {
	contexts  *memory.ContextStore
	kb        *knowledge.Base
	summaries repository.SummaryRepository
	profiles  repository.ProfileRepository
	text      llm.TextCompleter
	tools     llm.ToolCompleter
	registry  RegistryFactory

	cfg    AgentConfig
	logger *zap.Logger

	// Per-user serialization: concurrent inbound messages from the same
	// user are handled one at a time; different users run in parallel.
	userMu sync.Map // userID → *sync.Mutex
}

// NewAgent creates the orchestrator with defaults filled in.
func NewAgent(
	contexts *memory.ContextStore,
	kb *knowledge.Base,
	summaries repository.SummaryRepository,
	profiles repository.ProfileRepository,
	text llm.TextCompleter,
	tools llm.ToolCompleter,
	registry RegistryFactory,
	cfg AgentConfig,
	logger *zap.Logger,
) *Agent {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	if cfg.MobileWordCap <= 0 {
		cfg.MobileWordCap = 50
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	return &Agent{
		contexts:  contexts,
		kb:        kb,
		summaries: summaries,
		profiles:  profiles,
		text:      text,
		tools:     tools,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	}
}

func (a *Agent) lockUser(userID string) func() {
	muIface, _ := a.userMu.LoadOrStore(userID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HandleUserMessage runs the full reply pipeline for one inbound text.
// Every failure path degrades to FallbackReply; the reply is also
// appended to the user's context before returning.
func (a *Agent) HandleUserMessage(ctx context.Context, userID, text string) string {
	unlock := a.lockUser(userID)
	defer unlock()

	a.contexts.Append(userID, entity.RoleUser, text)

	reply, err := a.respond(ctx, userID, text)
	if err != nil {
		a.logger.Error("Reply pipeline failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		reply = FallbackReply
	}

	a.contexts.Append(userID, entity.RoleAssistant, reply)
	return reply
}

func (a *Agent) respond(ctx context.Context, userID, text string) (string, error) {
	system := a.buildSystemPrompt(ctx, userID, text)

	messages := []llm.Message{{Role: "system", Content: system}}
	for _, m := range a.contexts.History(userID) {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	registry := a.registry(userID)
	defs := registry.Definitions()
	var partialResults []string

	for round := 1; round <= a.cfg.MaxToolRounds; round++ {
		resp, err := a.tools.CompleteWithTools(ctx, messages, defs)
		if err != nil {
			return "", fmt.Errorf("completion round %d: %w", round, err)
		}

		if len(resp.ToolCalls) == 0 {
			return FormatMobileReply(resp.Content, a.cfg.MobileWordCap), nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tool execution is sequential within a request: ordering of tool
		// result messages must match the call order the model emitted.
		for _, call := range resp.ToolCalls {
			output := a.executeTool(ctx, registry, call, &partialResults)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	return a.salvagePartials(ctx, text, partialResults)
}

func (a *Agent) executeTool(ctx context.Context, registry *domaintool.Registry, call llm.ToolCall, partials *[]string) string {
	toolCtx, cancel := context.WithTimeout(ctx, a.cfg.ToolTimeout)
	defer cancel()

	a.logger.Info("Executing tool",
		zap.String("tool", call.Name),
	)

	result, err := registry.Execute(toolCtx, call.Name, call.Arguments)
	if err != nil {
		a.logger.Warn("Tool failed",
			zap.String("tool", call.Name),
			zap.Error(err),
		)
		return fmt.Sprintf("Tool %s failed: %v", call.Name, err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = result.Output
		}
		return fmt.Sprintf("Tool %s returned no result: %s", call.Name, msg)
	}

	if strings.TrimSpace(result.Output) != "" {
		*partials = append(*partials, result.Output)
	}
	return result.Output
}

// salvagePartials produces the reply when the tool-round budget ran out.
func (a *Agent) salvagePartials(ctx context.Context, question string, partials []string) (string, error) {
	if len(partials) == 0 {
		return "I searched but couldn't find a solid answer to that. Mind rephrasing, or asking me later once I've learned more?", nil
	}

	prompt := fmt.Sprintf(
		"You hit the search limit while answering: %q\n\n"+
			"Partial findings:\n%s\n\n"+
			"Write a short closing answer from these findings, and mention "+
			"that you hit the lookup limit.",
		question, strings.Join(partials, "\n---\n"))

	reply, err := a.text.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You summarize partial research findings honestly and briefly."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("partial-result salvage: %w", err)
	}
	return FormatMobileReply(reply, a.cfg.MobileWordCap), nil
}

func (a *Agent) buildSystemPrompt(ctx context.Context, userID, query string) string {
	var sb strings.Builder
	sb.WriteString("You are Magpie, a curious personal companion that browses the web ")
	sb.WriteString("on its own and chats over a mobile messenger. Keep replies short, ")
	sb.WriteString("warm, and concrete.\n\n")
	sb.WriteString("Tool priority: answer from given context first; then recall_history ")
	sb.WriteString("for past conversations; then scrape_news for cached digests; then ")
	sb.WriteString("web_search; deep_research only when everything else came back empty.\n\n")
	sb.WriteString("Current time: " + time.Now().Format("Mon, 02 Jan 2006 15:04 MST") + "\n")

	if profile, err := a.profiles.Get(ctx, userID); err == nil {
		if profile.Name != "" {
			fmt.Fprintf(&sb, "User name: %s\n", profile.Name)
		}
		if profile.Location != "" {
			fmt.Fprintf(&sb, "User location: %s\n", profile.Location)
		}
		for k, v := range profile.Facts {
			fmt.Fprintf(&sb, "Known fact (%s): %s\n", k, v)
		}
	}

	if summaries, err := a.summaries.Recent(ctx, userID, 3); err == nil && len(summaries) > 0 {
		sb.WriteString("\nEarlier conversations:\n")
		for _, s := range summaries {
			sb.WriteString("- " + s.Summary + "\n")
		}
	}

	if kbResult, err := a.kb.Search(ctx, query, 3, ""); err == nil && kbResult != knowledge.NoResults {
		sb.WriteString("\nRelevant things you learned recently:\n")
		sb.WriteString(kbResult)
		sb.WriteString("\n")
	}

	return sb.String()
}

// GenerateProactiveMessage decides whether discovered content is worth an
// unsolicited push to the user. Returns "" for skip.
func (a *Agent) GenerateProactiveMessage(ctx context.Context, userID, discovered string) (string, error) {
	interests := a.contexts.Interests(userID)
	recent := a.contexts.History(userID)
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	var convo strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&convo, "%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf(
		"User interests: %s\nRecent conversation:\n%s\n"+
			"You just discovered:\n%s\n\n"+
			"If this is worth interrupting the user for, write one short, "+
			"mobile-friendly message about it. Otherwise respond with exactly SKIP.",
		strings.Join(interests, ", "), convo.String(), discovered)

	resp, err := a.text.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You decide whether to surface discoveries. Be conservative."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp) == sentinelSkip {
		return "", nil
	}
	return FormatMobileReply(resp, a.cfg.MobileWordCap), nil
}

// GenerateNewsDigest builds a short digest from accumulated snippets.
// Users without interests never get a digest; NO_MATCHES from the model
// also yields "".
func (a *Agent) GenerateNewsDigest(ctx context.Context, userID string, items []string) (string, error) {
	interests := a.contexts.Interests(userID)
	if len(interests) == 0 {
		return "", nil
	}
	if len(items) == 0 {
		return "", nil
	}

	prompt := fmt.Sprintf(
		"User interests: %s\n\nCollected snippets:\n%s\n\n"+
			"Group duplicate stories, pick at most 3 distinct ones matching the "+
			"interests, and write one sentence per story as a friendly digest. "+
			"If nothing matches the interests, respond with exactly NO_MATCHES.",
		strings.Join(interests, ", "), strings.Join(items, "\n---\n"))

	resp, err := a.text.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You compile tiny news digests for a mobile messenger."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp) == sentinelNoMatches {
		return "", nil
	}
	return resp, nil
}

var (
	thinkTagRe   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// FormatMobileReply post-processes a model reply for a phone screen:
// reasoning tags stripped, whitespace collapsed, and a soft word cap
// applied with a trailing ellipsis.
func FormatMobileReply(s string, wordCap int) string {
	s = thinkTagRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if wordCap > 0 {
		words := strings.Fields(s)
		if len(words) > wordCap {
			s = strings.Join(words[:wordCap], " ") + "…"
		}
	}
	return s
}
