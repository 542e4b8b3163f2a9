package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"rolechat/internal/llm"
	"rolechat/internal/retrieval"
	"rolechat/internal/types"
)

const (
	// historyWindow bounds how many history entries enter the prompt
	// (40 entries, 20 user/assistant pairs). Full history stays on disk.
	historyWindow = 40

	// summaryEvery is the exchange interval between rolling-summary
	// refreshes written back into session config.
	summaryEvery = 20

	// retrieveK is how many corpus passages are injected per turn.
	retrieveK = 15

	summaryConfigKey = "summary"
)

// RoleplayFactory builds persona-driven services with retrieval.
type RoleplayFactory struct {
	Deps Deps
}

func (f *RoleplayFactory) Mode() string { return types.ModeRoleplay }

// New validates the persona fields and builds the service. Nothing is
// cached by callers on failure.
func (f *RoleplayFactory) New(info *types.SessionInfo) (Service, error) {
	if info.UserRole == "" || info.BotRole == "" {
		return nil, fmt.Errorf("roleplay session %s missing user or bot role", info.ID)
	}
	if f.Deps.Roles == nil {
		return nil, fmt.Errorf("roleplay mode requires a role registry")
	}
	persona, ok := f.Deps.Roles.Describe(info.BotRole)
	if !ok {
		return nil, f.Deps.Roles.Validate(info.BotRole)
	}

	model, err := f.Deps.NewModel()
	if err != nil {
		return nil, fmt.Errorf("failed to create model binding: %w", err)
	}

	logger := f.Deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &roleplayService{
		sessionID:    info.ID,
		userRole:     info.UserRole,
		botRole:      info.BotRole,
		persona:      persona,
		summary:      info.ConfigString(summaryConfigKey),
		model:        model,
		history:      f.Deps.History,
		retrieval:    f.Deps.Retrieval,
		updateConfig: f.Deps.UpdateConfig,
		logger:       logger,
	}, nil
}

// roleplayService answers in character, grounding each reply in corpus
// passages retrieved for the bot persona.
type roleplayService struct {
	sessionID string
	userRole  string
	botRole   string
	persona   string

	history      History
	retrieval    *retrieval.Engine
	updateConfig ConfigUpdater
	logger       *zap.Logger

	mu        sync.Mutex
	model     llm.Client
	summary   string
	lastReply string
	exchanges int
}

func (s *roleplayService) Reply(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	model := s.model
	summary := s.summary
	lastReply := s.lastReply
	s.mu.Unlock()

	recent, err := s.history.Recent(s.sessionID, historyWindow)
	if err != nil {
		return "", fmt.Errorf("failed to load session history: %w", err)
	}

	passages := s.retrieve(ctx, lastReply, text)

	messages := make([]llm.Message, 0, len(recent)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: s.systemPrompt(summary, passages),
	})
	messages = append(messages, recent...)
	messages = append(messages, llm.Message{Role: "user", Content: text})

	reply, err := model.Chat(ctx, messages)
	if err != nil {
		// No history write for a failed call; the caller may retry.
		return "", err
	}

	if err := s.history.AppendExchange(s.sessionID, text, reply); err != nil {
		s.logger.Warn("failed to persist exchange",
			zap.String("session_id", s.sessionID), zap.Error(err))
	}

	s.mu.Lock()
	s.lastReply = reply
	s.exchanges++
	due := s.updateConfig != nil && s.exchanges%summaryEvery == 0
	s.mu.Unlock()

	if due {
		s.refreshSummary(ctx, model)
	}
	return reply, nil
}

func (s *roleplayService) SwapModel(client llm.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = client
}

func (s *roleplayService) ModelName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.ModelName()
}

// retrieve queries the corpus with the tail of the conversation.
// Retrieval failure degrades to an empty passage list.
func (s *roleplayService) retrieve(ctx context.Context, lastReply, text string) []string {
	if s.retrieval == nil {
		return nil
	}

	var query strings.Builder
	if lastReply != "" {
		fmt.Fprintf(&query, "%s: %s\n", s.botRole, lastReply)
	}
	fmt.Fprintf(&query, "%s: %s", s.userRole, text)

	found, err := s.retrieval.Retrieve(ctx, query.String(), s.botRole, retrieveK)
	if err != nil {
		s.logger.Warn("retrieval failed, replying without passages",
			zap.String("session_id", s.sessionID), zap.Error(err))
		return nil
	}

	out := make([]string, len(found))
	for i, p := range found {
		out[i] = p.Text
	}
	return out
}

func (s *roleplayService) systemPrompt(summary string, passages []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n\n", time.Now().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "You are %s. Stay in character at all times.\n", s.botRole)
	fmt.Fprintf(&b, "Persona: %s\n", s.persona)
	fmt.Fprintf(&b, "You are talking to %s.\n", s.userRole)

	if summary != "" {
		fmt.Fprintf(&b, "\nConversation so far, summarized:\n%s\n", summary)
	}
	if len(passages) > 0 {
		b.WriteString("\nRelevant dialogue and background excerpts:\n")
		for _, p := range passages {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	b.WriteString("\nReply as ")
	b.WriteString(s.botRole)
	b.WriteString(" in plain prose. Do not prefix your reply with your name.")
	return b.String()
}

// refreshSummary condenses the recent window and writes it back into
// session config. Best effort; failures only log.
func (s *roleplayService) refreshSummary(ctx context.Context, model llm.Client) {
	recent, err := s.history.Recent(s.sessionID, historyWindow)
	if err != nil || len(recent) == 0 {
		return
	}

	var transcript strings.Builder
	for _, m := range recent {
		name := s.userRole
		if m.Role == "assistant" {
			name = s.botRole
		}
		fmt.Fprintf(&transcript, "%s: %s\n", name, m.Content)
	}

	summary, err := model.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Summarize the following conversation in a short paragraph. Keep names, facts and unresolved threads."},
		{Role: "user", Content: transcript.String()},
	})
	if err != nil {
		s.logger.Warn("summary refresh failed",
			zap.String("session_id", s.sessionID), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.summary = summary
	s.mu.Unlock()
	s.updateConfig(s.sessionID, summaryConfigKey, summary)
}
