package chat

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"rolechat/internal/llm"
	"rolechat/internal/types"
)

const (
	systemPromptConfigKey = "system_prompt"
	defaultSystemPrompt   = "You are a helpful assistant."
)

// PlainFactory builds services with a static system prompt and no
// retrieval step.
type PlainFactory struct {
	Deps Deps
}

func (f *PlainFactory) Mode() string { return types.ModePlain }

func (f *PlainFactory) New(info *types.SessionInfo) (Service, error) {
	model, err := f.Deps.NewModel()
	if err != nil {
		return nil, fmt.Errorf("failed to create model binding: %w", err)
	}

	prompt := info.ConfigString(systemPromptConfigKey)
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	logger := f.Deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &plainService{
		sessionID: info.ID,
		prompt:    prompt,
		model:     model,
		history:   f.Deps.History,
		logger:    logger,
	}, nil
}

type plainService struct {
	sessionID string
	prompt    string
	history   History
	logger    *zap.Logger

	mu    sync.Mutex
	model llm.Client
}

func (s *plainService) Reply(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	model := s.model
	s.mu.Unlock()

	recent, err := s.history.Recent(s.sessionID, historyWindow)
	if err != nil {
		return "", fmt.Errorf("failed to load session history: %w", err)
	}

	messages := make([]llm.Message, 0, len(recent)+2)
	messages = append(messages, llm.Message{Role: "system", Content: s.prompt})
	messages = append(messages, recent...)
	messages = append(messages, llm.Message{Role: "user", Content: text})

	reply, err := model.Chat(ctx, messages)
	if err != nil {
		return "", err
	}

	if err := s.history.AppendExchange(s.sessionID, text, reply); err != nil {
		s.logger.Warn("failed to persist exchange",
			zap.String("session_id", s.sessionID), zap.Error(err))
	}
	return reply, nil
}

func (s *plainService) SwapModel(client llm.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = client
}

func (s *plainService) ModelName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.ModelName()
}
