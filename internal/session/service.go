package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"rolechat/internal/chat"
	"rolechat/internal/llm"
	"rolechat/internal/roles"
	"rolechat/internal/types"
)

// adminPrefix routes a message through the permission gate before the
// generic command path.
const adminPrefix = "/admin"

var errNoActiveSession = errors.New("no active session")

// ModelResolver turns a model name into a client binding.
type ModelResolver interface {
	Resolve(name string) (llm.Client, error)
}

// HistoryDeleter removes persisted history when a session is deleted.
type HistoryDeleter interface {
	DeleteSession(sessionID string) error
}

// AdminHandler handles admin-prefixed messages. The caller id travels
// with the request so the gate can audit it.
type AdminHandler interface {
	Handle(ctx context.Context, callerID, input string) string
}

// UserService is the session core: it owns the durable store and the
// live-service cache under one mutex, dispatches commands, and routes
// free text to the active session's chat service.
//
// The lock covers metadata lookups and cache bookkeeping only. Model
// and retrieval calls always run outside it, so one slow upstream
// round trip never serializes unrelated users.
type UserService struct {
	mu    sync.Mutex
	store *Store
	cache *liveCache

	factories *chat.Registry
	roles     *roles.Registry
	models    ModelResolver
	history   HistoryDeleter
	admin     AdminHandler
	logger    *zap.Logger

	commands map[string]*command
}

// Options carries the optional UserService collaborators.
type Options struct {
	Models  ModelResolver
	History HistoryDeleter
	Admin   AdminHandler
	Logger  *zap.Logger
}

// NewUserService wires the session core together.
func NewUserService(store *Store, factories *chat.Registry, roleSet *roles.Registry, opts Options) *UserService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &UserService{
		store:     store,
		cache:     newLiveCache(),
		factories: factories,
		roles:     roleSet,
		models:    opts.Models,
		history:   opts.History,
		admin:     opts.Admin,
		logger:    logger,
	}
	s.commands = buildCommands(s)
	return s
}

// HandleMessage is the inbound transport entry point. A leading "/"
// marks a command; everything else is chat content for the active
// session. Every handled path yields a user-presentable string; the
// error return is non-nil only for retryable model-call failures.
func (s *UserService) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	if text == adminPrefix || strings.HasPrefix(text, adminPrefix+" ") {
		if s.admin == nil {
			return "Admin commands are not enabled.", nil
		}
		rest := strings.TrimSpace(strings.TrimPrefix(text, adminPrefix))
		return s.admin.Handle(ctx, userID, rest), nil
	}

	if strings.HasPrefix(text, "/") {
		return s.dispatch(ctx, userID, text), nil
	}

	svc, err := s.resolve(userID)
	if err != nil {
		if errors.Is(err, errNoActiveSession) {
			return s.noActiveSessionMessage(), nil
		}
		// Construction detail was logged server-side already.
		return "The chat service for your session is unavailable. Check your session with /ls, or start fresh with /new.", nil
	}

	reply, err := svc.Reply(ctx, text)
	if err != nil {
		s.logger.Warn("reply generation failed",
			zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("reply generation failed: %w", err)
	}
	return reply, nil
}

func (s *UserService) noActiveSessionMessage() string {
	return fmt.Sprintf("You have no active session. Start one with /new <mode> (modes: %s).",
		strings.Join(s.factories.Modes(), ", "))
}

// resolve returns the live chat service for the user's active session,
// constructing it on first access. Double-checked under the service
// lock: the singleflight group collapses concurrent first access to a
// single construction, and the generation check discards a build that
// raced with an invalidation.
func (s *UserService) resolve(userID string) (chat.Service, error) {
	s.mu.Lock()
	profile, ok := s.store.Get(userID)
	if !ok || profile.ActiveSessionID == "" {
		s.mu.Unlock()
		return nil, errNoActiveSession
	}
	active := profile.ActiveSessionID
	if svc, ok := s.cache.get(active); ok {
		s.mu.Unlock()
		return svc, nil
	}
	s.mu.Unlock()

	v, err, _ := s.cache.group.Do(active, func() (any, error) {
		s.mu.Lock()
		if svc, ok := s.cache.get(active); ok {
			s.mu.Unlock()
			return svc, nil
		}
		profile, ok := s.store.Get(userID)
		if !ok {
			s.mu.Unlock()
			return nil, errNoActiveSession
		}
		info, ok := profile.Sessions[active]
		if !ok {
			s.mu.Unlock()
			return nil, errNoActiveSession
		}
		snapshot := info.Clone()
		gen := s.cache.generation(active)
		s.mu.Unlock()

		// Slow path: factory construction may hit disk or network.
		factory, err := s.factories.Lookup(snapshot.Mode)
		if err != nil {
			return nil, err
		}
		svc, err := factory.New(snapshot)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache.put(active, gen, svc)
		s.mu.Unlock()
		return svc, nil
	})
	if err != nil {
		if !errors.Is(err, errNoActiveSession) {
			s.logger.Error("failed to construct chat service",
				zap.String("user_id", userID),
				zap.String("session_id", active),
				zap.Error(err))
		}
		return nil, err
	}
	return v.(chat.Service), nil
}

// UpdateSessionConfig persists a config value written back by a live
// service. The change comes from the service itself, so the cache
// entry is left alone.
func (s *UserService) UpdateSessionConfig(sessionID, key, value string) {
	s.mu.Lock()
	profile, ok := s.store.FindSessionOwner(sessionID)
	if !ok {
		s.mu.Unlock()
		return
	}
	info := profile.Sessions[sessionID]
	if info.Config == nil {
		info.Config = make(map[string]any)
	}
	info.Config[key] = value
	err := s.store.Save()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("failed to persist session config update",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// persistLocked saves the store, logging instead of failing the
// operation. In-memory state wins on persistence failure; the next
// successful save reconverges disk.
func (s *UserService) persistLocked(op string) {
	if err := s.store.Save(); err != nil {
		s.logger.Warn("failed to persist user data",
			zap.String("operation", op), zap.Error(err))
	}
}

// Sessions returns a snapshot of the user's sessions for callers
// outside the package (status commands, tests).
func (s *UserService) Sessions(userID string) (map[string]*types.SessionInfo, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.store.Get(userID)
	if !ok {
		return nil, ""
	}
	out := make(map[string]*types.SessionInfo, len(profile.Sessions))
	for id, info := range profile.Sessions {
		out[id] = info.Clone()
	}
	return out, profile.ActiveSessionID
}
