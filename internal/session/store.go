// Package session implements the per-user session core: the durable
// session store, the live chat-service cache, the command dispatcher,
// and the user service tying them together.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"rolechat/internal/types"
)

// Store is the durable mapping from user id to profile. It carries no
// lock of its own: all access runs inside the UserService exclusion
// domain, which also guards the live-service cache so session mutations
// and cache invalidations are observed atomically.
type Store struct {
	path   string
	logger *zap.Logger
	users  map[string]*types.UserProfile
}

// NewStore loads the store from path. A missing file yields an empty
// store; malformed content is logged and reset to empty rather than
// failing startup.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:   path,
		logger: logger,
		users:  make(map[string]*types.UserProfile),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read user data, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("user data is malformed, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return
	}

	for userID, entry := range raw {
		profile, err := decodeProfile(userID, entry)
		if err != nil {
			s.logger.Error("skipping malformed user entry",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		s.users[userID] = profile
	}

	s.logger.Info("user data loaded",
		zap.String("path", s.path), zap.Int("users", len(s.users)))
}

// decodeProfile handles both the current schema and the legacy flat
// form where a user entry was a bare session-id string. Legacy entries
// are normalized here, before anything else observes them, and reach
// disk in the current schema on the next save.
func decodeProfile(userID string, entry json.RawMessage) (*types.UserProfile, error) {
	var legacyID string
	if err := json.Unmarshal(entry, &legacyID); err == nil {
		profile := types.NewUserProfile(userID)
		profile.ActiveSessionID = legacyID
		profile.Sessions[legacyID] = &types.SessionInfo{
			ID:   legacyID,
			Mode: types.ModeRoleplay,
		}
		return profile, nil
	}

	var profile types.UserProfile
	if err := json.Unmarshal(entry, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse user entry: %w", err)
	}
	profile.UserID = userID
	if profile.Sessions == nil {
		profile.Sessions = make(map[string]*types.SessionInfo)
	}
	// Repair a dangling active pointer rather than propagating it.
	if profile.ActiveSessionID != "" {
		if _, ok := profile.Sessions[profile.ActiveSessionID]; !ok {
			profile.ActiveSessionID = ""
		}
	}
	for id, info := range profile.Sessions {
		info.ID = id
	}
	return &profile, nil
}

// GetOrCreate returns the profile for userID, creating an empty one on
// first interaction. Profiles are never deleted.
func (s *Store) GetOrCreate(userID string) *types.UserProfile {
	if profile, ok := s.users[userID]; ok {
		return profile
	}
	profile := types.NewUserProfile(userID)
	s.users[userID] = profile
	return profile
}

// Get returns the profile for userID if it exists.
func (s *Store) Get(userID string) (*types.UserProfile, bool) {
	profile, ok := s.users[userID]
	return profile, ok
}

// FindSessionOwner returns the profile holding the given session id.
func (s *Store) FindSessionOwner(sessionID string) (*types.UserProfile, bool) {
	for _, profile := range s.users {
		if _, ok := profile.Sessions[sessionID]; ok {
			return profile, true
		}
	}
	return nil, false
}

// Save serializes the whole store to disk. The write goes through a
// temp file and rename so a crash mid-write never corrupts the
// previous state.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize user data: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write user data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace user data file: %w", err)
	}
	return nil
}
