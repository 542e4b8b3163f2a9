// Package types holds the shared data model for user profiles and chat
// sessions. It is imported by both the session core and the chat
// service factories, so it stays dependency-free.
package types

// Session modes. A mode selects which factory builds the chat service
// for a session.
const (
	ModeRoleplay = "roleplay"
	ModePlain    = "plain"
)

// SessionInfo describes one persistent conversation thread. The ID is
// generated at creation and immutable; role fields are meaningful only
// for modes that carry role identity.
type SessionInfo struct {
	ID       string         `json:"session_id"`
	Mode     string         `json:"session_mode"`
	UserRole string         `json:"user_role,omitempty"`
	BotRole  string         `json:"bot_role,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Clone returns a deep copy. Handed to factories so construction never
// observes concurrent mutation of the stored record.
func (s *SessionInfo) Clone() *SessionInfo {
	if s == nil {
		return nil
	}
	out := *s
	if s.Config != nil {
		out.Config = cloneMap(s.Config)
	}
	return &out
}

// ConfigString returns a string config value, or "" when absent or not
// a string.
func (s *SessionInfo) ConfigString(key string) string {
	if s.Config == nil {
		return ""
	}
	v, _ := s.Config[key].(string)
	return v
}

// UserProfile holds all sessions for one user plus the active pointer.
// ActiveSessionID is either empty or a key of Sessions.
type UserProfile struct {
	UserID          string                  `json:"user_id"`
	ActiveSessionID string                  `json:"active_session_id,omitempty"`
	Sessions        map[string]*SessionInfo `json:"sessions"`
}

// NewUserProfile creates an empty profile for the given user.
func NewUserProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:   userID,
		Sessions: make(map[string]*SessionInfo),
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
