package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rolechat/internal/types"
)

// systemPromptKey is the session config key plain-mode factories read
// for their system prompt.
const systemPromptKey = "system_prompt"

// command is one dispatcher entry. Handlers return user-presentable
// strings for every outcome; validation failures are corrective
// messages, never errors.
type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	run     func(ctx context.Context, userID string, args []string) string
}

// displayIDLen is how much of a session id is shown to users; the full
// id is accepted anywhere a prefix is.
const displayIDLen = 8

func buildCommands(s *UserService) map[string]*command {
	list := []*command{
		{
			name:    "new",
			aliases: []string{"n"},
			usage:   "/new <mode> [args]",
			help:    "create a session and make it active (roleplay: /new roleplay <your-role> <bot-role>; plain: /new plain [system prompt])",
			run:     s.cmdNew,
		},
		{
			name:    "ls",
			aliases: []string{"list"},
			usage:   "/ls",
			help:    "list your sessions, marking the active one",
			run:     s.cmdList,
		},
		{
			name:    "ss",
			aliases: []string{"switch"},
			usage:   "/ss <session-id-prefix>",
			help:    "switch the active session",
			run:     s.cmdSwitchSession,
		},
		{
			name:    "dels",
			aliases: []string{"del"},
			usage:   "/dels <session-id-prefix>",
			help:    "delete a session and its history",
			run:     s.cmdDeleteSession,
		},
		{
			name:    "sbr",
			aliases: []string{"botrole"},
			usage:   "/sbr <role>",
			help:    "switch the bot role of the active roleplay session",
			run:     s.cmdSwitchBotRole,
		},
		{
			name:    "sur",
			aliases: []string{"userrole"},
			usage:   "/sur <name>",
			help:    "switch your own role name in the active roleplay session",
			run:     s.cmdSwitchUserRole,
		},
		{
			name:    "sl",
			aliases: []string{"model"},
			usage:   "/sl <model>",
			help:    "switch the language model of the live session",
			run:     s.cmdSwitchModel,
		},
		{
			name:    "help",
			aliases: []string{"h"},
			usage:   "/help",
			help:    "show this help",
			run:     s.cmdHelp,
		},
	}

	table := make(map[string]*command)
	for _, c := range list {
		table[c.name] = c
		for _, a := range c.aliases {
			table[a] = c
		}
	}
	return table
}

// dispatch parses "/token args..." and routes to the matching handler.
// Unknown tokens get a help hint rather than silence.
func (s *UserService) dispatch(ctx context.Context, userID, text string) string {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return "Empty command. Try /help."
	}
	token := strings.ToLower(fields[0])

	cmd, ok := s.commands[token]
	if !ok {
		return fmt.Sprintf("Unknown command /%s. Try /help.", token)
	}
	return cmd.run(ctx, userID, fields[1:])
}

func (s *UserService) cmdNew(_ context.Context, userID string, args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("Usage: /new <mode> [args]. Modes: %s.", strings.Join(s.factories.Modes(), ", "))
	}
	mode := strings.ToLower(args[0])
	if _, err := s.factories.Lookup(mode); err != nil {
		return fmt.Sprintf("Unknown mode %q. Modes: %s.", mode, strings.Join(s.factories.Modes(), ", "))
	}

	info := &types.SessionInfo{Mode: mode}
	switch mode {
	case types.ModeRoleplay:
		if len(args) < 3 {
			return "Usage: /new roleplay <your-role> <bot-role>"
		}
		info.UserRole = args[1]
		info.BotRole = args[2]
		// Validate before any mutation happens.
		if err := s.roles.Validate(info.BotRole); err != nil {
			return err.Error()
		}
	case types.ModePlain:
		if len(args) > 1 {
			info.Config = map[string]any{
				systemPromptKey: strings.Join(args[1:], " "),
			}
		}
	}

	info.ID = uuid.NewString()

	s.mu.Lock()
	profile := s.store.GetOrCreate(userID)
	if prev := profile.ActiveSessionID; prev != "" {
		s.cache.invalidate(prev)
	}
	profile.Sessions[info.ID] = info
	profile.ActiveSessionID = info.ID
	s.persistLocked("new session")
	s.mu.Unlock()

	return fmt.Sprintf("Created %s session %s. It is now active.", mode, shortID(info.ID))
}

func (s *UserService) cmdList(_ context.Context, userID string, _ []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.store.Get(userID)
	if !ok || len(profile.Sessions) == 0 {
		return "You have no sessions. Start one with /new."
	}

	ids := make([]string, 0, len(profile.Sessions))
	for id := range profile.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("Your sessions:\n")
	for _, id := range ids {
		info := profile.Sessions[id]
		fmt.Fprintf(&b, "  %s [%s]", shortID(id), info.Mode)
		if info.Mode == types.ModeRoleplay {
			fmt.Fprintf(&b, " %s / %s", info.UserRole, info.BotRole)
		}
		if id == profile.ActiveSessionID {
			b.WriteString("  (active)")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *UserService) cmdSwitchSession(_ context.Context, userID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /ss <session-id-prefix>"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.store.Get(userID)
	if !ok || len(profile.Sessions) == 0 {
		return "You have no sessions. Start one with /new."
	}

	id, msg := resolvePrefix(profile, args[0])
	if msg != "" {
		return msg
	}
	if id == profile.ActiveSessionID {
		return fmt.Sprintf("Session %s is already active.", shortID(id))
	}

	if prev := profile.ActiveSessionID; prev != "" {
		s.cache.invalidate(prev)
	}
	profile.ActiveSessionID = id
	s.persistLocked("switch session")

	return fmt.Sprintf("Switched to session %s.", shortID(id))
}

func (s *UserService) cmdDeleteSession(_ context.Context, userID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /dels <session-id-prefix>"
	}

	s.mu.Lock()
	profile, ok := s.store.Get(userID)
	if !ok || len(profile.Sessions) == 0 {
		s.mu.Unlock()
		return "You have no sessions."
	}

	id, msg := resolvePrefix(profile, args[0])
	if msg != "" {
		s.mu.Unlock()
		return msg
	}

	delete(profile.Sessions, id)
	s.cache.invalidate(id)

	var newActive string
	wasActive := profile.ActiveSessionID == id
	if wasActive {
		profile.ActiveSessionID = ""
		for remaining := range profile.Sessions {
			profile.ActiveSessionID = remaining
			break
		}
		newActive = profile.ActiveSessionID
	}
	s.persistLocked("delete session")
	s.mu.Unlock()

	if s.history != nil {
		if err := s.history.DeleteSession(id); err != nil {
			s.logger.Warn("failed to delete session history",
				zap.String("session_id", id), zap.Error(err))
		}
	}

	reply := fmt.Sprintf("Deleted session %s.", shortID(id))
	if wasActive {
		if newActive != "" {
			reply += fmt.Sprintf(" Session %s is now active.", shortID(newActive))
		} else {
			reply += " You have no sessions left."
		}
	}
	return reply
}

func (s *UserService) cmdSwitchBotRole(_ context.Context, userID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /sbr <role>"
	}
	// Validated against the known-roles set before anything mutates.
	if err := s.roles.Validate(args[0]); err != nil {
		return err.Error()
	}
	return s.switchRole(userID, func(info *types.SessionInfo) {
		info.BotRole = args[0]
	}, fmt.Sprintf("Bot role switched to %s.", args[0]))
}

func (s *UserService) cmdSwitchUserRole(_ context.Context, userID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /sur <name>"
	}
	// The user-facing role name is free text.
	return s.switchRole(userID, func(info *types.SessionInfo) {
		info.UserRole = args[0]
	}, fmt.Sprintf("Your role switched to %s.", args[0]))
}

// switchRole applies mutate to the active roleplay session, evicts the
// cached service so the next turn reflects the new persona, and
// persists.
func (s *UserService) switchRole(userID string, mutate func(*types.SessionInfo), reply string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.store.Get(userID)
	if !ok || profile.ActiveSessionID == "" {
		return s.noActiveSessionMessage()
	}
	info := profile.Sessions[profile.ActiveSessionID]
	if info.Mode != types.ModeRoleplay {
		return fmt.Sprintf("The active session is %s mode; it has no roles.", info.Mode)
	}

	mutate(info)
	s.cache.invalidate(info.ID)
	s.persistLocked("switch role")
	return reply
}

func (s *UserService) cmdSwitchModel(_ context.Context, userID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /sl <model>"
	}
	if s.models == nil {
		return "Model switching is not configured."
	}

	s.mu.Lock()
	profile, ok := s.store.Get(userID)
	if !ok || profile.ActiveSessionID == "" {
		s.mu.Unlock()
		return s.noActiveSessionMessage()
	}
	svc, live := s.cache.get(profile.ActiveSessionID)
	s.mu.Unlock()

	if !live {
		return "No live chat service yet. Send a message first, then switch models."
	}

	client, err := s.models.Resolve(args[0])
	if err != nil {
		return fmt.Sprintf("Cannot switch model: %v", err)
	}

	// Swapped directly on the live instance; session state and history
	// are untouched.
	svc.SwapModel(client)
	return fmt.Sprintf("Model switched to %s.", client.ModelName())
}

func (s *UserService) cmdHelp(_ context.Context, _ string, _ []string) string {
	seen := make(map[string]*command)
	for _, c := range s.commands {
		seen[c.name] = c
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range names {
		c := seen[name]
		fmt.Fprintf(&b, "  %-28s %s", c.usage, c.help)
		if len(c.aliases) > 0 {
			fmt.Fprintf(&b, " (aliases: %s)", strings.Join(c.aliases, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// resolvePrefix finds the unique session whose id starts with prefix.
// Ambiguity is a hard error with a corrective message; no
// most-recently-used tiebreak.
func resolvePrefix(profile *types.UserProfile, prefix string) (string, string) {
	var matches []string
	for id := range profile.Sessions {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], ""
	case 0:
		return "", fmt.Sprintf("No session matches %q. Use /ls to see your sessions.", prefix)
	default:
		sort.Strings(matches)
		short := make([]string, len(matches))
		for i, id := range matches {
			short[i] = shortID(id)
		}
		return "", fmt.Sprintf("Prefix %q is ambiguous: %s. Give more characters.", prefix, strings.Join(short, ", "))
	}
}

func shortID(id string) string {
	if len(id) <= displayIDLen {
		return id
	}
	return id[:displayIDLen]
}
