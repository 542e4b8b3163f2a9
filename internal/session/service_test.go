package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rolechat/internal/chat"
	"rolechat/internal/llm"
	"rolechat/internal/roles"
	"rolechat/internal/types"
)

// stubModel is a minimal llm.Client for dispatch tests.
type stubModel struct{ name string }

func (m *stubModel) Chat(context.Context, []llm.Message) (string, error) { return "", nil }
func (m *stubModel) SetModel(name string)                                { m.name = name }
func (m *stubModel) ModelName() string                                   { return m.name }

// fakeHistory tracks exchange counts per session.
type fakeHistory struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{counts: make(map[string]int)}
}

func (h *fakeHistory) append(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[sessionID] += 2
}

func (h *fakeHistory) count(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[sessionID]
}

func (h *fakeHistory) DeleteSession(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.counts, sessionID)
	return nil
}

// fakeService echoes with its model name so tests can observe which
// binding served a reply.
type fakeService struct {
	sessionID string
	botRole   string
	history   *fakeHistory

	mu    sync.Mutex
	model llm.Client
}

func (f *fakeService) Reply(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	model := f.model
	f.mu.Unlock()
	f.history.append(f.sessionID)
	return fmt.Sprintf("[%s/%s] %s", model.ModelName(), f.botRole, text), nil
}

func (f *fakeService) SwapModel(client llm.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = client
}

func (f *fakeService) ModelName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model.ModelName()
}

// countingFactory counts constructions so tests can observe cache hits
// and invalidation-driven rebuilds.
type countingFactory struct {
	mode    string
	history *fakeHistory
	delay   time.Duration

	mu    sync.Mutex
	built int
}

func (f *countingFactory) Mode() string { return f.mode }

func (f *countingFactory) New(info *types.SessionInfo) (chat.Service, error) {
	f.mu.Lock()
	f.built++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &fakeService{
		sessionID: info.ID,
		botRole:   info.BotRole,
		history:   f.history,
		model:     &stubModel{name: "default"},
	}, nil
}

func (f *countingFactory) builtCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

// fakeResolver knows a fixed set of model names.
type fakeResolver struct{ known map[string]bool }

func (r *fakeResolver) Resolve(name string) (llm.Client, error) {
	if !r.known[name] {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	return &stubModel{name: name}, nil
}

type coreFixture struct {
	svc     *UserService
	factory *countingFactory
	history *fakeHistory
}

func newCore(t *testing.T) *coreFixture {
	t.Helper()

	history := newFakeHistory()
	factory := &countingFactory{mode: types.ModeRoleplay, history: history}
	plain := &countingFactory{mode: types.ModePlain, history: history}

	factories := chat.NewFactoryRegistry()
	factories.Register(factory)
	factories.Register(plain)

	store := NewStore(filepath.Join(t.TempDir(), "users.json"), nil)
	roleSet := roles.NewRegistryFromMap(map[string]string{
		"Dean": "a calm detective",
		"Mia":  "a pilot",
	}, nil)

	svc := NewUserService(store, factories, roleSet, Options{
		Models:  &fakeResolver{known: map[string]bool{"fake-2": true}},
		History: history,
	})
	return &coreFixture{svc: svc, factory: factory, history: history}
}

func (c *coreFixture) mustHandle(t *testing.T, userID, text string) string {
	t.Helper()
	reply, err := c.svc.HandleMessage(context.Background(), userID, text)
	require.NoError(t, err)
	return reply
}

func TestHandleMessage_NoSessionEver(t *testing.T) {
	c := newCore(t)

	reply := c.mustHandle(t, "42", "anything")
	assert.Contains(t, reply, "no active session")
	assert.Contains(t, reply, "roleplay")
}

func TestHandleMessage_UnknownCommand(t *testing.T) {
	c := newCore(t)
	reply := c.mustHandle(t, "42", "/frobnicate")
	assert.Contains(t, reply, "Unknown command")
	assert.Contains(t, reply, "/help")
}

func TestNewSession_ValidationBeforeMutation(t *testing.T) {
	c := newCore(t)

	reply := c.mustHandle(t, "42", "/new roleplay Dave Nobody")
	assert.Contains(t, reply, "invalid role")

	// Nothing was created.
	sessions, active := c.svc.Sessions("42")
	assert.Empty(t, sessions)
	assert.Empty(t, active)
}

func TestNewSession_ListMarksActive(t *testing.T) {
	c := newCore(t)

	reply := c.mustHandle(t, "42", "/new roleplay Dave Dean")
	assert.Contains(t, reply, "now active")

	list := c.mustHandle(t, "42", "/ls")
	assert.Equal(t, 1, strings.Count(list, "(active)"))
	assert.Contains(t, list, "Dave / Dean")
}

func TestNewSession_IDUniqueness(t *testing.T) {
	c := newCore(t)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		c.mustHandle(t, "42", "/new plain")
	}
	sessions, _ := c.svc.Sessions("42")
	for id := range sessions {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, 1000)
}

func TestSwitchSession_PrefixResolution(t *testing.T) {
	c := newCore(t)

	c.mustHandle(t, "42", "/new roleplay Dave Dean")
	c.mustHandle(t, "42", "/new roleplay Dave Mia")
	sessions, active := c.svc.Sessions("42")
	require.Len(t, sessions, 2)

	var other string
	for id := range sessions {
		if id != active {
			other = id
		}
	}

	reply := c.mustHandle(t, "42", "/ss "+other[:8])
	assert.Contains(t, reply, "Switched")
	_, nowActive := c.svc.Sessions("42")
	assert.Equal(t, other, nowActive)

	// Absent prefix is an error with a corrective message.
	reply = c.mustHandle(t, "42", "/ss zzzzzzzz")
	assert.Contains(t, reply, "No session matches")

	reply = c.mustHandle(t, "42", "/ss")
	assert.Contains(t, reply, "Usage:")
}

func TestDeleteSession_RepairsActivePointer(t *testing.T) {
	c := newCore(t)

	c.mustHandle(t, "42", "/new roleplay Dave Dean")
	c.mustHandle(t, "42", "/new roleplay Dave Mia")
	_, active := c.svc.Sessions("42")

	reply := c.mustHandle(t, "42", "/dels "+active[:8])
	assert.Contains(t, reply, "now active")

	sessions, nowActive := c.svc.Sessions("42")
	require.Len(t, sessions, 1)
	require.NotEmpty(t, nowActive)
	assert.Contains(t, sessions, nowActive)
	assert.NotEqual(t, active, nowActive)

	// Deleting the last session clears the active pointer.
	reply = c.mustHandle(t, "42", "/dels "+nowActive[:8])
	assert.Contains(t, reply, "no sessions left")
	sessions, nowActive = c.svc.Sessions("42")
	assert.Empty(t, sessions)
	assert.Empty(t, nowActive)

	assert.Contains(t, c.mustHandle(t, "42", "hello"), "no active session")
}

func TestSwitchBotRole_InvalidLeavesSessionUnchanged(t *testing.T) {
	c := newCore(t)

	c.mustHandle(t, "42", "/new roleplay Dave Dean")
	c.mustHandle(t, "42", "hello") // construct the live service
	require.Equal(t, 1, c.factory.builtCount())

	reply := c.mustHandle(t, "42", "/sbr Nobody")
	assert.Contains(t, reply, "invalid role")

	sessions, active := c.svc.Sessions("42")
	assert.Equal(t, "Dean", sessions[active].BotRole)

	// Invalid switch must not evict; no reconstruction on next turn.
	c.mustHandle(t, "42", "hello again")
	assert.Equal(t, 1, c.factory.builtCount())
}

func TestSwitchBotRole_EvictsLiveService(t *testing.T) {
	c := newCore(t)

	c.mustHandle(t, "42", "/new roleplay Dave Dean")
	first := c.mustHandle(t, "42", "hello")
	assert.Contains(t, first, "/Dean]")
	require.Equal(t, 1, c.factory.builtCount())

	reply := c.mustHandle(t, "42", "/sbr Mia")
	assert.Contains(t, reply, "Mia")

	sessions, active := c.svc.Sessions("42")
	assert.Equal(t, "Mia", sessions[active].BotRole)

	// Next message reconstructs with the new persona.
	second := c.mustHandle(t, "42", "hello again")
	assert.Contains(t, second, "/Mia]")
	assert.Equal(t, 2, c.factory.builtCount())

	// History survives the role switch; only the live instance died.
	assert.Equal(t, 4, c.history.count(active))
}

func TestSwitchModel_RequiresLiveService(t *testing.T) {
	c := newCore(t)

	assert.Contains(t, c.mustHandle(t, "42", "/sl fake-2"), "no active session")

	c.mustHandle(t, "42", "/new roleplay Dave Dean")
	assert.Contains(t, c.mustHandle(t, "42", "/sl fake-2"), "Send a message first")
}

func TestSwitchModel_SwapsBindingInPlace(t *testing.T) {
	c := newCore(t)

	c.mustHandle(t, "42", "/new roleplay Dave Dean")
	first := c.mustHandle(t, "42", "hello")
	assert.Contains(t, first, "[default/")

	sessionsBefore, activeBefore := c.svc.Sessions("42")
	historyBefore := c.history.count(activeBefore)

	assert.Contains(t, c.mustHandle(t, "42", "/sl nope"), "unknown model")
	assert.Contains(t, c.mustHandle(t, "42", "/sl fake-2"), "fake-2")

	// Same instance, new binding: no reconstruction, same session
	// identity, history length untouched by the switch itself.
	assert.Equal(t, 1, c.factory.builtCount())
	sessionsAfter, activeAfter := c.svc.Sessions("42")
	assert.Equal(t, activeBefore, activeAfter)
	assert.Equal(t, sessionsBefore[activeBefore].BotRole, sessionsAfter[activeAfter].BotRole)
	assert.Equal(t, historyBefore, c.history.count(activeAfter))

	second := c.mustHandle(t, "42", "again")
	assert.Contains(t, second, "[fake-2/")
}

func TestConcurrentFirstAccess_SingleConstruction(t *testing.T) {
	// Ignore the process-wide worker goroutine started by the
	// go.opencensus.io package init (transitive dependency); it is not
	// created by the code under test.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	c := newCore(t)
	c.factory.delay = 50 * time.Millisecond
	c.mustHandle(t, "42", "/new roleplay Dave Dean")

	const callers = 8
	var wg sync.WaitGroup
	replies := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := c.svc.HandleMessage(context.Background(), "42", "hello")
			assert.NoError(t, err)
			replies[i] = reply
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, c.factory.builtCount(), "construction must be single-flight")
	for _, reply := range replies {
		assert.Contains(t, reply, "/Dean]")
	}
}

func TestHelp_ListsAllCommands(t *testing.T) {
	c := newCore(t)
	help := c.mustHandle(t, "42", "/help")
	for _, name := range []string{"/new", "/ls", "/ss", "/dels", "/sbr", "/sur", "/sl", "/help"} {
		assert.Contains(t, help, name)
	}
}

func TestScenario_RoleSwitchKeepsHistory(t *testing.T) {
	c := newCore(t)

	created := c.mustHandle(t, "42", "/new roleplay Dave Dean")
	assert.Contains(t, created, "Created roleplay session")

	reply := c.mustHandle(t, "42", "hello")
	assert.Contains(t, reply, "hello")

	_, active := c.svc.Sessions("42")
	before := c.history.count(active)

	c.mustHandle(t, "42", "/sbr Dean")
	assert.Equal(t, before, c.history.count(active), "role switch alone must not change history length")

	c.mustHandle(t, "42", "still here?")
	assert.Equal(t, 2, c.factory.builtCount(), "role switch evicts, next access rebuilds")
	assert.Equal(t, before+2, c.history.count(active))
}

func TestAliases_RouteToSameHandler(t *testing.T) {
	c := newCore(t)
	c.mustHandle(t, "42", "/n roleplay Dave Dean")
	list := c.mustHandle(t, "42", "/list")
	assert.Contains(t, list, "(active)")
}
