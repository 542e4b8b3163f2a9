package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolechat/internal/types"
)

func TestStore_MissingFileIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "users.json"), nil)
	_, ok := store.Get("42")
	assert.False(t, ok)
}

func TestStore_MalformedFileResetsToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path, nil)
	_, ok := store.Get("42")
	assert.False(t, ok)
}

func TestStore_RoundTripNestedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store := NewStore(path, nil)

	profile := store.GetOrCreate("42")
	profile.Sessions["abc"] = &types.SessionInfo{
		ID:       "abc",
		Mode:     types.ModeRoleplay,
		UserRole: "Dave",
		BotRole:  "Dean",
		Config: map[string]any{
			"summary": "they met at the lighthouse",
			"nested": map[string]any{
				"depth": map[string]any{"k": "v"},
				"list":  []any{"a", "b"},
			},
		},
	}
	profile.ActiveSessionID = "abc"
	require.NoError(t, store.Save())

	reloaded := NewStore(path, nil)
	got, ok := reloaded.Get("42")
	require.True(t, ok)

	if diff := cmp.Diff(profile, got); diff != "" {
		t.Errorf("profile mismatch after reload (-want +got):\n%s", diff)
	}
}

func TestStore_LegacyEntryIsMigrated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	legacy := `{"42": "old-session-id", "43": {"active_session_id": "x", "sessions": {"x": {"session_mode": "plain"}}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store := NewStore(path, nil)

	migrated, ok := store.Get("42")
	require.True(t, ok)
	assert.Equal(t, "old-session-id", migrated.ActiveSessionID)
	require.Contains(t, migrated.Sessions, "old-session-id")
	assert.Equal(t, types.ModeRoleplay, migrated.Sessions["old-session-id"].Mode)

	current, ok := store.Get("43")
	require.True(t, ok)
	assert.Equal(t, "x", current.ActiveSessionID)
	assert.Equal(t, types.ModePlain, current.Sessions["x"].Mode)

	// First save writes the migrated schema; a reload must see the
	// same profiles, no legacy forms left.
	require.NoError(t, store.Save())
	reloaded := NewStore(path, nil)
	again, ok := reloaded.Get("42")
	require.True(t, ok)
	if diff := cmp.Diff(migrated, again); diff != "" {
		t.Errorf("migrated profile changed across save/reload (-want +got):\n%s", diff)
	}
}

func TestStore_DanglingActivePointerIsRepaired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	data := `{"42": {"active_session_id": "gone", "sessions": {}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	store := NewStore(path, nil)
	profile, ok := store.Get("42")
	require.True(t, ok)
	assert.Empty(t, profile.ActiveSessionID)
}

func TestStore_SaveIsAtomicReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	store := NewStore(path, nil)
	store.GetOrCreate("42")
	require.NoError(t, store.Save())

	// No temp droppings left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "users.json", entries[0].Name())
}
