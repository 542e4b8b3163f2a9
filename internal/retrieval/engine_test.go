package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPassages() []Passage {
	return []Passage{
		{Text: "Dean inspected the old lighthouse at dawn", Type: TypeChunk, Roles: []string{"Dean"}, ChunkID: "c1"},
		{Text: "Mia flew the cargo plane over the strait", Type: TypeChunk, Roles: []string{"Mia"}, ChunkID: "c2"},
		{Text: "Dean and Mia argued about the lighthouse keeper", Type: TypeChunk, Roles: []string{"Dean", "Mia"}, ChunkID: "c3"},
		{Text: "The lighthouse was built in 1890 on the northern cliffs", Type: TypeBackground},
	}
}

func TestEngine_RoleFilter(t *testing.T) {
	engine := NewEngineFromPassages(testPassages(), nil, nil)

	got, err := engine.Retrieve(context.Background(), "lighthouse", "Dean", 10)
	require.NoError(t, err)

	for _, p := range got {
		ok := p.Type == TypeBackground || p.HasRole("Dean")
		assert.True(t, ok, "passage %q leaked past the role filter", p.Text)
	}
	// c1, c3 and background all mention the lighthouse.
	assert.Len(t, got, 3)
}

func TestEngine_KeywordRanking(t *testing.T) {
	engine := NewEngineFromPassages(testPassages(), nil, nil)

	got, err := engine.Retrieve(context.Background(), "cargo plane strait", "Mia", 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "c2", got[0].ChunkID)
}

func TestEngine_TopK(t *testing.T) {
	engine := NewEngineFromPassages(testPassages(), nil, nil)

	got, err := engine.Retrieve(context.Background(), "lighthouse", "Dean", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEngine_NoCandidates(t *testing.T) {
	passages := []Passage{
		{Text: "only for Mia", Type: TypeChunk, Roles: []string{"Mia"}},
	}
	engine := NewEngineFromPassages(passages, nil, nil)

	got, err := engine.Retrieve(context.Background(), "anything", "Dean", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEngine_CachesResults(t *testing.T) {
	engine := NewEngineFromPassages(testPassages(), nil, nil)

	first, err := engine.Retrieve(context.Background(), "lighthouse", "Dean", 10)
	require.NoError(t, err)

	// Mutate the corpus behind the engine's back; the cached result
	// should still be served for the same (role, query) pair.
	engine.passages = nil
	second, err := engine.Retrieve(context.Background(), "lighthouse", "Dean", 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.json")
	data := `[
		{"text": "hello there", "day": "d1", "chunk_id": "a", "roles": ["Dean"]},
		{"text": "general kenobi", "day": "d1", "chunk_id": "b", "roles": []}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	chunks, err := LoadChunks(path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, TypeChunk, chunks[0].Type)
	assert.True(t, chunks[0].HasRole("Dean"))
	assert.False(t, chunks[1].HasRole("Dean"))
}

func TestLoadBackground(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "background.txt")
	data := "first block\nstill first\n\nsecond block\n\n\nthird"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	passages, err := LoadBackground(path)
	require.NoError(t, err)
	require.Len(t, passages, 3)
	assert.Equal(t, "first block\nstill first", passages[0].Text)
	assert.Equal(t, TypeBackground, passages[0].Type)
}
