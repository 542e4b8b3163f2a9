// Package retrieval finds dialogue and background passages relevant to
// a query, scoped by persona. Ranking uses vector embeddings when an
// embedding engine is configured and falls back to keyword overlap
// scoring otherwise.
package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Passage types.
const (
	TypeChunk      = "chunk"
	TypeBackground = "background"
)

// Passage is one retrievable unit of text.
type Passage struct {
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Day     string   `json:"day,omitempty"`
	Path    string   `json:"path,omitempty"`
	ChunkID string   `json:"chunk_id,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// HasRole reports whether the passage is tagged with the given role.
func (p *Passage) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// LoadChunks reads tagged dialogue chunks from a JSON array of
// {text, day, path, chunk_id, roles} objects.
func LoadChunks(path string) ([]Passage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}

	var chunks []Passage
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to parse chunks file %s: %w", path, err)
	}

	for i := range chunks {
		chunks[i].Type = TypeChunk
	}
	return chunks, nil
}

// LoadBackground reads the background text file, splitting it into one
// passage per blank-line separated block.
func LoadBackground(path string) ([]Passage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read background file: %w", err)
	}

	var passages []Passage
	for _, block := range strings.Split(string(data), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		passages = append(passages, Passage{
			Text: block,
			Type: TypeBackground,
			Path: path,
		})
	}
	return passages, nil
}
