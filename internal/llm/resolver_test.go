package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolechat/internal/config"
)

func TestResolver_Prefixes(t *testing.T) {
	r := NewResolver(config.LLMConfig{
		DeepSeekAPIKey: "sk-test",
		OllamaEndpoint: "http://localhost:11434",
	})

	tests := []struct {
		name    string
		model   string
		wantErr bool
	}{
		{"deepseek", "deepseek-chat", false},
		{"ollama", "ollama/qwen2.5", false},
		{"ollama empty model", "ollama/", true},
		{"unknown", "gpt-4", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := r.Resolve(tt.model)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, client.ModelName())
		})
	}
}

func TestResolver_DeepSeekNeedsKey(t *testing.T) {
	r := NewResolver(config.LLMConfig{})
	_, err := r.Resolve("deepseek-chat")
	assert.ErrorContains(t, err, "API key")
}

func TestResolver_GeminiNeedsKey(t *testing.T) {
	r := NewResolver(config.LLMConfig{})
	_, err := r.Resolve("gemini-2.0-flash")
	assert.ErrorContains(t, err, "API key")
}

func TestResolver_Default(t *testing.T) {
	r := NewResolver(config.LLMConfig{
		DefaultModel:   "ollama/qwen2.5",
		OllamaEndpoint: "http://localhost:11434",
	})
	client, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", client.ModelName())
}

func TestDeepSeekClient_Chat(t *testing.T) {
	var gotReq chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		resp := chatCompletionResponse{}
		resp.Choices = append(resp.Choices, struct {
			Index   int     `json:"index"`
			Message Message `json:"message"`
		}{Message: Message{Role: "assistant", Content: "  hello there  "}})
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cfg := DefaultDeepSeekConfig("sk-test")
	cfg.BaseURL = server.URL
	client := NewDeepSeekClientWithConfig(cfg)

	reply, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "deepseek-chat", gotReq.Model)
}

func TestDeepSeekClient_ChatAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer server.Close()

	cfg := DefaultDeepSeekConfig("sk-test")
	cfg.BaseURL = server.URL
	client := NewDeepSeekClientWithConfig(cfg)

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}

func TestOllamaClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: "assistant", Content: "pong"},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "qwen2.5")
	reply, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "ping"}})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}
