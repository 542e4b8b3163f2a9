// Package config holds all rolechat configuration.
// Configuration is loaded from a YAML file with environment variable
// overrides for secrets and deploy-specific values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all rolechat configuration.
type Config struct {
	// Storage paths
	Storage StorageConfig `yaml:"storage"`

	// LLM providers and default model
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine for retrieval
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Admin allow-list
	Admin AdminConfig `yaml:"admin"`

	// News report generation
	News NewsConfig `yaml:"news"`

	// Scheduled jobs
	Schedule ScheduleConfig `yaml:"schedule"`

	// Outbound message delivery
	Push PushConfig `yaml:"push"`
}

// StorageConfig locates the persisted state files.
type StorageConfig struct {
	// UserDataPath is the JSON document holding all user profiles.
	UserDataPath string `yaml:"user_data_path"`

	// HistoryDBPath is the SQLite database holding full chat history.
	HistoryDBPath string `yaml:"history_db_path"`

	// RolesPath is the JSON document mapping role name to persona text.
	RolesPath string `yaml:"roles_path"`

	// ChunksPath is the JSON document of tagged dialogue chunks.
	ChunksPath string `yaml:"chunks_path"`

	// BackgroundPath is the free-text background passages file.
	BackgroundPath string `yaml:"background_path"`
}

// LLMConfig configures model providers.
type LLMConfig struct {
	// DefaultModel is resolved through the model resolver at startup,
	// e.g. "deepseek-chat", "ollama/qwen2.5", "gemini-2.0-flash".
	DefaultModel string `yaml:"default_model"`

	DeepSeekAPIKey  string `yaml:"deepseek_api_key"`
	DeepSeekBaseURL string `yaml:"deepseek_base_url"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`

	GeminiAPIKey string `yaml:"gemini_api_key"`

	// Timeout is the per-request timeout, e.g. "120s".
	Timeout string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding backend for retrieval.
// An empty provider disables embeddings; retrieval falls back to
// keyword scoring.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "", "ollama", "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// AdminConfig holds the privileged-operation allow-list.
type AdminConfig struct {
	UserIDs []string `yaml:"user_ids"`
}

// NewsConfig configures the RSS report pipeline.
type NewsConfig struct {
	// Feeds maps a source name to its feed URL.
	Feeds map[string]string `yaml:"feeds"`

	ReportTitle     string   `yaml:"report_title"`
	MaxItemsPerFeed int      `yaml:"max_items_per_feed"`
	MaxTotalItems   int      `yaml:"max_total_items"`
	IncludeKeywords []string `yaml:"include_keywords"`
	ExcludeSources  []string `yaml:"exclude_sources"`

	// Format selects the renderer: "text", "markdown", "html".
	Format string `yaml:"format"`

	FetchTimeout string `yaml:"fetch_timeout"`
}

// ScheduleConfig configures the daily report job.
type ScheduleConfig struct {
	Enabled bool `yaml:"enabled"`

	// Spec is a cron expression, e.g. "0 8 * * *".
	Spec string `yaml:"spec"`

	Timezone string `yaml:"timezone"`

	// TargetGroups receive the scheduled report.
	TargetGroups []string `yaml:"target_groups"`
}

// PushConfig configures outbound message delivery.
type PushConfig struct {
	// MaxMessageLength is the transport-safe chunk size. Longer
	// messages are split, preferring line boundaries.
	MaxMessageLength int `yaml:"max_message_length"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			UserDataPath:   "storage/user-session/users.json",
			HistoryDBPath:  "storage/chat-session/history.db",
			RolesPath:      "knowledge/roles.json",
			ChunksPath:     "knowledge/chunks.json",
			BackgroundPath: "knowledge/background.txt",
		},
		LLM: LLMConfig{
			DefaultModel:    "deepseek-chat",
			DeepSeekBaseURL: "https://api.deepseek.com/v1",
			OllamaEndpoint:  "http://localhost:11434",
			Timeout:         "120s",
		},
		Embedding: EmbeddingConfig{
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		News: NewsConfig{
			ReportTitle:     "Daily feed digest",
			MaxItemsPerFeed: 3,
			MaxTotalItems:   15,
			Format:          "text",
			FetchTimeout:    "10s",
		},
		Schedule: ScheduleConfig{
			Spec:     "0 8 * * *",
			Timezone: "Local",
		},
		Push: PushConfig{
			MaxMessageLength: 3500,
		},
	}
}

// Load reads configuration from path, falling back to defaults when the
// file is absent, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides config values from the environment. Secrets are
// expected to arrive this way rather than via the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		c.LLM.DeepSeekAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.GeminiAPIKey = v
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = v
		}
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		c.LLM.OllamaEndpoint = v
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("ROLECHAT_DEFAULT_MODEL"); v != "" {
		c.LLM.DefaultModel = v
	}
	if v := os.Getenv("ROLECHAT_ADMIN_IDS"); v != "" {
		c.Admin.UserIDs = splitList(v)
	}
	if v := os.Getenv("ROLECHAT_NEWS_FEEDS"); v != "" {
		// name|url pairs separated by semicolons
		feeds := make(map[string]string)
		for _, pair := range strings.Split(v, ";") {
			name, url, ok := strings.Cut(pair, "|")
			if !ok || name == "" || url == "" {
				continue
			}
			feeds[name] = url
		}
		if len(feeds) > 0 {
			c.News.Feeds = feeds
		}
	}
	if v := os.Getenv("ROLECHAT_NEWS_TARGET_GROUPS"); v != "" {
		c.Schedule.TargetGroups = splitList(v)
	}
	if v := os.Getenv("ROLECHAT_MAX_MESSAGE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Push.MaxMessageLength = n
		}
	}
}

// EnsureDirs creates the parent directories for all storage paths.
func (c *Config) EnsureDirs() error {
	paths := []string{
		c.Storage.UserDataPath,
		c.Storage.HistoryDBPath,
	}
	for _, p := range paths {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
