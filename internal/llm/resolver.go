package llm

import (
	"fmt"
	"strings"
	"time"

	"rolechat/internal/config"
)

// Resolver creates model clients by name. Supported prefixes:
//
//	deepseek-*      DeepSeek API (requires API key)
//	ollama/<model>  local Ollama server
//	gemini-*        Google Gemini API (requires API key)
//
// The default model is an explicit configuration value resolved at
// startup and handed to each factory; there is no process-wide mutable
// default.
type Resolver struct {
	cfg     config.LLMConfig
	timeout time.Duration
}

// NewResolver creates a resolver from the LLM configuration.
func NewResolver(cfg config.LLMConfig) *Resolver {
	timeout := 120 * time.Second
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil {
			timeout = d
		}
	}
	return &Resolver{cfg: cfg, timeout: timeout}
}

// Resolve creates a client for the named model.
func (r *Resolver) Resolve(name string) (Client, error) {
	switch {
	case strings.HasPrefix(name, "deepseek-"):
		if r.cfg.DeepSeekAPIKey == "" {
			return nil, fmt.Errorf("DeepSeek API key not configured")
		}
		dsCfg := DefaultDeepSeekConfig(r.cfg.DeepSeekAPIKey)
		dsCfg.Model = name
		dsCfg.Timeout = r.timeout
		if r.cfg.DeepSeekBaseURL != "" {
			dsCfg.BaseURL = r.cfg.DeepSeekBaseURL
		}
		return NewDeepSeekClientWithConfig(dsCfg), nil

	case strings.HasPrefix(name, "ollama/"):
		model := strings.TrimPrefix(name, "ollama/")
		if model == "" {
			return nil, fmt.Errorf("ollama model name cannot be empty, e.g. 'ollama/qwen2.5'")
		}
		return NewOllamaClient(r.cfg.OllamaEndpoint, model), nil

	case strings.HasPrefix(name, "gemini-"):
		return NewGeminiClient(r.cfg.GeminiAPIKey, name)

	default:
		return nil, fmt.Errorf("unsupported model %q (supported prefixes: deepseek-, ollama/, gemini-)", name)
	}
}

// Default resolves the configured default model.
func (r *Resolver) Default() (Client, error) {
	if r.cfg.DefaultModel == "" {
		return nil, fmt.Errorf("no default model configured")
	}
	return r.Resolve(r.cfg.DefaultModel)
}
