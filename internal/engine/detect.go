package engine

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider      string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OllamaBaseURL string
	Temperature   float64
	Timeout       time.Duration
}

// Detect returns the Engine for the configured provider. An empty provider
// selects OpenAI.
func Detect(cfg DetectConfig) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIEngine(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Temperature, cfg.Timeout), nil
	case ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL, cfg.Temperature), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q (want %q or %q)", cfg.Provider, ProviderOpenAI, ProviderOllama)
	}
}
