package nl2query

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Completion is a single system + user exchange with a language model.
// JSON asks the provider to constrain its answer to a JSON document where
// the provider supports it.
type Completion struct {
	System string
	User   string
	JSON   bool
}

// Model is the transport to a translation engine.
type Model interface {
	Complete(ctx context.Context, req Completion) (string, error)
	Name() string
}

type ModelConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewModel builds the provider named by cfg.Provider.
func NewModel(ctx context.Context, cfg ModelConfig) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = "https://api.openai.com"
		}
		return NewOpenAIModel(OpenAIConfig{
			BaseURL:     baseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderAnthropic:
		return NewAnthropicModel(AnthropicConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderGemini:
		return NewGeminiModel(ctx, GeminiConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}

// maxErrorBodyBytes bounds how much of a provider error body ends up in an
// error message.
const maxErrorBodyBytes = 256

// errorSnippet shortens a provider response body for use in error text.
func errorSnippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) <= maxErrorBodyBytes {
		return body
	}
	return strings.ToValidUTF8(body[:maxErrorBodyBytes], "") + "...(truncated)"
}

// stripMarkdownFence removes a surrounding ``` block, with or without a
// language tag.
func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 && !strings.ContainsAny(trimmed[:newline], "{[\"") {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
