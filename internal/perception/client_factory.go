package perception

import (
	"context"
	"fmt"

	"planwright/internal/config"
)

// NewClientFromConfig builds the configured LLM client. Provider "mock" is
// rejected here; tests construct their mocks directly.
func NewClientFromConfig(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		return NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	case "openai-compatible", "":
		return NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.GetLLMTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
}
