package llm

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/config"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// StructuredProvider is implemented by providers that can constrain their
// output to a JSON schema.
type StructuredProvider interface {
	Provider
	GenerateJSON(ctx context.Context, prompt string, schema Schema, maxTokens int) (string, error)
}

// GenerateJSON asks p for a JSON document matching schema. Providers without
// structured output support get the plain prompt; the caller still has to
// tolerate malformed output.
func GenerateJSON(ctx context.Context, p Provider, prompt string, schema Schema, maxTokens int) (string, error) {
	if sp, ok := p.(StructuredProvider); ok {
		return sp.GenerateJSON(ctx, prompt, schema, maxTokens)
	}
	return p.Generate(ctx, prompt, maxTokens)
}

// CreateProvider creates an LLM provider based on configuration. The
// configured provider is tried first, then the remaining ones in the order
// ollama, openai, gemini. Returns nil when none is usable.
func CreateProvider(cfg config.Analyzer) Provider {
	candidates := []string{"ollama", "openai", "gemini"}
	order := []string{strings.ToLower(cfg.Provider)}
	for _, c := range candidates {
		if c != order[0] {
			order = append(order, c)
		}
	}

	for i, name := range order {
		var p Provider
		var model string
		switch name {
		case "ollama":
			p, model = NewOllamaProvider(cfg.Model, cfg.OllamaURL), cfg.Model
		case "openai":
			p, model = NewOpenAIProvider(cfg.OpenAIModel, os.Getenv(cfg.APIKeyEnv)), cfg.OpenAIModel
		case "gemini":
			p, model = NewGeminiProvider(cfg.GeminiModel, os.Getenv(cfg.GeminiAPIKeyEnv)), cfg.GeminiModel
		default:
			continue
		}
		if p.IsConfigured() {
			if i > 0 {
				logrus.Warnf("%s not available, falling back to %s", order[0], name)
			}
			logrus.Infof("Using %s with model: %s", name, model)
			return NewRateLimited(p, cfg.RequestsPerSecond)
		}
	}

	logrus.Warn("No LLM provider available. Check Ollama is running or set OPENAI_API_KEY / GEMINI_API_KEY.")
	return nil
}
