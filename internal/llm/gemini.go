package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API. The client is created on first use.
type GeminiProvider struct {
	Model  string
	apiKey string

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(model, apiKey string) *GeminiProvider {
	return &GeminiProvider{Model: model, apiKey: apiKey}
}

// IsConfigured checks if the API key is set.
func (g *GeminiProvider) IsConfigured() bool {
	return g.apiKey != ""
}

// Generate sends a prompt to Gemini and returns the response text.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return g.generate(ctx, prompt, &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	})
}

// GenerateJSON requests a JSON response. The schema is described in the prompt.
func (g *GeminiProvider) GenerateJSON(ctx context.Context, prompt string, _ Schema, maxTokens int) (string, error) {
	return g.generate(ctx, prompt, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		MaxOutputTokens:  int32(maxTokens),
	})
}

func (g *GeminiProvider) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	if g.apiKey == "" {
		return "", errors.New("Gemini API key not configured")
	}

	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if g.initErr != nil {
		return "", fmt.Errorf("creating Gemini client: %w", g.initErr)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.Model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		cfg)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return resp.Text(), nil
}
