package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// OllamaProvider talks to a local Ollama server over its chat API.
type OllamaProvider struct {
	Model  string
	client *resty.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  map[string]any  `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// NewOllamaProvider creates a provider for model served at baseURL.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model: model,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(120*time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// IsConfigured reports whether the server answers and has the model pulled.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := o.client.R().SetContext(ctx).Get("/api/tags")
	if err != nil || resp.IsError() {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(resp.Body(), &tags); err != nil {
		return false
	}

	base, _, _ := strings.Cut(o.Model, ":")
	for _, m := range tags.Models {
		if strings.Contains(m.Name, base) {
			return true
		}
	}
	logrus.Warnf("Ollama model %q not found", o.Model)
	return false
}

func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return o.chat(ctx, prompt, nil, maxTokens)
}

// GenerateJSON sends the schema as the structured output format, or plain
// JSON mode when the schema has no definition.
func (o *OllamaProvider) GenerateJSON(ctx context.Context, prompt string, schema Schema, maxTokens int) (string, error) {
	var format any = "json"
	if schema.Definition != nil {
		format = schema.Definition
	}
	return o.chat(ctx, prompt, format, maxTokens)
}

func (o *OllamaProvider) chat(ctx context.Context, prompt string, format any, maxTokens int) (string, error) {
	req := ollamaChatRequest{
		Model:    o.Model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Format:   format,
		Options: map[string]any{
			"num_predict": maxTokens,
			"temperature": 0.3,
		},
	}

	resp, err := o.client.R().SetContext(ctx).SetBody(req).Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ollama API returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.Message.Content, nil
}
