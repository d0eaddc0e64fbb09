package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONResponsePlain(t *testing.T) {
	result := ParseJSONResponse(`{"key": "value", "num": 42}`)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONResponseWithCodeFence(t *testing.T) {
	text := "```json\n{\"key\": \"value\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseWithPlainFence(t *testing.T) {
	text := "```\n{\"key\": \"value\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseSurroundedByProse(t *testing.T) {
	result := ParseJSONResponse("Sure! Here is the analysis:\n{\"needs_followup\": true}\nLet me know.")
	require.NotNil(t, result)
	assert.Equal(t, true, result["needs_followup"])
}

func TestParseJSONResponseInvalid(t *testing.T) {
	result := ParseJSONResponse("not json at all")
	if result != nil {
		t.Error("expected nil for invalid JSON")
	}
}

func TestParseJSONResponseEmpty(t *testing.T) {
	result := ParseJSONResponse("")
	if result != nil {
		t.Error("expected nil for empty string")
	}
}

func TestParseJSONResponseWhitespace(t *testing.T) {
	result := ParseJSONResponse("  \n  {\"key\": \"value\"}  \n  ")
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

type sampleJudgment struct {
	NeedsFollowUp bool     `json:"needs_followup"`
	Reason        string   `json:"reason"`
	Keywords      []string `json:"keywords"`
}

func TestSchemaForIsStrict(t *testing.T) {
	s := SchemaFor[sampleJudgment]("Sample", "sample judgment")

	assert.Equal(t, "Sample", s.Name)
	assert.Equal(t, "object", s.Definition["type"])
	assert.Equal(t, false, s.Definition["additionalProperties"])
	assert.ElementsMatch(t, []string{"needs_followup", "reason", "keywords"}, s.Definition["required"])
	assert.NotContains(t, s.Definition, "$schema")
}

type plainProvider struct {
	prompts []string
}

func (p *plainProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	p.prompts = append(p.prompts, prompt)
	return `{"ok": true}`, nil
}

func (p *plainProvider) IsConfigured() bool { return true }

func TestGenerateJSONFallsBackToGenerate(t *testing.T) {
	p := &plainProvider{}
	out, err := GenerateJSON(context.Background(), p, "hello", Schema{}, 10)
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, []string{"hello"}, p.prompts)
}

func TestRateLimitedPassesThrough(t *testing.T) {
	p := &plainProvider{}
	assert.Same(t, Provider(p), NewRateLimited(p, 0))

	limited := NewRateLimited(p, 1000)
	_, err := limited.Generate(context.Background(), "a", 10)
	require.NoError(t, err)
	_, err = GenerateJSON(context.Background(), limited, "b", Schema{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.prompts)
}

func TestRateLimitedHonorsCancellation(t *testing.T) {
	limited := NewRateLimited(&plainProvider{}, 1.0/3600)
	_, _ = limited.Generate(context.Background(), "first", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := limited.Generate(ctx, "second", 10)
	assert.Error(t, err)
}

func TestOllamaGenerateJSONSendsSchema(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		w.Write([]byte(`{"message": {"content": "{\"needs_followup\": false}"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL+"/")
	out, err := p.GenerateJSON(context.Background(), "prompt", SchemaFor[sampleJudgment]("Sample", ""), 64)
	require.NoError(t, err)
	assert.Equal(t, `{"needs_followup": false}`, out)

	format, ok := body["format"].(map[string]any)
	require.True(t, ok, "expected schema as format, got %v", body["format"])
	assert.Equal(t, "object", format["type"])
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider("qwen2.5:7b", srv.URL).Generate(context.Background(), "prompt", 64)
	assert.ErrorContains(t, err, "ollama API returned 500")
}

func TestOpenAIGenerateJSON(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "resp_1",
			"object": "response",
			"created_at": 1700000000,
			"model": "gpt-4o-mini",
			"status": "completed",
			"output": [{
				"type": "message",
				"id": "msg_1",
				"role": "assistant",
				"status": "completed",
				"content": [{"type": "output_text", "text": "{\"needs_followup\":true}", "annotations": []}]
			}]
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("gpt-4o-mini", "sk-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.True(t, p.IsConfigured())

	out, err := p.GenerateJSON(context.Background(), "prompt", SchemaFor[sampleJudgment]("Sample", "sample"), 64)
	require.NoError(t, err)
	assert.Equal(t, `{"needs_followup":true}`, out)

	text, ok := body["text"].(map[string]any)
	require.True(t, ok)
	format := text["format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, "Sample", format["name"])
}

func TestUnconfiguredProviders(t *testing.T) {
	_, err := NewOpenAIProvider("gpt-4o-mini", "").Generate(context.Background(), "p", 10)
	assert.Error(t, err)
	assert.False(t, NewGeminiProvider("gemini-2.0-flash", "").IsConfigured())
	_, err = NewGeminiProvider("gemini-2.0-flash", "").Generate(context.Background(), "p", 10)
	assert.Error(t, err)
}
