package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIProvider calls the OpenAI Responses API.
type OpenAIProvider struct {
	Model  string
	apiKey string
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider. Extra options are passed
// to the client, e.g. option.WithBaseURL for a compatible endpoint.
func NewOpenAIProvider(model, apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		Model:  model,
		apiKey: apiKey,
		client: &client,
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.apiKey != ""
}

// Generate sends a prompt to OpenAI and returns the response text.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return o.respond(ctx, prompt, nil, maxTokens)
}

// GenerateJSON requests strict JSON schema output.
func (o *OpenAIProvider) GenerateJSON(ctx context.Context, prompt string, schema Schema, maxTokens int) (string, error) {
	if schema.Definition == nil {
		return o.respond(ctx, prompt, nil, maxTokens)
	}
	format := &responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        schema.Name,
			Schema:      schema.Definition,
			Strict:      openai.Bool(true),
			Description: openai.String(schema.Description),
			Type:        "json_schema",
		},
	}
	return o.respond(ctx, prompt, format, maxTokens)
}

func (o *OpenAIProvider) respond(ctx context.Context, prompt string, format *responses.ResponseFormatTextConfigUnionParam, maxTokens int) (string, error) {
	if o.apiKey == "" {
		return "", errors.New("OpenAI API key not configured")
	}

	params := responses.ResponseNewParams{
		Model:           o.Model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Temperature:     openai.Float(0.3),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(prompt, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if format != nil {
		params.Text = responses.ResponseTextConfigParam{Format: *format}
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	return resp.OutputText(), nil
}
