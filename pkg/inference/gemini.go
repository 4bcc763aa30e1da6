package inference

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

type GeminiInferencer struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiInferencer creates a new inferencer backed by the Gemini API.
func NewGeminiInferencer(apiKey string, model string) (*GeminiInferencer, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiInferencer{
		client: client,
		apiKey: apiKey,
		model:  model,
	}, nil
}

// Infer maps the OpenAI-style params onto a Gemini request. A JSON schema
// response format switches the response MIME type to JSON.
func (o *GeminiInferencer) Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error) {
	if params == nil {
		params = new(openai.ChatCompletionNewParams)
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   int32(cmp.Or(params.MaxCompletionTokens.Value, 1024)),
	}
	if params.Temperature.Valid() {
		config.Temperature = genai.Ptr(float32(params.Temperature.Value))
	}
	if params.ResponseFormat.OfJSONSchema != nil || params.ResponseFormat.OfJSONObject != nil {
		config.ResponseMIMEType = "application/json"
	}

	result, err := o.client.Models.GenerateContent(
		ctx,
		cmp.Or(params.Model, o.model),
		genai.Text(user),
		config,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", errors.New("empty completion content")
	}
	return text, nil
}

// Verify checks that the result is non-empty.
func (o *GeminiInferencer) Verify(ctx context.Context, result string) (bool, error) {
	if result == "" {
		return false, errors.New("empty result")
	}
	return true, nil
}
