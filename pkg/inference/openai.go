package inference

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// Sampling defaults applied when the caller leaves a field unset.
type Sampling struct {
	MaxTokens   int64
	Temperature float64
	TopP        float64
}

// OpenAIInferencer implements Inferencer using OpenAI's official Go SDK.
// Any OpenAI-compatible endpoint works by changing the base URL.
type OpenAIInferencer struct {
	client   *openai.Client
	apiKey   string
	model    string
	name     string
	sampling Sampling
}

// NewOpenAIInferencer creates a new inferencer instance using OpenAI client.
func NewOpenAIInferencer(apiKey string, model string) *OpenAIInferencer {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIInferencer{
		client: &client,
		apiKey: apiKey,
		model:  model,
		name:   "openai",
		sampling: Sampling{
			MaxTokens:   1024,
			Temperature: 0.7,
			TopP:        1.0,
		},
	}
}

// NewHuggingFaceInferencer talks to the HuggingFace router, which speaks the
// OpenAI chat completions protocol. Sampling mirrors the Phi-3 pipeline settings.
func NewHuggingFaceInferencer(token, model, baseURL string) *OpenAIInferencer {
	if model == "" {
		model = "microsoft/Phi-3-mini-4k-instruct"
	}
	if baseURL == "" {
		baseURL = "https://router.huggingface.co/v1"
	}
	o := NewOpenAIInferencer(token, model)
	o.ChangeBaseURL(baseURL)
	o.name = "huggingface"
	o.sampling = Sampling{
		MaxTokens:   400,
		Temperature: 0.4,
		TopP:        0.9,
	}
	return o
}

func (o *OpenAIInferencer) ChangeBaseURL(baseURL string) {
	client := openai.NewClient(
		option.WithAPIKey(o.apiKey),
		option.WithBaseURL(baseURL),
	)
	o.client = &client
}

func (o *OpenAIInferencer) Model() string {
	return o.model
}

// Infer sends text to the chat completion endpoint and returns the output.
func (o *OpenAIInferencer) Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error) {
	var p openai.ChatCompletionNewParams
	if params != nil {
		p = *params
	}
	p.Model = cmp.Or(p.Model, o.model)
	p.Messages = []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: param.Opt[string]{Value: system},
				},
			}},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: param.Opt[string]{Value: user},
				},
			},
		},
	}

	p.MaxCompletionTokens = openai.Int(cmp.Or(p.MaxCompletionTokens.Value, o.sampling.MaxTokens))
	p.Temperature = openai.Float(cmp.Or(p.Temperature.Value, o.sampling.Temperature))
	p.TopP = openai.Float(cmp.Or(p.TopP.Value, o.sampling.TopP))

	resp, err := o.client.Chat.Completions.New(ctx, p)
	if err != nil {
		return "", fmt.Errorf("%s inference error: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	if resp.Choices[0].Message.Content == "" {
		return "", errors.New("empty completion content")
	}

	return resp.Choices[0].Message.Content, nil
}

// Verify checks that the result is non-empty.
func (o *OpenAIInferencer) Verify(ctx context.Context, result string) (bool, error) {
	if result == "" {
		return false, errors.New("empty result")
	}
	return true, nil
}
