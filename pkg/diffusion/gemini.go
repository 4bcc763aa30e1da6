package diffusion

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Gemini generates images with a Gemini image model.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cmp.Or(model, "gemini-2.5-flash-image")}, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) ([]byte, error) {
	prompt := req.Prompt
	if req.NegativePrompt != "" {
		prompt += "\nAvoid: " + req.NegativePrompt
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini image API error: %w", err)
	}
	return inlineImage(resp)
}

func inlineImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("empty response from gemini")
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return nil, errors.New("no content parts in gemini response")
	}
	for _, part := range c.Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, errors.New("no image data found in gemini response")
}
