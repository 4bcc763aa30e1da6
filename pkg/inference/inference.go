package inference

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"

	"storysmith/pkg/config"
)

// Inferencer defines an interface for running model inference and verification.
type Inferencer interface {
	Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error)
	Verify(ctx context.Context, result string) (bool, error)
}

// New selects the text backend named by TEXT_PROVIDER.
func New(cfg *config.Config) (Inferencer, error) {
	switch cfg.TextProvider {
	case config.ProviderHuggingFace:
		return NewHuggingFaceInferencer(cfg.HuggingFaceToken, cfg.TextModel, cfg.HuggingFaceBaseURL), nil
	case config.ProviderOpenAI:
		o := NewOpenAIInferencer(cfg.OpenAIKey, cfg.OpenAIModel)
		if cfg.OpenAIBaseURL != "" {
			o.ChangeBaseURL(cfg.OpenAIBaseURL)
		}
		return o, nil
	case config.ProviderGemini:
		return NewGeminiInferencer(cfg.GeminiKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown text provider %q", cfg.TextProvider)
	}
}
