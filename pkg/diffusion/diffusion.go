// Package diffusion talks to text-to-image backends.
package diffusion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storysmith/pkg/config"
	"storysmith/pkg/utils"
)

// ErrRateLimited is returned without retrying when a backend answers 429.
var ErrRateLimited = errors.New("rate limit reached")

// Request is comparable so it can key the result cache.
type Request struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
}

// Generator returns encoded image bytes (PNG, JPEG or WebP) for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// APIError carries a non-success HTTP response from an image backend.
type APIError struct {
	StatusCode int
	Body       string
}

var statusMessages = map[int]string{
	400: "Bad Request - Check your input parameters",
	401: "Unauthorized - Check your API token",
	403: "Forbidden - API access denied",
	404: "Not Found - Model or endpoint not available",
	429: "Rate Limit Exceeded - Please wait and try again",
	500: "Internal Server Error - Try again later",
	503: "Service Unavailable - Model is loading or overloaded",
}

// Message is the human readable form of the status code.
func (e *APIError) Message() string {
	if m, ok := statusMessages[e.StatusCode]; ok {
		return m
	}
	return fmt.Sprintf("HTTP Error %d", e.StatusCode)
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return e.Message()
	}
	return e.Message() + ": " + utils.LimitStr(e.Body, 200)
}

// New builds the generator named by IMAGE_PROVIDER wrapped in a result cache.
func New(cfg *config.Config) (Generator, error) {
	var g Generator
	switch cfg.ImageProvider {
	case config.ProviderHuggingFace:
		hf := NewHuggingFace(cfg.HuggingFaceToken, cfg.ImageModel)
		hf.BaseURL = cfg.HuggingFaceImageURL
		hf.MaxRetries = cfg.MaxRetries
		hf.RetryWait = cfg.RateLimitWait
		hf.Client.Timeout = cfg.APITimeout
		g = hf
	case config.ProviderWebUI:
		g = NewWebUI(cfg.WebUIURL)
	case config.ProviderGemini:
		gem, err := NewGemini(cfg.GeminiKey, cfg.GeminiImageModel)
		if err != nil {
			return nil, err
		}
		g = gem
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.ImageProvider)
	}
	return NewCached(g, cfg.ImageCacheTTL), nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
