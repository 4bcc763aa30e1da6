package diffusion

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultHFImageURL   = "https://api-inference.huggingface.co/models"
	defaultHFImageModel = "stabilityai/sdxl-base-1.0"
	defaultLoadingWait  = 60 * time.Second
)

// HuggingFace calls the hosted inference API, which returns raw image bytes.
type HuggingFace struct {
	Client     *http.Client
	BaseURL    string
	Model      string
	Token      string
	MaxRetries int
	RetryWait  time.Duration
}

func NewHuggingFace(token, model string) *HuggingFace {
	return &HuggingFace{
		Client:     &http.Client{Timeout: 60 * time.Second},
		BaseURL:    defaultHFImageURL,
		Model:      cmp.Or(model, defaultHFImageModel),
		Token:      token,
		MaxRetries: 3,
		RetryWait:  2 * time.Second,
	}
}

type hfParameters struct {
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
}

type hfPayload struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfLoading struct {
	EstimatedTime float64 `json:"estimated_time"`
}

// Generate retries up to MaxRetries attempts. A 503 waits for the model to
// load and uses an attempt, a 429 fails at once with ErrRateLimited.
func (h *HuggingFace) Generate(ctx context.Context, req Request) ([]byte, error) {
	if h.Token == "" {
		return nil, errors.New("huggingface API token is not set")
	}
	body, err := json.Marshal(hfPayload{
		Inputs: req.Prompt,
		Parameters: hfParameters{
			GuidanceScale:     cmp.Or(req.Guidance, 7.5),
			NumInferenceSteps: cmp.Or(req.Steps, 50),
			Width:             req.Width,
			Height:            req.Height,
			NegativePrompt:    req.NegativePrompt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimRight(h.BaseURL, "/") + "/" + h.Model

	attempts := max(h.MaxRetries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Info("generating image", "model", h.Model, "attempt", attempt)

		img, wait, err := h.post(ctx, url, body)
		if err == nil {
			return img, nil
		}
		if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if wait > 0 {
			log.Warn("model is loading", "wait", wait)
		} else {
			wait = h.RetryWait
			log.Warn("image request failed, retrying", "error", err, "wait", wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("image generation failed after %d attempts: %w", attempts, lastErr)
}

// post returns the image, or an error and how long to wait before retrying
// when the model is still loading.
func (h *HuggingFace) post(ctx context.Context, url string, body []byte) ([]byte, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+h.Token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return data, 0, nil
	case http.StatusTooManyRequests:
		return nil, 0, fmt.Errorf("%w: %w", ErrRateLimited, &APIError{StatusCode: resp.StatusCode, Body: string(data)})
	case http.StatusServiceUnavailable:
		wait := defaultLoadingWait
		var loading hfLoading
		if json.Unmarshal(data, &loading) == nil && loading.EstimatedTime > 0 {
			wait = time.Duration(loading.EstimatedTime * float64(time.Second))
		}
		return nil, wait, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	default:
		return nil, 0, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
}
