package diffusion

import (
	"bytes"
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebUI drives a local Stable Diffusion WebUI started with --api.
type WebUI struct {
	BaseURL string
	Client  *http.Client
}

func NewWebUI(baseURL string) *WebUI {
	return &WebUI{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type txt2ImgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	SamplerName    string  `json:"sampler_name,omitempty"`
}

type txt2ImgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

func (w *WebUI) Generate(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(txt2ImgRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          cmp.Or(req.Width, 1024),
		Height:         cmp.Or(req.Height, 1024),
		Steps:          cmp.Or(req.Steps, 30),
		CFGScale:       cmp.Or(req.Guidance, 7.5),
		SamplerName:    "Euler",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var result txt2ImgResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Images) == 0 {
		return nil, errors.New("webui returned no images")
	}

	// Some builds prefix the payload with a data URL header.
	b64 := result.Images[0]
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// CheckHealth checks that the WebUI API answers.
func (w *WebUI) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.BaseURL+"/sdapi/v1/options", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("SD API not available: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("SD API returned status %d", resp.StatusCode)
	}
	return nil
}
