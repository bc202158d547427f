// Package generation talks to an OpenAI-compatible image generation API to
// render a composite picture of an outfit.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/digiclo/apiserver/config"
	"github.com/digiclo/apiserver/internal/metrics"
	"github.com/tidwall/gjson"
)

// ErrGenerationFailed is returned for any failure talking to the generation
// service or reading its answer.
var ErrGenerationFailed = errors.New("image generation failed")

// DefaultPrompt is used when the caller supplies no prompt of their own.
const DefaultPrompt = "Show a mannequin wearing the outfit made of the referenced top, bottom and shoes. " +
	"Use a white background and fashion model lighting. Focus on style, fabric, color, and realistic proportions. " +
	"Do not show faces or hands."

// MinReferenceImages is the number of item images a composite is built from.
const MinReferenceImages = 3

const maxFetchBytes = 20 << 20

// Client is a generation API client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	size       string
	httpClient *http.Client
}

// Result is one generated image.
type Result struct {
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
}

type generateRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

// New creates a Client.
func New(cfg config.GenerationConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		size:    cfg.Size,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BuildPrompt combines the user prompt with the reference image URLs.
func BuildPrompt(prompt string, images []string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	labels := []string{"Top", "Bottom", "Shoes"}
	b.WriteString("\nReference images:")
	for i, img := range images {
		label := "Extra"
		if i < len(labels) {
			label = labels[i]
		}
		fmt.Fprintf(&b, "\n- %s: %s", label, img)
	}
	return b.String()
}

// Generate asks the service for one image and returns its URL together with
// the prompt that was sent.
func (c *Client) Generate(ctx context.Context, prompt string, images []string) (Result, error) {
	fullPrompt := BuildPrompt(prompt, images)
	url, err := c.generate(ctx, fullPrompt)
	metrics.ObserveGeneration(err)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return Result{ImageURL: url, Prompt: fullPrompt}, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:          c.model,
		Prompt:         prompt,
		Size:           c.size,
		N:              1,
		ResponseFormat: "url",
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return "", fmt.Errorf("request failed: %s - %s", resp.Status, msg)
	}

	url := gjson.GetBytes(respBody, "data.0.url")
	if !url.Exists() || url.String() == "" {
		return "", errors.New("response carries no image url")
	}
	return url.String(), nil
}

// Fetch downloads a generated image so it can be rehosted. Generated URLs
// expire, so callers that keep the image must copy it.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxFetchBytes {
		return nil, "", errors.New("image exceeds size limit")
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty image")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
