// Package tagger is a client for the image tagging service, which suggests
// descriptive tags for a clothing photo.
package tagger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digiclo/apiserver/config"
	"github.com/digiclo/apiserver/internal/metrics"
	"github.com/tidwall/gjson"
)

// ErrTaggingFailed is returned when the tagging service cannot be reached or
// answers with something other than a tag list.
var ErrTaggingFailed = errors.New("image tagging failed")

// Client calls the tagging service.
type Client struct {
	baseURL    string
	topK       int
	httpClient *http.Client
}

// New creates a Client.
func New(cfg config.TaggerConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 8
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		topK:    topK,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SuggestTags uploads image and returns up to topK tags. A non-positive topK
// uses the configured default.
func (c *Client) SuggestTags(ctx context.Context, image []byte, topK int) ([]string, error) {
	tags, err := c.suggest(ctx, image, topK)
	metrics.ObserveTagging(err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTaggingFailed, err)
	}
	return tags, nil
}

func (c *Client) suggest(ctx context.Context, image []byte, topK int) ([]string, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}
	if topK <= 0 {
		topK = c.topK
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	url := c.baseURL + "/tag-image?top_k=" + strconv.Itoa(topK)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed: %s - %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	result := gjson.GetBytes(respBody, "tags")
	if !result.IsArray() {
		return nil, errors.New("response carries no tags array")
	}
	tags := make([]string, 0, len(result.Array()))
	for _, tag := range result.Array() {
		if s := strings.TrimSpace(tag.String()); s != "" {
			tags = append(tags, s)
		}
	}
	return tags, nil
}
