// Package client talks to an OpenAI-compatible provider: streaming
// chat completions with mid-stream dice interception, plus the
// non-streaming image and video generation endpoints.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"faramita/internal/config"
	"faramita/internal/dice"
	"faramita/internal/protocol"
)

// TokenFunc receives each streamed content delta as it arrives.
type TokenFunc func(delta string)

// RollFunc receives the result of each dice token intercepted from the
// stream, before the response completes.
type RollFunc func(result dice.Result)

// Client issues requests against a single provider configuration.
type Client struct {
	cfg  config.Config
	http *http.Client
	log  *zap.Logger

	// roll is swapped out in tests for deterministic results.
	roll func(formula string) (dice.Result, error)
}

func New(cfg config.Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
		log:  log,
		roll: dice.Roll,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Chat streams a single-turn completion. Every content delta is
// appended to the returned text and forwarded to onToken; dice tokens
// of the form [[NdM+B]] are rolled as soon as they fully appear and
// surfaced through onRoll, each token exactly once. Returns the full
// accumulated text.
func (c *Client) Chat(ctx context.Context, userPrompt string, onToken TokenFunc, onRoll RollFunc) (string, error) {
	if !c.cfg.ChatReady() {
		return "", config.ErrMissingConfig
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChatTimeout)
	defer cancel()

	start := time.Now()
	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: userPrompt}},
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.wrapTransport("chat", c.cfg.ChatTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return "", &UpstreamError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(errBody)),
		}
	}

	var full strings.Builder
	rolled := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Debug("skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full.WriteString(delta)
		if onToken != nil {
			onToken(delta)
		}
		rolled = c.interceptRolls(full.String(), rolled, onRoll)
	}
	if err := scanner.Err(); err != nil {
		return "", c.wrapTransport("chat", c.cfg.ChatTimeout, err)
	}

	c.log.Debug("chat completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_len", full.Len()))
	return full.String(), nil
}

// interceptRolls rolls each dice token in text beyond the first
// alreadyRolled occurrences and returns the new count. Formulas the
// dice engine rejects are logged and counted so they do not retrigger
// on every subsequent delta.
func (c *Client) interceptRolls(text string, alreadyRolled int, onRoll RollFunc) int {
	tokens := protocol.InterceptRolls(text)
	for _, formula := range tokens[min(alreadyRolled, len(tokens)):] {
		result, err := c.roll(formula)
		if err != nil {
			c.log.Warn("ignoring invalid dice token", zap.String("formula", formula), zap.Error(err))
			continue
		}
		if onRoll != nil {
			onRoll(result)
		}
	}
	if len(tokens) > alreadyRolled {
		return len(tokens)
	}
	return alreadyRolled
}

// ImageOptions mirrors the provider's images/generations body minus
// the model, which comes from configuration.
type ImageOptions struct {
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// VideoOptions mirrors the provider's videos/generations body.
type VideoOptions struct {
	Prompt     string `json:"prompt"`
	Duration   int    `json:"duration,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// GenerateImage requests one or more images and returns the provider
// response verbatim.
func (c *Client) GenerateImage(ctx context.Context, opts ImageOptions) (json.RawMessage, error) {
	body := map[string]any{
		"model":           c.cfg.ImageModel,
		"prompt":          opts.Prompt,
		"response_format": defaultString(opts.ResponseFormat, "url"),
	}
	if opts.N > 0 {
		body["n"] = opts.N
	}
	if opts.Size != "" {
		body["size"] = opts.Size
	}
	if opts.Quality != "" {
		body["quality"] = opts.Quality
	}
	if opts.Style != "" {
		body["style"] = opts.Style
	}
	return c.postJSON(ctx, "image", "/images/generations", body, c.cfg.ImageTimeout)
}

// GenerateVideo submits a video generation job.
func (c *Client) GenerateVideo(ctx context.Context, opts VideoOptions) (json.RawMessage, error) {
	body := map[string]any{
		"model":  c.cfg.VideoModel,
		"prompt": opts.Prompt,
	}
	if opts.Duration > 0 {
		body["duration"] = opts.Duration
	}
	if opts.Resolution != "" {
		body["resolution"] = opts.Resolution
	}
	return c.postJSON(ctx, "video", "/videos/generations", body, c.cfg.VideoTimeout)
}

// VideoStatus polls a previously submitted video job.
func (c *Client) VideoStatus(ctx context.Context, videoID string) (json.RawMessage, error) {
	if !c.cfg.ChatReady() {
		return nil, config.ErrMissingConfig
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/videos/"+videoID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return c.do(req, "video", c.cfg.VideoTimeout)
}

func (c *Client) postJSON(ctx context.Context, phase, path string, body map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if !c.cfg.ChatReady() {
		return nil, config.ErrMissingConfig
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return c.do(req, phase, timeout)
}

func (c *Client) do(req *http.Request, phase string, timeout time.Duration) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.wrapTransport(phase, timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.wrapTransport(phase, timeout, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return json.RawMessage(body), nil
}

func (c *Client) wrapTransport(phase string, limit time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Phase: phase, Limit: limit}
	}
	return fmt.Errorf("%s request failed: %w", phase, err)
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
