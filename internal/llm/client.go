// Package llm is a thin completion gateway: one prompt in, one answer out.
// The hosted model is an opaque external capability; nothing here inspects
// or retries its failures.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// CompletionError is any transport, quota or model failure from the
// completion endpoint. Callers surface and log it; the gateway never
// retries.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string { return fmt.Sprintf("completion failed: %v", e.Err) }

func (e *CompletionError) Unwrap() error { return e.Err }

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
}

// Options configures a Client. APIKey is required; endpoint and model
// default to the hosted OpenAI API and the model the original bot shipped
// with.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Model      string
	Logger     *slog.Logger
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimSpace(strings.TrimRight(opts.BaseURL, "/"))
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4.1-mini"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		logger:  logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends a system preamble plus user prompt and returns the model's
// reply text. It blocks until the remote call returns or ctx expires.
func (c *Client) Complete(ctx context.Context, systemPreamble, userPrompt string) (string, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPreamble) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPreamble})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	raw, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", &CompletionError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", &CompletionError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &CompletionError{Err: err}
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", &CompletionError{Err: readErr}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &CompletionError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "http " + resp.Status
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", &CompletionError{Err: fmt.Errorf("%s", msg)}
	}
	if len(out.Choices) == 0 {
		return "", &CompletionError{Err: fmt.Errorf("empty choices")}
	}

	answer := strings.TrimSpace(out.Choices[0].Message.Content)
	c.logger.Debug("llm_completion_done",
		"model", c.model,
		"elapsed", time.Since(started).String(),
		"answer_len", len(answer),
	)
	return answer, nil
}
