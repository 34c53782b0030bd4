package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/retry"
)

var ErrUnavailable = errors.New("ai client unavailable")

const (
	maxResponseBytes  = 4 << 20
	maxErrorBodyChars = 700
)

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ContentPart is one element of a multimodal user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

func ImagePart(contentType string, data []byte) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: DataURL(contentType, data)}}
}

type ChatRequest struct {
	Model           string
	Instructions    string
	Parts           []ContentPart
	Temperature     float64
	MaxOutputTokens int
}

type ChatResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

type ChatCompleter interface {
	Complete(ctx context.Context, request ChatRequest) (ChatResult, error)
	Available() bool
}

type ClientConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Organization string
}

// Client talks to any OpenAI-compatible /chat/completions endpoint. Every
// attempt gets its own Timeout; 429s, 5xx and per-attempt timeouts are retried
// up to MaxRetries times.
type Client struct {
	apiKey       string
	endpoint     string
	organization string
	timeout      time.Duration
	retries      retry.Policy
	httpClient   *http.Client
}

func NewClient(config ClientConfig) *Client {
	baseURL := strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 350 * time.Millisecond
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &Client{
		apiKey:       strings.TrimSpace(config.APIKey),
		endpoint:     baseURL + "/chat/completions",
		organization: strings.TrimSpace(config.Organization),
		timeout:      config.Timeout,
		retries: retry.Policy{
			MaxAttempts: config.MaxRetries + 1,
			Initial:     config.RetryBackoff,
			Max:         8 * config.RetryBackoff,
		},
		httpClient: config.HTTPClient,
	}
}

func (c *Client) Available() bool {
	return c.apiKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, request ChatRequest) (ChatResult, error) {
	if !c.Available() {
		return ChatResult{}, ErrUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return ChatResult{}, errors.New("model is required")
	}
	if len(request.Parts) == 0 {
		return ChatResult{}, errors.New("input is required")
	}

	body := chatCompletionsRequest{
		Model:       request.Model,
		Temperature: request.Temperature,
		MaxTokens:   request.MaxOutputTokens,
	}
	if instructions := strings.TrimSpace(request.Instructions); instructions != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: instructions})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: request.Parts})

	encoded, err := json.Marshal(body)
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	var result ChatResult
	_, err = retry.Do(ctx, c.retries, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.post(ctx, encoded)
		if callErr != nil && !isRetryable(callErr) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		return ChatResult{}, err
	}
	if result.ModelID == "" {
		result.ModelID = request.Model
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (ChatResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ChatResult{}, fmt.Errorf("create chat request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if c.organization != "" {
		httpRequest.Header.Set("OpenAI-Organization", c.organization)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		// Only the per-attempt deadline counts as a timeout; a cancelled
		// caller is not retried.
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return ChatResult{}, &timeoutError{after: c.timeout, err: err}
		}
		return ChatResult{}, fmt.Errorf("chat completion transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if err != nil {
		return ChatResult{}, fmt.Errorf("read chat body: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(raw))
		if len(message) > maxErrorBodyChars {
			message = message[:maxErrorBodyChars]
		}
		return ChatResult{}, &providerHTTPError{StatusCode: httpResponse.StatusCode, Message: message}
	}

	var decoded chatCompletionsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ChatResult{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return ChatResult{}, errors.New("chat response without choices")
	}
	text := messageText(decoded.Choices[0].Message.Content)
	if text == "" {
		return ChatResult{}, errors.New("chat response without text output")
	}

	return ChatResult{
		Text:    text,
		ModelID: strings.TrimSpace(decoded.Model),
		Usage: TokenUsage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
			TotalTokens:  decoded.Usage.TotalTokens,
		},
	}, nil
}

// messageText accepts both a plain string and an array of typed parts.
func messageText(content json.RawMessage) string {
	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &parts); err != nil {
		return ""
	}
	fragments := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part.Text); trimmed != "" {
			fragments = append(fragments, trimmed)
		}
	}
	return strings.Join(fragments, "\n")
}

type providerHTTPError struct {
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
}

type timeoutError struct {
	after time.Duration
	err   error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("chat completion timed out after %s: %v", e.after, e.err)
}

func (e *timeoutError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var timeout *timeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
