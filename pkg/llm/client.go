// Package llm adapts an OpenAI-compatible chat completion service into a
// single-call formatting transform over one lexicon record.
//
// The client holds no retry policy: one GenerateFormatting call is one HTTP
// request. Callers decide whether and when to try again.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/japaniel/lexicon/pkg/db"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Metadata describes how a proposal was generated.
type Metadata struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
	Latency          time.Duration
	GeneratedAt      time.Time
}

// Generated is the parsed result of a formatting call.
type Generated struct {
	// FormattedText is the proposed replacement body, exactly as returned.
	FormattedText string
	// Title is the proposed title, empty when the model left it unchanged.
	Title    string
	Metadata Metadata
}

// Client talks to a chat completion endpoint.
type Client struct {
	baseURL     string
	model       string
	apiKey      string
	temperature *float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
	prompts     *promptBuilder
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(client *Client) {
		client.apiKey = key
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(client *Client) {
		client.temperature = &t
	}
}

// WithMaxTokens limits the reply length. 0 uses the endpoint default.
func WithMaxTokens(n int) ClientOption {
	return func(client *Client) {
		client.maxTokens = n
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client for the endpoint at baseURL (for example
// http://localhost:11434/v1) using model.
func NewClient(baseURL, model string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/chat/completions"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger:  slog.Default(),
		prompts: newPromptBuilder(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// formattingReply is the JSON object the model is asked to return.
type formattingReply struct {
	FormattedText string `json:"formatted_text"`
	Title         string `json:"title"`
}

// GenerateFormatting asks the service for a cleaned-up version of rec. The
// record is taken by value and never modified. Every failure is returned as
// a *GenerationError.
func (c *Client) GenerateFormatting(ctx context.Context, rec db.Record) (*Generated, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    c.prompts.Messages(rec),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, NewGenerationError(rec.ID, fmt.Errorf("build request body: %w", err), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewGenerationError(rec.ID, fmt.Errorf("create HTTP request: %w", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	c.logger.Debug("Sending formatting request", "record_id", rec.ID, "model", c.model)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewGenerationError(rec.ID, fmt.Errorf("HTTP request failed: %w", err), isTransientNetErr(ctx, err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewGenerationError(rec.ID, fmt.Errorf("read response body: %w", err), true)
	}
	latency := time.Since(start)

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(rec.ID, httpResp.StatusCode, respBody)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, NewGenerationError(rec.ID, fmt.Errorf("parse response: %w", err), false)
	}
	if len(chat.Choices) == 0 {
		return nil, NewGenerationError(rec.ID, errors.New("response has no choices"), false)
	}
	choice := chat.Choices[0]

	var reply formattingReply
	if err := decodeReply(choice.Message.Content, &reply); err != nil {
		return nil, NewGenerationError(rec.ID, fmt.Errorf("unparsable formatting reply: %w", err), false)
	}
	if strings.TrimSpace(reply.FormattedText) == "" {
		return nil, NewGenerationError(rec.ID, errors.New("formatting reply has empty formatted_text"), false)
	}

	model := chat.Model
	if model == "" {
		model = c.model
	}
	title := reply.Title
	if title == rec.Title {
		title = ""
	}

	return &Generated{
		FormattedText: reply.FormattedText,
		Title:         title,
		Metadata: Metadata{
			Model:            model,
			PromptTokens:     chat.Usage.PromptTokens,
			CompletionTokens: chat.Usage.CompletionTokens,
			TotalTokens:      chat.Usage.TotalTokens,
			FinishReason:     choice.FinishReason,
			Latency:          latency,
			GeneratedAt:      time.Now().UTC(),
		},
	}, nil
}

// Ping checks that the service answers its model listing endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reach %s: status %d", c.baseURL, resp.StatusCode)
	}
	return nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// isTransientNetErr reports timeouts, failed dials and dropped connections as
// retryable. Caller cancellation and request setup failures such as an
// unsupported scheme or a rejected certificate are not.
func isTransientNetErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(recordID int64, statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	gen := NewGenerationError(recordID, fmt.Errorf("LLM API error: %s", bodyStr), false)
	gen.StatusCode = statusCode

	switch {
	case statusCode == http.StatusTooManyRequests:
		gen.retryable = true
	case statusCode >= 500:
		gen.retryable = true
	}
	return gen
}
