package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests
	DefaultHTTPTimeout = 120 * time.Second
	// DefaultMaxRetries is the default maximum number of retry attempts
	DefaultMaxRetries = 3
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for rate limit backoff (3^n)
	RateLimitBackoffMultiplier = 3
)

// Endpoint identifies an OpenAI-compatible model endpoint
type Endpoint struct {
	BaseURL            string
	ModelName          string
	Temperature        float64
	TopP               float64
	MaxOutputTokens    int
	RateLimitPerMinute int
}

// Message is one chat message on the wire
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	N           int       `json:"n,omitempty"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Client sends chat completions to OpenAI-compatible endpoints
type Client struct {
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	logger          *slog.Logger
	maxRetries      int
	baseRetryDelay  time.Duration
}

// NewClient creates a new API client
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		httpClient:      &http.Client{Timeout: DefaultHTTPTimeout},
		rateLimiterPool: NewRateLimiterPool(logger),
		logger:          logger,
		maxRetries:      DefaultMaxRetries,
		baseRetryDelay:  DefaultBaseRetryDelay,
	}
}

// Complete sends messages and returns the first choice's message
func (c *Client) Complete(ctx context.Context, ep Endpoint, apiKey string, messages []Message) (Message, error) {
	key := ep.BaseURL + ":" + ep.ModelName
	if err := c.rateLimiterPool.Wait(ctx, key, ep.RateLimitPerMinute); err != nil {
		return Message{}, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := completionRequest{
		Model:       ep.ModelName,
		Messages:    messages,
		Temperature: ep.Temperature,
		TopP:        ep.TopP,
		MaxTokens:   ep.MaxOutputTokens,
		N:           1,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay
			if isRateLimitError(lastErr) {
				backoff = time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
			}
			jitter := time.Duration(float64(backoff) * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1))
			sleep := backoff + jitter

			c.logger.Warn("Retrying chat request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", sleep,
				"model", ep.ModelName,
				"is_rate_limit", isRateLimitError(lastErr))

			select {
			case <-ctx.Done():
				return Message{}, ctx.Err()
			case <-time.After(sleep):
			}
		}

		msg, err := c.doRequest(ctx, ep.BaseURL, apiKey, req)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable {
			return Message{}, err
		}
	}
	return Message{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, baseURL, apiKey string, req completionRequest) (Message, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buf)
	if err != nil {
		return Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{}, &APIError{Message: fmt.Sprintf("request failed: %v", err), Retryable: true}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Message{}, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: httpResp.StatusCode,
			Retryable:  isStatusCodeRetryable(httpResp.StatusCode),
			Message:    fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(body)),
		}
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
			apiErr.Message = eb.Error.Message
			apiErr.Type = eb.Error.Type
			apiErr.Code = eb.Error.Code
		}
		return Message{}, apiErr
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Message{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, fmt.Errorf("no choices returned in response")
	}
	return resp.Choices[0].Message, nil
}

func isRateLimitError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func isStatusCodeRetryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// APIError represents an error returned by the endpoint
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}
