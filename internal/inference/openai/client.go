package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"resty.dev/v3"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Config describes an OpenAI-compatible chat-completions endpoint.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	RetryAttempts uint
	Logger        *zap.Logger
}

// Client implements inference.Client over the chat-completions API.
type Client struct {
	httpClient       *resty.Client
	model            string
	maxRetryAttempts uint
	logger           *zap.Logger
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:       client,
		model:            cfg.Model,
		maxRetryAttempts: cfg.RetryAttempts,
		logger:           logger,
	}
}

func (client *Client) Close() error {
	return client.httpClient.Close()
}

// Model returns the model name configured for this client.
func (client *Client) Model() string {
	return client.model
}

type ChatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []inference.Message `json:"messages"`
	Temperature    float32             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat     `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type ChoiceMessage struct {
	Role    inference.Role `json:"role"`
	Content string         `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StatusError reports a non-2xx reply from the completions endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("response error %d: %s", e.StatusCode, e.Body)
}

// isRetryableError reports whether a failed call may succeed on another attempt:
// rate limiting, server errors and network failures. Cancellation never retries.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Complete sends the request, retrying transient failures until ctx expires.
func (client *Client) Complete(ctx context.Context, request inference.ChatRequest) (string, error) {
	var content string
	if err := retry.Do(
		func() error {
			response, err := client.complete(ctx, request)
			if err != nil {
				if !isRetryableError(err) {
					return retry.Unrecoverable(err)
				}
				client.logger.Debug("retrying chat completion", zap.Error(err))
				return err
			}
			content = response
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(client.maxRetryAttempts+1),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	); err != nil {
		return "", err
	}
	return content, nil
}

func (client *Client) complete(ctx context.Context, request inference.ChatRequest) (string, error) {
	requestBody := ChatCompletionRequest{
		Model:       client.model,
		Messages:    request.Messages,
		Temperature: request.Temperature,
		MaxTokens:   request.MaxTokens,
	}
	if request.JSONOnly {
		requestBody.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	response, err := client.httpClient.R().
		SetContext(ctx).
		SetBody(requestBody).
		SetResult(&ChatCompletionResponse{}).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return "", &StatusError{StatusCode: response.StatusCode(), Body: response.String()}
	}

	responseBody, ok := response.Result().(*ChatCompletionResponse)
	if !ok || responseBody == nil || len(responseBody.Choices) == 0 {
		return "", fmt.Errorf("empty response body or choices: %s", response.String())
	}

	content := responseBody.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("empty response content: %s", response.String())
	}
	client.logger.Debug("chat completion received",
		zap.String("model", responseBody.Model),
		zap.Int("total_tokens", responseBody.Usage.TotalTokens))
	return content, nil
}
