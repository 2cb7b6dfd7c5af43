package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCompletion(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	mockResponse := ChatCompletionResponse{
		ID:      "chatcmpl-123",
		Object:  "chat.completion",
		Created: 1677652288,
		Model:   "gpt-test",
		Choices: []Choice{
			{
				Index:        0,
				Message:      ChoiceMessage{Role: inference.RoleAssistant, Content: content},
				FinishReason: "stop",
			},
		},
		Usage: Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	require.NoError(t, json.NewEncoder(w).Encode(mockResponse))
}

func TestClient_Complete(t *testing.T) {
	request := inference.ChatRequest{
		Messages: []inference.Message{
			{Role: inference.RoleSystem, Content: "return json"},
			{Role: inference.RoleUser, Content: "INPUT: {}"},
		},
		MaxTokens: 1000,
		JSONOnly:  true,
	}

	tests := []struct {
		name              string
		mockServerHandler func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request)

		wantContent     string
		wantCalls       int32
		wantError       bool
		wantErrorString string
	}{
		{
			name: "Success",
			mockServerHandler: func(t *testing.T, _ int32, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var reqBody ChatCompletionRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
				assert.Equal(t, "gpt-test", reqBody.Model)
				assert.Len(t, reqBody.Messages, 2)
				assert.Equal(t, 1000, reqBody.MaxTokens)
				require.NotNil(t, reqBody.ResponseFormat)
				assert.Equal(t, "json_object", reqBody.ResponseFormat.Type)

				writeCompletion(t, w, `{"predicted_symptoms": {"fatigue": 1}}`)
			},
			wantContent: `{"predicted_symptoms": {"fatigue": 1}}`,
			wantCalls:   1,
		},
		{
			name: "Server error is retried",
			mockServerHandler: func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request) {
				if calls == 1 {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				writeCompletion(t, w, `{"ok": true}`)
			},
			wantContent: `{"ok": true}`,
			wantCalls:   2,
		},
		{
			name: "Client error is not retried",
			mockServerHandler: func(t *testing.T, _ int32, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error": "bad key"}`))
			},
			wantCalls:       1,
			wantError:       true,
			wantErrorString: "response error 401",
		},
		{
			name: "Empty choices",
			mockServerHandler: func(t *testing.T, _ int32, w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id": "chatcmpl-1", "choices": []}`))
			},
			wantCalls:       1,
			wantError:       true,
			wantErrorString: "empty response body or choices",
		},
		{
			name: "Blank content",
			mockServerHandler: func(t *testing.T, _ int32, w http.ResponseWriter, r *http.Request) {
				writeCompletion(t, w, "   ")
			},
			wantCalls:       1,
			wantError:       true,
			wantErrorString: "empty response content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.mockServerHandler(t, calls.Add(1), w, r)
			}))
			defer server.Close()

			client := NewClient(Config{
				APIKey:        "test-key",
				BaseURL:       server.URL,
				Model:         "gpt-test",
				RetryAttempts: 1,
			})
			defer client.Close()

			gotContent, gotErr := client.Complete(context.Background(), request)

			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantError {
				require.Error(t, gotErr)
				if tt.wantErrorString != "" {
					assert.Contains(t, gotErr.Error(), tt.wantErrorString)
				}
				return
			}
			require.NoError(t, gotErr)
			assert.Equal(t, tt.wantContent, gotContent)
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "bad request", err: &StatusError{StatusCode: http.StatusBadRequest, Body: "bad request"}, want: false},
		{name: "unauthorized", err: fmt.Errorf("wrapped: %w", &StatusError{StatusCode: http.StatusUnauthorized}), want: false},
		{name: "server error", err: &StatusError{StatusCode: http.StatusServiceUnavailable}, want: true},
		{name: "rate limited", err: fmt.Errorf("wrapped: %w", &StatusError{StatusCode: http.StatusTooManyRequests}), want: true},
		{name: "connection refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, want: true},
		{name: "canceled", err: &url.Error{Op: "Post", URL: "http://example.test", Err: context.Canceled}, want: false},
		{name: "error text alone", err: errors.New("response error 503: connection refused"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestClient_CompleteRetriesUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := NewClient(Config{APIKey: "test-key", BaseURL: baseURL, Model: "gpt-test", RetryAttempts: 1})
	defer client.Close()

	_, err := client.Complete(context.Background(), inference.ChatRequest{})

	require.Error(t, err)
	var netErr net.Error
	assert.True(t, errors.As(err, &netErr))
}
