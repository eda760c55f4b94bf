package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLLMClient(provider, baseURL string, timeout time.Duration) *LLMClient {
	return NewLLMClient(config.LLMConfig{
		Provider:  provider,
		BaseURL:   baseURL,
		APIKey:    "test-key",
		Model:     "test-model",
		MaxTokens: 256,
		Timeout:   timeout,
	})
}

func TestLLMClient_AnthropicSuccess(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Messages  []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.Equal(t, 256, body.MaxTokens)
		if len(body.Messages) == 1 && len(body.Messages[0].Content) == 1 {
			gotPrompt = body.Messages[0].Content[0].Text
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "test-model",
			"content": [{"type": "text", "text": "{\"summary\":\"ok\",\"issues\":[]}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	client := newTestLLMClient("anthropic", srv.URL, 5*time.Second)
	text, err := client.Analyze(context.Background(), "print('hi')", "python", "hi.py")

	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok","issues":[]}`, text)
	assert.Contains(t, gotPrompt, `file "hi.py"`)
	assert.Contains(t, gotPrompt, "print('hi')")
}

func TestLLMClient_AnthropicErrorStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	}))
	defer srv.Close()

	client := newTestLLMClient("anthropic", srv.URL, 5*time.Second)
	_, err := client.Analyze(context.Background(), "code here", "go", "main.go")

	var terr *TransportError
	require.True(t, errors.As(err, &terr), "expected *TransportError, got %v", err)
	assert.Equal(t, "anthropic", terr.Provider)
	assert.Equal(t, http.StatusInternalServerError, terr.StatusCode)
	assert.False(t, terr.Timeout)
	assert.Equal(t, int32(1), calls.Load(), "the client must not retry on its own")
}

func TestLLMClient_OpenAISuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	client := newTestLLMClient("openai", srv.URL, 5*time.Second)
	text, err := client.Analyze(context.Background(), "code here", "go", "main.go")

	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestLLMClient_OpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	client := newTestLLMClient("openai", srv.URL, 5*time.Second)
	_, err := client.Analyze(context.Background(), "code here", "go", "main.go")

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.ErrorIs(t, err, errEmptyResponse)
}

func TestLLMClient_OpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	client := newTestLLMClient("openai", srv.URL, 5*time.Second)
	_, err := client.Analyze(context.Background(), "code here", "go", "main.go")

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusTooManyRequests, terr.StatusCode)
}

func TestLLMClient_OllamaSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","message":{"role":"assistant","content":"from ollama"},"done":true}`))
	}))
	defer srv.Close()

	client := newTestLLMClient("ollama", srv.URL, 5*time.Second)
	text, err := client.Analyze(context.Background(), "code here", "go", "main.go")

	require.NoError(t, err)
	assert.Equal(t, "from ollama", text)
}

func TestLLMClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := newTestLLMClient("openai", srv.URL, 50*time.Millisecond)
	_, err := client.Analyze(context.Background(), "code here", "go", "main.go")

	var terr *TransportError
	require.True(t, errors.As(err, &terr), "expected *TransportError, got %v", err)
	assert.True(t, terr.Timeout)
}

func TestLLMClient_PingUsesSameTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer srv.Close()

	client := newTestLLMClient("openai", srv.URL, 5*time.Second)
	err := client.Ping(context.Background())

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
}

func TestTransportError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want string
	}{
		{"timeout", &TransportError{Provider: "anthropic", Timeout: true, Err: context.DeadlineExceeded}, "anthropic: request timed out"},
		{"status", &TransportError{Provider: "openai", StatusCode: 502, Err: errors.New("bad gateway")}, "openai: status 502"},
		{"plain", &TransportError{Provider: "ollama", Err: errors.New("refused")}, "ollama: refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.err.Error(), tt.want) {
				t.Errorf("Error() = %q, should contain %q", tt.err.Error(), tt.want)
			}
		})
	}
}
