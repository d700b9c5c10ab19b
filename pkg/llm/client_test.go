package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/config"
)

// completionServer answers every chat completion with content and finishReason,
// recording the max_tokens it was asked for.
func completionServer(t *testing.T, content, finishReason string, gotMaxTokens *int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MaxTokens int `json:"max_tokens"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*gotMaxTokens = req.MaxTokens

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": finishReason,
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_GenerateResponse(t *testing.T) {
	var maxTokens int
	server := completionServer(t, "  {\"intent\": \"ranking\"}\n", "stop", &maxTokens)

	client, err := NewClient(&Config{Endpoint: server.URL + "/", Model: "test-model"}, zap.NewNop())
	require.NoError(t, err)

	got, err := client.GenerateResponse(context.Background(), "classify", "system", 0, false)

	require.NoError(t, err)
	assert.Equal(t, `{"intent": "ranking"}`, got.Content)
	assert.Equal(t, 15, got.TotalTokens)
	assert.Equal(t, DefaultMaxTokens, maxTokens)
}

func TestClient_TruncatedCompletion(t *testing.T) {
	var maxTokens int
	server := completionServer(t, `{"intent": "rank`, "length", &maxTokens)

	client, err := NewClient(&Config{Endpoint: server.URL, Model: "test-model", MaxTokens: 16}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.GenerateResponse(context.Background(), "classify", "system", 0, false)

	require.Error(t, err)
	assert.Equal(t, ErrorTypeResponse, GetErrorType(err))
	assert.Contains(t, err.Error(), "truncated at 16 tokens")
	assert.Equal(t, 16, maxTokens)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(&Config{Model: "m"}, zap.NewNop())
	assert.ErrorContains(t, err, "endpoint is required")

	_, err = NewClient(&Config{Endpoint: "http://localhost:8000/v1"}, zap.NewNop())
	assert.ErrorContains(t, err, "model is required")

	_, err = NewAnthropicClient(&Config{Model: "claude"}, zap.NewNop())
	assert.ErrorContains(t, err, "api key is required")
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantNil bool
		wantErr string
	}{
		{name: "disabled", cfg: config.LLMConfig{Provider: "none"}, wantNil: true},
		{name: "openai", cfg: config.LLMConfig{Provider: "openai", Endpoint: config.DefaultOpenAIEndpoint, Model: "gpt-4o-mini"}},
		{name: "anthropic", cfg: config.LLMConfig{Provider: "anthropic", Endpoint: config.DefaultOpenAIEndpoint, Model: "claude-3-5-haiku-latest", APIKey: "k"}},
		{name: "anthropic without key", cfg: config.LLMConfig{Provider: "anthropic", Model: "claude"}, wantErr: "api key is required"},
		{name: "unknown provider", cfg: config.LLMConfig{Provider: "cohere"}, wantErr: `unsupported llm provider "cohere"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewFromConfig(&tt.cfg, zap.NewNop())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, client)
				return
			}
			assert.IsType(t, &GuardedClient{}, client)
			assert.Equal(t, tt.cfg.Model, client.GetModel())
		})
	}
}
