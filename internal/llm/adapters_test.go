package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qaforge/internal/config"
	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/resilience"
)

func cred(provider, key string) keypool.Credential {
	return keypool.Credential{Provider: provider, Key: key}
}

func TestGeminiProvider_Send(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/models/gemini-test:generateContent")
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		contents := body["contents"].([]any)
		require.Len(t, contents, 2)
		assert.Equal(t, "model", contents[1].(map[string]any)["role"])
		assert.NotNil(t, body["systemInstruction"])
		tools := body["tools"].([]any)
		assert.Contains(t, tools[0].(map[string]any), "googleSearch")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "answer"}]},
				"finishReason": "MAX_TOKENS",
				"groundingMetadata": {
					"webSearchQueries": ["q1"],
					"groundingChunks": [{"web": {"uri": "https://a.example", "title": "A"}}, {}]
				}
			}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 4, "totalTokenCount": 14}
		}`))
	}))
	defer ts.Close()

	p := NewGeminiProvider(config.ProviderConfig{Model: "gemini-test", BaseURL: ts.URL}, ts.Client())
	req := Request{
		System:   "be brief",
		Messages: []Message{UserText("hi"), {Role: RoleAssistant, Parts: []Part{{Text: "["}}}},
		Tools:    []Tool{ToolWebSearch},
	}

	c, err := p.Send(context.Background(), req, cred(keypool.Gemini, "g-key"))
	require.NoError(t, err)
	assert.Equal(t, "answer", c.Text)
	assert.True(t, c.Truncated)
	assert.Equal(t, 14, c.Usage.TotalTokens)
	assert.Equal(t, 1, c.Usage.Calls)
	assert.Equal(t, []string{"q1"}, c.SearchQueries)
	require.Len(t, c.Grounding, 1)
	assert.Equal(t, "https://a.example", c.Grounding[0].URI)
}

func TestGeminiProvider_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   resilience.FailureKind
	}{
		{"quota", 429, `{"error": {"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED"}}`, resilience.KindRateLimited},
		{"bad key", 400, `{"error": {"code": 400, "message": "API key not valid.", "status": "INVALID_ARGUMENT"}}`, resilience.KindAuth},
		{"overloaded", 503, `{"error": {"code": 503, "message": "The model is overloaded.", "status": "UNAVAILABLE"}}`, resilience.KindServiceUnavailable},
		{"bad request", 400, `{"error": {"code": 400, "message": "Request contains an invalid argument.", "status": "INVALID_ARGUMENT"}}`, resilience.KindBadRequest},
		{"prompt blocked", 200, `{"promptFeedback": {"blockReason": "SAFETY"}}`, resilience.KindSafetyBlocked},
		{"response blocked", 200, `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`, resilience.KindSafetyBlocked},
		{"empty", 200, `{"candidates": [{"content": {"parts": []}, "finishReason": "STOP"}]}`, resilience.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			p := NewGeminiProvider(config.ProviderConfig{Model: "m", BaseURL: ts.URL}, ts.Client())
			_, err := p.Send(context.Background(), Request{Messages: []Message{UserText("x")}}, cred(keypool.Gemini, "k"))
			f, ok := resilience.AsFailure(err)
			require.True(t, ok, "want *Failure, got %v", err)
			assert.Equal(t, tt.want, f.Kind)
		})
	}
}

func TestOpenRouterProvider_Send(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
		assert.Equal(t, "qaforge", r.Header.Get("X-Title"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "vendor/model:online", body["model"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		parts := msgs[1].(map[string]any)["content"].([]any)
		assert.Equal(t, "image_url", parts[0].(map[string]any)["type"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "gen-1", "model": "vendor/model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "done"}, "finish_reason": "length"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer ts.Close()

	p := NewOpenRouterProvider(config.ProviderConfig{Model: "vendor/model", BaseURL: ts.URL, Title: "qaforge"}, ts.Client())
	req := Request{
		System:   "sys",
		Messages: []Message{UserBlob("image/png", []byte{1, 2, 3}, "describe")},
		Tools:    []Tool{ToolWebSearch},
	}

	c, err := p.Send(context.Background(), req, cred(keypool.OpenRouter, "or-key"))
	require.NoError(t, err)
	assert.Equal(t, "done", c.Text)
	assert.True(t, c.Truncated)
	assert.Equal(t, 5, c.Usage.TotalTokens)
	assert.Equal(t, "vendor/model", c.Model)
}

func TestOpenRouterProvider_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   resilience.FailureKind
	}{
		{"unauthorized", 401, `{"error": {"code": 401, "message": "No auth credentials found"}}`, resilience.KindAuth},
		{"rate limited", 429, `{"error": {"code": 429, "message": "Rate limit exceeded"}}`, resilience.KindRateLimited},
		{"content filter", 200, `{"choices": [{"message": {"role": "assistant", "content": ""}, "finish_reason": "content_filter"}]}`, resilience.KindSafetyBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			p := NewOpenRouterProvider(config.ProviderConfig{Model: "m", BaseURL: ts.URL}, ts.Client())
			_, err := p.Send(context.Background(), Request{Messages: []Message{UserText("x")}}, cred(keypool.OpenRouter, "k"))
			f, ok := resilience.AsFailure(err)
			require.True(t, ok, "want *Failure, got %v", err)
			assert.Equal(t, tt.want, f.Kind)
		})
	}
}

func TestOpenRouterRequest_PlainTextContent(t *testing.T) {
	out := toOpenRouterRequest(Request{Model: "x:online", Messages: []Message{UserText("hello")}, Tools: []Tool{ToolWebSearch}}, "default")
	assert.Equal(t, "x:online", out.Model)
	assert.Equal(t, "hello", out.Messages[0].Content)
	assert.Nil(t, out.MaxTokens)
}

func TestAnthropicProvider_Send(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a-key", r.Header.Get("X-Api-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 8192, body["max_tokens"], 0.1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant",
			"content": [{"type": "text", "text": "[]"}],
			"model": "claude-test", "stop_reason": "end_turn",
			"usage": {"input_tokens": 7, "output_tokens": 1}
		}`))
	}))
	defer ts.Close()

	p := NewAnthropicProvider(config.ProviderConfig{Model: "claude-test", BaseURL: ts.URL}, ts.Client())
	c, err := p.Send(context.Background(), Request{Messages: []Message{UserText("x")}}, cred(keypool.Anthropic, "a-key"))
	require.NoError(t, err)
	assert.Equal(t, "[]", c.Text)
	assert.False(t, c.Truncated)
	assert.Equal(t, 8, c.Usage.TotalTokens)
}

func TestAnthropicProvider_RejectsBinary(t *testing.T) {
	p := NewAnthropicProvider(config.ProviderConfig{Model: "m"}, nil)
	_, err := p.Send(context.Background(), Request{Messages: []Message{UserBlob("application/pdf", []byte("%PDF"), "")}}, cred(keypool.Anthropic, "k"))
	f, ok := resilience.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, resilience.KindBadRequest, f.Kind)
}
