package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateContent(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantStatus string
		wantText   string
		wantFinish string
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{
				"candidates": [{"content": {"role": "model", "parts": [{"text": "[{\"q\":"}, {"text": "1}]"}]}, "finishReason": "STOP"}],
				"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 7, "totalTokenCount": 19}
			}`,
			wantText:   `[{"q":1}]`,
			wantFinish: "STOP",
		},
		{
			name:       "quota",
			status:     http.StatusTooManyRequests,
			body:       `{"error": {"code": 429, "message": "Resource has been exhausted (e.g. check quota).", "status": "RESOURCE_EXHAUSTED"}}`,
			wantErr:    "unexpected status 429: Resource has been exhausted",
			wantStatus: "RESOURCE_EXHAUSTED",
		},
		{
			name:       "bad_key",
			status:     http.StatusBadRequest,
			body:       `{"error": {"code": 400, "message": "API key not valid. Please pass a valid API key.", "status": "INVALID_ARGUMENT"}}`,
			wantErr:    "API key not valid",
			wantStatus: "INVALID_ARGUMENT",
		},
		{
			name:    "html_error",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: "unexpected status 502: <html>bad gateway</html>",
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{"candidates": [`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
				assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
				assert.Empty(t, r.URL.Query().Get("key"), "key must not leak into the URL")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))
			resp, err := client.GenerateContent(context.Background(), "", GenerateContentRequest{
				Contents: []Content{{Role: "user", Parts: []Part{{Text: "hi"}}}},
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, resp)
				if tt.wantStatus != "" {
					var apiErr *APIError
					require.True(t, errors.As(err, &apiErr))
					assert.Equal(t, tt.wantStatus, apiErr.Status)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantText, resp.Text())
			assert.Equal(t, tt.wantFinish, resp.FinishReason())
			assert.Equal(t, 19, resp.UsageMetadata.TotalTokenCount)
		})
	}
}

func TestGenerateContent_RequestBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-pro:generateContent", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(body, &raw))

		sys := raw["systemInstruction"].(map[string]any)
		assert.Equal(t, "be terse", sys["parts"].([]any)[0].(map[string]any)["text"])

		cfg := raw["generationConfig"].(map[string]any)
		assert.InDelta(t, 0.3, cfg["temperature"], 0.001)
		assert.InDelta(t, 1024, cfg["maxOutputTokens"], 0.001)
		_, hasTopK := cfg["topK"]
		assert.False(t, hasTopK)

		tools := raw["tools"].([]any)
		require.Len(t, tools, 1)
		_, hasSearch := tools[0].(map[string]any)["googleSearch"]
		assert.True(t, hasSearch)

		parts := raw["contents"].([]any)[0].(map[string]any)["parts"].([]any)
		inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
		assert.Equal(t, "application/pdf", inline["mimeType"])
		assert.Equal(t, "JVBERg==", inline["data"])

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	temp := 0.3
	maxTokens := 1024
	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), "gemini-2.0-pro", GenerateContentRequest{
		SystemInstruction: &Content{Parts: []Part{{Text: "be terse"}}},
		Contents: []Content{{Role: "user", Parts: []Part{
			{Text: "summarize"},
			{InlineData: &Blob{MimeType: "application/pdf", Data: []byte("%PDF")}},
		}}},
		GenerationConfig: &GenerationConfig{Temperature: &temp, MaxOutputTokens: &maxTokens},
		Tools:            []Tool{{GoogleSearch: &GoogleSearch{}}},
	})
	require.NoError(t, err)
}

func TestGenerateContent_GroundingAndBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{"text": "augmented"}]},
				"finishReason": "MAX_TOKENS",
				"groundingMetadata": {
					"webSearchQueries": ["golang generics"],
					"groundingChunks": [{"web": {"uri": "https://go.dev/doc", "title": "go.dev"}}]
				}
			}],
			"promptFeedback": {"blockReason": ""}
		}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).GenerateContent(context.Background(), "", GenerateContentRequest{})
	require.NoError(t, err)
	assert.Equal(t, FinishMaxTokens, resp.FinishReason())
	g := resp.Grounding()
	require.NotNil(t, g)
	require.Len(t, g.GroundingChunks, 1)
	assert.Equal(t, "https://go.dev/doc", g.GroundingChunks[0].Web.URI)
	assert.Empty(t, resp.BlockReason())
}

func TestResponseHelpers_Empty(t *testing.T) {
	r := &GenerateContentResponse{PromptFeedback: &PromptFeedback{BlockReason: "SAFETY"}}
	assert.Empty(t, r.Text())
	assert.Empty(t, r.FinishReason())
	assert.Nil(t, r.Grounding())
	assert.Equal(t, "SAFETY", r.BlockReason())
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("k", WithBaseURL(srv.URL)).GenerateContent(ctx, "", GenerateContentRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	hc := NewClient("my-key").(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, defaultModel, hc.model)

	custom := &http.Client{}
	hc = NewClient("k", WithHTTPClient(custom), WithModel("gemini-x")).(*httpClient)
	assert.Equal(t, custom, hc.http)
	assert.Equal(t, "gemini-x", hc.model)
}
