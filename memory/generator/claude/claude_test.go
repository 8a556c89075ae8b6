package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
)

type capturedRequest struct {
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop_sequences"`
	System      []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func messageResponse(text string) map[string]any {
	content := []map[string]any{}
	if text != "" {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	return map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         DefaultModel,
		"content":       content,
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 12, "output_tokens": 7},
	}
}

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := New(Config{APIKey: "test-key"},
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(0),
	)
	require.NoError(t, err)
	return g
}

func TestGenerate(t *testing.T) {
	var got capturedRequest
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse("- How did the deadline go?\n- What helped you rest?"))
	})

	text, err := g.Generate(context.Background(), core.GenerateRequest{
		Prompt:        "Session 1: work stress",
		MaxTokens:     128,
		Temperature:   0.7,
		StopSequences: []string{"\n\n\n"},
	})
	require.NoError(t, err)

	assert.Equal(t, "- How did the deadline go?\n- What helped you rest?", text)
	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, 128, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Equal(t, []string{"\n\n\n"}, got.Stop)
	require.Len(t, got.System, 1)
	assert.Equal(t, DefaultSystemPrompt, got.System[0].Text)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	require.Len(t, got.Messages[0].Content, 1)
	assert.Equal(t, "Session 1: work stress", got.Messages[0].Content[0].Text)
}

func TestGenerate_EmptyResponse(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse(""))
	})

	_, err := g.Generate(context.Background(), core.GenerateRequest{Prompt: "x", MaxTokens: 16})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerate_APIError(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
	})

	_, err := g.Generate(context.Background(), core.GenerateRequest{Prompt: "x", MaxTokens: 16})
	assert.Error(t, err)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
