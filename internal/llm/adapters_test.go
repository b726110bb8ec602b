// ABOUTME: Tests for the HTTP model adapters against httptest servers.
// ABOUTME: Covers payload shape, auth headers, failure classification, and media handling.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonServer(t *testing.T, status int, body string, capture *http.Request, payload *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			*capture = *r
		}
		if payload != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(payload))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

const openAIOKBody = `{
	"model": "gpt-4o",
	"choices": [{"message": {"content": "hello from the model"}}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 7}
}`

func TestOpenAIAdapter_Generate(t *testing.T) {
	var captured http.Request
	var payload map[string]any
	srv := jsonServer(t, http.StatusOK, openAIOKBody, &captured, &payload)
	defer srv.Close()

	a := NewOpenAIAdapter(Options{
		Name:     "gpt",
		APIKey:   "test-key",
		Model:    "gpt-4o",
		Endpoint: srv.URL,
	})

	resp, err := a.Generate(context.Background(), Request{
		Prompt: "be helpful",
		Turns: []Turn{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "how are you?"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello from the model", resp.Text)
	assert.Equal(t, "gpt", resp.Adapter)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)

	assert.Equal(t, "Bearer test-key", captured.Header.Get("Authorization"))
	assert.Equal(t, "/chat/completions", captured.URL.Path)

	messages := payload["messages"].([]any)
	require.Len(t, messages, 4)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be helpful", first["content"])
	last := messages[3].(map[string]any)
	assert.Equal(t, "user", last["role"])
}

func TestOpenAIAdapter_AnalyzeMedia_ImageAsDataURL(t *testing.T) {
	var payload map[string]any
	srv := jsonServer(t, http.StatusOK, openAIOKBody, nil, &payload)
	defer srv.Close()

	a := NewOpenAIAdapter(Options{APIKey: "k", Model: "gpt-4o", Endpoint: srv.URL})

	_, err := a.AnalyzeMedia(context.Background(), Media{
		Kind:     MediaImage,
		MIMEType: "image/png",
		Data:     []byte{0x89, 0x50, 0x4e, 0x47},
	}, "what is this?")
	require.NoError(t, err)

	messages := payload["messages"].([]any)
	require.Len(t, messages, 1)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	urlField := imagePart["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(urlField, "data:image/png;base64,"))
}

func TestOpenAIAdapter_AnalyzeMedia_RejectsAudio(t *testing.T) {
	a := NewOpenAIAdapter(Options{APIKey: "k", Model: "gpt-4o"})
	assert.False(t, a.Supports(MediaAudio))

	_, err := a.AnalyzeMedia(context.Background(), Media{Kind: MediaAudio}, "transcribe")
	assert.Error(t, err)
}

func TestOpenAIAdapter_FailureClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"request timeout", http.StatusRequestTimeout, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := jsonServer(t, tc.status, `{"error": "nope"}`, nil, nil)
			defer srv.Close()

			a := NewOpenAIAdapter(Options{APIKey: "k", Model: "gpt-4o", Endpoint: srv.URL})
			_, err := a.Generate(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "hi"}}})
			require.Error(t, err)
			assert.Equal(t, tc.transient, IsTransient(err))
		})
	}
}

func TestOpenAIAdapter_ConnectionErrorIsTransient(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, openAIOKBody, nil, nil)
	srv.Close() // immediately, so the port refuses connections

	a := NewOpenAIAdapter(Options{APIKey: "k", Model: "gpt-4o", Endpoint: srv.URL})
	_, err := a.Generate(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestOpenAIAdapter_CancelledContextIsNotTransientWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	a := NewOpenAIAdapter(Options{APIKey: "k", Model: "gpt-4o", Endpoint: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := a.Generate(ctx, Request{Turns: []Turn{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAIAdapter_EmptyChoicesIsTransient(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"choices": []}`, nil, nil)
	defer srv.Close()

	a := NewOpenAIAdapter(Options{APIKey: "k", Model: "gpt-4o", Endpoint: srv.URL})
	_, err := a.Generate(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

const anthropicOKBody = `{
	"model": "claude-sonnet-4-5",
	"content": [{"type": "text", "text": "hello from claude"}],
	"usage": {"input_tokens": 20, "output_tokens": 9}
}`

func TestAnthropicAdapter_Generate_FoldsSystemTurns(t *testing.T) {
	var captured http.Request
	var payload map[string]any
	srv := jsonServer(t, http.StatusOK, anthropicOKBody, &captured, &payload)
	defer srv.Close()

	a := NewAnthropicAdapter(Options{Name: "claude", APIKey: "test-key", Model: "claude-sonnet-4-5", Endpoint: srv.URL})

	resp, err := a.Generate(context.Background(), Request{
		Prompt: "persona prompt",
		Turns: []Turn{
			{Role: RoleSystem, Content: "mid-conversation instruction"},
			{Role: RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from claude", resp.Text)
	assert.Equal(t, 20, resp.Usage.InputTokens)

	assert.Equal(t, "test-key", captured.Header.Get("x-api-key"))
	assert.NotEmpty(t, captured.Header.Get("anthropic-version"))
	assert.Equal(t, "/messages", captured.URL.Path)

	system := payload["system"].(string)
	assert.Contains(t, system, "persona prompt")
	assert.Contains(t, system, "mid-conversation instruction")

	// Only the user turn remains in messages.
	messages := payload["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])

	// max_tokens is required by the API, so a default is always sent.
	assert.NotZero(t, payload["max_tokens"])
}

func TestAnthropicAdapter_RateLimitIsTransient(t *testing.T) {
	srv := jsonServer(t, http.StatusTooManyRequests, `{"error": "overloaded"}`, nil, nil)
	defer srv.Close()

	a := NewAnthropicAdapter(Options{APIKey: "k", Model: "claude-sonnet-4-5", Endpoint: srv.URL})
	_, err := a.Generate(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

const geminiOKBody = `{
	"candidates": [{"content": {"parts": [{"text": "hello from gemini"}]}}],
	"usageMetadata": {"promptTokenCount": 15, "candidatesTokenCount": 6}
}`

func TestGeminiAdapter_Generate_MapsAssistantToModelRole(t *testing.T) {
	var captured http.Request
	var payload map[string]any
	srv := jsonServer(t, http.StatusOK, geminiOKBody, &captured, &payload)
	defer srv.Close()

	a := NewGeminiAdapter(Options{Name: "gemini", APIKey: "test-key", Model: "gemini-2.0-flash", Endpoint: srv.URL})

	resp, err := a.Generate(context.Background(), Request{
		Prompt: "persona",
		Turns: []Turn{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from gemini", resp.Text)

	assert.Contains(t, captured.URL.Path, "gemini-2.0-flash")
	assert.Equal(t, "test-key", captured.URL.Query().Get("key"))

	contents := payload["contents"].([]any)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.NotNil(t, payload["system_instruction"])
}

func TestGeminiAdapter_SupportsAudio(t *testing.T) {
	a := NewGeminiAdapter(Options{APIKey: "k", Model: "gemini-2.0-flash"})
	assert.True(t, a.Supports(MediaImage))
	assert.True(t, a.Supports(MediaAudio))
}

func TestGeminiAdapter_AnalyzeMedia_InlineData(t *testing.T) {
	var payload map[string]any
	srv := jsonServer(t, http.StatusOK, geminiOKBody, nil, &payload)
	defer srv.Close()

	a := NewGeminiAdapter(Options{APIKey: "k", Model: "gemini-2.0-flash", Endpoint: srv.URL})

	_, err := a.AnalyzeMedia(context.Background(), Media{
		Kind:     MediaAudio,
		MIMEType: "audio/ogg",
		Data:     []byte{1, 2, 3},
	}, "transcribe this")
	require.NoError(t, err)

	contents := payload["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
	assert.Equal(t, "audio/ogg", inline["mime_type"])
	assert.NotEmpty(t, inline["data"])
}

func TestTurnText_MediaFallsBackToDescription(t *testing.T) {
	assert.Equal(t, "spoken text", turnText(Turn{
		Role:  RoleUser,
		Media: &Media{Kind: MediaAudio, Description: "spoken text"},
	}))
	assert.Equal(t, "typed", turnText(Turn{Role: RoleUser, Content: "typed"}))
}
