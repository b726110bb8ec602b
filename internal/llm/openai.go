// ABOUTME: OpenAI chat-completions adapter.
// ABOUTME: Supports text generation and image analysis via content parts.

package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIAdapter binds the engine to the OpenAI chat completions API.
type OpenAIAdapter struct {
	name     string
	apiKey   string
	model    string
	endpoint string
	params   Params
	client   *http.Client
}

// NewOpenAIAdapter creates an adapter for the OpenAI API.
func NewOpenAIAdapter(opts Options) *OpenAIAdapter {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIAdapter{
		name:     name,
		apiKey:   opts.APIKey,
		model:    opts.Model,
		endpoint: strings.TrimRight(endpoint, "/"),
		params:   opts.Params,
		client:   newHTTPClient(),
	}
}

func (a *OpenAIAdapter) Name() string { return a.name }

// Supports reports media capability. Vision-capable chat models accept
// images; audio is not routed through this adapter.
func (a *OpenAIAdapter) Supports(kind MediaKind) bool { return kind == MediaImage }

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends the bounded context as a chat completion request.
func (a *OpenAIAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openAIMessage, 0, len(req.Turns)+1)
	if req.Prompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.Prompt})
	}
	for _, t := range req.Turns {
		messages = append(messages, openAIMessage{Role: string(t.Role), Content: turnText(t)})
	}
	return a.call(ctx, messages, req.Params)
}

// AnalyzeMedia sends an image alongside an instruction prompt.
func (a *OpenAIAdapter) AnalyzeMedia(ctx context.Context, media Media, prompt string) (*Response, error) {
	if !a.Supports(media.Kind) {
		return nil, fmt.Errorf("%s does not support %s media", a.name, media.Kind)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", media.MIMEType, base64.StdEncoding.EncodeToString(media.Data))
	messages := []openAIMessage{{
		Role: "user",
		Content: []openAIContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
		},
	}}
	return a.call(ctx, messages, Params{})
}

func (a *OpenAIAdapter) call(ctx context.Context, messages []openAIMessage, params Params) (*Response, error) {
	payload := openAIRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: pickFloat(params.Temperature, a.params.Temperature),
		MaxTokens:   pickInt(params.MaxTokens, a.params.MaxTokens),
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)

	var out openAIResponse
	if err := postJSON(ctx, a.client, a.endpoint+"/chat/completions", header, payload, &out); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, transient("openai: empty choices in response")
	}

	return &Response{
		Text:    out.Choices[0].Message.Content,
		Usage:   Usage{InputTokens: out.Usage.PromptTokens, OutputTokens: out.Usage.CompletionTokens},
		Adapter: a.name,
		Model:   a.model,
	}, nil
}

// turnText returns the text an adapter should send for a turn. Media turns
// fall back to their textual description.
func turnText(t Turn) string {
	if t.Content != "" {
		return t.Content
	}
	if t.Media != nil {
		return t.Media.Description
	}
	return ""
}

func pickFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func pickInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
