// ABOUTME: Anthropic messages API adapter.
// ABOUTME: Folds system turns into the top-level system field; images travel as base64 blocks.

package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1"
	anthropicVersion         = "2023-06-01"
	anthropicDefaultMaxTok   = 1024
)

// AnthropicAdapter binds the engine to the Anthropic messages API.
type AnthropicAdapter struct {
	name     string
	apiKey   string
	model    string
	endpoint string
	params   Params
	client   *http.Client
}

// NewAnthropicAdapter creates an adapter for the Anthropic API.
func NewAnthropicAdapter(opts Options) *AnthropicAdapter {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultAnthropicEndpoint
	}
	name := opts.Name
	if name == "" {
		name = "anthropic"
	}
	return &AnthropicAdapter{
		name:     name,
		apiKey:   opts.APIKey,
		model:    opts.Model,
		endpoint: strings.TrimRight(endpoint, "/"),
		params:   opts.Params,
		client:   newHTTPClient(),
	}
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) Supports(kind MediaKind) bool { return kind == MediaImage }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate sends the bounded context as a messages request. System turns in
// the window are folded into the system field, since the API rejects a
// "system" role inside messages.
func (a *AnthropicAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	var system []string
	if req.Prompt != "" {
		system = append(system, req.Prompt)
	}

	messages := make([]anthropicMessage, 0, len(req.Turns))
	for _, t := range req.Turns {
		if t.Role == RoleSystem {
			system = append(system, turnText(t))
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(t.Role), Content: turnText(t)})
	}

	return a.call(ctx, strings.Join(system, "\n\n"), messages, req.Params)
}

// AnalyzeMedia sends an image as a base64 content block.
func (a *AnthropicAdapter) AnalyzeMedia(ctx context.Context, media Media, prompt string) (*Response, error) {
	if !a.Supports(media.Kind) {
		return nil, fmt.Errorf("%s does not support %s media", a.name, media.Kind)
	}
	messages := []anthropicMessage{{
		Role: "user",
		Content: []anthropicBlock{
			{Type: "image", Source: &anthropicSource{
				Type:      "base64",
				MediaType: media.MIMEType,
				Data:      base64.StdEncoding.EncodeToString(media.Data),
			}},
			{Type: "text", Text: prompt},
		},
	}}
	return a.call(ctx, "", messages, Params{})
}

func (a *AnthropicAdapter) call(ctx context.Context, system string, messages []anthropicMessage, params Params) (*Response, error) {
	maxTokens := pickInt(params.MaxTokens, a.params.MaxTokens)
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTok // required field
	}
	payload := anthropicRequest{
		Model:       a.model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: pickFloat(params.Temperature, a.params.Temperature),
	}

	header := http.Header{}
	header.Set("x-api-key", a.apiKey)
	header.Set("anthropic-version", anthropicVersion)

	var out anthropicResponse
	if err := postJSON(ctx, a.client, a.endpoint+"/messages", header, payload, &out); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, transient("anthropic: no text content in response")
	}

	return &Response{
		Text:    text.String(),
		Usage:   Usage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens},
		Adapter: a.name,
		Model:   a.model,
	}, nil
}
