// ABOUTME: Google Gemini generateContent adapter.
// ABOUTME: Handles image and audio payloads as inline data parts.

package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter binds the engine to the Gemini generateContent API.
type GeminiAdapter struct {
	name     string
	apiKey   string
	model    string
	endpoint string
	params   Params
	client   *http.Client
}

// NewGeminiAdapter creates an adapter for the Gemini API.
func NewGeminiAdapter(opts Options) *GeminiAdapter {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	name := opts.Name
	if name == "" {
		name = "gemini"
	}
	return &GeminiAdapter{
		name:     name,
		apiKey:   opts.APIKey,
		model:    opts.Model,
		endpoint: strings.TrimRight(endpoint, "/"),
		params:   opts.Params,
		client:   newHTTPClient(),
	}
}

func (a *GeminiAdapter) Name() string { return a.name }

// Supports reports media capability. Gemini accepts both image and audio
// inline data, making it the fallback for audio events.
func (a *GeminiAdapter) Supports(kind MediaKind) bool {
	return kind == MediaImage || kind == MediaAudio
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"system_instruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Generate sends the bounded context as a generateContent request. The
// assistant role maps to Gemini's "model" role.
func (a *GeminiAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	var system *geminiContent
	if req.Prompt != "" {
		system = &geminiContent{Parts: []geminiPart{{Text: req.Prompt}}}
	}

	contents := make([]geminiContent, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: turnText(t)}},
		})
	}

	return a.call(ctx, system, contents, req.Params)
}

// AnalyzeMedia sends the payload as inline data next to the prompt text.
func (a *GeminiAdapter) AnalyzeMedia(ctx context.Context, media Media, prompt string) (*Response, error) {
	if !a.Supports(media.Kind) {
		return nil, fmt.Errorf("%s does not support %s media", a.name, media.Kind)
	}
	contents := []geminiContent{{
		Role: "user",
		Parts: []geminiPart{
			{Text: prompt},
			{InlineData: &geminiInlineData{
				MIMEType: media.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(media.Data),
			}},
		},
	}}
	return a.call(ctx, nil, contents, Params{})
}

func (a *GeminiAdapter) call(ctx context.Context, system *geminiContent, contents []geminiContent, params Params) (*Response, error) {
	payload := geminiRequest{
		SystemInstruction: system,
		Contents:          contents,
	}
	temp := pickFloat(params.Temperature, a.params.Temperature)
	maxTok := pickInt(params.MaxTokens, a.params.MaxTokens)
	if temp != 0 || maxTok != 0 {
		payload.GenerationConfig = &geminiGenConfig{Temperature: temp, MaxOutputTokens: maxTok}
	}

	callURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		a.endpoint, a.model, url.QueryEscape(a.apiKey))

	var out geminiResponse
	if err := postJSON(ctx, a.client, callURL, nil, payload, &out); err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, transient("gemini: no candidates in response")
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return &Response{
		Text: text.String(),
		Usage: Usage{
			InputTokens:  out.UsageMetadata.PromptTokenCount,
			OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		},
		Adapter: a.name,
		Model:   a.model,
	}, nil
}
