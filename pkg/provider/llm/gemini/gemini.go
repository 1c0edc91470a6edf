// Package gemini provides an LLM provider backed by the Google Gen AI SDK
// (Gemini Developer API). It is the default chat backend of the companion.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/mentara/pkg/provider/llm"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gemini-3-flash-preview"

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using google.golang.org/genai.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	baseURL string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New constructs a Gemini provider. An empty model selects [DefaultModel].
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	contents, gcfg, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, gcfg) {
			out := llm.Chunk{}
			if err != nil {
				out = llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()}
			} else {
				out.Text = resp.Text()
				if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
					out.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
				}
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, gcfg, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, gcfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("gemini: empty candidates in response")
	}

	out := &llm.CompletionResponse{Content: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// CountTokens implements llm.Provider with a local estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return llm.ModelCapabilities{
		ContextWindow:     1_048_576,
		MaxOutputTokens:   65_536,
		SupportsStreaming: true,
	}
}

// buildRequest maps the conversation onto Gemini contents. Assistant turns
// use the "model" role; system messages inside the history are folded into
// the system instruction.
func buildRequest(req llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("gemini: no messages")
	}

	system := []string{}
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		default:
			return nil, nil, fmt.Errorf("gemini: unknown message role %q", m.Role)
		}
	}

	gcfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		gcfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.Temperature != 0 {
		gcfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		gcfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, gcfg, nil
}
