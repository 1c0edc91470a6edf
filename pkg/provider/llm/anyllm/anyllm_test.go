package anyllm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/mentara/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
		wantErr  string
	}{
		{"empty provider", "", "m", "providerName"},
		{"empty model", "ollama", "", "model"},
		{"unsupported", "skynet", "m", "unsupported provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.provider, tt.model)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New(%q, %q) error = %v, want it to mention %q", tt.provider, tt.model, err, tt.wantErr)
			}
		})
	}
}

func TestNew_OllamaNeedsNoKey(t *testing.T) {
	t.Parallel()

	p, err := New("Ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Name() = %q, want ollama", p.Name())
	}
}

func TestNew_AnthropicWithKey(t *testing.T) {
	t.Parallel()

	if _, err := New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-test")); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Kamu adalah Mentara AI.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Halo"},
			{Role: llm.RoleAssistant, Content: "Hai!"},
		},
		Temperature: 0.8,
		MaxTokens:   256,
	})

	if params.Model != "llama3.2" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 3 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("Messages = %+v, want system prompt first", params.Messages)
	}
	if params.Messages[2].ContentString() != "Hai!" {
		t.Errorf("last message = %q", params.Messages[2].ContentString())
	}
	if params.Temperature == nil || *params.Temperature != 0.8 {
		t.Errorf("Temperature = %v, want 0.8", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v, want 256", params.MaxTokens)
	}
}

func TestBuildParams_OmitsZeroValues(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("zero temperature/max tokens should be omitted, got %v / %v", params.Temperature, params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("Messages = %d, want 1 without a system prompt", len(params.Messages))
	}
}

func TestComplete_RejectsEmptyRequest(t *testing.T) {
	t.Parallel()

	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("expected error for request without messages")
	}
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("expected stream error for request without messages")
	}
}

func TestComplete_OpenAICompatibleServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Teruslah berproses."}}],
			"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "insight"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Teruslah berproses." {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model       string
		wantContext int
	}{
		{"claude-3-5-haiku-latest", 200_000},
		{"Gemini-2.0-Flash", 1_048_576},
		{"llama3.2", 8_192},
		{"deepseek-chat", 64_000},
		{"mistral-small", 32_000},
		{"unknown", 128_000},
	}
	for _, tt := range tests {
		if got := modelCapabilities(tt.model).ContextWindow; got != tt.wantContext {
			t.Errorf("%s: ContextWindow = %d, want %d", tt.model, got, tt.wantContext)
		}
	}
}
