package companion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/mentara/internal/observe"
	"github.com/MrWong99/mentara/pkg/provider/llm"
)

const (
	// DefaultHistoryWindow is how many previous messages accompany a prompt.
	DefaultHistoryWindow = 20

	// DefaultTemperature is the sampling temperature of chat replies.
	DefaultTemperature = 0.8

	// EmptyReply is used when the model answers with nothing.
	EmptyReply = "Aku di sini mendengarkanmu."

	// ErrorReply is used when no chat backend could answer.
	ErrorReply = "Maaf, ada kendala koneksi. Tarik napas sejenak, aku tetap di sini."
)

// Persona is the system instruction of the chat companion. %s is replaced by
// the user's display name.
const Persona = `You are "Mentara AI", a professional digital psychologist and empathic companion.
Your goal is to provide emotional support and validation.

Tone: warm, empathetic, non-judgmental, calm.
Language: Indonesian unless the user writes in English.
The user's name is %s.

Watch for signs of self-harm such as "bunuh diri", "menyerah", "ingin mati" or "menyakiti diri".
If you detect any, your reply MUST be exactly: "` + CrisisMarker + ` ` + CrisisReply + `"`

// ChatOption configures a [Chat].
type ChatOption func(*Chat)

// WithHistoryWindow sets how many previous messages are sent with a prompt.
func WithHistoryWindow(n int) ChatOption {
	return func(c *Chat) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(c *Chat) { c.temperature = t }
}

// WithCrisisDetector replaces the default detector.
func WithCrisisDetector(d *CrisisDetector) ChatOption {
	return func(c *Chat) { c.detector = d }
}

// WithChatMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithChatMetrics(m *observe.Metrics) ChatOption {
	return func(c *Chat) { c.metrics = m }
}

// Chat produces companion replies. It never returns an error: failures turn
// into the fixed [ErrorReply] and are logged.
type Chat struct {
	provider    llm.Provider
	detector    *CrisisDetector
	window      int
	temperature float64
	metrics     *observe.Metrics
}

// ChatReply is the outcome of one chat turn.
type ChatReply struct {
	// Content is the text shown to the user, without any crisis marker.
	Content string

	// Crisis is set when the message or the reply signalled a crisis.
	Crisis bool

	// Fallback is set when Content is a fixed text because the model failed
	// or answered with nothing.
	Fallback bool
}

// NewChat returns a companion backed by p.
func NewChat(p llm.Provider, opts ...ChatOption) *Chat {
	c := &Chat{
		provider:    p,
		window:      DefaultHistoryWindow,
		temperature: DefaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	if c.detector == nil {
		c.detector = NewCrisisDetector()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Respond answers text given the previous conversation. A message that
// matches a crisis keyword is answered with [CrisisReply] without asking the
// model.
func (c *Chat) Respond(ctx context.Context, userName string, history []Message, text string) ChatReply {
	return c.respond(ctx, userName, history, text, nil)
}

// RespondStream is Respond with incremental delivery: onDelta receives reply
// text as it arrives. Crisis replies and fallbacks are not streamed; the
// caller prints Content when Crisis or Fallback is set.
func (c *Chat) RespondStream(ctx context.Context, userName string, history []Message, text string, onDelta func(string)) ChatReply {
	return c.respond(ctx, userName, history, text, onDelta)
}

func (c *Chat) respond(ctx context.Context, userName string, history []Message, text string, onDelta func(string)) ChatReply {
	ctx, span := observe.StartSpan(ctx, "companion.chat")
	defer span.End()
	log := observe.Logger(ctx)

	if kw, ok := c.detector.Match(text); ok {
		c.metrics.CrisisDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "keyword")))
		span.SetAttributes(attribute.Bool("crisis", true))
		log.Warn("companion: crisis keyword detected", "keyword", kw)
		return ChatReply{Content: CrisisReply, Crisis: true}
	}

	req := c.buildRequest(userName, history, text)

	start := time.Now()
	var (
		content string
		err     error
	)
	if onDelta != nil {
		content, err = c.stream(ctx, req, onDelta)
	} else {
		var resp *llm.CompletionResponse
		if resp, err = c.provider.Complete(ctx, req); err == nil {
			content = resp.Content
		}
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("status", status)))

	if err != nil {
		log.Error("companion: chat completion failed", "err", err)
		span.RecordError(err)
		return ChatReply{Content: ErrorReply, Fallback: true}
	}
	return c.finish(ctx, content)
}

// finish turns raw model output into a reply.
func (c *Chat) finish(ctx context.Context, content string) ChatReply {
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatReply{Content: EmptyReply, Fallback: true}
	}
	if strings.Contains(content, CrisisMarker) {
		c.metrics.CrisisDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "model")))
		content = strings.TrimSpace(strings.Replace(content, CrisisMarker, "", 1))
		if content == "" {
			content = CrisisReply
		}
		return ChatReply{Content: content, Crisis: true}
	}
	return ChatReply{Content: content}
}

// stream collects a streamed reply. Deltas are held back until it is clear
// the reply does not start with the crisis marker.
func (c *Chat) stream(ctx context.Context, req llm.CompletionRequest, onDelta func(string)) (string, error) {
	ch, err := c.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	var (
		sb      strings.Builder
		flushed int
		marked  bool
	)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if !marked && flushed < sb.Len() {
					onDelta(sb.String()[flushed:])
				}
				return sb.String(), nil
			}
			if chunk.FinishReason == llm.FinishReasonError {
				return "", &llm.StreamError{Message: chunk.Text}
			}
			sb.WriteString(chunk.Text)

			head := strings.TrimLeft(sb.String(), " \n")
			if marked || (len(head) < len(CrisisMarker) && strings.HasPrefix(CrisisMarker, head)) {
				continue
			}
			if strings.HasPrefix(head, CrisisMarker) {
				marked = true
				continue
			}
			onDelta(sb.String()[flushed:])
			flushed = sb.Len()
		}
	}
}

// buildRequest assembles the prompt: persona, the last window messages and
// the new user text. Older messages are dropped further while the estimate
// exceeds the model's context window.
func (c *Chat) buildRequest(userName string, history []Message, text string) llm.CompletionRequest {
	if len(history) > c.window {
		history = history[len(history)-c.window:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(Persona, userName),
		Messages:     msgs,
		Temperature:  c.temperature,
	}

	caps := c.provider.Capabilities()
	if budget := caps.ContextWindow - caps.MaxOutputTokens; caps.ContextWindow > 0 && budget > 0 {
		for len(req.Messages) > 1 {
			n, err := c.provider.CountTokens(req.Messages)
			if err != nil || n <= budget {
				break
			}
			req.Messages = req.Messages[1:]
		}
	}
	return req
}
