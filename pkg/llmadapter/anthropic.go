// Package llmadapter implements the LLM port (pkg/ports.LLM) against
// the Anthropic Messages API, with the retry/backoff and
// circuit-breaking policy required for turn-level upstream
// calls: 30s per-call timeout, up to 3 retries with exponential
// backoff (base 1s, cap 10s), and a breaker that trips after repeated
// failures so a wedged provider fails fast instead of stalling every
// turn for 30s each.
package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/aegisops/aegis/pkg/ports"
)

// structuredUpdateTool is the tool name the adapter forces a
// tool_choice call against when the caller asks for a JSON-schema
// response: the Messages API has no native "response_format" knob like
// some providers, so a forced tool call is the idiomatic way to get a
// schema-conformant reply out of Claude.
const structuredUpdateTool = "structured_update"

// Config tunes retry, timeout, and breaker behaviour. Zero value is
// invalid; use NewConfig for sane defaults.
type Config struct {
	Model           string
	Temperature     float64
	MaxTokens       int64
	CallTimeout     time.Duration
	MaxRetries      uint64
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	BreakerFailures uint32
}

// NewConfig returns the default policy: 30s call timeout, 3
// retries, backoff base 1s capped at 10s.
func NewConfig(model string) Config {
	return Config{
		Model:           model,
		Temperature:     0.2,
		MaxTokens:       4096,
		CallTimeout:     30 * time.Second,
		MaxRetries:      3,
		BackoffBase:     time.Second,
		BackoffCap:      10 * time.Second,
		BreakerFailures: 5,
	}
}

// Adapter implements ports.LLM against the Anthropic SDK.
type Adapter struct {
	client  anthropic.Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker[anthropic.Message]
}

// New constructs an Adapter. apiKey is the Anthropic API key; cfg
// should come from NewConfig with any operator overrides applied.
func New(apiKey string, cfg Config) *Adapter {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	breaker := gobreaker.NewCircuitBreaker[anthropic.Message](gobreaker.Settings{
		Name:    "anthropic-messages",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})

	return &Adapter{client: client, cfg: cfg, breaker: breaker}
}

func (a *Adapter) toAnthropicMessages(messages []ports.ChatMessage) (system string, out []anthropic.MessageParam) {
	for _, m := range messages {
		switch m.Role {
		case ports.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case ports.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case ports.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case ports.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return system, out
}

// Chat implements ports.LLM. A single call is retried up to
// cfg.MaxRetries times with exponential backoff, through the breaker;
// once the breaker is open calls fail immediately without waiting out
// the per-call timeout, matching the intended failure model for
// UpstreamUnavailable.
func (a *Adapter) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	system, msgs := a.toAnthropicMessages(req.Messages)

	model := anthropic.Model(a.cfg.Model)
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := a.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if req.ResponseFormat == ports.ResponseFormatJSONSchema && len(req.JSONSchema) > 0 {
		var schema any
		if err := json.Unmarshal(req.JSONSchema, &schema); err != nil {
			return ports.ChatResponse{}, fmt.Errorf("invalid JSON schema for structured update: %w", err)
		}
		params.Tools = []anthropic.ToolUnionParam{
			{OfTool: &anthropic.ToolParam{Name: structuredUpdateTool, InputSchema: anthropic.ToolInputSchemaParam{Properties: schema}}},
		}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: structuredUpdateTool},
		}
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = a.cfg.BackoffBase
	boff.MaxInterval = a.cfg.BackoffCap
	retrier := backoff.WithMaxRetries(boff, a.cfg.MaxRetries)

	var message anthropic.Message
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()

		result, err := a.breaker.Execute(func() (anthropic.Message, error) {
			msg, err := a.client.Messages.New(callCtx, params)
			if err != nil {
				return anthropic.Message{}, err
			}
			return *msg, nil
		})
		if err != nil {
			return err
		}
		message = result
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(retrier, ctx)); err != nil {
		return ports.ChatResponse{}, fmt.Errorf("anthropic chat completion: %w", err)
	}

	return toChatResponse(message), nil
}

func toChatResponse(message anthropic.Message) ports.ChatResponse {
	resp := ports.ChatResponse{
		Model: string(message.Model),
		Usage: ports.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
		FinishReason: string(message.StopReason),
	}

	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			if variant.Name == structuredUpdateTool {
				resp.Parsed, _ = variant.Input.MarshalJSON()
			}
			resp.ToolCalls = append(resp.ToolCalls, ports.ToolCall{
				ID:            variant.ID,
				Name:          variant.Name,
				ArgumentsJSON: string(variant.Input),
			})
		}
	}
	return resp
}

// Stream implements ports.LLM's streaming call. The Anthropic SDK's
// MessageNewStreaming returns a server-sent-event iterator; chunks are
// forwarded as plain text deltas.
func (a *Adapter) Stream(ctx context.Context, req ports.ChatRequest) (<-chan ports.StreamChunk, error) {
	system, msgs := a.toAnthropicMessages(req.Messages)
	model := anthropic.Model(a.cfg.Model)
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := a.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{Model: model, MaxTokens: maxTokens, Messages: msgs}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	out := make(chan ports.StreamChunk, 16)
	go func() {
		defer close(out)
		stream := a.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
					select {
					case out <- ports.StreamChunk{Content: text.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- ports.StreamChunk{Err: err, Done: true}
			return
		}
		out <- ports.StreamChunk{Done: true}
	}()
	return out, nil
}

// Embed always returns an error without calling the API. Anthropic does
// not currently publish a first-party embeddings model; callers that
// need vector embeddings configure pkg/vectoradapter with its own
// embedder (see DESIGN.md). This method exists to satisfy ports.LLM for
// components that only ever call Chat/Stream.
func (a *Adapter) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	return nil, fmt.Errorf("llmadapter: embeddings are not supported by the Anthropic Messages API adapter")
}
