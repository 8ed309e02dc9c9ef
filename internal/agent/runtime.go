package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/providers"
	"github.com/nimbusworks/aviary/internal/store"
	"github.com/nimbusworks/aviary/internal/toolfed"
)

var tracer = otel.Tracer("github.com/nimbusworks/aviary/internal/agent")

const (
	// MaxHistoryMessages is the sliding window size for model calls,
	// counting the system prompt.
	MaxHistoryMessages = 10

	// MaxToolRoundTrips caps model->tool->model cycles in one turn.
	MaxToolRoundTrips = 8

	toolRetryAttempts = 2
	toolRetryDelay    = 500 * time.Millisecond
)

// ErrorReply is the canned final answer written when the model fails.
const ErrorReply = "An error occurred while generating the response"

// Recorder receives the messages produced during a turn. A nil Recorder
// (webhook turns) skips persistence entirely.
type Recorder interface {
	// Partial records one streamed text delta.
	Partial(ctx context.Context, text string)
	// Message records a completed message.
	Message(ctx context.Context, role store.Role, content store.MessageContent)
}

// Runtime executes turns for one materialised agent.
type Runtime struct {
	agentName    string
	provider     providers.Provider
	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
	tools        *toolfed.ToolSet
}

// Config configures a Runtime.
type Config struct {
	AgentName    string
	Provider     providers.Provider
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Tools        *toolfed.ToolSet
}

// New creates a Runtime.
func New(cfg Config) *Runtime {
	tools := cfg.Tools
	if tools == nil {
		tools = toolfed.NewToolSet()
	}
	return &Runtime{
		agentName:    cfg.AgentName,
		provider:     cfg.Provider,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		tools:        tools,
	}
}

// Tools returns the runtime's tool set.
func (r *Runtime) Tools() *toolfed.ToolSet { return r.tools }

// TurnRequest is the input for one conversational turn. History carries the
// prior conversation without the system prompt; the user message is appended
// by the caller as its last entry.
type TurnRequest struct {
	History  []providers.Message
	Stream   bool
	Recorder Recorder
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	Content        string
	ToolRoundTrips int
	Usage          providers.Usage
	ModelFailed    bool
}

type turnState int

const (
	stateCallModel turnState = iota
	stateCallTool
	stateDone
)

// Run executes the turn state machine: call the model, execute any requested
// tools, feed results back, and finish on a plain text answer. Cancellation
// is checked at every state transition; a cancelled turn writes no final
// message.
func (r *Runtime) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	messages := make([]providers.Message, len(req.History))
	copy(messages, req.History)

	result := &TurnResult{}
	var final string
	var pendingCalls []providers.ToolCall

	for state := stateCallModel; state != stateDone; {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(apperr.Cancelled, "turn cancelled", err)
		}

		switch state {
		case stateCallModel:
			resp, err := r.callModel(ctx, messages, req)
			if err != nil {
				if apperr.IsKind(err, apperr.Cancelled) || ctx.Err() != nil {
					return nil, apperr.Wrap(apperr.Cancelled, "turn cancelled", err)
				}
				slog.Error("agent.turn.model_failed", "agent", r.agentName, "error", err)
				final = ErrorReply
				result.ModelFailed = true
				r.record(ctx, req.Recorder, store.RoleAgent, store.TextContent(final))
				state = stateDone
				continue
			}
			if resp.Usage != nil {
				result.Usage.PromptTokens += resp.Usage.PromptTokens
				result.Usage.CompletionTokens += resp.Usage.CompletionTokens
				result.Usage.TotalTokens += resp.Usage.TotalTokens
			}

			content := SanitizeReply(resp.Content)

			if len(resp.ToolCalls) > 0 {
				if result.ToolRoundTrips >= MaxToolRoundTrips {
					slog.Warn("agent.turn.tool_budget_exhausted",
						"agent", r.agentName,
						"round_trips", result.ToolRoundTrips,
					)
					final = ErrorReply
					result.ModelFailed = true
					r.record(ctx, req.Recorder, store.RoleAgent, store.TextContent(final))
					state = stateDone
					continue
				}
				messages = append(messages, providers.Message{
					Role:      "assistant",
					Content:   content,
					ToolCalls: resp.ToolCalls,
				})
				r.record(ctx, req.Recorder, store.RoleAgent,
					store.ToolInvocationContent(toCallRecords(resp.ToolCalls)))
				pendingCalls = resp.ToolCalls
				state = stateCallTool
				continue
			}

			if content == "" {
				content = "..."
			}
			final = content
			r.record(ctx, req.Recorder, store.RoleAgent, store.TextContent(final))
			state = stateDone

		case stateCallTool:
			for _, tc := range pendingCalls {
				text, raw := r.executeTool(ctx, tc)
				if err := ctx.Err(); err != nil {
					return nil, apperr.Wrap(apperr.Cancelled, "turn cancelled", err)
				}
				messages = append(messages, providers.Message{
					Role:       "tool",
					Content:    text,
					ToolCallID: tc.ID,
				})
				r.record(ctx, req.Recorder, store.RoleTool, store.ToolResultContent(text, raw))
			}
			pendingCalls = nil
			result.ToolRoundTrips++
			state = stateCallModel
		}
	}

	result.Content = final
	return result, nil
}

func (r *Runtime) callModel(ctx context.Context, messages []providers.Message, req TurnRequest) (*providers.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "agent.call_model", trace.WithAttributes(
		attribute.String("agent.name", r.agentName),
		attribute.String("llm.model", r.model),
		attribute.Bool("llm.stream", req.Stream),
	))
	defer span.End()

	chatReq := providers.ChatRequest{
		Messages:    r.window(messages),
		Tools:       r.tools.Definitions(),
		Model:       r.model,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	}

	var resp *providers.ChatResponse
	var err error
	if req.Stream {
		// Deltas are sanitised incrementally so their concatenation
		// matches the sanitised final message.
		san := &streamSanitizer{}
		resp, err = r.provider.ChatStream(ctx, chatReq, func(chunk providers.StreamChunk) {
			if chunk.Content == "" || req.Recorder == nil {
				return
			}
			if out := san.feed(chunk.Content); out != "" {
				req.Recorder.Partial(ctx, out)
			}
		})
		if err == nil && req.Recorder != nil {
			if out := san.flush(); out != "" {
				req.Recorder.Partial(ctx, out)
			}
		}
	} else {
		resp, err = r.provider.Chat(ctx, chatReq)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
	}
	return resp, err
}

// window applies the sliding window: the system prompt plus the most recent
// MaxHistoryMessages-1 conversation messages.
func (r *Runtime) window(messages []providers.Message) []providers.Message {
	recent := messages
	if len(recent) > MaxHistoryMessages-1 {
		recent = recent[len(recent)-(MaxHistoryMessages-1):]
	}
	out := make([]providers.Message, 0, len(recent)+1)
	out = append(out, providers.Message{Role: "system", Content: r.systemPrompt})
	return append(out, recent...)
}

// executeTool invokes one tool with transient retry and returns the text the
// model will see plus the raw payload when the output was JSON.
func (r *Runtime) executeTool(ctx context.Context, tc providers.ToolCall) (string, json.RawMessage) {
	ctx, span := tracer.Start(ctx, "agent.call_tool", trace.WithAttributes(
		attribute.String("agent.name", r.agentName),
		attribute.String("tool.name", tc.Name),
	))
	defer span.End()

	var out string
	var err error
	for attempt := 0; ; attempt++ {
		out, err = r.tools.Invoke(ctx, tc.Name, tc.Arguments)
		if err == nil {
			break
		}
		if !apperr.IsKind(err, apperr.ToolTransientError) || attempt >= toolRetryAttempts {
			break
		}
		slog.Warn("agent.tool.retrying",
			"agent", r.agentName,
			"tool", tc.Name,
			"attempt", attempt+1,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return "", nil
		case <-time.After(toolRetryDelay):
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool invocation failed")
		if apperr.IsKind(err, apperr.ToolNotFound) {
			slog.Error("agent.tool.not_found", "agent", r.agentName, "tool", tc.Name)
			return fmt.Sprintf("Tool '%s' not found.", tc.Name), nil
		}
		slog.Error("agent.tool.failed", "agent", r.agentName, "tool", tc.Name, "error", err)
		return fmt.Sprintf("Error calling tool '%s': %v", tc.Name, err), nil
	}

	var raw json.RawMessage
	if json.Valid([]byte(out)) {
		raw = json.RawMessage(out)
	}
	return TruncateToolOutput(out), raw
}

func (r *Runtime) record(ctx context.Context, rec Recorder, role store.Role, content store.MessageContent) {
	if rec == nil {
		return
	}
	rec.Message(ctx, role, content)
}

func toCallRecords(calls []providers.ToolCall) []store.ToolCallRecord {
	records := make([]store.ToolCallRecord, len(calls))
	for i, tc := range calls {
		records[i] = store.ToolCallRecord{ID: tc.ID, Name: tc.Name, Args: tc.Arguments}
	}
	return records
}
