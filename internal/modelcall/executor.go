// Package modelcall sends the assembled prompt to the completion provider and
// runs any declared tools the model asks for.
package modelcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
	"github.com/danielpatrickdp/companion-pipeline/internal/redact"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/sideeffect"
)

const (
	// DefaultMaxToolRounds bounds tool-call iterations per run.
	DefaultMaxToolRounds = 2
	// ResponsePreviewLen caps the redacted response kept in the trail.
	ResponsePreviewLen = 500
	toolOutputLen      = 200
)

// #region types

// Source tags which response shape the provider returned.
type Source string

const (
	SourceContent Source = "content"
	SourceRefusal Source = "refusal"
	SourceEmpty   Source = "empty"
)

// ToolCall is one transcript entry.
type ToolCall struct {
	Name      string    `json:"name"`
	Arguments string    `json:"arguments"` // redacted
	LatencyMS int64     `json:"latency_ms"`
	Output    string    `json:"output,omitempty"` // redacted, truncated
	Success   bool      `json:"success"`
	ErrorType ErrorType `json:"error_type,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Result is the model call outcome. Text is the full response and is never
// written to the artifact trail; Preview is.
type Result struct {
	Text           string     `json:"-"`
	Preview        string     `json:"preview"`
	ResponseSource Source     `json:"response_source"`
	Model          string     `json:"model"`
	Provider       string     `json:"provider"`
	FinishReason   string     `json:"finish_reason"`
	LatencyMS      int64      `json:"latency_ms"`
	Usage          llm.Usage  `json:"usage"`
	Rounds         int        `json:"rounds"`
	ToolsEnabled   bool       `json:"tools_enabled"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
}

// Options configures the executor.
type Options struct {
	ToolCalling   bool
	MaxToolRounds int
}

// #endregion types

// #region executor

// Executor runs the model call.
type Executor struct {
	client llm.Client
	tools  *Registry
	opts   Options
}

// NewExecutor creates an Executor. A nil registry means DefaultTools.
func NewExecutor(client llm.Client, tools *Registry, opts Options) *Executor {
	if tools == nil {
		tools = DefaultTools()
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Executor{client: client, tools: tools, opts: opts}
}

// Execute sends req and resolves tool calls through gw. Provider errors are
// returned wrapped; they are the only errors Execute returns.
func (e *Executor) Execute(ctx context.Context, rc *runctx.RunContext, req llm.Request, gw sideeffect.Gateway) (Result, error) {
	log := rc.Logger()
	start := time.Now()
	res := Result{Provider: e.client.Name(), Model: req.Model, ToolsEnabled: e.opts.ToolCalling}
	req.Messages = append([]llm.Message(nil), req.Messages...)
	if e.opts.ToolCalling {
		req.Tools = e.tools.Schemas()
	}

	for {
		if res.Rounds >= e.opts.MaxToolRounds {
			// Out of rounds: the model must answer in text.
			req.Tools = nil
		}
		resp, err := e.client.Complete(ctx, req)
		if err != nil {
			return res, fmt.Errorf("complete: %w", err)
		}
		addUsage(&res.Usage, resp.Usage)
		if resp.Model != "" {
			res.Model = resp.Model
		}
		choice, err := resp.First()
		if errors.Is(err, llm.ErrEmptyResponse) {
			res.ResponseSource = SourceEmpty
			break
		}
		res.FinishReason = choice.FinishReason
		msg := choice.Message

		if len(msg.ToolCalls) == 0 || req.Tools == nil {
			for _, tc := range msg.ToolCalls {
				res.ToolCalls = append(res.ToolCalls, ToolCall{
					Name: tc.Name, Arguments: redact.Preview(string(tc.Arguments)),
					ErrorType: ErrDisabled, Error: "tool calling is not available",
				})
			}
			res.setText(msg)
			break
		}

		res.Rounds++
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Content: msg.Content, ToolCalls: msg.ToolCalls})
		for _, tc := range msg.ToolCalls {
			entry, output := e.runTool(ctx, rc, gw, tc)
			res.ToolCalls = append(res.ToolCalls, entry)
			log.Debug("modelcall.tool",
				zap.String("tool", tc.Name),
				zap.Bool("success", entry.Success),
				zap.String("error_type", string(entry.ErrorType)),
				zap.Bool("live", gw.Live()))
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: output})
		}
	}

	res.LatencyMS = time.Since(start).Milliseconds()
	res.Preview = redact.Truncate(redact.Strip(res.Text), ResponsePreviewLen)
	return res, nil
}

func (r *Result) setText(msg llm.Message) {
	switch {
	case msg.Content != "":
		r.Text, r.ResponseSource = msg.Content, SourceContent
	case msg.Refusal != "":
		r.Text, r.ResponseSource = msg.Refusal, SourceRefusal
	default:
		r.ResponseSource = SourceEmpty
	}
}

// runTool executes one call. The returned output is what the model sees.
func (e *Executor) runTool(ctx context.Context, rc *runctx.RunContext, gw sideeffect.Gateway, tc llm.ToolCall) (ToolCall, string) {
	entry := ToolCall{Name: tc.Name, Arguments: redact.Preview(string(tc.Arguments))}
	start := time.Now()
	out, err := e.tools.Call(ctx, rc, gw, tc.Name, tc.Arguments)
	entry.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		entry.ErrorType = classify(err)
		entry.Error = err.Error()
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return entry, string(b)
	}
	b, err := json.Marshal(out)
	if err != nil {
		entry.ErrorType = ErrSideEffect
		entry.Error = fmt.Sprintf("encode tool output: %v", err)
		return entry, `{"error":"unencodable output"}`
	}
	entry.Success = true
	entry.Output = redact.Truncate(redact.Strip(string(b)), toolOutputLen)
	return entry, string(b)
}

func addUsage(dst *llm.Usage, u llm.Usage) {
	dst.InputTokens += u.InputTokens
	dst.OutputTokens += u.OutputTokens
	if u.CachedTokens != nil {
		n := *u.CachedTokens
		if dst.CachedTokens != nil {
			n += *dst.CachedTokens
		}
		dst.CachedTokens = &n
	}
	if u.ReasoningTokens != nil {
		n := *u.ReasoningTokens
		if dst.ReasoningTokens != nil {
			n += *dst.ReasoningTokens
		}
		dst.ReasoningTokens = &n
	}
}

// #endregion executor
