package modelcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/sideeffect"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// #region errors

// ErrorType classifies a failed tool call in the transcript.
type ErrorType string

const (
	ErrInvalidArguments ErrorType = "invalid_arguments"
	ErrUnknownTool      ErrorType = "unknown_tool"
	ErrSideEffect       ErrorType = "side_effect_failed"
	ErrDisabled         ErrorType = "disabled"
)

// ToolError carries a classification with the cause.
type ToolError struct {
	Type ErrorType
	Err  error
}

func (e *ToolError) Error() string { return string(e.Type) + ": " + e.Err.Error() }
func (e *ToolError) Unwrap() error { return e.Err }

func invalidArgs(format string, args ...any) error {
	return &ToolError{Type: ErrInvalidArguments, Err: fmt.Errorf(format, args...)}
}

// classify maps any tool error to its ErrorType.
func classify(err error) ErrorType {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Type
	}
	return ErrSideEffect
}

// #endregion errors

// #region registry

// Tool is a function the model may call. Every mutation goes through gw.
type Tool interface {
	Schema() llm.ToolSchema
	Call(ctx context.Context, rc *runctx.RunContext, gw sideeffect.Gateway, args json.RawMessage) (any, error)
}

// Registry holds the declared tools in declaration order.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry registers tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		name := t.Schema().Name
		r.order = append(r.order, name)
		r.tools[name] = t
	}
	return r
}

// DefaultTools returns the memory tools.
func DefaultTools() *Registry {
	return NewRegistry(RememberFact{}, ForgetFact{})
}

// Schemas lists the tool declarations sent to the provider.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema())
	}
	return out
}

// Call dispatches one tool call.
func (r *Registry) Call(ctx context.Context, rc *runctx.RunContext, gw sideeffect.Gateway, name string, args json.RawMessage) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &ToolError{Type: ErrUnknownTool, Err: fmt.Errorf("no tool named %q", name)}
	}
	return t.Call(ctx, rc, gw, args)
}

// #endregion registry

// #region remember-fact

// memoryKinds are the kinds remember_fact accepts.
var memoryKinds = []string{"preference", "fact", "relationship", "goal", "prayer_request"}

// RememberFact stores a durable fact the user asked to be remembered.
type RememberFact struct{}

func (RememberFact) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "remember_fact",
		Description: "Remember a durable fact the user shared about themselves, such as a preference, a relationship or a goal.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind":     map[string]any{"type": "string", "enum": memoryKinds},
				"key":      map[string]any{"type": "string", "description": "short stable name, e.g. preferred_translation"},
				"value":    map[string]any{"type": "string"},
				"strength": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			},
			"required": []string{"kind", "key", "value"},
		},
	}
}

type rememberArgs struct {
	Kind     string   `json:"kind"`
	Key      string   `json:"key"`
	Value    string   `json:"value"`
	Strength *float64 `json:"strength"`
}

func (RememberFact) Call(ctx context.Context, rc *runctx.RunContext, gw sideeffect.Gateway, raw json.RawMessage) (any, error) {
	var a rememberArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, invalidArgs("decode arguments: %v", err)
	}
	a.Kind = strings.TrimSpace(a.Kind)
	a.Key = strings.TrimSpace(a.Key)
	a.Value = strings.TrimSpace(a.Value)
	if a.Key == "" || a.Value == "" {
		return nil, invalidArgs("key and value are required")
	}
	if a.Kind == "" {
		a.Kind = "fact"
	}
	if !slices.Contains(memoryKinds, a.Kind) {
		return nil, invalidArgs("unknown kind %q", a.Kind)
	}
	strength := 0.8
	if a.Strength != nil {
		strength = min(max(*a.Strength, 0), 1)
	}

	m, err := gw.UpsertMemory(ctx, store.DurableMemory{
		UserID: rc.UserID(), Kind: a.Kind, Key: a.Key, Value: a.Value, Strength: strength,
	})
	if err != nil {
		return nil, &ToolError{Type: ErrSideEffect, Err: err}
	}
	return map[string]any{"memory_id": m.ID, "kind": m.Kind, "key": m.Key, "stored": gw.Live()}, nil
}

// #endregion remember-fact

// #region forget-fact

// ForgetFact deletes a durable memory by id.
type ForgetFact struct{}

func (ForgetFact) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "forget_fact",
		Description: "Forget a previously remembered fact when the user asks you to or says it is no longer true.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"memory_id": map[string]any{"type": "string"}},
			"required":   []string{"memory_id"},
		},
	}
}

func (ForgetFact) Call(ctx context.Context, rc *runctx.RunContext, gw sideeffect.Gateway, raw json.RawMessage) (any, error) {
	var a struct {
		MemoryID string `json:"memory_id"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, invalidArgs("decode arguments: %v", err)
	}
	if strings.TrimSpace(a.MemoryID) == "" {
		return nil, invalidArgs("memory_id is required")
	}
	if err := gw.DeleteMemory(ctx, rc.UserID(), a.MemoryID); err != nil {
		return nil, &ToolError{Type: ErrSideEffect, Err: err}
	}
	return map[string]any{"memory_id": a.MemoryID, "forgotten": gw.Live()}, nil
}

// #endregion forget-fact
