package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a provider answers 2xx with no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// #region messages

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat message.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Refusal    string     `json:"refusal,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model request to run a declared tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSchema declares a callable tool with a JSON-schema parameter object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// #endregion messages

// #region request-response

// Request is a provider-neutral completion request.
type Request struct {
	Model           string       `json:"model"`
	Messages        []Message    `json:"messages"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
	Temperature     *float32     `json:"temperature,omitempty"`
	Tools           []ToolSchema `json:"tools,omitempty"`
	JSONMode        bool         `json:"json_mode,omitempty"`
}

// Response is a provider-neutral completion response.
type Response struct {
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion alternative.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token accounting. Sub-breakdowns are nil when the provider does not report them.
type Usage struct {
	InputTokens     int  `json:"input_tokens"`
	OutputTokens    int  `json:"output_tokens"`
	CachedTokens    *int `json:"cached_tokens,omitempty"`
	ReasoningTokens *int `json:"reasoning_tokens,omitempty"`
}

// First returns the first choice, or ErrEmptyResponse.
func (r *Response) First() (Choice, error) {
	if r == nil || len(r.Choices) == 0 {
		return Choice{}, ErrEmptyResponse
	}
	return r.Choices[0], nil
}

// #endregion request-response

// #region client

// Client is the completion-provider collaborator.
type Client interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Float32 returns a pointer to v.
func Float32(v float32) *float32 { return &v }

// StripFences removes a ```json fence some models add despite JSON mode.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// #endregion client

// #region errors

// ProviderError is raised for non-2xx provider responses.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// #endregion errors
