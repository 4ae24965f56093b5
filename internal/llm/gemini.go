package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient adapts the genai SDK to the provider-neutral Client interface.
type GeminiClient struct {
	cli *genai.Client
}

// NewGeminiClient builds a Gemini API client. An empty apiKey lets the SDK read
// GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{cli: cli}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

// #region complete

// Complete maps req onto GenerateContent. System messages become the system
// instruction; tool results become function responses.
func (g *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: int32(req.MaxOutputTokens),
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	var system []string
	var contents []*genai.Content
	toolNames := map[string]string{}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case RoleAssistant:
			c := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				toolNames[tc.ID] = tc.Name
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			contents = append(contents, c)
		case RoleTool:
			var out map[string]any
			if err := json.Unmarshal([]byte(m.Content), &out); err != nil {
				out = map[string]any{"output": m.Content}
			}
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID: m.ToolCallID, Name: toolNames[m.ToolCallID], Response: out,
				}}},
			})
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{Provider: g.Name(), StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return mapGeminiResponse(req.Model, resp), nil
}

func mapGeminiResponse(model string, resp *genai.GenerateContentResponse) *Response {
	r := &Response{Model: model}
	if resp.ModelVersion != "" {
		r.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		r.Usage.InputTokens = int(u.PromptTokenCount)
		r.Usage.OutputTokens = int(u.CandidatesTokenCount)
		if u.CachedContentTokenCount > 0 {
			n := int(u.CachedContentTokenCount)
			r.Usage.CachedTokens = &n
		}
		if u.ThoughtsTokenCount > 0 {
			n := int(u.ThoughtsTokenCount)
			r.Usage.ReasoningTokens = &n
		}
	}

	if len(resp.Candidates) == 0 && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		r.Choices = append(r.Choices, Choice{
			Message:      Message{Role: RoleAssistant, Refusal: "blocked: " + string(resp.PromptFeedback.BlockReason)},
			FinishReason: "content_filter",
		})
		return r
	}

	for _, cand := range resp.Candidates {
		m := Message{Role: RoleAssistant}
		if cand.Content != nil {
			var text strings.Builder
			for _, p := range cand.Content.Parts {
				if p.Text != "" && !p.Thought {
					text.WriteString(p.Text)
				}
				if fc := p.FunctionCall; fc != nil {
					args, _ := json.Marshal(fc.Args)
					id := fc.ID
					if id == "" {
						id = fmt.Sprintf("call_%d", len(m.ToolCalls))
					}
					m.ToolCalls = append(m.ToolCalls, ToolCall{ID: id, Name: fc.Name, Arguments: args})
				}
			}
			m.Content = text.String()
		}
		finish := strings.ToLower(string(cand.FinishReason))
		if cand.FinishReason == genai.FinishReasonSafety && m.Content == "" {
			m.Refusal = "blocked: SAFETY"
		}
		r.Choices = append(r.Choices, Choice{Message: m, FinishReason: finish})
	}
	return r
}

// #endregion complete
