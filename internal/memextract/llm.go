package memextract

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
)

const extractorSystemPrompt = `You pick out durable facts a user shared about themselves in one exchange with a Bible-reading companion.
Reply with ONE JSON object and nothing else:
{"memories": [{"kind": one of ["preference","fact","relationship","goal","prayer_request","theme"],
               "key": short snake_case name such as "preferred_translation" or "wife",
               "value": the fact in a few words,
               "confidence": number 0-1}]}
Only include facts that will still be true next week. Return {"memories": []} when there are none.`

// maxCandidates bounds what one turn may propose.
const maxCandidates = 8

// LLM extracts candidates with a JSON completion call. Any failure falls
// back to Fallback when set.
type LLM struct {
	Client    llm.Client
	Model     string
	MaxTokens int
	Fallback  Extractor
}

func (e *LLM) Name() string { return "llm" }

func (e *LLM) Extract(ctx context.Context, t Turn) ([]Candidate, error) {
	out, err := e.extract(ctx, t)
	if err != nil && e.Fallback != nil {
		return e.Fallback.Extract(ctx, t)
	}
	return out, err
}

func (e *LLM) extract(ctx context.Context, t Turn) ([]Candidate, error) {
	maxTokens := e.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	user := "User: " + t.Message
	if t.Response != "" {
		user += "\n\nCompanion: " + t.Response
	}
	resp, err := e.Client.Complete(ctx, llm.Request{
		Model: e.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractorSystemPrompt},
			{Role: llm.RoleUser, Content: user},
		},
		MaxOutputTokens: maxTokens,
		Temperature:     llm.Float32(0),
		JSONMode:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("extractor completion: %w", err)
	}
	choice, err := resp.First()
	if err != nil {
		return nil, err
	}
	var raw struct {
		Memories []Candidate `json:"memories"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(choice.Message.Content)), &raw); err != nil {
		return nil, fmt.Errorf("parse extractor json: %w", err)
	}
	return clean(raw.Memories), nil
}

// clean drops unknown kinds and empty fields and clamps confidence.
func clean(in []Candidate) []Candidate {
	var out []Candidate
	for _, c := range in {
		c.Kind = strings.TrimSpace(strings.ToLower(c.Kind))
		c.Key = strings.ReplaceAll(strings.TrimSpace(strings.ToLower(c.Key)), " ", "_")
		c.Value = strings.TrimSpace(c.Value)
		if !slices.Contains(kinds, c.Kind) || c.Key == "" || c.Value == "" {
			continue
		}
		c.Confidence = min(max(c.Confidence, 0), 1)
		out = append(out, c)
		if len(out) == maxCandidates {
			break
		}
	}
	return out
}
