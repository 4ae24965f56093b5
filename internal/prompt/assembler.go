// Package prompt renders the system prompt and message list from the ranked
// selection. It produces the full content for the model call and the vault,
// and a redacted preview for the artifact trail.
package prompt

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/companion-pipeline/internal/candidate"
	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/rank"
	"github.com/danielpatrickdp/companion-pipeline/internal/redact"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// MessagePreviewLen caps each message preview in the artifact trail.
const MessagePreviewLen = 200

// #region types

// Options configures the assembler.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int
	HistoryTurns    int // most recent turns kept; 0 keeps none
}

// DefaultOptions mirrors the pipeline defaults.
func DefaultOptions() Options {
	return Options{Temperature: 0.7, MaxOutputTokens: 800, HistoryTurns: 10}
}

// Assembled is the full, unredacted prompt. It never goes to the artifact trail.
type Assembled struct {
	Model           string        `json:"model"`
	System          string        `json:"system"`
	Messages        []llm.Message `json:"messages"`
	Temperature     float32       `json:"temperature"`
	MaxOutputTokens int           `json:"max_output_tokens"`
}

// Request builds the completion request for the assembled prompt.
func (a Assembled) Request() llm.Request {
	return llm.Request{
		Model:           a.Model,
		Messages:        append([]llm.Message(nil), a.Messages...),
		MaxOutputTokens: a.MaxOutputTokens,
		Temperature:     llm.Float32(a.Temperature),
	}
}

// MessagePreview is one redacted, truncated message.
type MessagePreview struct {
	Role    llm.Role `json:"role"`
	Preview string   `json:"preview"`
	Chars   int      `json:"chars"`
}

// Preview is the redacted record persisted in the artifact trail.
type Preview struct {
	Model           string           `json:"model"`
	Messages        []MessagePreview `json:"messages"`
	MessageCount    int              `json:"message_count"`
	HistoryCount    int              `json:"history_count"`
	Sections        []Section        `json:"sections"`
	Temperature     float32          `json:"temperature"`
	MaxOutputTokens int              `json:"max_output_tokens"`
	Tokens          map[Section]int  `json:"tokens"`
	TotalTokens     int              `json:"total_tokens"`
	EstimateMethod  string           `json:"estimate_method"`
	PromptVersion   string           `json:"prompt_version"`
	ScriptureSource string           `json:"scripture_source,omitempty"` // "selection" | "entity"
}

// #endregion types

// #region assembler

// Assembler builds prompts. It is stateless and safe for concurrent use.
type Assembler struct {
	opts Options
}

// NewAssembler creates an Assembler.
func NewAssembler(opts Options) *Assembler {
	return &Assembler{opts: opts}
}

// Assemble renders the prompt for one run.
func (a *Assembler) Assemble(rc *runctx.RunContext, p *plan.Plan, sel rank.Result) (Assembled, Preview) {
	tokens := map[Section]int{}
	var blocks []string
	add := func(s Section, text string) {
		if text == "" {
			return
		}
		blocks = append(blocks, text)
		tokens[s] += rank.EstimateTokens(text)
	}

	base := baseChat
	if rc.Entrypoint().IsSessionStart() {
		base = baseSessionStart
	}
	add(SectionBase, base)
	if p.Response.Safety.Any() {
		add(SectionMode, safetyBlock)
	}
	add(SectionMode, modeBlocks[p.Response.Mode])
	add(SectionMode, lengthBlocks[p.Response.Length])
	if rc.IsFirstMessage() && !rc.Entrypoint().IsSessionStart() {
		add(SectionBase, firstTurn)
	}

	rendered, scriptureSource := renderSections(rc, p, sel.Candidates())
	var order []Section
	for _, s := range contextOrder {
		if body, ok := rendered[s]; ok {
			add(s, body)
			order = append(order, s)
		}
	}
	system := strings.Join(blocks, "\n\n")

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	history := rc.History()
	if n := a.opts.HistoryTurns; len(history) > n {
		history = history[len(history)-n:]
	}
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == string(llm.RoleAssistant) {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: turn.Content})
		tokens[SectionHistory] += rank.EstimateTokens(turn.Content)
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: rc.Message()})
	tokens[SectionUser] = rank.EstimateTokens(rc.Message())

	full := Assembled{
		Model:           a.opts.Model,
		System:          system,
		Messages:        msgs,
		Temperature:     a.opts.Temperature,
		MaxOutputTokens: a.opts.MaxOutputTokens,
	}
	pv := Preview{
		Model:           a.opts.Model,
		MessageCount:    len(msgs),
		HistoryCount:    len(history),
		Sections:        order,
		Temperature:     a.opts.Temperature,
		MaxOutputTokens: a.opts.MaxOutputTokens,
		Tokens:          tokens,
		EstimateMethod:  rank.EstimateMethod,
		PromptVersion:   Version,
		ScriptureSource: scriptureSource,
	}
	for _, m := range msgs {
		pv.Messages = append(pv.Messages, MessagePreview{
			Role:    m.Role,
			Preview: redact.Truncate(redact.Strip(m.Content), MessagePreviewLen),
			Chars:   len(m.Content),
		})
	}
	for _, n := range tokens {
		pv.TotalTokens += n
	}
	return full, pv
}

// #endregion assembler

// #region render

// renderSections turns the selection into section bodies keyed by section.
func renderSections(rc *runctx.RunContext, p *plan.Plan, sel []candidate.Candidate) (map[Section]string, string) {
	out := map[Section]string{}
	var life, memories, reading, scripture []string
	byType := map[plan.ArtifactType][]string{}
	for _, c := range sel {
		switch v := c.(type) {
		case *candidate.LifeContext:
			life = append(life, v.Content())
		case *candidate.Memory:
			memories = append(memories, "- "+v.Content())
		case *candidate.ReadingSession:
			reading = append(reading, "- "+v.Content())
		case *candidate.Scripture:
			scripture = append(scripture, "- "+v.Content())
		case *candidate.Artifact:
			byType[v.Type] = append(byType[v.Type], renderArtifact(v))
		}
	}

	if ic := strings.TrimSpace(rc.InitialContext()); ic != "" {
		out[SectionAppContext] = sectionHeadings[SectionAppContext] + "\n" + ic
	}
	if len(life) > 0 {
		out[SectionLifeContext] = sectionHeadings[SectionLifeContext] + "\n" + strings.Join(life, "\n")
	}
	if len(memories) > 0 {
		out[SectionMemory] = sectionHeadings[SectionMemory] + "\n" + strings.Join(memories, "\n")
	}
	var groups []string
	for _, t := range plan.PersonalArtifactTypes {
		if lines := byType[t]; len(lines) > 0 {
			groups = append(groups, artifactHeadings[t]+"\n"+strings.Join(lines, "\n"))
		}
	}
	if len(groups) > 0 {
		out[SectionArtifacts] = "## From the user's own writing\n" + strings.Join(groups, "\n\n")
	}
	if len(reading) > 0 {
		out[SectionReading] = sectionHeadings[SectionReading] + "\n" + strings.Join(reading, "\n")
	}

	source := ""
	if len(scripture) > 0 {
		source = "selection"
	} else if ref, ok := runctx.FirstVerseRef(p.Entities); ok {
		scripture = append(scripture, "- "+candidate.NewScripture(ref).Content())
		source = "entity"
	}
	if len(scripture) > 0 {
		out[SectionScripture] = sectionHeadings[SectionScripture] + "\n" + strings.Join(scripture, "\n")
	}
	return out, source
}

// renderArtifact formats one artifact line by type.
func renderArtifact(a *candidate.Artifact) string {
	day := a.CreatedAt.Format("Jan 2")
	body := strings.TrimSpace(a.Body)
	switch a.Type {
	case plan.ArtifactVerseHighlight:
		if body == "" {
			return fmt.Sprintf("- %s (highlighted %s)", a.VerseRef, day)
		}
		return fmt.Sprintf("- %s (highlighted %s): %s", a.VerseRef, day, body)
	case plan.ArtifactVerseNote:
		return fmt.Sprintf("- %s (%s): %q", a.VerseRef, day, body)
	case plan.ArtifactSessionSummary:
		return fmt.Sprintf("- %s: %s", day, body)
	}
	if a.Title != "" {
		return fmt.Sprintf("- (%s) %s: %s", day, a.Title, body)
	}
	return fmt.Sprintf("- (%s) %s", day, body)
}

// #endregion render
