package plan

import (
	"slices"

	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// #region enums

// ResponseMode selects the response strategy.
type ResponseMode string

const (
	ModeContinuity ResponseMode = "continuity"
	ModePastoral   ResponseMode = "pastoral"
	ModeStudy      ResponseMode = "study"
	ModeCoach      ResponseMode = "coach"
	ModeExplain    ResponseMode = "explain"
)

// ResponseModes lists every mode in rule precedence order.
var ResponseModes = []ResponseMode{ModeContinuity, ModePastoral, ModeStudy, ModeCoach, ModeExplain}

// Length is the response length target.
type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

// Need is a retrieval category the planner decided is relevant.
type Need string

const (
	NeedHighlights       Need = "verse_highlights"
	NeedNotes            Need = "verse_notes"
	NeedSemantic         Need = "artifact_semantic"
	NeedSessionSummaries Need = "conversation_session_summaries"
	NeedReadingSessions  Need = "reading_sessions"
)

// Needs lists every retrieval need.
var Needs = []Need{NeedHighlights, NeedNotes, NeedSemantic, NeedSessionSummaries, NeedReadingSessions}

// DefaultLimits are per-need result counts used when a plan does not set one.
var DefaultLimits = map[Need]int{
	NeedSemantic:         5,
	NeedHighlights:       5,
	NeedNotes:            5,
	NeedSessionSummaries: 3,
	NeedReadingSessions:  5,
}

// Source records which tier decided the plan.
type Source string

const (
	SourceRules Source = "rules"
	SourceLLM   Source = "llm"
)

// ScopeKind is the granularity of a scripture scope.
type ScopeKind string

const (
	ScopeBook    ScopeKind = "book"
	ScopeChapter ScopeKind = "chapter"
)

// ArtifactType is a personal artifact type the pipeline may retrieve.
type ArtifactType string

const (
	ArtifactVerseHighlight ArtifactType = "verse_highlight"
	ArtifactVerseNote      ArtifactType = "verse_note"
	ArtifactSessionSummary ArtifactType = "conversation_session_summary"
	ArtifactJournalEntry   ArtifactType = "journal_entry"
	ArtifactPrayer         ArtifactType = "prayer"
	ArtifactReflection     ArtifactType = "reflection"
)

// PersonalArtifactTypes is the fixed allowlist of retrievable artifact types.
var PersonalArtifactTypes = []ArtifactType{
	ArtifactVerseHighlight, ArtifactVerseNote, ArtifactSessionSummary,
	ArtifactJournalEntry, ArtifactPrayer, ArtifactReflection,
}

// NeedForArtifactType maps a typed artifact to the need that retrieves it directly.
// Types without a dedicated need return "".
func NeedForArtifactType(t ArtifactType) Need {
	switch t {
	case ArtifactVerseHighlight:
		return NeedHighlights
	case ArtifactVerseNote:
		return NeedNotes
	case ArtifactSessionSummary:
		return NeedSessionSummaries
	}
	return ""
}

// #endregion enums

// #region plan

// SafetyFlags are keyword-class detections, independent of retrieval needs.
type SafetyFlags struct {
	SelfHarm bool `json:"self_harm"`
	Violence bool `json:"violence"`
}

// Any reports whether any safety class fired.
func (s SafetyFlags) Any() bool { return s.SelfHarm || s.Violence }

// ResponsePlan is the response strategy.
type ResponsePlan struct {
	Mode           ResponseMode `json:"mode"`
	Length         Length       `json:"length"`
	Safety         SafetyFlags  `json:"safety"`
	SelfDisclosure bool         `json:"self_disclosure"`
	Situational    bool         `json:"situational"`
	Signals        []string     `json:"signals"`
	Source         Source       `json:"source"`
	Confidence     float64      `json:"confidence"`
}

// TemporalFilter restricts retrieval by date and/or orders it.
type TemporalFilter struct {
	Range     TemporalRange `json:"range,omitempty"`
	Direction Direction     `json:"direction,omitempty"`
}

// ScriptureScope narrows retrieval to a book or chapter.
type ScriptureScope struct {
	Kind    ScopeKind `json:"kind"`
	BookID  string    `json:"book_id"`
	Book    string    `json:"book"`
	Chapter int       `json:"chapter,omitempty"`
}

// Valid reports whether the scope has a canonical book id and, for chapter
// scope, an in-range chapter.
func (s *ScriptureScope) Valid() bool {
	if s == nil {
		return false
	}
	b, ok := BookByID(s.BookID)
	if !ok {
		return false
	}
	switch s.Kind {
	case ScopeBook:
		return true
	case ScopeChapter:
		return s.Chapter >= 1 && s.Chapter <= b.Chapters
	}
	return false
}

// Widen returns the book-level scope for a chapter scope.
func (s *ScriptureScope) Widen() *ScriptureScope {
	if s == nil {
		return nil
	}
	return &ScriptureScope{Kind: ScopeBook, BookID: s.BookID, Book: s.Book}
}

// RetrievalPlan specifies what context to fetch.
type RetrievalPlan struct {
	Needs         []Need          `json:"needs"`
	Temporal      *TemporalFilter `json:"temporal,omitempty"`
	Scope         *ScriptureScope `json:"scope,omitempty"`
	Query         string          `json:"query"`
	ArtifactTypes []ArtifactType  `json:"artifact_types"`
	Limits        map[Need]int    `json:"limits"`
}

// Plan is produced once per run and threaded read-only through later stages.
type Plan struct {
	Response          ResponsePlan       `json:"response"`
	Retrieval         RetrievalPlan      `json:"retrieval"`
	NormalizedMessage string             `json:"normalized_message"`
	Entities          []runctx.EntityRef `json:"entities,omitempty"`
	Tier              string             `json:"tier"`
}

// HasNeed reports whether n is in the need set.
func (p *Plan) HasNeed(n Need) bool {
	return slices.Contains(p.Retrieval.Needs, n)
}

// Limit returns the plan limit for n, else the default.
func (p *Plan) Limit(n Need) int {
	if v, ok := p.Retrieval.Limits[n]; ok && v > 0 {
		return v
	}
	return DefaultLimits[n]
}

// AllowsType reports whether t is in the artifact-type allowlist. An empty
// allowlist admits every personal type.
func (p *Plan) AllowsType(t ArtifactType) bool {
	if len(p.Retrieval.ArtifactTypes) == 0 {
		return slices.Contains(PersonalArtifactTypes, t)
	}
	return slices.Contains(p.Retrieval.ArtifactTypes, t)
}

// TemporalDirection returns the requested ordering, or "".
func (p *Plan) TemporalDirection() Direction {
	if p.Retrieval.Temporal == nil {
		return ""
	}
	return p.Retrieval.Temporal.Direction
}

// #endregion plan
