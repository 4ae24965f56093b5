package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
)

// errNoMessage makes the LLM tier yield for empty input.
var errNoMessage = errors.New("plan: empty message")

const plannerSystemPrompt = `You route messages for a Bible-reading companion. Reply with ONE JSON object and nothing else:
{"response_mode": one of ["continuity","pastoral","study","coach","explain"],
 "length": one of ["short","medium","long"],
 "needs": subset of ["verse_highlights","verse_notes","artifact_semantic","conversation_session_summaries","reading_sessions"],
 "temporal": null or {"range": one of ["today","yesterday","this_week","last_week","this_month","last_month","recent","this_year"] or null, "direction": "oldest" | "newest" | null},
 "scope": null or {"kind": "book" | "chapter", "book_id": 3-character USFM id such as "ROM" or "1CO", "chapter": integer or null},
 "query": short search query for the user's personal notes,
 "artifact_types": subset of ["verse_highlight","verse_note","conversation_session_summary","journal_entry","prayer","reflection"],
 "limits": object mapping need to an integer 1-20,
 "confidence": number 0-1,
 "signals": short strings explaining the decision}
Use an empty needs list when no personal context is relevant.`

// #region raw

// rawPlan is the closed output schema of the planner call.
type rawPlan struct {
	ResponseMode  string         `json:"response_mode"`
	Length        string         `json:"length"`
	Needs         []string       `json:"needs"`
	Temporal      *rawTemporal   `json:"temporal"`
	Scope         *rawScope      `json:"scope"`
	Query         string         `json:"query"`
	ArtifactTypes []string       `json:"artifact_types"`
	Limits        map[string]int `json:"limits"`
	Confidence    *float64       `json:"confidence"`
	Signals       []string       `json:"signals"`
}

type rawTemporal struct {
	Range     string `json:"range"`
	Direction string `json:"direction"`
}

type rawScope struct {
	Kind    string `json:"kind"`
	BookID  string `json:"book_id"`
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
}

// #endregion raw

// #region llm-tier

// llmTier is tier 2: a constrained completion call.
type llmTier struct {
	client    llm.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

func (t *llmTier) attempt(ctx context.Context, in tierInput) (*Plan, error) {
	if in.message == "" {
		return nil, errNoMessage
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	user := in.message
	if hints := in.analysis.signals(); len(hints) > 0 {
		user += "\n\n[detected] " + strings.Join(hints, ", ")
	}
	resp, err := t.client.Complete(ctx, llm.Request{
		Model: t.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: plannerSystemPrompt},
			{Role: llm.RoleUser, Content: user},
		},
		MaxOutputTokens: t.maxTokens,
		Temperature:     llm.Float32(0),
		JSONMode:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}
	choice, err := resp.First()
	if err != nil {
		return nil, err
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(llm.StripFences(choice.Message.Content)), &raw); err != nil {
		return nil, fmt.Errorf("parse planner json: %w", err)
	}
	return sanitize(raw, in), nil
}

// #endregion llm-tier

// #region sanitize

// sanitize coerces an untrusted raw plan into a valid Plan.
func sanitize(raw rawPlan, in tierInput) *Plan {
	a := in.analysis

	mode := ResponseMode(raw.ResponseMode)
	if !slices.Contains(ResponseModes, mode) {
		mode = ModeExplain
	}
	if a.safety.Any() {
		mode = ModePastoral
	}
	length := Length(raw.Length)
	if length != LengthShort && length != LengthMedium && length != LengthLong {
		length = LengthMedium
	}

	var needs []Need
	for _, s := range raw.Needs {
		n := Need(s)
		if slices.Contains(Needs, n) && !slices.Contains(needs, n) {
			needs = append(needs, n)
		}
	}
	signals := []string{"mode:" + string(mode)}

	// Reading history and resume-reading force the reading need. A pure
	// history question drops semantic retrieval unless something else asks for it.
	if a.readingHistory || a.resumeReading {
		if !slices.Contains(needs, NeedReadingSessions) {
			needs = append(needs, NeedReadingSessions)
			signals = append(signals, "forced:reading_sessions")
		}
		if a.readingHistory && !a.learned && a.topic == "" && !a.highlights && !a.notes {
			if i := slices.Index(needs, NeedSemantic); i >= 0 {
				needs = slices.Delete(needs, i, i+1)
				signals = append(signals, "dropped:artifact_semantic")
			}
		}
	}

	var temporal *TemporalFilter
	if raw.Temporal != nil {
		tf := TemporalFilter{}
		if r := TemporalRange(raw.Temporal.Range); slices.Contains(TemporalRanges, r) {
			tf.Range = r
		}
		if d := Direction(raw.Temporal.Direction); d == DirectionOldest || d == DirectionNewest {
			tf.Direction = d
		}
		if tf != (TemporalFilter{}) {
			temporal = &tf
		}
	}

	scope := sanitizeScope(raw.Scope)
	if scope == nil {
		scope = a.scope
	}

	var types []ArtifactType
	for _, s := range raw.ArtifactTypes {
		t := ArtifactType(s)
		if slices.Contains(PersonalArtifactTypes, t) && !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = typesForNeeds(needs)
	}

	explicit := make(map[Need]int, len(raw.Limits))
	for k, v := range raw.Limits {
		explicit[Need(k)] = v
	}

	confidence := 0.6
	if raw.Confidence != nil && *raw.Confidence >= 0 && *raw.Confidence <= 1 {
		confidence = *raw.Confidence
	}

	query := strings.TrimSpace(raw.Query)
	if query == "" {
		query = in.message
	}

	for _, s := range raw.Signals {
		if s = strings.TrimSpace(s); s != "" && len(signals) < 12 {
			signals = append(signals, "llm:"+s)
		}
	}

	return &Plan{
		Response: ResponsePlan{
			Mode:           mode,
			Length:         length,
			Safety:         a.safety,
			SelfDisclosure: a.selfDisclosure,
			Situational:    a.situational,
			Signals:        append(signals, a.signals()...),
			Source:         SourceLLM,
			Confidence:     confidence,
		},
		Retrieval: RetrievalPlan{
			Needs:         needs,
			Temporal:      temporal,
			Scope:         scope,
			Query:         query,
			ArtifactTypes: types,
			Limits:        limitsForNeeds(needs, explicit),
		},
	}
}

// sanitizeScope accepts only a canonical book id; a chapter outside the
// book's range degrades to book scope. A free-text book name is resolved
// through the book table.
func sanitizeScope(rs *rawScope) *ScriptureScope {
	if rs == nil {
		return nil
	}
	b, ok := BookByID(rs.BookID)
	if !ok && rs.Book != "" {
		if byName, found := ResolveBook(rs.Book); found && len(rs.BookID) == 0 {
			b, ok = byName, true
		}
	}
	if !ok {
		return nil
	}
	s := &ScriptureScope{Kind: ScopeBook, BookID: b.ID, Book: b.Name}
	if rs.Kind == string(ScopeChapter) && rs.Chapter >= 1 && rs.Chapter <= b.Chapters {
		s.Kind = ScopeChapter
		s.Chapter = rs.Chapter
	}
	return s
}

// #endregion sanitize
