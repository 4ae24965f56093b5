package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/companion-pipeline/internal/candidate"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/search"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// #region deps

// ArtifactLister is the typed artifact query used by the artifact providers.
type ArtifactLister interface {
	ListArtifacts(ctx context.Context, f store.ArtifactFilter) ([]store.UserArtifact, error)
}

// ReadingLister is the typed reading-history query.
type ReadingLister interface {
	ListReadingSessions(ctx context.Context, f store.ReadingFilter) ([]store.ReadingSession, error)
	ChapterRollups(ctx context.Context, userID, bookID string) (map[int]store.ChapterRollup, error)
}

// Deps are the collaborators the built-in providers read from.
type Deps struct {
	Artifacts ArtifactLister
	Reading   ReadingLister
	Searcher  search.Searcher
}

// Options tunes the built-in providers.
type Options struct {
	Timeout           time.Duration
	SessionStartLimit int
	MemoryFloor       float64
	TopK              int
}

// DefaultOptions mirrors the pipeline defaults.
func DefaultOptions() Options {
	return Options{Timeout: 5 * time.Second, SessionStartLimit: 5, MemoryFloor: 0.3, TopK: search.DefaultTopK}
}

// Default registers every built-in provider.
func Default(d Deps, o Options) *Registry {
	return NewRegistry(o.Timeout,
		Scripture{},
		Semantic{Search: d.Searcher, Artifacts: d.Artifacts, SessionStartLimit: o.SessionStartLimit, TopK: o.TopK},
		Typed{Need: plan.NeedHighlights, Type: plan.ArtifactVerseHighlight, Artifacts: d.Artifacts, Scoped: true},
		Typed{Need: plan.NeedNotes, Type: plan.ArtifactVerseNote, Artifacts: d.Artifacts, Scoped: true},
		Typed{Need: plan.NeedSessionSummaries, Type: plan.ArtifactSessionSummary, Artifacts: d.Artifacts},
		Reading{Store: d.Reading},
		LifeContext{},
		Memory{Floor: o.MemoryFloor},
		System{},
	)
}

var errNotConfigured = errors.New("collaborator not configured")

// #endregion deps

// #region scripture

// Scripture emits one candidate per detected verse or chapter reference.
type Scripture struct{}

func (Scripture) Name() string                                 { return "scripture" }
func (Scripture) Enabled(*runctx.RunContext, *plan.Plan) bool { return true }

func (Scripture) Fetch(_ context.Context, _ *runctx.RunContext, p *plan.Plan) ([]candidate.Candidate, error) {
	var out []candidate.Candidate
	for _, e := range p.Entities {
		if e.Type == runctx.EntityVerse || e.Type == runctx.EntityChapter {
			out = append(out, candidate.NewScripture(e))
		}
	}
	return out, nil
}

// #endregion scripture

// #region semantic

// Semantic searches artifacts by similarity to the query. On session start it
// returns the newest artifacts instead, since the synthetic opening message is
// not a meaningful query.
type Semantic struct {
	Search            search.Searcher
	Artifacts         ArtifactLister
	SessionStartLimit int
	TopK              int
}

func (Semantic) Name() string { return "artifact_semantic" }

func (Semantic) Enabled(_ *runctx.RunContext, p *plan.Plan) bool {
	return p.HasNeed(plan.NeedSemantic)
}

func (s Semantic) Fetch(ctx context.Context, rc *runctx.RunContext, p *plan.Plan) ([]candidate.Candidate, error) {
	now := rc.StartedAt()
	types := allowedTypes(p)
	if rc.Entrypoint().IsSessionStart() {
		if s.Artifacts == nil {
			return nil, fmt.Errorf("recent artifacts: %w", errNotConfigured)
		}
		limit := s.SessionStartLimit
		if limit <= 0 {
			limit = p.Limit(plan.NeedSemantic)
		}
		rows, err := s.Artifacts.ListArtifacts(ctx, store.ArtifactFilter{
			UserID: rc.UserID(), Types: types, Visibility: store.VisibilityPriv, Limit: limit,
		})
		if err != nil {
			return nil, fmt.Errorf("recent artifacts: %w", err)
		}
		out := make([]candidate.Candidate, 0, len(rows))
		for _, r := range rows {
			out = append(out, artifactCandidate(r, now))
		}
		return out, nil
	}

	if s.Search == nil {
		return nil, fmt.Errorf("semantic search: %w", errNotConfigured)
	}
	query := p.Retrieval.Query
	if query == "" {
		query = p.NormalizedMessage
	}
	if query == "" {
		query = rc.Message()
	}
	q := search.Query{Text: query, UserID: rc.UserID(), Types: types, TopK: s.TopK}
	if from, to, ok := p.Retrieval.Temporal.Bounds(now); ok {
		q.From, q.To = from, to
	}
	hits, err := s.Search.SearchSimilar(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	out := make([]candidate.Candidate, 0, len(hits))
	for _, h := range hits {
		c := artifactCandidate(h.Artifact, now)
		c.Features.SemanticScore = candidate.Score(h.Score)
		out = append(out, c)
	}
	return out, nil
}

func allowedTypes(p *plan.Plan) []string {
	var out []string
	for _, t := range plan.PersonalArtifactTypes {
		if p.AllowsType(t) {
			out = append(out, string(t))
		}
	}
	return out
}

// #endregion semantic

// #region typed

// Typed looks up one artifact type by date bounds and, when Scoped, by
// scripture scope. An empty chapter-scoped lookup is retried at book scope.
type Typed struct {
	Need      plan.Need
	Type      plan.ArtifactType
	Artifacts ArtifactLister
	Scoped    bool
}

func (t Typed) Name() string { return string(t.Need) }

func (t Typed) Enabled(_ *runctx.RunContext, p *plan.Plan) bool {
	return p.HasNeed(t.Need)
}

func (t Typed) Fetch(ctx context.Context, rc *runctx.RunContext, p *plan.Plan) ([]candidate.Candidate, error) {
	if t.Artifacts == nil {
		return nil, fmt.Errorf("%s lookup: %w", t.Type, errNotConfigured)
	}
	now := rc.StartedAt()
	f := store.ArtifactFilter{
		UserID:      rc.UserID(),
		Types:       []string{string(t.Type)},
		Visibility:  store.VisibilityPriv,
		Limit:       p.Limit(t.Need),
		OldestFirst: p.TemporalDirection() == plan.DirectionOldest,
	}
	if from, to, ok := p.Retrieval.Temporal.Bounds(now); ok {
		f.From, f.To = from, to
	}
	scope := p.Retrieval.Scope
	if t.Scoped && scope.Valid() {
		f.BookID = scope.BookID
		if scope.Kind == plan.ScopeChapter {
			f.Chapter = scope.Chapter
		}
	}

	rows, err := t.Artifacts.ListArtifacts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s lookup: %w", t.Type, err)
	}
	scopeScore := 1.0
	if len(rows) == 0 && f.Chapter > 0 {
		f.Chapter = 0
		scopeScore = 0.5
		if rows, err = t.Artifacts.ListArtifacts(ctx, f); err != nil {
			return nil, fmt.Errorf("%s lookup (book scope): %w", t.Type, err)
		}
	}

	out := make([]candidate.Candidate, 0, len(rows))
	for _, r := range rows {
		c := artifactCandidate(r, now)
		if f.BookID != "" {
			c.Features.ScopeScore = candidate.Score(scopeScore)
		}
		out = append(out, c)
	}
	return out, nil
}

func artifactCandidate(r store.UserArtifact, now time.Time) *candidate.Artifact {
	c := candidate.NewArtifact(r.ID, plan.ArtifactType(r.Type), r.Title, r.Body, r.VerseRef, r.Created())
	c.BookID, c.Chapter = r.BookID, r.Chapter
	c.Features.RecencyScore = candidate.Score(candidate.Recency(r.Created(), now))
	return c
}

// #endregion typed

// #region reading

// Reading returns past reading sessions annotated with chapter read counts.
type Reading struct {
	Store ReadingLister
}

func (Reading) Name() string { return "reading_sessions" }

func (Reading) Enabled(_ *runctx.RunContext, p *plan.Plan) bool {
	return p.HasNeed(plan.NeedReadingSessions)
}

func (r Reading) Fetch(ctx context.Context, rc *runctx.RunContext, p *plan.Plan) ([]candidate.Candidate, error) {
	if r.Store == nil {
		return nil, fmt.Errorf("reading history: %w", errNotConfigured)
	}
	now := rc.StartedAt()
	f := store.ReadingFilter{UserID: rc.UserID(), Limit: p.Limit(plan.NeedReadingSessions)}
	if from, to, ok := p.Retrieval.Temporal.Bounds(now); ok {
		f.From, f.To = from, to
	}
	// A malformed scope from any tier is dropped, never forwarded to storage.
	if scope := p.Retrieval.Scope; scope.Valid() {
		f.BookID = scope.BookID
		if scope.Kind == plan.ScopeChapter {
			f.Chapter = scope.Chapter
		}
	}

	rows, err := r.Store.ListReadingSessions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	rollups := map[string]map[int]store.ChapterRollup{}
	out := make([]candidate.Candidate, 0, len(rows))
	for _, row := range rows {
		byChapter, ok := rollups[row.BookID]
		if !ok {
			// Rollups only annotate; a failed lookup leaves counts at zero.
			byChapter, _ = r.Store.ChapterRollups(ctx, rc.UserID(), row.BookID)
			rollups[row.BookID] = byChapter
		}
		c := candidate.NewReadingSession(row.ID, row.BookID, row.BookName, row.Chapter,
			row.Started(), row.DurationSec, byChapter[row.Chapter].TimesRead)
		c.Features.RecencyScore = candidate.Score(candidate.Recency(row.Started(), now))
		out = append(out, c)
	}
	return out, nil
}

// #endregion reading

// #region precomputed

// LifeContext surfaces the precomputed life context for pastoral, coach and
// continuity responses.
type LifeContext struct{}

func (LifeContext) Name() string { return "life_context" }

func (LifeContext) Enabled(_ *runctx.RunContext, p *plan.Plan) bool {
	switch p.Response.Mode {
	case plan.ModePastoral, plan.ModeCoach, plan.ModeContinuity:
		return true
	}
	return false
}

func (LifeContext) Fetch(_ context.Context, rc *runctx.RunContext, _ *plan.Plan) ([]candidate.Candidate, error) {
	ai := rc.AIContext()
	if ai == nil || ai.LifeContext == nil {
		return nil, nil
	}
	c := candidate.NewLifeContext(*ai.LifeContext)
	if c.Content() == "" {
		return nil, nil
	}
	return []candidate.Candidate{c}, nil
}

// Memory surfaces precomputed durable memories at or above Floor strength.
type Memory struct {
	Floor float64
}

func (Memory) Name() string                                 { return "durable_memory" }
func (Memory) Enabled(*runctx.RunContext, *plan.Plan) bool { return true }

func (m Memory) Fetch(_ context.Context, rc *runctx.RunContext, _ *plan.Plan) ([]candidate.Candidate, error) {
	ai := rc.AIContext()
	if ai == nil {
		return nil, nil
	}
	var out []candidate.Candidate
	for _, mem := range ai.Memories {
		if mem.Strength < m.Floor {
			continue
		}
		c := candidate.NewMemory(mem)
		if !mem.UpdatedAt.IsZero() {
			c.Features.RecencyScore = candidate.Score(candidate.Recency(mem.UpdatedAt, rc.StartedAt()))
		}
		out = append(out, c)
	}
	return out, nil
}

// System echoes the plan for trace readability.
type System struct{}

func (System) Name() string                                 { return "system" }
func (System) Enabled(*runctx.RunContext, *plan.Plan) bool { return true }

func (System) Fetch(_ context.Context, _ *runctx.RunContext, p *plan.Plan) ([]candidate.Candidate, error) {
	return []candidate.Candidate{candidate.NewSystem(p)}, nil
}

// #endregion precomputed
