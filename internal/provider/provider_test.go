package provider

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/companion-pipeline/internal/candidate"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/search"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// #region helpers

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newRC(in runctx.Input) *runctx.RunContext {
	if in.UserID == "" {
		in.UserID = "u1"
	}
	in.StartedAt = now
	return runctx.New(in)
}

type stub struct {
	name    string
	enabled bool
	cands   []candidate.Candidate
	err     error
	panics  bool
	block   bool
}

func (s stub) Name() string                                 { return s.name }
func (s stub) Enabled(*runctx.RunContext, *plan.Plan) bool { return s.enabled }

func (s stub) Fetch(ctx context.Context, _ *runctx.RunContext, _ *plan.Plan) ([]candidate.Candidate, error) {
	switch {
	case s.panics:
		panic("boom")
	case s.block:
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.cands, s.err
}

type fakeLister struct {
	calls []store.ArtifactFilter
	rows  func(f store.ArtifactFilter) []store.UserArtifact
	err   error
}

func (f *fakeLister) ListArtifacts(_ context.Context, filter store.ArtifactFilter) ([]store.UserArtifact, error) {
	f.calls = append(f.calls, filter)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows(filter), nil
}

func artifactRow(id, typ string, created time.Time) store.UserArtifact {
	return store.UserArtifact{ID: id, UserID: "u1", Type: typ, Body: "body " + id, CreatedAt: store.FormatTime(created)}
}

func seedDB(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "prov.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for i, day := range []int{2, 5, 8} {
		r := store.ReadingSession{
			UserID: "u1", BookID: "ROM", BookName: "Romans", Chapter: 8,
			StartedAt: store.FormatTime(now.AddDate(0, 0, -day)), DurationSec: 300 + i,
		}
		require.NoError(t, db.RecordReadingSession(ctx, &r))
	}
	other := store.ReadingSession{UserID: "u1", BookID: "PSA", BookName: "Psalms", Chapter: 23, StartedAt: store.FormatTime(now.AddDate(0, 0, -1))}
	require.NoError(t, db.RecordReadingSession(ctx, &other))
	return db
}

func sources(cands []candidate.Candidate) []candidate.Source {
	var out []candidate.Source
	for _, c := range cands {
		out = append(out, c.Meta().Source)
	}
	return out
}

// #endregion helpers

// #region registry

func TestCollect_IsolatesFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rc := runctx.New(runctx.Input{UserID: "u1"}, runctx.WithLogger(zap.New(core)))
	p := &plan.Plan{}

	reg := NewRegistry(50*time.Millisecond,
		stub{name: "ok", enabled: true, cands: []candidate.Candidate{candidate.NewSystem(p)}},
		stub{name: "broken", enabled: true, err: errors.New("db down")},
		stub{name: "panicky", enabled: true, panics: true},
		stub{name: "slow", enabled: true, block: true},
		stub{name: "off", enabled: false},
	)
	res := reg.Collect(context.Background(), rc, p)

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, []string{"off"}, res.Skipped)
	require.Len(t, res.Failures, 3)
	assert.Equal(t, "broken", res.Failures[0].Provider)
	assert.Equal(t, "panicky", res.Failures[1].Provider)
	assert.Contains(t, res.Failures[1].Error, "panicked")
	assert.Equal(t, "slow", res.Failures[2].Provider)
	assert.Equal(t, 3, logs.FilterMessage("provider.failed").Len())

	require.Len(t, res.Runs, 4)
	assert.Equal(t, "ok", res.Runs[0].Provider)
	assert.Equal(t, 1, res.Runs[0].Count)
	assert.True(t, res.Runs[1].Failed)
}

func TestCollect_MergesAndDedupes(t *testing.T) {
	a := candidate.NewArtifact("x", plan.ArtifactJournalEntry, "", "same", "", now)
	a.Features.SemanticScore = candidate.Score(0.4)
	b := candidate.NewArtifact("x", plan.ArtifactJournalEntry, "", "same", "", now)
	b.Features.SemanticScore = candidate.Score(0.9)

	reg := NewRegistry(0,
		stub{name: "one", enabled: true, cands: []candidate.Candidate{a}},
		stub{name: "two", enabled: true, cands: []candidate.Candidate{b}},
	)
	res := reg.Collect(context.Background(), newRC(runctx.Input{}), &plan.Plan{})

	assert.Equal(t, 2, res.RawCount)
	require.Len(t, res.Candidates, 1)
	assert.InDelta(t, 0.9, *res.Candidates[0].Meta().Features.SemanticScore, 1e-9)
	assert.Equal(t, 1, res.BySource[candidate.SourceArtifact])
}

func TestRegistry_Names(t *testing.T) {
	reg := Default(Deps{}, DefaultOptions())
	assert.Equal(t, []string{
		"scripture", "artifact_semantic", "verse_highlights", "verse_notes",
		"conversation_session_summaries", "reading_sessions", "life_context", "durable_memory", "system",
	}, reg.Names())
}

// #endregion registry

// #region sources

func TestDefault_MissingCollaboratorsFailSoftly(t *testing.T) {
	p := &plan.Plan{Retrieval: plan.RetrievalPlan{Needs: []plan.Need{plan.NeedSemantic, plan.NeedNotes}}}
	res := Default(Deps{}, DefaultOptions()).Collect(context.Background(), newRC(runctx.Input{Message: "hi"}), p)

	assert.Len(t, res.Failures, 2)
	assert.Equal(t, []candidate.Source{candidate.SourceSystem}, sources(res.Candidates))
}

func TestScripture_EmitsVerseAndChapterRefs(t *testing.T) {
	p := &plan.Plan{Entities: []runctx.EntityRef{
		{Type: runctx.EntityVerse, Reference: "Romans 8:28", BookID: "ROM", Chapter: 8, VerseStart: 28},
		{Type: runctx.EntityTheme, Reference: "grace"},
		{Type: runctx.EntityChapter, Reference: "Psalm 23", BookID: "PSA", Chapter: 23},
	}}
	out, err := Scripture{}.Fetch(context.Background(), newRC(runctx.Input{}), p)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "scripture:ROM.8.28", out[0].Meta().ID)
	assert.Equal(t, "scripture:PSA.23", out[1].Meta().ID)
}

func TestSemantic_SessionStartUsesRecency(t *testing.T) {
	lister := &fakeLister{rows: func(store.ArtifactFilter) []store.UserArtifact {
		return []store.UserArtifact{artifactRow("a1", "reflection", now.AddDate(0, 0, -1))}
	}}
	s := Semantic{Artifacts: lister, SessionStartLimit: 3}
	p := &plan.Plan{Retrieval: plan.RetrievalPlan{Needs: []plan.Need{plan.NeedSemantic}, ArtifactTypes: []plan.ArtifactType{plan.ArtifactReflection}}}

	out, err := s.Fetch(context.Background(), newRC(runctx.Input{Entrypoint: runctx.EntrypointSessionStart}), p)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Meta().Features.SemanticScore)
	assert.NotNil(t, out[0].Meta().Features.RecencyScore)

	require.Len(t, lister.calls, 1)
	assert.Equal(t, 3, lister.calls[0].Limit)
	assert.Equal(t, []string{"reflection"}, lister.calls[0].Types)
	assert.Equal(t, store.VisibilityPriv, lister.calls[0].Visibility)
}

type fakeSearcher struct {
	got  search.Query
	hits []search.Hit
	err  error
}

func (f *fakeSearcher) SearchSimilar(_ context.Context, q search.Query) ([]search.Hit, error) {
	f.got = q
	return f.hits, f.err
}

func TestSemantic_SearchesWithQueryAndBounds(t *testing.T) {
	fs := &fakeSearcher{hits: []search.Hit{{Artifact: artifactRow("a1", "journal_entry", now.AddDate(0, 0, -3)), Score: 0.82}}}
	s := Semantic{Search: fs, TopK: 4}
	p := &plan.Plan{Retrieval: plan.RetrievalPlan{
		Needs:    []plan.Need{plan.NeedSemantic},
		Query:    "forgiveness",
		Temporal: &plan.TemporalFilter{Range: plan.RangeThisWeek},
	}}

	out, err := s.Fetch(context.Background(), newRC(runctx.Input{Message: "what about forgiveness?"}), p)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.82, *out[0].Meta().Features.SemanticScore, 1e-9)
	assert.Equal(t, "artifact:a1", out[0].Meta().ID)

	assert.Equal(t, "forgiveness", fs.got.Text)
	assert.Equal(t, 4, fs.got.TopK)
	assert.Len(t, fs.got.Types, len(plan.PersonalArtifactTypes))
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), fs.got.From)

	fs.err = errors.New("index offline")
	_, err = s.Fetch(context.Background(), newRC(runctx.Input{}), p)
	assert.ErrorContains(t, err, "index offline")
}

func TestTyped_WidensEmptyChapterScope(t *testing.T) {
	lister := &fakeLister{rows: func(f store.ArtifactFilter) []store.UserArtifact {
		if f.Chapter > 0 {
			return nil
		}
		return []store.UserArtifact{artifactRow("h1", "verse_highlight", now.AddDate(0, 0, -2))}
	}}
	typed := Typed{Need: plan.NeedHighlights, Type: plan.ArtifactVerseHighlight, Artifacts: lister, Scoped: true}
	p := &plan.Plan{Retrieval: plan.RetrievalPlan{
		Needs:    []plan.Need{plan.NeedHighlights},
		Scope:    &plan.ScriptureScope{Kind: plan.ScopeChapter, BookID: "ROM", Book: "Romans", Chapter: 8},
		Temporal: &plan.TemporalFilter{Direction: plan.DirectionOldest},
		Limits:   map[plan.Need]int{plan.NeedHighlights: 2},
	}}

	out, err := typed.Fetch(context.Background(), newRC(runctx.Input{}), p)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.5, *out[0].Meta().Features.ScopeScore, 1e-9)

	require.Len(t, lister.calls, 2)
	assert.Equal(t, 8, lister.calls[0].Chapter)
	assert.Equal(t, 0, lister.calls[1].Chapter)
	assert.Equal(t, "ROM", lister.calls[1].BookID)
	assert.True(t, lister.calls[0].OldestFirst)
	assert.Equal(t, 2, lister.calls[0].Limit)
}

func TestTyped_IgnoresInvalidScope(t *testing.T) {
	lister := &fakeLister{rows: func(store.ArtifactFilter) []store.UserArtifact { return nil }}
	typed := Typed{Need: plan.NeedNotes, Type: plan.ArtifactVerseNote, Artifacts: lister, Scoped: true}
	p := &plan.Plan{Retrieval: plan.RetrievalPlan{
		Needs: []plan.Need{plan.NeedNotes},
		Scope: &plan.ScriptureScope{Kind: plan.ScopeChapter, BookID: "ROM", Chapter: 99},
	}}

	_, err := typed.Fetch(context.Background(), newRC(runctx.Input{}), p)
	require.NoError(t, err)
	require.Len(t, lister.calls, 1)
	assert.Empty(t, lister.calls[0].BookID)
	assert.Zero(t, lister.calls[0].Chapter)
}

func TestReading_AnnotatesRollups(t *testing.T) {
	r := Reading{Store: seedDB(t)}
	p := &plan.Plan{Retrieval: plan.RetrievalPlan{
		Needs: []plan.Need{plan.NeedReadingSessions},
		Scope: &plan.ScriptureScope{Kind: plan.ScopeBook, BookID: "ROM", Book: "Romans"},
	}}

	out, err := r.Fetch(context.Background(), newRC(runctx.Input{}), p)
	require.NoError(t, err)
	require.Len(t, out, 3)
	first := out[0].(*candidate.ReadingSession)
	assert.Equal(t, 3, first.TimesRead)
	assert.Contains(t, first.Content(), "read 3 times")
	assert.True(t, first.StartedAt.After(out[1].(*candidate.ReadingSession).StartedAt))
}

func TestReading_SanitizesMalformedScope(t *testing.T) {
	r := Reading{Store: seedDB(t)}
	p := &plan.Plan{Retrieval: plan.RetrievalPlan{
		Needs: []plan.Need{plan.NeedReadingSessions},
		Scope: &plan.ScriptureScope{Kind: plan.ScopeChapter, BookID: "NOPE", Chapter: 1},
	}}
	out, err := r.Fetch(context.Background(), newRC(runctx.Input{}), p)
	require.NoError(t, err)
	assert.Len(t, out, 4)
}

func TestLifeContext_GatedByMode(t *testing.T) {
	lc := LifeContext{}
	for mode, want := range map[plan.ResponseMode]bool{
		plan.ModePastoral: true, plan.ModeCoach: true, plan.ModeContinuity: true,
		plan.ModeStudy: false, plan.ModeExplain: false,
	} {
		p := &plan.Plan{Response: plan.ResponsePlan{Mode: mode}}
		assert.Equal(t, want, lc.Enabled(nil, p), mode)
	}

	rc := newRC(runctx.Input{AIContext: &runctx.AIContext{LifeContext: &runctx.LifeContext{Season: "grief", Summary: "Lost a parent in September"}}})
	out, err := lc.Fetch(context.Background(), rc, &plan.Plan{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content(), "Lost a parent")

	out, err = lc.Fetch(context.Background(), newRC(runctx.Input{}), &plan.Plan{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemory_AppliesStrengthFloor(t *testing.T) {
	rc := newRC(runctx.Input{AIContext: &runctx.AIContext{Memories: []runctx.DurableMemory{
		{ID: "m1", Kind: "preference", Key: "translation", Value: "ESV", Strength: 0.9, UpdatedAt: now.AddDate(0, 0, -1)},
		{ID: "m2", Kind: "fact", Key: "pet", Value: "dog", Strength: 0.2},
		{ID: "m3", Kind: "fact", Key: "city", Value: "Austin", Strength: 0.3},
	}}})
	out, err := Memory{Floor: 0.3}.Fetch(context.Background(), rc, &plan.Plan{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "memory:m1", out[0].Meta().ID)
	assert.NotNil(t, out[0].Meta().Features.RecencyScore)
	assert.Equal(t, "memory:m3", out[1].Meta().ID)
	assert.Nil(t, out[1].Meta().Features.RecencyScore)
}

// #endregion sources
