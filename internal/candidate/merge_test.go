package candidate

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/redact"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

var created = time.Date(2026, 10, 10, 8, 0, 0, 0, time.UTC)

func artifact(id string, semantic, recency *float64) *Artifact {
	a := NewArtifact(id, plan.ArtifactVerseNote, "", "note "+id, "Romans 8:28", created)
	a.Features.SemanticScore = semantic
	a.Features.RecencyScore = recency
	return a
}

func TestDedupe_KeepsHigherSemanticAndMergesMax(t *testing.T) {
	low := artifact("a1", Score(0.4), Score(0.9))
	high := artifact("a1", Score(0.7), Score(0.2))
	high.Features.TemporalScore = Score(0.5)

	out := Dedupe([]Candidate{low, artifact("a2", nil, nil), high})
	require.Len(t, out, 2)
	assert.Same(t, high, out[0])
	f := out[0].Meta().Features
	assert.InDelta(t, 0.7, *f.SemanticScore, 1e-9)
	assert.InDelta(t, 0.9, *f.RecencyScore, 1e-9)
	assert.InDelta(t, 0.5, *f.TemporalScore, 1e-9)
	assert.Equal(t, "artifact:a2", out[1].Meta().ID)
}

func TestDedupe_FallsBackToRecency(t *testing.T) {
	older := artifact("a1", nil, Score(0.1))
	newer := artifact("a1", nil, Score(0.8))
	out := Dedupe([]Candidate{older, newer})
	require.Len(t, out, 1)
	assert.Same(t, newer, out[0])
	assert.Nil(t, out[0].Meta().Features.SemanticScore)
}

func TestDedupe_TieKeepsFirst(t *testing.T) {
	first := artifact("a1", Score(0.5), nil)
	second := artifact("a1", Score(0.5), nil)
	out := Dedupe([]Candidate{first, second})
	assert.Same(t, first, out[0])
}

func TestDedupe_Idempotent(t *testing.T) {
	in := []Candidate{
		artifact("a1", Score(0.3), Score(0.6)),
		artifact("a1", Score(0.8), nil),
		artifact("a2", nil, Score(0.4)),
		NewScripture(runctx.EntityRef{Type: runctx.EntityChapter, Reference: "Romans 8", BookID: "ROM", Chapter: 8}),
		NewScripture(runctx.EntityRef{Type: runctx.EntityChapter, Reference: "Romans 8", BookID: "ROM", Chapter: 8}),
	}
	once := Dedupe(in)
	twice := Dedupe(once)
	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].Meta().ID, twice[i].Meta().ID)
		assert.Equal(t, once[i].Meta().Features, twice[i].Meta().Features)
	}
}

func TestGroupAndCount(t *testing.T) {
	p := &plan.Plan{Response: plan.ResponsePlan{Mode: plan.ModeStudy}, Retrieval: plan.RetrievalPlan{Needs: []plan.Need{plan.NeedNotes}}}
	cands := []Candidate{artifact("a1", nil, nil), artifact("a2", nil, nil), NewSystem(p)}
	assert.Equal(t, map[Source]int{SourceArtifact: 2, SourceSystem: 1}, CountBySource(cands))
	assert.Len(t, GroupBySource(cands)[SourceArtifact], 2)
	assert.Equal(t, "response_mode=study needs=[verse_notes]", cands[2].Content())
}

func TestPreviewsAreRedactedAndBounded(t *testing.T) {
	body := "email me at someone@example.com " + longText(400)
	a := NewArtifact("a1", plan.ArtifactJournalEntry, "t", body, "", created)
	assert.NotContains(t, a.Preview, "someone@example.com")
	assert.LessOrEqual(t, utf8.RuneCountInString(a.Preview), redact.PreviewLen)
	assert.Contains(t, a.Content(), "someone@example.com")
}

func TestFeatures_Created(t *testing.T) {
	a := artifact("a1", nil, nil)
	got, ok := a.Features.Created()
	require.True(t, ok)
	assert.True(t, got.Equal(created))

	_, ok = Features{}.Created()
	assert.False(t, ok)
}

func longText(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = 'a' + rune(i%26)
	}
	return string(b)
}
