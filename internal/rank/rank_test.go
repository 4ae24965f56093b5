package rank

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/companion-pipeline/internal/candidate"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// #region helpers

var base = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func art(id string, typ plan.ArtifactType, sem float64, day int) *candidate.Artifact {
	a := candidate.NewArtifact(id, typ, "", "reflection text "+id, "", base.AddDate(0, 0, day))
	if sem >= 0 {
		a.Features.SemanticScore = candidate.Score(sem)
	}
	a.Features.RecencyScore = candidate.Score(0.5)
	return a
}

func needs(n ...plan.Need) *plan.Plan {
	return &plan.Plan{Retrieval: plan.RetrievalPlan{Needs: n}}
}

func selectedIDs(r Result) []string {
	var out []string
	for _, s := range r.Selected {
		out = append(out, s.Candidate.Meta().ID)
	}
	return out
}

func reasonOf(r Result, id string) Reason {
	for _, e := range r.Excluded {
		if e.ID == id {
			return e.Reason
		}
	}
	return ""
}

// assertPartition checks every input lands in exactly one of selected or excluded.
func assertPartition(t *testing.T, in []candidate.Candidate, r Result) {
	t.Helper()
	seen := map[string]int{}
	for _, id := range selectedIDs(r) {
		seen[id]++
	}
	for _, e := range r.Excluded {
		seen[e.ID]++
	}
	require.Len(t, seen, len(in))
	for _, c := range in {
		assert.Equal(t, 1, seen[c.Meta().ID], c.Meta().ID)
	}
}

// #endregion helpers

func TestRank_SemanticThreshold(t *testing.T) {
	low := art("low", plan.ArtifactJournalEntry, 0.2, 0)
	high := art("high", plan.ArtifactJournalEntry, 0.7, 0)
	in := []candidate.Candidate{low, high}

	r := NewRanker(DefaultConfig(), nil).Rank(needs(plan.NeedSemantic), in)

	assert.Equal(t, []string{"artifact:high"}, selectedIDs(r))
	assert.Equal(t, ReasonSemanticThreshold, reasonOf(r, "artifact:low"))
	assertPartition(t, in, r)
}

func TestRank_MemoryDisabledByDefault(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mem := candidate.NewMemory(runctx.DurableMemory{ID: "m1", Kind: "preference", Key: "translation", Value: "ESV", Strength: 0.9})
	in := []candidate.Candidate{mem}

	r := NewRanker(DefaultConfig(), zap.New(core)).Rank(needs(), in)
	assert.Empty(t, r.Selected)
	assert.Equal(t, ReasonMemoryDisabled, reasonOf(r, "memory:m1"))
	assert.Equal(t, 1, logs.FilterMessage("rank.memory_disabled").Len())

	cfg := DefaultConfig()
	cfg.DurableMemory = true
	r = NewRanker(cfg, nil).Rank(needs(), in)
	require.Len(t, r.Selected, 1)
	assert.InDelta(t, 0.9, r.Selected[0].Score, 1e-9)
}

func TestRank_Admissibility(t *testing.T) {
	tests := []struct {
		name  string
		plan  *plan.Plan
		typ   plan.ArtifactType
		admit bool
	}{
		{"dedicated need", needs(plan.NeedHighlights), plan.ArtifactVerseHighlight, true},
		{"semantic covers typed", needs(plan.NeedSemantic), plan.ArtifactVerseNote, true},
		{"other need only", needs(plan.NeedNotes), plan.ArtifactVerseHighlight, false},
		{"untyped needs semantic", needs(plan.NeedHighlights), plan.ArtifactPrayer, false},
		{"untyped with semantic", needs(plan.NeedSemantic), plan.ArtifactPrayer, true},
		{"allowlist", &plan.Plan{Retrieval: plan.RetrievalPlan{
			Needs: []plan.Need{plan.NeedSemantic}, ArtifactTypes: []plan.ArtifactType{plan.ArtifactJournalEntry},
		}}, plan.ArtifactPrayer, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRanker(DefaultConfig(), nil).Rank(tt.plan, []candidate.Candidate{art("a", tt.typ, -1, 0)})
			if tt.admit {
				assert.Len(t, r.Selected, 1)
			} else {
				assert.Equal(t, ReasonNotRequested, reasonOf(r, "artifact:a"))
			}
		})
	}
}

func TestRank_SafetyFilter(t *testing.T) {
	bad := candidate.NewArtifact("bad", plan.ArtifactJournalEntry, "", "some days I want to die", "", base)
	ok := candidate.NewArtifact("ok", plan.ArtifactJournalEntry, "", "a quiet walk", "", base)
	r := NewRanker(DefaultConfig(), nil).Rank(needs(plan.NeedSemantic), []candidate.Candidate{bad, ok})

	assert.Equal(t, []string{"artifact:ok"}, selectedIDs(r))
	assert.Equal(t, ReasonSafety, reasonOf(r, "artifact:bad"))
}

func TestRank_AlwaysIncludeScoresOne(t *testing.T) {
	p := needs(plan.NeedSemantic)
	sys := candidate.NewSystem(p)
	a := art("a", plan.ArtifactReflection, 0.9, 0)
	r := NewRanker(DefaultConfig(), nil).Rank(p, []candidate.Candidate{a, sys})

	require.Len(t, r.Selected, 2)
	assert.Equal(t, "system:plan", r.Selected[0].Candidate.Meta().ID)
	assert.Equal(t, 1.0, r.Selected[0].Score)
	assert.InDelta(t, 0.8*0.9+0.2*0.5, r.Selected[1].Score, 1e-9)
	assert.Equal(t, plan.NeedSemantic, r.Selected[1].Category)
}

func TestRank_TemporalDirection(t *testing.T) {
	p := needs(plan.NeedSemantic)
	p.Retrieval.Temporal = &plan.TemporalFilter{Direction: plan.DirectionOldest}
	old := art("old", plan.ArtifactReflection, 0.5, 0)
	mid := art("mid", plan.ArtifactReflection, 0.5, 5)
	newest := art("new", plan.ArtifactReflection, 0.5, 10)

	r := NewRanker(DefaultConfig(), nil).Rank(p, []candidate.Candidate{newest, mid, old})

	assert.Equal(t, []string{"artifact:old", "artifact:mid", "artifact:new"}, selectedIDs(r))
	assert.InDelta(t, 1, *old.Features.TemporalScore, 1e-9)
	assert.InDelta(t, 0.5, *mid.Features.TemporalScore, 1e-9)
	assert.InDelta(t, 0.5*0.5+0.4*1+0.1*0.5, r.Selected[0].Score, 1e-9)
}

func TestRank_CategoryCaps(t *testing.T) {
	p := needs(plan.NeedSemantic, plan.NeedHighlights)
	p.Retrieval.Limits = map[plan.Need]int{plan.NeedSemantic: 2, plan.NeedHighlights: 1}

	var in []candidate.Candidate
	for i := range 4 {
		in = append(in, art(fmt.Sprintf("j%d", i), plan.ArtifactJournalEntry, 0.9-float64(i)*0.1, i))
	}
	in = append(in, art("h0", plan.ArtifactVerseHighlight, 0.8, 0), art("h1", plan.ArtifactVerseHighlight, 0.7, 0))

	r := NewRanker(DefaultConfig(), nil).Rank(p, in)
	perCat := map[plan.Need]int{}
	for _, s := range r.Selected {
		perCat[s.Category]++
	}
	assert.Equal(t, 2, perCat[plan.NeedSemantic])
	assert.Equal(t, 1, perCat[plan.NeedHighlights])
	assert.Equal(t, 3, r.ExcludedBy()[ReasonCategoryCap])
	assertPartition(t, in, r)
}

func TestRank_TokenBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenBudget = 30
	big := candidate.NewArtifact("big", plan.ArtifactJournalEntry, "", strings.Repeat("x", 140), "", base)
	big.Features.SemanticScore = candidate.Score(0.9)
	small := candidate.NewArtifact("small", plan.ArtifactJournalEntry, "", strings.Repeat("y", 40), "", base)
	small.Features.SemanticScore = candidate.Score(0.5)
	in := []candidate.Candidate{big, small}

	r := NewRanker(cfg, nil).Rank(needs(plan.NeedSemantic), in)

	assert.Equal(t, []string{"artifact:small"}, selectedIDs(r))
	assert.Equal(t, ReasonTokenBudget, reasonOf(r, "artifact:big"))
	assert.Equal(t, 10, r.Budget.UsedTokens)
	assert.Equal(t, 10, r.Budget.BySource[candidate.SourceArtifact])
	assert.LessOrEqual(t, r.Budget.UsedTokens, r.Budget.MaxTokens)
	assertPartition(t, in, r)
}

func TestRank_ScoreSummary(t *testing.T) {
	p := needs(plan.NeedSemantic)
	r := NewRanker(DefaultConfig(), nil).Rank(p, []candidate.Candidate{
		art("a", plan.ArtifactReflection, 0.9, 0),
		art("b", plan.ArtifactReflection, 0.4, 0),
		candidate.NewSystem(p),
	})
	require.NotNil(t, r.Scores)
	assert.InDelta(t, 1, r.Scores.Max, 1e-9)
	assert.InDelta(t, 0.42, r.Scores.Min, 1e-9)
	assert.InDelta(t, 0.82, r.Scores.Median, 1e-9)

	empty := NewRanker(DefaultConfig(), nil).Rank(p, nil)
	assert.Nil(t, empty.Scores)
	assert.Empty(t, empty.Selected)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
