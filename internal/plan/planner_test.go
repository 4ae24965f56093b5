package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

func newRC(msg string, history ...runctx.ConversationTurn) *runctx.RunContext {
	return runctx.New(runctx.Input{UserID: "u1", Message: msg, History: history})
}

func TestBuildPlan_LastWeekRomans(t *testing.T) {
	p := Default(nil, "", 0).BuildPlan(context.Background(), newRC("Last week I dove deep into Romans 8. What did I learn?"))

	assert.Equal(t, SourceRules, p.Response.Source)
	require.NotNil(t, p.Retrieval.Temporal)
	assert.Equal(t, RangeLastWeek, p.Retrieval.Temporal.Range)
	require.NotNil(t, p.Retrieval.Scope)
	assert.Equal(t, ScriptureScope{Kind: ScopeChapter, BookID: "ROM", Book: "Romans", Chapter: 8}, *p.Retrieval.Scope)
	for _, n := range []Need{NeedHighlights, NeedNotes, NeedSemantic} {
		assert.True(t, p.HasNeed(n), "missing need %s", n)
	}
	assert.Equal(t, "rules", p.Tier)
	require.Len(t, p.Entities, 1)
	assert.Equal(t, "Romans 8", p.Entities[0].Reference)
}

func TestBuildPlan_ResumeConversation(t *testing.T) {
	rc := newRC("Lets pick up the conversation where we left it last week",
		runctx.ConversationTurn{Role: "assistant", Content: "Grace and peace to you."})
	p := Default(nil, "", 0).BuildPlan(context.Background(), rc)

	assert.Equal(t, ModeContinuity, p.Response.Mode)
	assert.True(t, p.HasNeed(NeedSessionSummaries))
	require.NotNil(t, p.Retrieval.Temporal)
	assert.Equal(t, RangeLastWeek, p.Retrieval.Temporal.Range)
}

func TestBuildPlan_RuleNeeds(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want []Need
	}{
		{"reading history", "What have I read this month?", []Need{NeedReadingSessions}},
		{"resume reading", "Can I pick up my Bible reading where I left off?", []Need{NeedReadingSessions}},
		{"highlights", "Show me my highlights from Psalms", []Need{NeedHighlights}},
		{"notes", "What notes did I write yesterday?", []Need{NeedNotes}},
		{"topical", "What were my reflections about forgiveness?", []Need{NeedSemantic}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default(nil, "", 0).BuildPlan(context.Background(), newRC(tt.msg))
			assert.Equal(t, SourceRules, p.Response.Source)
			assert.ElementsMatch(t, tt.want, p.Retrieval.Needs)
			for _, n := range tt.want {
				assert.Equal(t, DefaultLimits[n], p.Limit(n))
			}
		})
	}
}

func TestBuildPlan_TopicalQuery(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"What were my reflections about forgiveness?", "forgiveness"},
		{"Show my thoughts on grace", "grace"},
		{"What have I journaled about contentment?", "contentment"},
		{"Find my journal entries regarding my father.", "my father"},
		{"What did I write about patience?", "patience"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			p := Default(nil, "", 0).BuildPlan(context.Background(), newRC(tt.msg))
			assert.Equal(t, tt.want, p.Retrieval.Query)
			assert.True(t, p.HasNeed(NeedSemantic))
			assert.ElementsMatch(t, PersonalArtifactTypes, p.Retrieval.ArtifactTypes)
		})
	}
}

func TestBuildPlan_ModePrecedence(t *testing.T) {
	tests := []struct {
		msg  string
		want ResponseMode
	}{
		{"I'm struggling, can we continue our conversation from last time? my notes", ModeContinuity},
		{"I feel so anxious, what did my notes say?", ModePastoral},
		{"What does Romans 8:28 mean? my notes please", ModeStudy},
		{"How can I build a habit of reading? my highlights", ModeCoach},
		{"Show me my highlights", ModeExplain},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			p := Default(nil, "", 0).BuildPlan(context.Background(), newRC(tt.msg))
			assert.Equal(t, tt.want, p.Response.Mode)
		})
	}
}

func TestBuildPlan_SafetyFlagsIndependentOfNeeds(t *testing.T) {
	p := Default(nil, "", 0).BuildPlan(context.Background(), newRC("Sometimes I want to die"))
	assert.True(t, p.Response.Safety.SelfHarm)
	assert.Equal(t, "hard_fallback", p.Tier)
	assert.Empty(t, p.Retrieval.Needs)
}

func TestBuildPlan_HardFallback(t *testing.T) {
	for _, msg := range []string{"", "  \u200b ", "hello there"} {
		p := Default(nil, "", 0).BuildPlan(context.Background(), newRC(msg))
		assert.Equal(t, ModeExplain, p.Response.Mode)
		assert.Equal(t, LengthShort, p.Response.Length)
		assert.Equal(t, []string{"hard_fallback"}, p.Response.Signals[:1])
		assert.InDelta(t, 0.3, p.Response.Confidence, 1e-9)
		assert.NotNil(t, p.Retrieval.Needs)
		assert.Empty(t, p.Retrieval.Needs)
	}
}

func TestBuildPlan_SessionStart(t *testing.T) {
	rc := runctx.New(runctx.Input{UserID: "u1", Message: "[session start]", Entrypoint: runctx.EntrypointSessionStart})
	p := Default(nil, "", 0).BuildPlan(context.Background(), rc)
	assert.Equal(t, ModeContinuity, p.Response.Mode)
	assert.True(t, p.HasNeed(NeedSemantic))
	assert.True(t, p.HasNeed(NeedSessionSummaries))
}

func TestBuildPlan_LLMTier(t *testing.T) {
	fake := llm.NewFakeText(`{"response_mode":"study","length":"long","needs":["artifact_semantic","bogus"],
		"scope":{"kind":"chapter","book_id":"jhn","chapter":3},"query":"new birth",
		"artifact_types":["journal_entry","tweet"],"limits":{"artifact_semantic":50},"confidence":0.8}`)
	p := Default(fake, "planner-model", time.Second).BuildPlan(context.Background(), newRC("Tell me about being born again"))

	assert.Equal(t, SourceLLM, p.Response.Source)
	assert.Equal(t, "llm", p.Tier)
	assert.Equal(t, ModeStudy, p.Response.Mode)
	assert.Equal(t, []Need{NeedSemantic}, p.Retrieval.Needs)
	assert.Equal(t, &ScriptureScope{Kind: ScopeChapter, BookID: "JHN", Book: "John", Chapter: 3}, p.Retrieval.Scope)
	assert.Equal(t, []ArtifactType{ArtifactJournalEntry}, p.Retrieval.ArtifactTypes)
	assert.Equal(t, DefaultLimits[NeedSemantic], p.Limit(NeedSemantic))
	assert.InDelta(t, 0.8, p.Response.Confidence, 1e-9)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONMode)
	assert.Equal(t, "planner-model", reqs[0].Model)
}

func TestBuildPlan_LLMInvalidScopeUsesRuleScope(t *testing.T) {
	fake := llm.NewFakeText(`{"response_mode":"explain","needs":["artifact_semantic"],"scope":{"kind":"chapter","book_id":"XYZ","chapter":2}}`)
	p := Default(fake, "m", time.Second).BuildPlan(context.Background(), newRC("Tell me about Galatians 5"))
	assert.Equal(t, SourceLLM, p.Response.Source)
	require.NotNil(t, p.Retrieval.Scope)
	assert.Equal(t, "GAL", p.Retrieval.Scope.BookID)
	assert.Equal(t, 5, p.Retrieval.Scope.Chapter)
}

func TestBuildPlan_LLMChapterOutOfRangeWidens(t *testing.T) {
	fake := llm.NewFakeText(`{"response_mode":"explain","needs":[],"scope":{"kind":"chapter","book_id":"ROM","chapter":40}}`)
	p := Default(fake, "m", time.Second).BuildPlan(context.Background(), newRC("tell me something"))
	require.NotNil(t, p.Retrieval.Scope)
	assert.Equal(t, ScopeBook, p.Retrieval.Scope.Kind)
	assert.Zero(t, p.Retrieval.Scope.Chapter)
}

func TestSanitize_ReadingHistoryDropsSemantic(t *testing.T) {
	in := tierInput{message: "which books have I read", analysis: analysis{readingHistory: true}}
	p := sanitize(rawPlan{ResponseMode: "explain", Needs: []string{"artifact_semantic"}}, in)
	assert.Equal(t, []Need{NeedReadingSessions}, p.Retrieval.Needs)
	assert.Equal(t, DefaultLimits[NeedReadingSessions], p.Retrieval.Limits[NeedReadingSessions])

	in.analysis.learned = true
	p = sanitize(rawPlan{ResponseMode: "explain", Needs: []string{"artifact_semantic"}}, in)
	assert.ElementsMatch(t, []Need{NeedSemantic, NeedReadingSessions}, p.Retrieval.Needs)
}

func TestBuildPlan_LLMFailureFallsBack(t *testing.T) {
	tests := []struct {
		name string
		fake *llm.FakeClient
	}{
		{"error", llm.NewFakeClient().FailWith(errors.New("boom"))},
		{"bad json", llm.NewFakeText("I think you want study mode")},
		{"no choices", llm.NewFakeClient(&llm.Response{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default(tt.fake, "m", time.Second).BuildPlan(context.Background(), newRC("hello there"))
			assert.Equal(t, "hard_fallback", p.Tier)
			assert.Equal(t, ModeExplain, p.Response.Mode)
		})
	}
}

func TestBuildPlan_PanickingTierIsIsolated(t *testing.T) {
	boom := Tier{Name: "boom", Attempt: func(context.Context, tierInput) (*Plan, error) { panic("bad tier") }}
	p := NewPlanner(boom, RuleTier()).BuildPlan(context.Background(), newRC("Show me my highlights"))
	assert.Equal(t, "rules", p.Tier)
}

func TestBuildPlan_DebugAndProdPlanIdentically(t *testing.T) {
	msg := "Last week I dove deep into Romans 8. What did I learn?"
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	prod := runctx.New(runctx.Input{UserID: "u1", Message: msg, StartedAt: at})
	debug := runctx.New(runctx.Input{UserID: "u1", Message: msg, StartedAt: at, Mode: runctx.ModeDebug})

	planner := Default(nil, "", 0)
	a := planner.BuildPlan(context.Background(), prod)
	b := planner.BuildPlan(context.Background(), debug)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("plans differ (-prod +debug):\n%s", diff)
	}
}
