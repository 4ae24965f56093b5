package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/companion-pipeline/internal/artifact"
	"github.com/danielpatrickdp/companion-pipeline/internal/config"
	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
	"github.com/danielpatrickdp/companion-pipeline/internal/memextract"
	"github.com/danielpatrickdp/companion-pipeline/internal/modelcall"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/prompt"
	"github.com/danielpatrickdp/companion-pipeline/internal/provider"
	"github.com/danielpatrickdp/companion-pipeline/internal/rank"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/search"
	"github.com/danielpatrickdp/companion-pipeline/internal/sideeffect"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
	"github.com/danielpatrickdp/companion-pipeline/internal/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// #region harness

type harness struct {
	db        *store.DB
	artifacts *artifact.Store
	vault     *vault.Store
	client    *llm.FakeClient
	deps      Deps
}

func newHarness(t *testing.T, client *llm.FakeClient) *harness {
	t.Helper()
	db, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "pipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := vault.NewCipher(make([]byte, vault.KeySize))
	require.NoError(t, err)
	h := &harness{
		db:        db,
		artifacts: artifact.NewStore(db, artifact.DefaultRetention()),
		vault:     vault.NewStore(db, c),
		client:    client,
	}
	h.deps = Deps{
		Planner:   plan.Default(nil, "", 0),
		Providers: provider.Default(provider.Deps{Artifacts: db, Reading: db, Searcher: search.NewLocal(db, search.HashEmbedder{})}, provider.DefaultOptions()),
		Ranker:    rank.NewRanker(rank.DefaultConfig(), nil),
		Assembler: prompt.NewAssembler(prompt.DefaultOptions()),
		Executor:  modelcall.NewExecutor(client, nil, modelcall.Options{}),
		Extractor: memextract.NewEngine(nil, db, memextract.DefaultConfig()),
		Artifacts: h.artifacts,
		Vault:     h.vault,
		Gateway:   sideeffect.NewStore(db),
	}
	return h
}

func (h *harness) pipeline() *Pipeline {
	return New(h.deps, Options{MemoryExtraction: true})
}

func stages(as []artifact.Raw) []artifact.Stage {
	var out []artifact.Stage
	for _, a := range as {
		out = append(out, a.Stage)
	}
	return out
}

var chatStages = []artifact.Stage{
	artifact.StageIngress, artifact.StageCandidates, artifact.StageRankBudget,
	artifact.StagePromptAssembly, artifact.StageModelCall,
}

const disclosure = "My wife's name is Sarah and I feel worn out this week."

// #endregion harness

func TestRun_ProdPersistsTraceAndPromotes(t *testing.T) {
	h := newHarness(t, llm.NewFakeText("That sounds heavy. How is Sarah doing?"))
	p := h.pipeline()
	ctx := context.Background()
	rc := runctx.New(runctx.Input{UserID: "u1", Message: disclosure})

	out, err := p.Run(ctx, rc)
	require.NoError(t, err)
	p.WaitForBackground()

	assert.Equal(t, "That sounds heavy. How is Sarah doing?", out.Text())
	assert.Empty(t, out.StoppedAt)
	assert.Equal(t, chatStages, stages(out.Artifacts))
	for _, a := range out.Artifacts {
		assert.Empty(t, a.VaultRef, "prod runs never write the vault (%s)", a.Stage)
		assert.Equal(t, rc.RunID(), a.RunID)
	}
	assert.True(t, out.Plan.Response.SelfDisclosure)

	stored, err := h.artifacts.List(ctx, rc.RunID())
	require.NoError(t, err)
	assert.Equal(t, append(chatStages, artifact.StageMemoryExtraction), stages(stored))

	ex, err := artifact.Decode[memextract.Result](stored[len(stored)-1])
	require.NoError(t, err)
	assert.True(t, ex.Payload.Eligible)
	assert.False(t, ex.Payload.DryRun)
	assert.Equal(t, 1, ex.Payload.MemoriesPromoted)

	m, err := h.db.GetMemory(ctx, "u1", memextract.KindRelationship, "wife")
	require.NoError(t, err)
	assert.Equal(t, "Sarah", m.Value)

	mc, err := artifact.Decode[modelcall.Result](stored[4])
	require.NoError(t, err)
	assert.Empty(t, mc.Payload.Text)
	assert.Equal(t, modelcall.SourceContent, mc.Payload.ResponseSource)
}

func TestRun_DebugSealsContentAndTouchesNothing(t *testing.T) {
	h := newHarness(t, llm.NewFakeText("Peace to you."))
	p := h.pipeline()
	ctx := context.Background()
	rc := runctx.New(runctx.Input{UserID: "u1", Message: disclosure, Mode: runctx.ModeDebug})

	out, err := p.Run(ctx, rc)
	require.NoError(t, err)
	p.WaitForBackground()

	refs := map[artifact.Stage]string{}
	for _, a := range out.Artifacts {
		refs[a.Stage] = a.VaultRef
	}
	assert.Equal(t, vault.Ref(rc.RunID(), "INGRESS"), refs[artifact.StageIngress])
	assert.NotEmpty(t, refs[artifact.StageCandidates])
	assert.Empty(t, refs[artifact.StageRankBudget])
	assert.NotEmpty(t, refs[artifact.StagePromptAssembly])
	assert.NotEmpty(t, refs[artifact.StageModelCall])

	var in runctx.Input
	require.NoError(t, h.vault.Get(ctx, refs[artifact.StageIngress], &in))
	assert.Equal(t, disclosure, in.Message)
	assert.Equal(t, runctx.ModeDebug, in.Mode)

	var full prompt.Assembled
	require.NoError(t, h.vault.Get(ctx, refs[artifact.StagePromptAssembly], &full))
	assert.Equal(t, disclosure, full.Messages[len(full.Messages)-1].Content)

	var text modelOutput
	require.NoError(t, h.vault.Get(ctx, refs[artifact.StageModelCall], &text))
	assert.Equal(t, "Peace to you.", text.Text)

	ex, err := h.artifacts.Get(ctx, rc.RunID(), artifact.StageMemoryExtraction)
	require.NoError(t, err)
	res, err := artifact.Decode[memextract.Result](ex)
	require.NoError(t, err)
	assert.True(t, res.Payload.DryRun)
	assert.Equal(t, 1, res.Payload.MemoriesPromoted)

	mems, err := h.db.ListMemories(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, mems)
	_, err = h.db.GetSignal(ctx, "u1", memextract.KindRelationship, "wife")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_DebugAndProdPlanIdentically(t *testing.T) {
	h := newHarness(t, llm.NewFakeText("ok"))
	p := h.pipeline()
	msg := "Last week I dove deep into Romans 8. What did I learn?"

	prod, err := p.Run(context.Background(), runctx.New(runctx.Input{UserID: "u1", Message: msg}))
	require.NoError(t, err)
	debug, err := p.Run(context.Background(), runctx.New(runctx.Input{UserID: "u1", Message: msg, Mode: runctx.ModeDebug}))
	require.NoError(t, err)
	p.WaitForBackground()

	assert.Equal(t, prod.Plan.Retrieval, debug.Plan.Retrieval)
	assert.Equal(t, prod.Plan.Response, debug.Plan.Response)
	assert.Equal(t, plan.SourceRules, prod.Plan.Response.Source)
}

func TestRun_Breakpoint(t *testing.T) {
	h := newHarness(t, llm.NewFakeText("unused"))
	p := h.pipeline()
	rc := runctx.New(runctx.Input{UserID: "u1", Message: "What are my notes on Psalm 23?", StopAtStage: "RANK_BUDGET"})

	out, err := p.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, artifact.StageRankBudget, out.StoppedAt)
	assert.Equal(t, chatStages[:3], stages(out.Artifacts))
	assert.NotNil(t, out.Ranked)
	assert.Nil(t, out.Prompt)
	assert.Nil(t, out.Response)
	assert.Empty(t, out.Text())
	assert.Empty(t, h.client.Requests())
}

func TestRun_BreakpointAtExtractionRunsInline(t *testing.T) {
	h := newHarness(t, llm.NewFakeText("ok"))
	p := h.pipeline()
	rc := runctx.New(runctx.Input{UserID: "u1", Message: disclosure, StopAtStage: "MEMORY_EXTRACTION"})

	out, err := p.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, artifact.StageMemoryExtraction, out.StoppedAt)
	require.NotNil(t, out.Extraction)
	assert.True(t, out.Extraction.Eligible)
	assert.Len(t, out.Artifacts, 6)
}

func TestRun_ModelFailurePropagates(t *testing.T) {
	client := llm.NewFakeClient().FailWith(&llm.ProviderError{Provider: "fake", StatusCode: 500, Body: "boom"})
	h := newHarness(t, client)
	p := h.pipeline()
	rc := runctx.New(runctx.Input{UserID: "u1", Message: disclosure})

	out, err := p.Run(context.Background(), rc)
	require.Error(t, err)
	assert.True(t, llm.IsProviderError(err))
	assert.Nil(t, out.Response)
	assert.Equal(t, chatStages[:4], stages(out.Artifacts))

	p.WaitForBackground()
	_, err = h.artifacts.Get(context.Background(), rc.RunID(), artifact.StageMemoryExtraction)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

type brokenArtifacts struct{}

func (brokenArtifacts) Put(_ context.Context, a artifact.Raw) (artifact.Raw, error) {
	return a, errors.New("disk full")
}

type brokenVault struct{}

func (brokenVault) Put(context.Context, string, string, any) (string, error) {
	return "", errors.New("no key")
}

func TestRun_PersistenceFailuresDoNotAbort(t *testing.T) {
	h := newHarness(t, llm.NewFakeText("still here"))
	h.deps.Artifacts = brokenArtifacts{}
	h.deps.Vault = brokenVault{}
	p := h.pipeline()

	core, logs := observer.New(zap.DebugLevel)
	rc := runctx.New(runctx.Input{UserID: "u1", Message: "hello", Mode: runctx.ModeDebug}, runctx.WithLogger(zap.New(core)))

	out, err := p.Run(context.Background(), rc)
	require.NoError(t, err)
	p.WaitForBackground()

	assert.Equal(t, "still here", out.Text())
	assert.Len(t, out.Artifacts, 5)
	assert.Equal(t, 6, logs.FilterMessage("artifact.persist_failed").Len())
	assert.Equal(t, 4, logs.FilterMessage("vault.persist_failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("stage.done").FilterField(zap.String("stage", "MODEL_CALL")).Len())
}

func TestRun_ExtractionOutlivesCallerContext(t *testing.T) {
	h := newHarness(t, llm.NewFakeText("ok"))
	p := h.pipeline()
	ctx, cancel := context.WithCancel(context.Background())
	rc := runctx.New(runctx.Input{UserID: "u1", Message: disclosure})

	_, err := p.Run(ctx, rc)
	require.NoError(t, err)
	cancel()
	p.WaitForBackground()

	a, err := h.artifacts.Get(context.Background(), rc.RunID(), artifact.StageMemoryExtraction)
	require.NoError(t, err)
	res, err := artifact.Decode[memextract.Result](a)
	require.NoError(t, err)
	assert.True(t, res.Payload.Success)
}

func TestLoadAIContext(t *testing.T) {
	h := newHarness(t, llm.NewFakeText("ok"))
	ctx := context.Background()
	for _, m := range []store.DurableMemory{
		{UserID: "u1", Kind: "preference", Key: "preferred_translation", Value: "ESV", Strength: 0.9},
		{UserID: "u1", Kind: "theme", Key: "grief", Value: "grief", Strength: 0.1},
	} {
		require.NoError(t, h.db.UpsertMemory(ctx, &m))
	}

	in := runctx.Input{UserID: "u1"}
	require.NoError(t, LoadAIContext(ctx, h.db, &in, 0.3))
	require.NotNil(t, in.AIContext)
	require.Len(t, in.AIContext.Memories, 1)
	assert.Equal(t, "ESV", in.AIContext.Memories[0].Value)
	assert.False(t, in.AIContext.Memories[0].UpdatedAt.IsZero())

	pre := runctx.Input{UserID: "u1", AIContext: &runctx.AIContext{Memories: []runctx.DurableMemory{{ID: "x", Value: "given"}}}}
	require.NoError(t, LoadAIContext(ctx, h.db, &pre, 0))
	assert.Len(t, pre.AIContext.Memories, 1)
}

func TestBuild_FakeProvider(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(dir, "built.db")
	cfg.Vault.KeyFile = filepath.Join(dir, "vault.key")
	cfg.LLM.Provider = "fake"
	cfg.Search.CacheTTL = 0 // no expiry goroutine

	c, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	_, err = os.Stat(cfg.Vault.KeyFile)
	require.NoError(t, err)

	out, err := c.Pipeline.Run(context.Background(), runctx.New(runctx.Input{UserID: "u1", Message: "Good morning"}))
	require.NoError(t, err)
	c.Pipeline.WaitForBackground()
	assert.NotEmpty(t, out.Text())

	cfg.Env = "production"
	cfg.Vault.KeyFile = filepath.Join(dir, "missing.key")
	_, err = Build(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, vault.ErrInvalidKey)
}
