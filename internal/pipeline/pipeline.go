// Package pipeline sequences the stages of one run: ingress, candidates,
// rank & budget, prompt assembly and the model call, followed by detached
// memory extraction. Each stage is timed and written to the artifact trail
// before the next one starts.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/artifact"
	"github.com/danielpatrickdp/companion-pipeline/internal/memextract"
	"github.com/danielpatrickdp/companion-pipeline/internal/modelcall"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/prompt"
	"github.com/danielpatrickdp/companion-pipeline/internal/provider"
	"github.com/danielpatrickdp/companion-pipeline/internal/rank"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/sideeffect"
)

// #region collaborators

// ArtifactWriter persists stage artifacts. *artifact.Store satisfies it.
type ArtifactWriter interface {
	Put(ctx context.Context, a artifact.Raw) (artifact.Raw, error)
}

// VaultWriter seals full stage content. *vault.Store satisfies it.
type VaultWriter interface {
	Put(ctx context.Context, runID, stage string, v any) (string, error)
}

// Deps are the stage implementations and persistence collaborators. Artifacts,
// Vault, Gateway and Extractor may be nil.
type Deps struct {
	Planner   *plan.Planner
	Providers *provider.Registry
	Ranker    *rank.Ranker
	Assembler *prompt.Assembler
	Executor  *modelcall.Executor
	Extractor *memextract.Engine
	Artifacts ArtifactWriter
	Vault     VaultWriter
	Gateway   sideeffect.Gateway // live gateway; debug runs get a no-op
}

// Options toggles optional stages.
type Options struct {
	MemoryExtraction bool
}

// #endregion collaborators

// #region outcome

// Outcome is what a run returns to the caller. StoppedAt is set when a
// breakpoint halted the run; later fields are then nil.
type Outcome struct {
	RunID      string             `json:"run_id"`
	TraceID    string             `json:"trace_id"`
	StoppedAt  artifact.Stage     `json:"stopped_at,omitempty"`
	Plan       *plan.Plan         `json:"plan,omitempty"`
	Candidates *provider.Result   `json:"candidates,omitempty"`
	Ranked     *rank.Result       `json:"ranked,omitempty"`
	Prompt     *prompt.Preview    `json:"prompt,omitempty"`
	Response   *modelcall.Result  `json:"response,omitempty"`
	Extraction *memextract.Result `json:"extraction,omitempty"` // only when stopped at MEMORY_EXTRACTION
	Artifacts  []artifact.Raw     `json:"artifacts"`
}

// Text returns the user-visible response, or "" for a halted run.
func (o Outcome) Text() string {
	if o.Response == nil {
		return ""
	}
	return o.Response.Text
}

// #endregion outcome

// #region pipeline

// Pipeline runs the stages. It is safe for concurrent use; each Run is
// independent apart from the shared background WaitGroup.
type Pipeline struct {
	d    Deps
	opts Options
	bg   sync.WaitGroup
}

// New builds a Pipeline.
func New(d Deps, opts Options) *Pipeline {
	return &Pipeline{d: d, opts: opts}
}

// Run executes one request. Only a model-provider failure is returned as an
// error; every other fault degrades to less context or a missing trace record.
func (p *Pipeline) Run(ctx context.Context, rc *runctx.RunContext) (Outcome, error) {
	out := Outcome{RunID: rc.RunID(), TraceID: rc.TraceID()}
	gw := sideeffect.ForRun(rc, p.d.Gateway)

	pl, a, err := runStage(ctx, p, rc, artifact.StageIngress, func(ctx context.Context) (step[plan.Plan], error) {
		pl := p.d.Planner.BuildPlan(ctx, rc)
		return step[plan.Plan]{
			payload: pl,
			summary: fmt.Sprintf("mode=%s source=%s needs=%d", pl.Response.Mode, pl.Response.Source, len(pl.Retrieval.Needs)),
			stats: map[string]float64{
				"confidence": pl.Response.Confidence,
				"needs":      float64(len(pl.Retrieval.Needs)),
				"entities":   float64(len(pl.Entities)),
			},
			full: rc.Snapshot(),
		}, nil
	})
	out.Plan, out.Artifacts = &pl, append(out.Artifacts, a)
	if err != nil || p.halt(rc, &out, artifact.StageIngress) {
		return out, err
	}

	cands, a, err := runStage(ctx, p, rc, artifact.StageCandidates, func(ctx context.Context) (step[provider.Result], error) {
		res := p.d.Providers.Collect(ctx, rc, &pl)
		stats := map[string]float64{
			"raw_count": float64(res.RawCount),
			"merged":    float64(len(res.Candidates)),
			"failures":  float64(len(res.Failures)),
		}
		for src, n := range res.BySource {
			stats["source."+string(src)] = float64(n)
		}
		return step[provider.Result]{
			payload: res,
			summary: fmt.Sprintf("%d candidates from %d providers, %d failed", len(res.Candidates), len(res.Runs), len(res.Failures)),
			stats:   stats,
			full:    fullCandidates(res),
		}, nil
	})
	out.Candidates, out.Artifacts = &cands, append(out.Artifacts, a)
	if err != nil || p.halt(rc, &out, artifact.StageCandidates) {
		return out, err
	}

	ranked, a, err := runStage(ctx, p, rc, artifact.StageRankBudget, func(context.Context) (step[rank.Result], error) {
		res := p.d.Ranker.Rank(&pl, cands.Candidates)
		return step[rank.Result]{
			payload: res,
			summary: fmt.Sprintf("selected %d, excluded %d, tokens %d/%d", len(res.Selected), len(res.Excluded), res.Budget.UsedTokens, res.Budget.MaxTokens),
			stats: map[string]float64{
				"selected":    float64(len(res.Selected)),
				"excluded":    float64(len(res.Excluded)),
				"used_tokens": float64(res.Budget.UsedTokens),
				"max_tokens":  float64(res.Budget.MaxTokens),
			},
		}, nil
	})
	out.Ranked, out.Artifacts = &ranked, append(out.Artifacts, a)
	if err != nil || p.halt(rc, &out, artifact.StageRankBudget) {
		return out, err
	}

	var assembled prompt.Assembled
	preview, a, err := runStage(ctx, p, rc, artifact.StagePromptAssembly, func(context.Context) (step[prompt.Preview], error) {
		full, pv := p.d.Assembler.Assemble(rc, &pl, ranked)
		assembled = full
		return step[prompt.Preview]{
			payload: pv,
			summary: fmt.Sprintf("%d messages, %d sections, ~%d tokens", pv.MessageCount, len(pv.Sections), pv.TotalTokens),
			stats: map[string]float64{
				"messages":     float64(pv.MessageCount),
				"history":      float64(pv.HistoryCount),
				"total_tokens": float64(pv.TotalTokens),
			},
			full: full,
		}, nil
	})
	out.Prompt, out.Artifacts = &preview, append(out.Artifacts, a)
	if err != nil || p.halt(rc, &out, artifact.StagePromptAssembly) {
		return out, err
	}

	resp, a, err := runStage(ctx, p, rc, artifact.StageModelCall, func(ctx context.Context) (step[modelcall.Result], error) {
		res, err := p.d.Executor.Execute(ctx, rc, assembled.Request(), gw)
		if err != nil {
			return step[modelcall.Result]{payload: res}, err
		}
		return step[modelcall.Result]{
			payload: res,
			summary: fmt.Sprintf("%s via %s/%s, %d tool calls", res.ResponseSource, res.Provider, res.Model, len(res.ToolCalls)),
			stats: map[string]float64{
				"latency_ms":    float64(res.LatencyMS),
				"input_tokens":  float64(res.Usage.InputTokens),
				"output_tokens": float64(res.Usage.OutputTokens),
				"tool_calls":    float64(len(res.ToolCalls)),
			},
			full: modelOutput{Text: res.Text},
		}, nil
	})
	if err != nil {
		return out, fmt.Errorf("model call: %w", err)
	}
	out.Response, out.Artifacts = &resp, append(out.Artifacts, a)
	if p.halt(rc, &out, artifact.StageModelCall) {
		return out, nil
	}

	if !p.opts.MemoryExtraction || p.d.Extractor == nil {
		return out, nil
	}
	if rc.ShouldStopAt(string(artifact.StageMemoryExtraction)) {
		res, a := p.extract(ctx, rc, &pl, resp.Text, gw)
		out.Extraction, out.Artifacts = &res, append(out.Artifacts, a)
		p.halt(rc, &out, artifact.StageMemoryExtraction)
		return out, nil
	}

	// Detached: the caller's cancellation must not cut extraction short.
	bgCtx := context.WithoutCancel(ctx)
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		p.extract(bgCtx, rc, &pl, resp.Text, gw)
	}()
	return out, nil
}

// WaitForBackground blocks until every detached extraction has finished.
func (p *Pipeline) WaitForBackground() {
	p.bg.Wait()
}

func (p *Pipeline) extract(ctx context.Context, rc *runctx.RunContext, pl *plan.Plan, text string, gw sideeffect.Gateway) (memextract.Result, artifact.Raw) {
	res, a, _ := runStage(ctx, p, rc, artifact.StageMemoryExtraction, func(ctx context.Context) (step[memextract.Result], error) {
		res := p.d.Extractor.Run(ctx, rc, pl, text, gw)
		summary := "not eligible"
		switch {
		case res.Error != "":
			summary = "failed: " + res.Error
		case res.Eligible:
			summary = fmt.Sprintf("%d candidates, %d promoted, %d reinforced", len(res.Candidates), res.MemoriesPromoted, res.MemoriesReinforced)
		}
		if res.DryRun {
			summary += " (dry run)"
		}
		return step[memextract.Result]{payload: res, summary: summary, stats: res.Stats()}, nil
	})
	return res, a
}

// halt reports whether rc breaks after stage, and records it.
func (p *Pipeline) halt(rc *runctx.RunContext, out *Outcome, stage artifact.Stage) bool {
	if !rc.ShouldStopAt(string(stage)) {
		return false
	}
	out.StoppedAt = stage
	rc.Logger().Info("stage.breakpoint", zap.String("stage", string(stage)))
	return true
}

// #endregion pipeline

// #region stage

// step is what a stage body hands back for the trail.
type step[T any] struct {
	payload T
	summary string
	stats   map[string]float64
	full    any // sealed into the vault on debug runs
}

// modelOutput is the vault form of the model call.
type modelOutput struct {
	Text string `json:"text"`
}

// candidateContent is the vault form of one candidate.
type candidateContent struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

func fullCandidates(res provider.Result) []candidateContent {
	out := make([]candidateContent, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		m := c.Meta()
		out = append(out, candidateContent{ID: m.ID, Source: string(m.Source), Content: c.Content()})
	}
	return out
}

// runStage times fn, wraps its payload into an artifact and persists it.
// Persistence failures are logged and never returned.
func runStage[T any](ctx context.Context, p *Pipeline, rc *runctx.RunContext, stage artifact.Stage, fn func(context.Context) (step[T], error)) (T, artifact.Raw, error) {
	log := rc.Logger().With(zap.String("stage", string(stage)))
	log.Debug("stage.start")
	started := time.Now()

	s, err := fn(ctx)
	took := time.Since(started)
	if err != nil {
		log.Warn("stage.failed", zap.Int64("duration_ms", took.Milliseconds()), zap.Error(err))
		return s.payload, artifact.Raw{}, err
	}

	a := artifact.New(rc, stage, started, took, s.summary, s.payload)
	a.Stats = s.stats
	if rc.IsDebug() && s.full != nil && p.d.Vault != nil {
		ref, err := p.d.Vault.Put(ctx, rc.RunID(), string(stage), s.full)
		if err != nil {
			log.Warn("vault.persist_failed", zap.Error(err))
		} else {
			a.VaultRef = ref
		}
	}

	raw, err := artifact.Encode(a)
	if err != nil {
		log.Warn("artifact.persist_failed", zap.Error(err))
		return s.payload, raw, nil
	}
	if p.d.Artifacts != nil {
		if stored, err := p.d.Artifacts.Put(ctx, raw); err != nil {
			log.Warn("artifact.persist_failed", zap.Error(err))
		} else {
			raw = stored
		}
	}

	log.Info("stage.done", zap.Int64("duration_ms", took.Milliseconds()), zap.String("summary", s.summary))
	return s.payload, raw, nil
}

// #endregion stage
