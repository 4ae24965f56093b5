// Package replay reloads a recorded run and plans it again. Only debug runs
// seal their input in the vault, so only debug runs are replayable.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/artifact"
	"github.com/danielpatrickdp/companion-pipeline/internal/logging"
	"github.com/danielpatrickdp/companion-pipeline/internal/pipeline"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// #region types

// ErrNotReplayable is returned for runs whose input was never sealed.
var ErrNotReplayable = errors.New("replay: run has no sealed input")

// ArtifactReader reads the trail. *artifact.Store satisfies it.
type ArtifactReader interface {
	Get(ctx context.Context, runID string, stage artifact.Stage) (artifact.Raw, error)
	Runs(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// VaultReader opens sealed content. *vault.Store satisfies it.
type VaultReader interface {
	Get(ctx context.Context, ref string, out any) error
}

// Result is one replayed run.
type Result struct {
	RunID    string       `json:"run_id"`
	Input    runctx.Input `json:"input"`
	Recorded plan.Plan    `json:"recorded"`
	Replayed plan.Plan    `json:"replayed"`
	Diff     string       `json:"diff,omitempty"`
}

// Identical reports whether the replayed plan matches the recorded one.
func (r Result) Identical() bool { return r.Diff == "" }

// Summary aggregates a batch replay.
type Summary struct {
	Total     int `json:"total"`
	Identical int `json:"identical"`
	Diverged  int `json:"diverged"`
	Skipped   int `json:"skipped"` // not replayable
	Failed    int `json:"failed"`
}

// #endregion types

// #region replayer

// Replayer re-plans recorded runs.
type Replayer struct {
	artifacts ArtifactReader
	vault     VaultReader
	planner   *plan.Planner
	mode      runctx.Mode
	logger    *zap.Logger
}

// New builds a Replayer. Replayed runs use mode; "" keeps the recorded mode.
func New(artifacts ArtifactReader, vault VaultReader, planner *plan.Planner, mode runctx.Mode, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Replayer{artifacts: artifacts, vault: vault, planner: planner, mode: mode, logger: logger}
}

// Load returns the sealed input and the recorded plan of runID.
func (r *Replayer) Load(ctx context.Context, runID string) (runctx.Input, plan.Plan, error) {
	a, err := r.artifacts.Get(ctx, runID, artifact.StageIngress)
	if err != nil {
		return runctx.Input{}, plan.Plan{}, fmt.Errorf("load ingress %s: %w", runID, err)
	}
	if a.VaultRef == "" {
		return runctx.Input{}, plan.Plan{}, fmt.Errorf("%w: %s", ErrNotReplayable, runID)
	}
	var in runctx.Input
	if err := r.vault.Get(ctx, a.VaultRef, &in); err != nil {
		return runctx.Input{}, plan.Plan{}, fmt.Errorf("open ingress %s: %w", runID, err)
	}
	rec, err := artifact.Decode[plan.Plan](a)
	if err != nil {
		return runctx.Input{}, plan.Plan{}, err
	}
	return in, rec.Payload, nil
}

// Run replays runID and diffs the new plan against the recorded one.
func (r *Replayer) Run(ctx context.Context, runID string) (Result, error) {
	in, recorded, err := r.Load(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	res := Result{RunID: runID, Input: in, Recorded: recorded}
	res.Replayed = r.planner.BuildPlan(ctx, runctx.New(rebuild(in, r.mode, ""), runctx.WithLogger(r.logger)))
	res.Diff = DiffPlans(res.Recorded, res.Replayed)
	r.logger.Info("replay.done",
		zap.String("run_id", runID),
		zap.String("tier", res.Replayed.Tier),
		zap.Bool("identical", res.Identical()))
	return res, nil
}

// Recent replays up to limit of the most recent runs. Runs without sealed
// input are skipped; other failures are counted and logged.
func (r *Replayer) Recent(ctx context.Context, limit int) ([]Result, Summary, error) {
	runs, err := r.artifacts.Runs(ctx, limit)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("list runs: %w", err)
	}
	var out []Result
	for _, run := range runs {
		res, err := r.Run(ctx, run.RunID)
		switch {
		case errors.Is(err, ErrNotReplayable):
			continue
		case err != nil:
			r.logger.Warn("replay.failed", zap.String("run_id", run.RunID), zap.Error(err))
			out = append(out, Result{RunID: run.RunID})
			continue
		}
		out = append(out, res)
	}
	s := Summarize(out)
	s.Skipped = len(runs) - len(out)
	s.Total = len(runs)
	return out, s, nil
}

// Rerun executes runID again through p in debug mode, halting after stopAt
// when set. Side effects stay disabled.
func (r *Replayer) Rerun(ctx context.Context, p *pipeline.Pipeline, runID, stopAt string) (pipeline.Outcome, error) {
	in, _, err := r.Load(ctx, runID)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	in = rebuild(in, runctx.ModeDebug, stopAt)
	in.SideEffects, in.Writes = nil, nil
	return p.Run(ctx, runctx.New(in, runctx.WithLogger(r.logger)))
}

// Summarize counts identical and diverged results. A result without a
// replayed plan tier counts as failed.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Replayed.Tier == "":
			s.Failed++
		case r.Identical():
			s.Identical++
		default:
			s.Diverged++
		}
	}
	return s
}

// #endregion replayer

// #region helpers

// rebuild prepares a sealed input for another run. The recorded start time
// is kept so temporal phrases resolve the same way.
func rebuild(in runctx.Input, mode runctx.Mode, stopAt string) runctx.Input {
	if mode != "" && mode != in.Mode {
		in.Mode = mode
		in.SideEffects, in.Writes = nil, nil
	}
	in.StopAtStage = stopAt
	return in
}

// DiffPlans renders the difference between two plans, or "" when they match.
// Nil and empty collections compare equal since one side went through JSON.
func DiffPlans(want, got plan.Plan) string {
	return cmp.Diff(want, got, cmpopts.EquateEmpty())
}

// #endregion helpers
