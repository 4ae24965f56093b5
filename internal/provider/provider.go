// Package provider holds the context candidate providers and the concurrent
// fan-out that runs them. A failing provider never aborts its siblings: its
// error is logged, recorded and treated as zero candidates.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/companion-pipeline/internal/candidate"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// #region interface

// Provider is one retrieval source.
type Provider interface {
	Name() string
	// Enabled gates the provider on the plan's needs or response mode.
	Enabled(rc *runctx.RunContext, p *plan.Plan) bool
	Fetch(ctx context.Context, rc *runctx.RunContext, p *plan.Plan) ([]candidate.Candidate, error)
}

// #endregion interface

// #region result

// Failure records one provider error.
type Failure struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

// Run records one provider invocation.
type Run struct {
	Provider   string `json:"provider"`
	Count      int    `json:"count"`
	DurationMS int64  `json:"duration_ms"`
	Failed     bool   `json:"failed,omitempty"`
}

// Result is the merged, deduplicated output of every enabled provider.
type Result struct {
	Candidates []candidate.Candidate    `json:"candidates"`
	BySource   map[candidate.Source]int `json:"by_source"`
	Runs       []Run                    `json:"runs"`
	Skipped    []string                 `json:"skipped,omitempty"`
	Failures   []Failure                `json:"failures,omitempty"`
	RawCount   int                      `json:"raw_count"`
}

// #endregion result

// #region registry

// Registry runs a fixed set of providers concurrently.
type Registry struct {
	providers []Provider
	timeout   time.Duration
}

// NewRegistry builds a registry. Output order follows registration order.
// timeout bounds each provider call; zero means only the caller's deadline applies.
func NewRegistry(timeout time.Duration, providers ...Provider) *Registry {
	return &Registry{providers: providers, timeout: timeout}
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	out := make([]string, len(r.providers))
	for i, p := range r.providers {
		out[i] = p.Name()
	}
	return out
}

// Collect fans out to every enabled provider, then merges and deduplicates.
func (r *Registry) Collect(ctx context.Context, rc *runctx.RunContext, p *plan.Plan) Result {
	log := rc.Logger()
	outputs := make([][]candidate.Candidate, len(r.providers))
	runs := make([]*Run, len(r.providers))
	var (
		mu       sync.Mutex
		failures []Failure
		skipped  []string
	)

	var g errgroup.Group
	for i, prov := range r.providers {
		if !prov.Enabled(rc, p) {
			skipped = append(skipped, prov.Name())
			continue
		}
		g.Go(func() error {
			start := time.Now()
			cands, err := r.fetch(ctx, prov, rc, p)
			run := &Run{Provider: prov.Name(), DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				run.Failed = true
				log.Warn("provider.failed", zap.String("provider", prov.Name()), zap.Error(err))
				mu.Lock()
				failures = append(failures, Failure{Provider: prov.Name(), Error: err.Error()})
				mu.Unlock()
			} else {
				outputs[i] = cands
				run.Count = len(cands)
			}
			runs[i] = run
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Skipped: skipped, Failures: failures}
	var merged []candidate.Candidate
	for i, out := range outputs {
		merged = append(merged, out...)
		if runs[i] != nil {
			res.Runs = append(res.Runs, *runs[i])
		}
	}
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Provider < res.Failures[j].Provider })
	res.RawCount = len(merged)
	res.Candidates = candidate.Dedupe(merged)
	res.BySource = candidate.CountBySource(res.Candidates)
	return res
}

// fetch applies the per-provider timeout and turns panics into errors.
func (r *Registry) fetch(ctx context.Context, prov Provider, rc *runctx.RunContext, p *plan.Plan) (cands []candidate.Candidate, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if v := recover(); v != nil {
			cands, err = nil, fmt.Errorf("provider %s panicked: %v", prov.Name(), v)
		}
	}()
	return prov.Fetch(ctx, rc, p)
}

// #endregion registry
