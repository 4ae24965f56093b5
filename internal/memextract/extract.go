// Package memextract mines a finished exchange for durable facts about the
// user. Each fact becomes a decaying signal; repeated or strong signals are
// promoted into long-term memory through the side-effect gateway.
package memextract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/redact"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/sideeffect"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// Engine runs extraction and promotion for one turn.
type Engine struct {
	extractor Extractor
	reader    Reader
	cfg       Config
}

// NewEngine builds an Engine. A nil extractor means Rules; reader may be nil,
// in which case dry runs assume no prior evidence.
func NewEngine(extractor Extractor, reader Reader, cfg Config) *Engine {
	if extractor == nil {
		extractor = Rules{}
	}
	return &Engine{extractor: extractor, reader: reader, cfg: cfg}
}

// Run extracts and promotes. It never returns an error or panics; failures
// are reported in Result.Error and logged as memextract.failed.
func (e *Engine) Run(ctx context.Context, rc *runctx.RunContext, p *plan.Plan, response string, gw sideeffect.Gateway) (res Result) {
	res.DryRun = !gw.Live()
	if p == nil || !p.Response.SelfDisclosure {
		res.Success = true
		return res
	}
	res.Eligible = true
	res.Extractor = e.extractor.Name()

	log := rc.Logger()
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		if res.Error != "" {
			log.Warn("memextract.failed", zap.String("error", res.Error), zap.Bool("dry_run", res.DryRun))
		}
	}()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cands, err := e.extractor.Extract(ctx, Turn{UserID: rc.UserID(), Message: rc.Message(), Response: response})
	if err != nil {
		res.Error = fmt.Sprintf("extract: %v", err)
		return res
	}
	for _, c := range cands {
		res.Candidates = append(res.Candidates, Summary{
			Kind: c.Kind, Key: c.Key, Value: redact.Truncate(redact.Strip(c.Value), 60), Confidence: c.Confidence,
		})
		if err := e.apply(ctx, rc, gw, c, &res); err != nil {
			res.Error = err.Error()
			return res
		}
	}
	res.Success = true
	log.Debug("memextract.done",
		zap.Int("candidates", len(cands)),
		zap.Int("promoted", res.MemoriesPromoted),
		zap.Int("reinforced", res.MemoriesReinforced),
		zap.Bool("dry_run", res.DryRun))
	return res
}

// apply records one observation and promotes it when the evidence is enough.
func (e *Engine) apply(ctx context.Context, rc *runctx.RunContext, gw sideeffect.Gateway, c Candidate, res *Result) error {
	user := rc.UserID()
	sig, err := gw.IncrementSignal(ctx, user, c.Kind, c.Key, c.Value, c.Confidence)
	if err != nil {
		return fmt.Errorf("increment signal %s/%s: %w", c.Kind, c.Key, err)
	}
	if !gw.Live() {
		sig = e.project(ctx, user, c)
	}
	if sig.Count <= 1 {
		res.SignalsCreated++
	} else {
		res.SignalsIncremented++
	}
	if !e.promotes(sig, c) {
		return nil
	}

	mem := store.DurableMemory{UserID: user, Kind: c.Kind, Key: c.Key, Value: c.Value, Strength: c.Confidence}
	existing, found := e.existing(ctx, user, c)
	if found {
		mem.Strength = min(1, max(existing.Strength, c.Confidence)+e.cfg.ReinforceStep)
	}
	if _, err := gw.UpsertMemory(ctx, mem); err != nil {
		return fmt.Errorf("promote memory %s/%s: %w", c.Kind, c.Key, err)
	}
	if found {
		res.MemoriesReinforced++
	} else {
		res.MemoriesPromoted++
	}
	return nil
}

func (e *Engine) promotes(sig store.MemorySignal, c Candidate) bool {
	return c.Confidence >= e.cfg.StrongConfidence ||
		sig.Count >= e.cfg.PromoteCount ||
		sig.Score >= e.cfg.PromoteScore
}

// project computes the signal a live run would have written.
func (e *Engine) project(ctx context.Context, user string, c Candidate) store.MemorySignal {
	sig := store.MemorySignal{UserID: user, Kind: c.Kind, Key: c.Key}
	if e.reader != nil {
		if prior, err := e.reader.GetSignal(ctx, user, c.Kind, c.Key); err == nil {
			sig = prior
			sig.Score = prior.Decayed(time.Now())
		}
	}
	sig.Count++
	sig.Score += c.Confidence
	return sig
}

func (e *Engine) existing(ctx context.Context, user string, c Candidate) (store.DurableMemory, bool) {
	if e.reader == nil {
		return store.DurableMemory{}, false
	}
	m, err := e.reader.GetMemory(ctx, user, c.Kind, c.Key)
	if err != nil || m.Status != store.StatusActive {
		return store.DurableMemory{}, false
	}
	return m, true
}
