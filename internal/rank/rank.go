// Package rank filters, scores and budgets the merged candidates into the
// selection handed to the prompt assembler.
package rank

import (
	"fmt"
	"slices"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/candidate"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
)

// #region ranker
// Ranker applies admissibility vetoes first, then scores and greedily fills
// the token budget under per-category caps.
type Ranker struct {
	config Config
	logger *zap.Logger
}

// NewRanker creates a Ranker. logger may be nil.
func NewRanker(config Config, logger *zap.Logger) *Ranker {
	if config.TokenBudget <= 0 {
		config.TokenBudget = DefaultConfig().TokenBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{config: config, logger: logger}
}

type scored struct {
	c        candidate.Candidate
	category plan.Need
	score    float64
	reason   string
}

// Rank partitions, filters, scores and selects.
func (r *Ranker) Rank(p *plan.Plan, cands []candidate.Candidate) Result {
	res := Result{Budget: Budget{MaxTokens: r.config.TokenBudget, BySource: map[candidate.Source]int{}, Method: EstimateMethod}}
	exclude := func(c candidate.Candidate, reason Reason, detail string) {
		m := c.Meta()
		res.Excluded = append(res.Excluded, Excluded{ID: m.ID, Source: m.Source, Reason: reason, Detail: detail})
	}

	// --- Veto pass ---
	var pool []candidate.Candidate
	memoryDropped := 0
	for _, c := range cands {
		m := c.Meta()
		if m.Source == candidate.SourceMemory && !r.config.DurableMemory {
			memoryDropped++
			exclude(c, ReasonMemoryDisabled, "durable memory retrieval is disabled")
			continue
		}
		if a, ok := c.(*candidate.Artifact); ok {
			if admit, detail := admissible(p, a); !admit {
				exclude(c, ReasonNotRequested, detail)
				continue
			}
		}
		if flags := plan.DetectSafety(m.Preview); flags.Any() {
			exclude(c, ReasonSafety, safetyDetail(flags))
			continue
		}
		if s := m.Features.SemanticScore; s != nil && *s < r.config.SemanticThreshold {
			exclude(c, ReasonSemanticThreshold, fmt.Sprintf("semantic %.3f < threshold %.2f", *s, r.config.SemanticThreshold))
			continue
		}
		pool = append(pool, c)
	}
	if memoryDropped > 0 {
		r.logger.Debug("rank.memory_disabled", zap.Int("count", memoryDropped))
	}

	// --- Scoring ---
	direction := p.TemporalDirection()
	if direction != "" {
		applyTemporal(pool, direction)
	}
	ranked := make([]scored, 0, len(pool))
	for _, c := range pool {
		ranked = append(ranked, r.score(p, c, direction))
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	// --- Greedy selection ---
	taken := map[plan.Need]int{}
	for _, s := range ranked {
		tokens := EstimateTokens(s.c.Content())
		if s.category != "" {
			limit := p.Limit(s.category)
			if taken[s.category] >= limit {
				exclude(s.c, ReasonCategoryCap, fmt.Sprintf("%s cap %d reached", s.category, limit))
				continue
			}
		}
		if res.Budget.UsedTokens+tokens > r.config.TokenBudget {
			exclude(s.c, ReasonTokenBudget, fmt.Sprintf("needs %d tokens, %d of %d left",
				tokens, r.config.TokenBudget-res.Budget.UsedTokens, r.config.TokenBudget))
			continue
		}
		if s.category != "" {
			taken[s.category]++
		}
		res.Budget.UsedTokens += tokens
		res.Budget.BySource[s.c.Meta().Source] += tokens
		res.Selected = append(res.Selected, Selected{
			Candidate: s.c, Category: s.category, Score: s.score, Tokens: tokens, Method: EstimateMethod, Reason: s.reason,
		})
	}
	res.Scores = summarize(res.Selected)
	return res
}

// #endregion ranker

// #region admissibility
// admissible admits an artifact whose type has a dedicated need when that need
// or the semantic need is present. Other types need the semantic need.
func admissible(p *plan.Plan, a *candidate.Artifact) (bool, string) {
	if need := plan.NeedForArtifactType(a.Type); need != "" && p.HasNeed(need) {
		return true, ""
	}
	if !p.HasNeed(plan.NeedSemantic) {
		return false, fmt.Sprintf("%s not covered by plan needs", a.Type)
	}
	if !p.AllowsType(a.Type) {
		return false, fmt.Sprintf("%s not in artifact allowlist", a.Type)
	}
	return true, ""
}

func safetyDetail(f plan.SafetyFlags) string {
	if f.SelfHarm {
		return "preview matches self-harm pattern"
	}
	return "preview matches violence pattern"
}

// #endregion admissibility

// #region scoring
// category is the cap bucket of an artifact: its dedicated need when the plan
// requested it, else the semantic bucket. Non-artifacts are uncapped.
func category(p *plan.Plan, c candidate.Candidate) plan.Need {
	a, ok := c.(*candidate.Artifact)
	if !ok {
		return ""
	}
	if need := plan.NeedForArtifactType(a.Type); need != "" && p.HasNeed(need) {
		return need
	}
	return plan.NeedSemantic
}

func (r *Ranker) score(p *plan.Plan, c candidate.Candidate, direction plan.Direction) scored {
	f := c.Meta().Features
	switch v := c.(type) {
	case *candidate.Artifact:
		sem := candidate.Value(f.SemanticScore, 0)
		rec := candidate.Value(f.RecencyScore, 0)
		if direction != "" {
			tmp := candidate.Value(f.TemporalScore, 0)
			s := 0.5*sem + 0.4*tmp + 0.1*rec
			return scored{c: c, category: category(p, c), score: s,
				reason: fmt.Sprintf("score %.3f (semantic %.2f, temporal %.2f, recency %.2f)", s, sem, tmp, rec)}
		}
		s := 0.8*sem + 0.2*rec
		return scored{c: c, category: category(p, c), score: s,
			reason: fmt.Sprintf("score %.3f (semantic %.2f, recency %.2f)", s, sem, rec)}
	case *candidate.Memory:
		return scored{c: c, score: v.Strength, reason: fmt.Sprintf("memory strength %.2f", v.Strength)}
	}
	return scored{c: c, score: 1, reason: "always include"}
}

// applyTemporal sets a 0..1 temporal score relative to the creation-time span
// of the pool. 1 is the end the direction asks for.
func applyTemporal(pool []candidate.Candidate, direction plan.Direction) {
	var lo, hi time.Time
	for _, c := range pool {
		t, ok := c.Meta().Features.Created()
		if !ok {
			continue
		}
		if lo.IsZero() || t.Before(lo) {
			lo = t
		}
		if hi.IsZero() || t.After(hi) {
			hi = t
		}
	}
	span := hi.Sub(lo)
	for _, c := range pool {
		m := c.Meta()
		t, ok := m.Features.Created()
		if !ok {
			continue
		}
		pos := 1.0
		if span > 0 {
			pos = float64(t.Sub(lo)) / float64(span)
		}
		if direction == plan.DirectionOldest && span > 0 {
			pos = 1 - pos
		}
		m.Features.TemporalScore = candidate.Score(pos)
	}
}

// EstimateTokens is ceil(chars/4).
func EstimateTokens(s string) int {
	n := len([]rune(s))
	return (n + 3) / 4
}

func summarize(sel []Selected) *ScoreSummary {
	if len(sel) == 0 {
		return nil
	}
	data := make(stats.Float64Data, len(sel))
	for i, s := range sel {
		data[i] = s.Score
	}
	lo, _ := stats.Min(data)
	hi, _ := stats.Max(data)
	mean, _ := stats.Mean(data)
	median, _ := stats.Median(data)
	return &ScoreSummary{Min: lo, Max: hi, Mean: mean, Median: median}
}

// #endregion scoring
