package rank

import (
	"github.com/danielpatrickdp/companion-pipeline/internal/candidate"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
)

// #region reason
// Reason is the code recorded for every excluded candidate.
type Reason string

const (
	ReasonMemoryDisabled    Reason = "memory_disabled"
	ReasonNotRequested      Reason = "not_requested"
	ReasonSafety            Reason = "safety_filter"
	ReasonSemanticThreshold Reason = "semantic_threshold"
	ReasonCategoryCap       Reason = "category_cap"
	ReasonTokenBudget       Reason = "token_budget"
)

// EstimateMethod names the token estimator.
const EstimateMethod = "chars_div_4"

// #endregion reason

// #region config
// Config holds the allocator thresholds.
type Config struct {
	TokenBudget       int     // max estimated tokens across the selection
	SemanticThreshold float64 // min cosine similarity for semantically scored candidates
	DurableMemory     bool    // admit durable-memory candidates
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{TokenBudget: 2000, SemanticThreshold: 0.3}
}

// #endregion config

// #region result
// Selected is one chosen candidate.
type Selected struct {
	Candidate candidate.Candidate `json:"candidate"`
	Category  plan.Need           `json:"category,omitempty"` // set for artifacts only
	Score     float64             `json:"score"`
	Tokens    int                 `json:"tokens"`
	Method    string              `json:"method"`
	Reason    string              `json:"reason"`
}

// Excluded is one rejected candidate.
type Excluded struct {
	ID     string           `json:"id"`
	Source candidate.Source `json:"source"`
	Reason Reason           `json:"reason"`
	Detail string           `json:"detail"`
}

// Budget accounts for the token spend.
type Budget struct {
	MaxTokens  int                      `json:"max_tokens"`
	UsedTokens int                      `json:"used_tokens"`
	BySource   map[candidate.Source]int `json:"by_source"`
	Method     string                   `json:"method"`
}

// ScoreSummary describes the selected scores.
type ScoreSummary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// Result is the allocator output. Every input candidate appears in exactly
// one of Selected or Excluded.
type Result struct {
	Selected []Selected    `json:"selected"`
	Excluded []Excluded    `json:"excluded"`
	Budget   Budget        `json:"budget"`
	Scores   *ScoreSummary `json:"scores,omitempty"`
}

// Candidates returns the selected candidates in selection order.
func (r Result) Candidates() []candidate.Candidate {
	out := make([]candidate.Candidate, len(r.Selected))
	for i, s := range r.Selected {
		out[i] = s.Candidate
	}
	return out
}

// ExcludedBy counts exclusions per reason.
func (r Result) ExcludedBy() map[Reason]int {
	out := map[Reason]int{}
	for _, e := range r.Excluded {
		out[e.Reason]++
	}
	return out
}

// #endregion result
