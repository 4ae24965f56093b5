package memextract

import (
	"context"
	"time"

	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// #region kinds

// Kinds accepted from any extractor.
const (
	KindPreference    = "preference"
	KindFact          = "fact"
	KindRelationship  = "relationship"
	KindGoal          = "goal"
	KindPrayerRequest = "prayer_request"
	KindTheme         = "theme"
)

var kinds = []string{KindPreference, KindFact, KindRelationship, KindGoal, KindPrayerRequest, KindTheme}

// #endregion kinds

// #region candidate

// Candidate is one fact proposed for long-term memory.
type Candidate struct {
	Kind       string  `json:"kind"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Turn is the exchange an extractor reads.
type Turn struct {
	UserID   string
	Message  string
	Response string
}

// Extractor proposes candidates from a turn.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, t Turn) ([]Candidate, error)
}

// #endregion candidate

// #region result

// Summary is the trail form of a candidate: kind, key, redacted value.
type Summary struct {
	Kind       string  `json:"kind"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Result is the MEMORY_EXTRACTION stage payload. It holds counts and
// outcomes, never the turn text.
type Result struct {
	Eligible           bool      `json:"eligible"`
	Extractor          string    `json:"extractor,omitempty"`
	Candidates         []Summary `json:"candidates,omitempty"`
	SignalsCreated     int       `json:"signals_created"`
	SignalsIncremented int       `json:"signals_incremented"`
	MemoriesPromoted   int       `json:"memories_promoted"`
	MemoriesReinforced int       `json:"memories_reinforced"`
	Success            bool      `json:"success"`
	Error              string    `json:"error,omitempty"`
	DryRun             bool      `json:"dry_run"`
}

// Stats flattens the counts for the artifact stats map.
func (r Result) Stats() map[string]float64 {
	return map[string]float64{
		"candidates":          float64(len(r.Candidates)),
		"signals_created":     float64(r.SignalsCreated),
		"signals_incremented": float64(r.SignalsIncremented),
		"memories_promoted":   float64(r.MemoriesPromoted),
		"memories_reinforced": float64(r.MemoriesReinforced),
	}
}

// #endregion result

// #region config

// Config holds promotion thresholds.
type Config struct {
	PromoteCount     int           // observations before a signal becomes a memory
	PromoteScore     float64       // decayed evidence score that also promotes
	StrongConfidence float64       // a single observation at or above this promotes
	ReinforceStep    float64       // strength added to an existing memory
	Timeout          time.Duration // bound for one extraction
}

// DefaultConfig returns the standard promotion policy.
func DefaultConfig() Config {
	return Config{
		PromoteCount:     3,
		PromoteScore:     2.0,
		StrongConfidence: 0.9,
		ReinforceStep:    0.1,
		Timeout:          30 * time.Second,
	}
}

// #endregion config

// Reader gives dry runs and reinforcement a read-only view of stored evidence.
// *store.DB satisfies it.
type Reader interface {
	GetSignal(ctx context.Context, userID, kind, key string) (store.MemorySignal, error)
	GetMemory(ctx context.Context, userID, kind, key string) (store.DurableMemory, error)
}
