// Package artifact is the inspectable execution trace: one redacted,
// versioned, timed record per (run, stage), persisted with an expiry.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// Versions stamped on every artifact.
const (
	SchemaVersion   = 1
	PipelineVersion = "2026.10"
)

var ErrNotFound = errors.New("artifact: not found")

// #region stages

// Stage names a pipeline stage.
type Stage string

const (
	StageIngress          Stage = "INGRESS"
	StageCandidates       Stage = "CANDIDATES"
	StageRankBudget       Stage = "RANK_BUDGET"
	StagePromptAssembly   Stage = "PROMPT_ASSEMBLY"
	StageModelCall        Stage = "MODEL_CALL"
	StageMemoryExtraction Stage = "MEMORY_EXTRACTION"
)

// Stages lists the stages in execution order.
var Stages = []Stage{
	StageIngress, StageCandidates, StageRankBudget,
	StagePromptAssembly, StageModelCall, StageMemoryExtraction,
}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// #endregion stages

// #region stage-artifact

// StageArtifact is one stage's trace record. T is the redacted payload type.
type StageArtifact[T any] struct {
	TraceID         string             `json:"trace_id"`
	RunID           string             `json:"run_id"`
	UserID          string             `json:"user_id,omitempty"`
	Mode            runctx.Mode        `json:"mode"`
	Stage           Stage              `json:"stage"`
	SchemaVersion   int                `json:"schema_version"`
	PipelineVersion string             `json:"pipeline_version"`
	CreatedAt       time.Time          `json:"created_at"`
	DurationMS      int64              `json:"duration_ms"`
	Summary         string             `json:"summary"`
	Payload         T                  `json:"payload"`
	VaultRef        string             `json:"vault_ref,omitempty"`
	Stats           map[string]float64 `json:"stats,omitempty"`
	ExpiresAt       time.Time          `json:"expires_at"`
}

// Raw is an artifact whose payload is kept as encoded JSON.
type Raw = StageArtifact[json.RawMessage]

// New stamps the run identity, versions and timing onto payload.
func New[T any](rc *runctx.RunContext, stage Stage, started time.Time, took time.Duration, summary string, payload T) StageArtifact[T] {
	return StageArtifact[T]{
		TraceID:         rc.TraceID(),
		RunID:           rc.RunID(),
		UserID:          rc.UserID(),
		Mode:            rc.Mode(),
		Stage:           stage,
		SchemaVersion:   SchemaVersion,
		PipelineVersion: PipelineVersion,
		CreatedAt:       started.UTC(),
		DurationMS:      took.Milliseconds(),
		Summary:         summary,
		Payload:         payload,
	}
}

// Encode erases the payload type for storage.
func Encode[T any](a StageArtifact[T]) (Raw, error) {
	b, err := json.Marshal(a.Payload)
	if err != nil {
		return Raw{}, fmt.Errorf("encode %s payload: %w", a.Stage, err)
	}
	return withPayload(a, json.RawMessage(b)), nil
}

// Decode restores a typed payload.
func Decode[T any](a Raw) (StageArtifact[T], error) {
	var p T
	if len(a.Payload) > 0 {
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return StageArtifact[T]{}, fmt.Errorf("decode %s payload: %w", a.Stage, err)
		}
	}
	return withPayload(a, p), nil
}

func withPayload[A, B any](a StageArtifact[A], p B) StageArtifact[B] {
	return StageArtifact[B]{
		TraceID: a.TraceID, RunID: a.RunID, UserID: a.UserID, Mode: a.Mode,
		Stage: a.Stage, SchemaVersion: a.SchemaVersion, PipelineVersion: a.PipelineVersion,
		CreatedAt: a.CreatedAt, DurationMS: a.DurationMS, Summary: a.Summary,
		Payload: p, VaultRef: a.VaultRef, Stats: a.Stats, ExpiresAt: a.ExpiresAt,
	}
}

// #endregion stage-artifact

// #region ttl

// Retention is the expiry policy by run mode.
type Retention struct {
	Debug time.Duration
	Prod  time.Duration
}

// DefaultRetention keeps debug traces 7 days and production traces 30.
func DefaultRetention() Retention {
	return Retention{Debug: 7 * 24 * time.Hour, Prod: 30 * 24 * time.Hour}
}

// TTL returns the lifetime for an artifact written in mode.
func (r Retention) TTL(mode runctx.Mode) time.Duration {
	if mode == runctx.ModeDebug {
		return r.Debug
	}
	return r.Prod
}

// #endregion ttl
