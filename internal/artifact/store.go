package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// Store persists stage artifacts through the storage collaborator.
type Store struct {
	db        *store.DB
	retention Retention
}

// NewStore builds a Store with the given retention policy.
func NewStore(db *store.DB, r Retention) *Store {
	return &Store{db: db, retention: r}
}

// Put upserts a by (run, stage) and sets its expiry from the run mode.
// A rerun of the same stage replaces the previous record.
func (s *Store) Put(ctx context.Context, a Raw) (Raw, error) {
	a.ExpiresAt = a.CreatedAt.Add(s.retention.TTL(a.Mode))
	stats, err := json.Marshal(a.Stats)
	if err != nil {
		return a, fmt.Errorf("encode stats: %w", err)
	}
	payload := string(a.Payload)
	if payload == "" {
		payload = "null"
	}
	row := store.StageArtifactRow{
		RunID:           a.RunID,
		Stage:           string(a.Stage),
		TraceID:         a.TraceID,
		UserID:          a.UserID,
		Mode:            string(a.Mode),
		SchemaVersion:   a.SchemaVersion,
		PipelineVersion: a.PipelineVersion,
		CreatedAt:       store.FormatTime(a.CreatedAt),
		DurationMS:      a.DurationMS,
		Summary:         a.Summary,
		Payload:         payload,
		VaultRef:        a.VaultRef,
		Stats:           string(stats),
		ExpiresAt:       store.FormatTime(a.ExpiresAt),
	}
	if err := s.db.UpsertStageArtifact(ctx, row); err != nil {
		return a, fmt.Errorf("put artifact %s/%s: %w", a.RunID, a.Stage, err)
	}
	return a, nil
}

// Get returns the artifact for (run, stage).
func (s *Store) Get(ctx context.Context, runID string, stage Stage) (Raw, error) {
	row, err := s.db.GetStageArtifact(ctx, runID, string(stage))
	if errors.Is(err, store.ErrNotFound) {
		return Raw{}, ErrNotFound
	}
	if err != nil {
		return Raw{}, err
	}
	return fromRow(row), nil
}

// List returns every artifact of a run in stage order.
func (s *Store) List(ctx context.Context, runID string) ([]Raw, error) {
	rows, err := s.db.ListStageArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}
	order := make(map[Stage]int, len(Stages))
	for i, st := range Stages {
		order[st] = i
	}
	out := make([]Raw, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	// Rows come back by creation time; a late MEMORY_EXTRACTION write still lists last.
	slices.SortStableFunc(out, func(a, b Raw) int { return order[a.Stage] - order[b.Stage] })
	return out, nil
}

// Runs returns the most recent runs.
func (s *Store) Runs(ctx context.Context, limit int) ([]store.RunSummary, error) {
	return s.db.ListRuns(ctx, limit)
}

// DeleteExpired removes artifacts whose expiry is at or before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.db.DeleteExpiredStageArtifacts(ctx, now)
}

func fromRow(r store.StageArtifactRow) Raw {
	a := Raw{
		TraceID:         r.TraceID,
		RunID:           r.RunID,
		UserID:          r.UserID,
		Mode:            runctx.Mode(r.Mode),
		Stage:           Stage(r.Stage),
		SchemaVersion:   r.SchemaVersion,
		PipelineVersion: r.PipelineVersion,
		CreatedAt:       store.ParseTime(r.CreatedAt),
		DurationMS:      r.DurationMS,
		Summary:         r.Summary,
		Payload:         json.RawMessage(r.Payload),
		VaultRef:        r.VaultRef,
		ExpiresAt:       store.ParseTime(r.ExpiresAt),
	}
	if r.Stats != "" && r.Stats != "null" {
		_ = json.Unmarshal([]byte(r.Stats), &a.Stats)
	}
	return a
}
