package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// #region types

// StageArtifactRow is the persisted form of one stage artifact.
type StageArtifactRow struct {
	RunID           string `db:"run_id"`
	Stage           string `db:"stage"`
	TraceID         string `db:"trace_id"`
	UserID          string `db:"user_id"`
	Mode            string `db:"mode"`
	SchemaVersion   int    `db:"schema_version"`
	PipelineVersion string `db:"pipeline_version"`
	CreatedAt       string `db:"created_at"`
	DurationMS      int64  `db:"duration_ms"`
	Summary         string `db:"summary"`
	Payload         string `db:"payload"` // JSON
	VaultRef        string `db:"vault_ref"`
	Stats           string `db:"stats"` // JSON
	ExpiresAt       string `db:"expires_at"`
}

// VaultRow is one encrypted vault entry. Binary fields are base64 text.
type VaultRow struct {
	RunID      string `db:"run_id"`
	Stage      string `db:"stage"`
	Ciphertext string `db:"ciphertext"`
	IV         string `db:"iv"`
	Tag        string `db:"tag"`
	CreatedAt  string `db:"created_at"`
	ExpiresAt  string `db:"expires_at"`
}

// RunSummary is one row of ListRuns.
type RunSummary struct {
	RunID     string `db:"run_id"`
	TraceID   string `db:"trace_id"`
	UserID    string `db:"user_id"`
	Mode      string `db:"mode"`
	Stages    int    `db:"stages"`
	StartedAt string `db:"started_at"`
}

// #endregion types

// #region stage-artifacts

// UpsertStageArtifact writes a row keyed by (run, stage); a rerun replaces it.
func (db *DB) UpsertStageArtifact(ctx context.Context, r StageArtifactRow) error {
	q := db.x.Rebind(`INSERT INTO stage_artifacts
		(run_id, stage, trace_id, user_id, mode, schema_version, pipeline_version, created_at,
		 duration_ms, summary, payload, vault_ref, stats, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, stage) DO UPDATE SET
			trace_id = excluded.trace_id, user_id = excluded.user_id, mode = excluded.mode,
			schema_version = excluded.schema_version, pipeline_version = excluded.pipeline_version,
			created_at = excluded.created_at, duration_ms = excluded.duration_ms,
			summary = excluded.summary, payload = excluded.payload, vault_ref = excluded.vault_ref,
			stats = excluded.stats, expires_at = excluded.expires_at`)
	_, err := db.x.ExecContext(ctx, q,
		r.RunID, r.Stage, r.TraceID, r.UserID, r.Mode, r.SchemaVersion, r.PipelineVersion, r.CreatedAt,
		r.DurationMS, r.Summary, r.Payload, r.VaultRef, r.Stats, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert stage artifact: %w", err)
	}
	return nil
}

// GetStageArtifact returns the row for (run, stage).
func (db *DB) GetStageArtifact(ctx context.Context, runID, stage string) (StageArtifactRow, error) {
	var r StageArtifactRow
	err := db.x.GetContext(ctx, &r, db.x.Rebind(`SELECT * FROM stage_artifacts WHERE run_id = ? AND stage = ?`), runID, stage)
	if errors.Is(err, sql.ErrNoRows) {
		return StageArtifactRow{}, ErrNotFound
	}
	if err != nil {
		return StageArtifactRow{}, fmt.Errorf("get stage artifact: %w", err)
	}
	return r, nil
}

// ListStageArtifacts returns a run's rows in creation order.
func (db *DB) ListStageArtifacts(ctx context.Context, runID string) ([]StageArtifactRow, error) {
	var out []StageArtifactRow
	err := db.x.SelectContext(ctx, &out, db.x.Rebind(`SELECT * FROM stage_artifacts WHERE run_id = ? ORDER BY created_at ASC`), runID)
	if err != nil {
		return nil, fmt.Errorf("list stage artifacts: %w", err)
	}
	return out, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []RunSummary
	err := db.x.SelectContext(ctx, &out, db.x.Rebind(`SELECT run_id, MIN(trace_id) AS trace_id,
			MIN(user_id) AS user_id, MIN(mode) AS mode, COUNT(*) AS stages, MIN(created_at) AS started_at
		FROM stage_artifacts GROUP BY run_id ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// DeleteExpiredStageArtifacts removes rows whose expiry is at or before now.
func (db *DB) DeleteExpiredStageArtifacts(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.x.ExecContext(ctx, db.x.Rebind(`DELETE FROM stage_artifacts WHERE expires_at <= ?`), FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired artifacts: %w", err)
	}
	return res.RowsAffected()
}

// #endregion stage-artifacts

// #region vault-entries

// UpsertVaultEntry writes an entry keyed by (run, stage).
func (db *DB) UpsertVaultEntry(ctx context.Context, r VaultRow) error {
	q := db.x.Rebind(`INSERT INTO vault_entries (run_id, stage, ciphertext, iv, tag, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, stage) DO UPDATE SET
			ciphertext = excluded.ciphertext, iv = excluded.iv, tag = excluded.tag,
			created_at = excluded.created_at, expires_at = excluded.expires_at`)
	_, err := db.x.ExecContext(ctx, q, r.RunID, r.Stage, r.Ciphertext, r.IV, r.Tag, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert vault entry: %w", err)
	}
	return nil
}

// GetVaultEntry returns the entry for (run, stage).
func (db *DB) GetVaultEntry(ctx context.Context, runID, stage string) (VaultRow, error) {
	var r VaultRow
	err := db.x.GetContext(ctx, &r, db.x.Rebind(`SELECT * FROM vault_entries WHERE run_id = ? AND stage = ?`), runID, stage)
	if errors.Is(err, sql.ErrNoRows) {
		return VaultRow{}, ErrNotFound
	}
	if err != nil {
		return VaultRow{}, fmt.Errorf("get vault entry: %w", err)
	}
	return r, nil
}

// DeleteExpiredVaultEntries removes entries whose expiry is at or before now.
func (db *DB) DeleteExpiredVaultEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.x.ExecContext(ctx, db.x.Rebind(`DELETE FROM vault_entries WHERE expires_at <= ?`), FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired vault entries: %w", err)
	}
	return res.RowsAffected()
}

// #endregion vault-entries
