package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// SignalHalfLife is the decay constant applied to memory signal scores.
const SignalHalfLife = 14 * 24 * time.Hour

// #region types

// DurableMemory is a long-term fact about a user.
type DurableMemory struct {
	ID        string  `db:"id"`
	UserID    string  `db:"user_id"`
	Kind      string  `db:"kind"`
	Key       string  `db:"mem_key"`
	Value     string  `db:"value"`
	Strength  float64 `db:"strength"`
	Status    string  `db:"status"`
	CreatedAt string  `db:"created_at"`
	UpdatedAt string  `db:"updated_at"`
}

// MemorySignal is a decaying evidence counter for a candidate memory.
type MemorySignal struct {
	UserID     string  `db:"user_id"`
	Kind       string  `db:"kind"`
	Key        string  `db:"sig_key"`
	Value      string  `db:"value"`
	Count      int     `db:"count"`
	Score      float64 `db:"score"`
	LastSeenAt string  `db:"last_seen_at"`
}

// Decayed returns the score as of now.
func (s MemorySignal) Decayed(now time.Time) float64 {
	age := now.Sub(ParseTime(s.LastSeenAt))
	if age <= 0 {
		return s.Score
	}
	return s.Score * math.Exp(-age.Hours()/SignalHalfLife.Hours())
}

// #endregion types

// #region memories

// ListMemories returns active memories with strength >= minStrength, strongest first.
func (db *DB) ListMemories(ctx context.Context, userID string, minStrength float64) ([]DurableMemory, error) {
	var out []DurableMemory
	err := db.x.SelectContext(ctx, &out, db.x.Rebind(`SELECT * FROM durable_memories
		WHERE user_id = ? AND status = ? AND strength >= ?
		ORDER BY strength DESC, updated_at DESC`), userID, StatusActive, minStrength)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return out, nil
}

// GetMemory returns one memory by (user, kind, key).
func (db *DB) GetMemory(ctx context.Context, userID, kind, key string) (DurableMemory, error) {
	var m DurableMemory
	err := db.x.GetContext(ctx, &m, db.x.Rebind(`SELECT * FROM durable_memories
		WHERE user_id = ? AND kind = ? AND mem_key = ?`), userID, kind, key)
	if errors.Is(err, sql.ErrNoRows) {
		return DurableMemory{}, ErrNotFound
	}
	if err != nil {
		return DurableMemory{}, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// UpsertMemory writes a memory keyed by (user, kind, key). An existing row keeps
// its id and the higher strength, and is reactivated.
func (db *DB) UpsertMemory(ctx context.Context, m *DurableMemory) error {
	now := FormatTime(time.Now())
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt == "" {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Status = StatusActive

	q := db.x.Rebind(`INSERT INTO durable_memories
		(id, user_id, kind, mem_key, value, strength, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, kind, mem_key) DO UPDATE SET
			value = excluded.value,
			strength = CASE WHEN excluded.strength > durable_memories.strength
				THEN excluded.strength ELSE durable_memories.strength END,
			status = excluded.status,
			updated_at = excluded.updated_at`)
	_, err := db.x.ExecContext(ctx, q,
		m.ID, m.UserID, m.Kind, m.Key, m.Value, m.Strength, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// DeleteMemory soft-deletes a memory. Deleting a missing memory is not an error.
func (db *DB) DeleteMemory(ctx context.Context, userID, id string) error {
	_, err := db.x.ExecContext(ctx, db.x.Rebind(`UPDATE durable_memories
		SET status = ?, updated_at = ? WHERE user_id = ? AND id = ?`),
		StatusDeleted, FormatTime(time.Now()), userID, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// #endregion memories

// #region signals

// IncrementSignal records one more observation of (user, kind, key). The score
// decays exponentially with SignalHalfLife before weight is added. Returns the
// updated row.
func (db *DB) IncrementSignal(ctx context.Context, userID, kind, key, value string, weight float64, now time.Time) (MemorySignal, error) {
	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return MemorySignal{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var sig MemorySignal
	err = tx.GetContext(ctx, &sig, tx.Rebind(`SELECT * FROM memory_signals
		WHERE user_id = ? AND kind = ? AND sig_key = ?`), userID, kind, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		sig = MemorySignal{UserID: userID, Kind: kind, Key: key}
	case err != nil:
		return MemorySignal{}, fmt.Errorf("get signal: %w", err)
	default:
		sig.Score = sig.Decayed(now)
	}
	sig.Value = value
	sig.Count++
	sig.Score += weight
	sig.LastSeenAt = FormatTime(now)

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO memory_signals
		(user_id, kind, sig_key, value, count, score, last_seen_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, kind, sig_key) DO UPDATE SET
			value = excluded.value, count = excluded.count, score = excluded.score,
			last_seen_at = excluded.last_seen_at`),
		sig.UserID, sig.Kind, sig.Key, sig.Value, sig.Count, sig.Score, sig.LastSeenAt)
	if err != nil {
		return MemorySignal{}, fmt.Errorf("upsert signal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return MemorySignal{}, fmt.Errorf("commit: %w", err)
	}
	return sig, nil
}

// GetSignal returns the signal for (user, kind, key).
func (db *DB) GetSignal(ctx context.Context, userID, kind, key string) (MemorySignal, error) {
	var sig MemorySignal
	err := db.x.GetContext(ctx, &sig, db.x.Rebind(`SELECT * FROM memory_signals
		WHERE user_id = ? AND kind = ? AND sig_key = ?`), userID, kind, key)
	if errors.Is(err, sql.ErrNoRows) {
		return MemorySignal{}, ErrNotFound
	}
	if err != nil {
		return MemorySignal{}, fmt.Errorf("get signal: %w", err)
	}
	return sig, nil
}

// #endregion signals
