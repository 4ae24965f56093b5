// Package sideeffect is the only mutation boundary of the pipeline. Durable
// memories and memory signals are written through a Gateway, which is either
// live or a logging no-op depending on the run's policies.
package sideeffect

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// #region interface

// Gateway mutates shared user state.
type Gateway interface {
	IncrementSignal(ctx context.Context, userID, kind, key, value string, weight float64) (store.MemorySignal, error)
	UpsertMemory(ctx context.Context, m store.DurableMemory) (store.DurableMemory, error)
	DeleteMemory(ctx context.Context, userID, id string) error
	// Live reports whether calls reach storage.
	Live() bool
}

// ForRun picks the live gateway when the run permits side effects, else a no-op
// bound to the run logger.
func ForRun(rc *runctx.RunContext, live Gateway) Gateway {
	if rc.SideEffectsAllowed() && live != nil {
		return live
	}
	return NewNoop(rc.Logger())
}

// #endregion interface

// #region live

// Store is the live gateway over the storage collaborator.
type Store struct {
	db  *store.DB
	now func() time.Time
}

// NewStore builds a live gateway.
func NewStore(db *store.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Live() bool { return true }

func (s *Store) IncrementSignal(ctx context.Context, userID, kind, key, value string, weight float64) (store.MemorySignal, error) {
	sig, err := s.db.IncrementSignal(ctx, userID, kind, key, value, weight, s.now())
	if err != nil {
		return store.MemorySignal{}, fmt.Errorf("increment signal: %w", err)
	}
	return sig, nil
}

// UpsertMemory writes m and returns the stored row, which keeps the id of an
// existing memory with the same (user, kind, key).
func (s *Store) UpsertMemory(ctx context.Context, m store.DurableMemory) (store.DurableMemory, error) {
	if err := s.db.UpsertMemory(ctx, &m); err != nil {
		return store.DurableMemory{}, err
	}
	stored, err := s.db.GetMemory(ctx, m.UserID, m.Kind, m.Key)
	if err != nil {
		return store.DurableMemory{}, fmt.Errorf("reload memory: %w", err)
	}
	return stored, nil
}

func (s *Store) DeleteMemory(ctx context.Context, userID, id string) error {
	return s.db.DeleteMemory(ctx, userID, id)
}

// #endregion live

// #region noop

// Noop logs each call and touches nothing.
type Noop struct {
	logger *zap.Logger
	calls  atomic.Int64
}

// NewNoop builds a no-op gateway.
func NewNoop(logger *zap.Logger) *Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noop{logger: logger}
}

func (n *Noop) Live() bool { return false }

// Calls reports how many calls were swallowed.
func (n *Noop) Calls() int64 { return n.calls.Load() }

func (n *Noop) IncrementSignal(_ context.Context, _, kind, key, _ string, weight float64) (store.MemorySignal, error) {
	n.record("increment_signal", zap.String("kind", kind), zap.String("key", key), zap.Float64("weight", weight))
	return store.MemorySignal{Kind: kind, Key: key}, nil
}

func (n *Noop) UpsertMemory(_ context.Context, m store.DurableMemory) (store.DurableMemory, error) {
	n.record("upsert_memory", zap.String("kind", m.Kind), zap.String("key", m.Key))
	return m, nil
}

func (n *Noop) DeleteMemory(_ context.Context, _, id string) error {
	n.record("delete_memory", zap.String("memory_id", id))
	return nil
}

func (n *Noop) record(op string, fields ...zap.Field) {
	n.calls.Add(1)
	n.logger.Debug("sideeffect.noop", append([]zap.Field{zap.String("op", op)}, fields...)...)
}

// #endregion noop
