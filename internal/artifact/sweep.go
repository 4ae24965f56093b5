package artifact

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Expirer deletes rows whose expiry has passed.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepResult counts rows removed by one sweep.
type SweepResult struct {
	Artifacts    int64 `json:"artifacts"`
	VaultEntries int64 `json:"vault_entries"`
}

// Sweeper periodically removes expired artifacts and vault entries. The two
// expiries are independent.
type Sweeper struct {
	artifacts Expirer
	vault     Expirer
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper builds a Sweeper. vault may be nil when no vault is configured.
func NewSweeper(artifacts, vault Expirer, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{artifacts: artifacts, vault: vault, logger: logger, now: time.Now}
}

// SweepOnce deletes everything expired as of now.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var res SweepResult
	n, err := s.artifacts.DeleteExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("sweep artifacts: %w", err)
	}
	res.Artifacts = n
	if s.vault != nil {
		n, err = s.vault.DeleteExpired(ctx, now)
		if err != nil {
			return res, fmt.Errorf("sweep vault: %w", err)
		}
		res.VaultEntries = n
	}
	s.logger.Info("sweep.done",
		zap.Int64("artifacts", res.Artifacts),
		zap.Int64("vault_entries", res.VaultEntries))
	return res, nil
}

// Run sweeps every interval until ctx is cancelled. Failed sweeps are logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, every time.Duration) error {
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Warn("sweep.failed", zap.Error(err))
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("sweep.failed", zap.Error(err))
			}
		}
	}
}
