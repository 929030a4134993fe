// Package retention purges soft-deleted entities from the cache on a cron
// schedule. Deletes in the sync engine are tombstones first; this sweeper
// is what eventually reclaims them.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"hearth/pkg/logger"
	"hearth/pkg/models"
	"hearth/pkg/store"
)

// Config mirrors the retention block of the client config.
type Config struct {
	Enabled   bool
	Cron      string
	Period    time.Duration
	BatchSize int
	DryRun    bool
}

// Sweeper walks the cache and removes tombstoned entities older than the
// configured period.
type Sweeper struct {
	store *store.Store
	cfg   Config
}

func NewSweeper(st *store.Store, cfg Config) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Sweeper{store: st, cfg: cfg}
}

// Start launches the scheduler if retention is enabled. Returns a cancel func.
func (s *Sweeper) Start(ctx context.Context) (context.CancelFunc, error) {
	if !s.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	cronExpr := s.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", s.cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", s.cfg.Cron)
	}
	logger.Info("retention_enabled", "cron", cronExpr, "period", s.cfg.Period.String())
	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until it.
func (s *Sweeper) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
		if err := s.RunOnce(ctx); err != nil {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

// tombstone is the subset of any entity needed to decide purging.
type tombstone struct {
	Deleted   bool  `json:"deleted"`
	DeletedTS int64 `json:"deleted_ts"`
}

// RunOnce sweeps every kind and removes tombstones older than the period.
// With DryRun set it only counts.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.Period).UnixNano()
	purged := 0
	for _, kind := range models.Kinds() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var due []string
		err := s.store.Each(kind, func(id string, raw []byte) bool {
			var t tombstone
			if json.Unmarshal(raw, &t) != nil {
				return true
			}
			if t.Deleted && t.DeletedTS > 0 && t.DeletedTS < cutoff {
				due = append(due, id)
			}
			return len(due) < s.cfg.BatchSize
		})
		if err != nil {
			return err
		}
		for _, id := range due {
			if s.cfg.DryRun {
				purged++
				continue
			}
			if err := s.store.Remove(kind, id); err != nil {
				return err
			}
			purged++
		}
	}
	logger.Info("retention_run_complete", "purged", purged, "dry_run", s.cfg.DryRun)
	return nil
}
