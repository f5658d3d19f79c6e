package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/fieldsync/internal/service/syncer"
	"github.com/jwalitptl/fieldsync/pkg/logger"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
)

// Pinger is a dependency that must be reachable before drafts are replayed.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Syncer interface {
	Sync(ctx context.Context, userID string, online bool) (*syncer.Report, error)
}

type OwnerLister interface {
	Owners(ctx context.Context) ([]string, error)
}

type SyncSweeperConfig struct {
	Interval    time.Duration
	PingTimeout time.Duration
}

// SyncSweeper replays every user's drafts whenever the store and the bucket
// both answer.
type SyncSweeper struct {
	owners  OwnerLister
	syncer  Syncer
	pingers map[string]Pinger
	config  SyncSweeperConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewSyncSweeper(
	owners OwnerLister,
	s Syncer,
	pingers map[string]Pinger,
	config SyncSweeperConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *SyncSweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SyncSweeper{
		owners:  owners,
		syncer:  s,
		pingers: pingers,
		config:  config,
		logger:  log,
		metrics: m,
	}
}

func (w *SyncSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("Starting sync sweeper", "interval", w.config.Interval.String())

	for {
		if err := w.Sweep(ctx); err != nil {
			w.logger.Error(err, "Sync sweep failed")
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down sync sweeper")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass. It is a no-op while a dependency ping fails. A user whose sync
// fails does not stop the others.
func (w *SyncSweeper) Sweep(ctx context.Context) error {
	if down := w.unreachable(ctx); down != "" {
		w.logger.Debug("Skipping sweep, dependency unreachable", "dependency", down)
		w.count("offline")
		return nil
	}

	users, err := w.owners.Owners(ctx)
	if err != nil {
		w.count("error")
		return fmt.Errorf("failed to list draft owners: %w", err)
	}

	failed := 0
	for _, user := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report, err := w.syncer.Sync(ctx, user, true)
		if err != nil {
			failed++
			w.logger.Error(err, "Failed to sync drafts", "user_id", user)
			continue
		}
		if report.Total > 0 {
			w.logger.Info("Swept drafts", "user_id", user, "synced", report.Synced, "failed", report.Failed)
		}
	}

	if failed > 0 {
		w.count("partial")
	} else {
		w.count("ok")
	}
	return nil
}

func (w *SyncSweeper) unreachable(ctx context.Context) string {
	pctx, cancel := context.WithTimeout(ctx, w.config.PingTimeout)
	defer cancel()
	for name, p := range w.pingers {
		if err := p.Ping(pctx); err != nil {
			return name
		}
	}
	return ""
}

func (w *SyncSweeper) count(result string) {
	if w.metrics != nil {
		w.metrics.SweepRuns.WithLabelValues(result).Inc()
	}
}
