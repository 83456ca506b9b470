package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
)

// Scheduler periodically runs the directory sync, the retention pass and
// attempt cleanup. Each job failing is logged and never stops the others.
type Scheduler struct {
	Reconcile         *ReconcileService // nil disables sync
	Retention         *RetentionService
	Attempts          *AttemptTracker
	Policy            domain.RetentionPolicy
	SyncInterval      time.Duration
	RetentionInterval time.Duration
	AttemptRetention  time.Duration
	Logger            *slog.Logger

	// Internal channels for lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler fills in default intervals: one hour for sync and a day
// for retention.
func NewScheduler(logger *slog.Logger, syncInterval, retentionInterval time.Duration) *Scheduler {
	if syncInterval <= 0 {
		syncInterval = time.Hour
	}
	if retentionInterval <= 0 {
		retentionInterval = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		SyncInterval:      syncInterval,
		RetentionInterval: retentionInterval,
		AttemptRetention:  DefaultAttemptRetention,
		Logger:            logger,
		ctx:               ctx,
		cancel:            cancel,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// Start launches the worker. It does not block.
func (s *Scheduler) Start() {
	go s.run()
	s.Logger.Info("scheduler started",
		"sync_interval", s.SyncInterval,
		"retention_interval", s.RetentionInterval,
		"sync_enabled", s.Reconcile != nil,
	)
}

// Stop aborts any job in flight and waits for the worker to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	syncTicker := time.NewTicker(s.SyncInterval)
	defer syncTicker.Stop()
	retentionTicker := time.NewTicker(s.RetentionInterval)
	defer retentionTicker.Stop()

	// Run everything once on startup
	s.sync()
	s.housekeeping()

	for {
		select {
		case <-syncTicker.C:
			s.sync()
		case <-retentionTicker.C:
			s.housekeeping()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sync() {
	if s.Reconcile == nil {
		return
	}
	// Result and failure are logged by the service.
	if _, err := s.Reconcile.Synchronize(s.ctx); errors.Is(err, ErrSyncInProgress) {
		s.Logger.Info("directory sync skipped, another run holds the lock")
	}
}

func (s *Scheduler) housekeeping() {
	if s.Retention != nil {
		if _, err := s.Retention.Advance(s.ctx, s.Policy); err != nil {
			s.Logger.Error("retention pass finished with errors", "error", err)
		}
	}

	if s.Attempts != nil {
		n, err := s.Attempts.Cleanup(s.ctx, s.AttemptRetention)
		if err != nil {
			s.Logger.Error("failed to delete old login attempts", "error", err)
		} else {
			s.Logger.Debug("deleted old login attempts", "count", n)
		}
	}
}
