package ingest

import (
	"context"
	"time"

	"github.com/ignite/ghostpost/internal/contextdir"
	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/store"
	"github.com/ignite/ghostpost/internal/thread"
)

// Scheduler runs the background loops: flipping overdue threads into
// FOLLOW_UP and refreshing the context directory.
type Scheduler struct {
	store     *store.Store
	threads   *thread.Service
	projector *contextdir.Projector

	followUpInterval   time.Duration
	projectionInterval time.Duration
}

// NewScheduler creates the background scheduler. Non-positive intervals
// get sane defaults.
func NewScheduler(st *store.Store, threads *thread.Service, projector *contextdir.Projector, followUpInterval, projectionInterval time.Duration) *Scheduler {
	if followUpInterval <= 0 {
		followUpInterval = 5 * time.Minute
	}
	if projectionInterval <= 0 {
		projectionInterval = 10 * time.Minute
	}
	return &Scheduler{
		store:              st,
		threads:            threads,
		projector:          projector,
		followUpInterval:   followUpInterval,
		projectionInterval: projectionInterval,
	}
}

// Run blocks until ctx is cancelled, driving both loops. Each pass runs
// once immediately on start so a restart does not delay overdue work.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("scheduler started",
		"follow_up_interval", s.followUpInterval.String(),
		"projection_interval", s.projectionInterval.String())

	s.runFollowUps(ctx)
	s.runProjection(ctx)

	followTicker := time.NewTicker(s.followUpInterval)
	defer followTicker.Stop()
	projTicker := time.NewTicker(s.projectionInterval)
	defer projTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-followTicker.C:
			s.runFollowUps(ctx)
		case <-projTicker.C:
			s.runProjection(ctx)
		}
	}
}

// runFollowUps flips every overdue WAITING_REPLY or FOLLOW_UP thread
// into FOLLOW_UP, which also emits the stale-thread notification.
func (s *Scheduler) runFollowUps(ctx context.Context) {
	overdue, err := s.store.ListOverdueThreads(ctx, time.Now().UTC())
	if err != nil {
		logger.Error("overdue scan failed", "error", err)
		return
	}
	for _, t := range overdue {
		if t.State != store.StateWaitingReply {
			continue
		}
		if err := s.threads.MarkFollowUpDue(ctx, t); err != nil {
			logger.Error("follow-up transition failed", "thread_id", t.ID, "error", err)
		}
	}
	if len(overdue) > 0 {
		logger.Info("follow-up scan complete", "overdue", len(overdue))
	}
}

func (s *Scheduler) runProjection(ctx context.Context) {
	start := time.Now()
	if err := s.projector.WriteAllContextFiles(ctx); err != nil {
		logger.Error("context projection failed", "error", err)
		return
	}
	logger.Info("context projected", "duration_ms", time.Since(start).Milliseconds())
}
