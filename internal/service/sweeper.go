package service

import (
	"context"
	"time"

	"dispatchd/internal/metrics"
	"dispatchd/internal/tracing"

	"github.com/sirupsen/logrus"
)

// SweeperOptions tunes the recovery sweeper.
type SweeperOptions struct {
	Interval      time.Duration
	BatchSize     int
	StuckTimeout  time.Duration
	OrphanMinAge  time.Duration
	OrphanMaxAge  time.Duration
	PendingLookup int64
}

// SweepReport counts the outcomes of one sweep pass.
type SweepReport struct {
	OrphansRequeued int
	OrphansSkipped  int
	OrphansFailed   int
	StuckRequeued   int
	StuckSkipped    int
	StuckFailed     int
}

// Sweeper periodically repairs the two crash gaps the pipeline has: queued
// events whose dispatch signal never reached the queue, and processing
// events abandoned by a worker that died mid-attempt.
type Sweeper struct {
	store  EventStore
	queue  DispatchQueue
	opts   SweeperOptions
	logger *logrus.Logger
	stopCh chan struct{}
}

func NewSweeper(store EventStore, q DispatchQueue, opts SweeperOptions, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		queue:  q,
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval":      s.opts.Interval,
		"stuck_timeout": s.opts.StuckTimeout,
	}).Info("Starting recovery sweeper")

	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Sweeper stop signal received, stopping")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) runSweep(ctx context.Context) {
	spanCtx, span := tracing.StartSpan(ctx, "dispatch.sweep")
	report := s.Sweep(spanCtx)
	tracing.EndSpan(span, nil)

	s.logger.WithFields(logrus.Fields{
		"orphans_requeued": report.OrphansRequeued,
		"orphans_skipped":  report.OrphansSkipped,
		"orphans_failed":   report.OrphansFailed,
		"stuck_requeued":   report.StuckRequeued,
		"stuck_skipped":    report.StuckSkipped,
		"stuck_failed":     report.StuckFailed,
	}).Info("Sweep pass completed")

	metrics.AddToCounter("sweep_orphans_requeued", float64(report.OrphansRequeued), nil, "Orphaned queued events republished")
	metrics.AddToCounter("sweep_stuck_requeued", float64(report.StuckRequeued), nil, "Stuck processing events reset and republished")
}

// Sweep runs both detectors once. A failure on one event never aborts the
// rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	s.sweepOrphans(ctx, &report)
	s.sweepStuck(ctx, &report)
	return report
}

// sweepOrphans recovers queued events that were written to the store but
// never published to the queue, e.g. a crash between insert and publish.
// Check-then-enqueue: anything already pending in the consumer group is
// skipped.
func (s *Sweeper) sweepOrphans(ctx context.Context, report *SweepReport) {
	ids, err := s.store.OrphanedQueuedEvents(ctx, s.opts.OrphanMinAge, s.opts.OrphanMaxAge, s.opts.BatchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list orphaned queued events")
		return
	}
	if len(ids) == 0 {
		return
	}

	pending, err := s.queue.PendingEventIDs(ctx, s.opts.PendingLookup)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list pending queue entries")
		return
	}

	for _, id := range ids {
		if _, ok := pending[id]; ok {
			report.OrphansSkipped++
			continue
		}
		if _, err := s.queue.Publish(ctx, id); err != nil {
			report.OrphansFailed++
			s.logger.WithError(err).WithField("event_id", id).Error("Failed to republish orphaned event")
			continue
		}
		report.OrphansRequeued++
		s.logger.WithField("event_id", id).Info("Republished orphaned queued event")
	}
}

// sweepStuck recovers processing events abandoned by a crashed worker: the
// status is reset to queued (clearing the partial attempt fields) inside a
// transaction, then the event is republished.
func (s *Sweeper) sweepStuck(ctx context.Context, report *SweepReport) {
	ids, err := s.store.StuckProcessingEvents(ctx, s.opts.StuckTimeout, s.opts.BatchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list stuck processing events")
		return
	}

	for _, id := range ids {
		reset, err := s.store.RequeueStuckEvent(ctx, id)
		if err != nil {
			report.StuckFailed++
			s.logger.WithError(err).WithField("event_id", id).Error("Failed to reset stuck event")
			continue
		}
		if !reset {
			// The worker finished (or another sweeper got here) between the
			// listing and the reset.
			report.StuckSkipped++
			continue
		}
		if _, err := s.queue.Publish(ctx, id); err != nil {
			// The row is queued again, so the orphan detector picks it up
			// on a later pass.
			report.StuckFailed++
			s.logger.WithError(err).WithField("event_id", id).Warn("Reset stuck event but failed to republish")
			continue
		}
		report.StuckRequeued++
		s.logger.WithField("event_id", id).Info("Reset and republished stuck processing event")
	}
}
