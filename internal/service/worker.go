package service

import (
	"context"
	"time"

	"dispatchd/internal/queue"
	"dispatchd/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// EventProcessor is what a worker hands dequeued events to.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, eventID string) error
}

// WorkerOptions tunes one consumer loop.
type WorkerOptions struct {
	Consumer     string
	ReadCount    int64
	ReadBlock    time.Duration
	ClaimMinIdle time.Duration
	ClaimEvery   time.Duration
}

// Worker is one consumer in the dispatch group. Entries are acknowledged
// only after the processor finished its event store writes, never on
// dequeue, so a crash mid-processing leaves the entry pending for another
// consumer instead of silently dropping it.
type Worker struct {
	queue     DispatchQueue
	processor EventProcessor
	opts      WorkerOptions
	logger    *logrus.Logger
	stopCh    chan struct{}
}

func NewWorker(q DispatchQueue, processor EventProcessor, opts WorkerOptions, logger *logrus.Logger) *Worker {
	return &Worker{
		queue:     q,
		processor: processor,
		opts:      opts,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	log := w.logger.WithField("consumer", w.opts.Consumer)
	log.Info("Starting dispatch worker")

	claimTicker := time.NewTicker(w.opts.ClaimEvery)
	defer claimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker context cancelled, stopping")
			return
		case <-w.stopCh:
			log.Info("Worker stop signal received, stopping")
			return
		case <-claimTicker.C:
			w.adoptIdleEntries(ctx)
		default:
		}

		entries, err := w.queue.Read(ctx, w.opts.Consumer, w.opts.ReadCount, w.opts.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Failed to read from dispatch queue")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, entry := range entries {
			w.handle(ctx, entry)
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
}

// adoptIdleEntries transfers entries left pending by dead consumers to this
// worker and processes them like fresh deliveries.
func (w *Worker) adoptIdleEntries(ctx context.Context) {
	entries, err := w.queue.ClaimIdle(ctx, w.opts.Consumer, w.opts.ClaimMinIdle, w.opts.ReadCount)
	if err != nil {
		w.logger.WithError(err).Error("Failed to claim idle entries")
		return
	}
	if len(entries) > 0 {
		w.logger.WithFields(logrus.Fields{
			"consumer": w.opts.Consumer,
			"count":    len(entries),
		}).Info("Adopted idle entries from dead consumers")
	}
	for _, entry := range entries {
		w.handle(ctx, entry)
	}
}

func (w *Worker) handle(ctx context.Context, entry queue.Entry) {
	log := w.logger.WithFields(logrus.Fields{
		"consumer": w.opts.Consumer,
		"entry_id": entry.ID,
		"event_id": entry.EventID,
	})

	if entry.EventID == "" {
		log.Warn("Entry carries no event id, acknowledging and dropping")
		w.ack(ctx, entry.ID, log)
		return
	}

	spanCtx, span := tracing.StartSpan(ctx, "dispatch.process_event",
		attribute.String("event.id", entry.EventID),
		attribute.String("queue.entry_id", entry.ID),
	)
	err := w.processor.ProcessEvent(spanCtx, entry.EventID)
	tracing.EndSpan(span, err)

	if err != nil {
		// Infrastructure failure: leave the entry pending so the group
		// redelivers it to a consumer later.
		log.WithError(err).Error("Processing failed, leaving entry pending for redelivery")
		return
	}

	w.ack(ctx, entry.ID, log)
}

func (w *Worker) ack(ctx context.Context, entryID string, log *logrus.Entry) {
	if err := w.queue.Ack(ctx, entryID); err != nil {
		// The entry will be redelivered; the processor's idempotency gate
		// makes that safe.
		log.WithError(err).Warn("Failed to acknowledge entry")
	}
}
