package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"dispatchd/internal/database"
	apperrors "dispatchd/internal/errors"
	"dispatchd/internal/metrics"
	"dispatchd/internal/models"
	"dispatchd/internal/queue"
	"dispatchd/internal/retry"
	"dispatchd/pkg/providers"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventStore is the slice of the event store the pipeline needs.
type EventStore interface {
	EventContext(ctx context.Context, eventID string) (*models.EventContext, error)
	ClaimEvent(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, eventID string, completedAt time.Time, responseTimeMs int64) error
	MarkFailed(ctx context.Context, eventID string, completedAt time.Time, responseTimeMs int64, detail *models.ErrorDetail) error
	InsertEvent(ctx context.Context, event *models.MessageEvent) error
	IdentitiesAttempted(ctx context.Context, messageID string) ([]string, error)
	FallbackCandidates(ctx context.Context, messageID, identityID string) ([]models.FallbackCandidate, error)
	OrphanedQueuedEvents(ctx context.Context, minAge, maxAge time.Duration, limit int) ([]string, error)
	StuckProcessingEvents(ctx context.Context, timeout time.Duration, limit int) ([]string, error)
	RequeueStuckEvent(ctx context.Context, eventID string) (bool, error)
}

// DispatchQueue is the consumer-group stream the pipeline reads dispatch
// signals from and publishes follow-up attempts to.
type DispatchQueue interface {
	Publish(ctx context.Context, eventID string) (string, error)
	Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]queue.Entry, error)
	Ack(ctx context.Context, entryID string) error
	PendingEventIDs(ctx context.Context, limit int64) (map[string]struct{}, error)
	ClaimIdle(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]queue.Entry, error)
}

// AdapterRegistry resolves a provider adapter by (provider, channel).
type AdapterRegistry interface {
	Resolve(provider models.ProviderType, channel models.Channel) (providers.Adapter, bool)
}

// Processor drives one queued delivery attempt to a terminal outcome:
// claim, adapter call, then on failure retry with backoff or fall back to an
// alternate identity presenting the same sender identifier.
type Processor struct {
	store    EventStore
	queue    DispatchQueue
	registry AdapterRegistry
	fallback *FallbackSelector
	policy   retry.Policy
	logger   *logrus.Logger

	// test seams
	now       func() time.Time
	newID     func() string
	afterFunc func(d time.Duration, f func()) *time.Timer

	wg     sync.WaitGroup
	closed chan struct{}
}

func NewProcessor(store EventStore, q DispatchQueue, registry AdapterRegistry, fallback *FallbackSelector, policy retry.Policy, logger *logrus.Logger) *Processor {
	return &Processor{
		store:     store,
		queue:     q,
		registry:  registry,
		fallback:  fallback,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		afterFunc: time.AfterFunc,
		closed:    make(chan struct{}),
	}
}

// Close stops accepting delayed retries and waits for pending ones to
// finish. A retry whose timer has not fired yet is lost; the recovery
// sweeper is the compensation for that gap.
func (p *Processor) Close() {
	close(p.closed)
	p.wg.Wait()
}

// ProcessEvent drives a single queued event to a terminal outcome. It
// returns nil whenever the queue entry should be acknowledged, including
// idempotent skips and permanent failures; a non-nil return means an
// infrastructure error and leaves the entry pending for redelivery.
func (p *Processor) ProcessEvent(ctx context.Context, eventID string) error {
	log := p.logger.WithField("event_id", eventID)

	ectx, err := p.store.EventContext(ctx, eventID)
	if errors.Is(err, database.ErrEventNotFound) {
		// A data problem, not a transient failure. Redelivering would never
		// succeed, so the entry still gets acknowledged.
		log.Error("Event not found in store, dropping dispatch signal")
		metrics.IncrementCounter("events_missing", nil, "Dispatch signals without a matching event row")
		return nil
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to fetch event context")
	}

	log = log.WithFields(logrus.Fields{
		"message_id": ectx.Message.ID,
		"attempt":    ectx.Event.AttemptNumber,
		"identity":   ectx.Identity.ID,
	})

	// Idempotency gate: the queue is at-least-once, so a terminal event can
	// be redelivered. Skip without touching the store.
	if ectx.Event.Status.Terminal() {
		log.WithField("status", ectx.Event.Status).Debug("Event already terminal, skipping redelivery")
		metrics.IncrementCounter("events_skipped_terminal", nil, "Redelivered events already in a terminal status")
		return nil
	}

	claimed, err := p.store.ClaimEvent(ctx, eventID, p.now())
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to claim event")
	}
	if !claimed {
		// Another consumer won the conditional update. Abort rather than
		// risking a double send.
		log.Info("Event claimed by another consumer, skipping")
		metrics.IncrementCounter("events_claim_lost", nil, "Claim races lost to a concurrent consumer")
		return nil
	}

	adapter, ok := p.registry.Resolve(ectx.Credential.Provider, ectx.Message.Channel)
	if !ok {
		log.WithFields(logrus.Fields{
			"provider": ectx.Credential.Provider,
			"channel":  ectx.Message.Channel,
		}).Error("No adapter registered for provider/channel")
		return p.failPermanently(ctx, ectx, string(apperrors.ErrCodeProviderNotFound), "no adapter registered for provider/channel")
	}

	to, ok := ectx.RecipientAddress()
	if !ok {
		log.WithField("channel", ectx.Message.Channel).Error("Contact has no identifier for channel")
		return p.failPermanently(ctx, ectx, string(apperrors.ErrCodeRecipientNotFound), "contact has no identifier for channel")
	}

	start := p.now()
	result, sendErr := adapter.Send(ctx, providers.SendRequest{
		To:         to,
		Payload:    ectx.Message.Payload,
		Credential: ectx.Credential,
		Identity:   ectx.Identity,
	})
	elapsed := p.now().Sub(start)
	metrics.RecordTimer("provider_send", elapsed, map[string]string{"provider": string(ectx.Credential.Provider)}, "Provider adapter call duration")

	if sendErr == nil {
		if err := p.store.MarkSent(ctx, eventID, p.now(), elapsed.Milliseconds()); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to mark event sent")
		}
		log.WithFields(logrus.Fields{
			"response_time_ms":    elapsed.Milliseconds(),
			"provider_message_id": result.ProviderMessageID,
		}).Info("Message sent")
		metrics.IncrementCounter("events_sent", map[string]string{"channel": string(ectx.Message.Channel)}, "Successfully delivered attempts")
		return nil
	}

	return p.handleFailure(ctx, ectx, elapsed.Milliseconds(), asProviderError(sendErr))
}

// handleFailure runs the retry -> fallback -> give up decision chain. The
// failed attempt is always persisted first so the audit trail reflects every
// attempt even when a retry follows.
func (p *Processor) handleFailure(ctx context.Context, ectx *models.EventContext, responseTimeMs int64, perr *providers.Error) error {
	log := p.logger.WithFields(logrus.Fields{
		"event_id":   ectx.Event.ID,
		"message_id": ectx.Message.ID,
		"attempt":    ectx.Event.AttemptNumber,
		"identity":   ectx.Identity.ID,
		"error_code": perr.Code,
		"retryable":  perr.Retryable,
	})

	detail := &models.ErrorDetail{
		Code:      perr.Code,
		Message:   perr.Message,
		Category:  perr.Category,
		Retryable: perr.Retryable,
	}
	if err := p.store.MarkFailed(ctx, ectx.Event.ID, p.now(), responseTimeMs, detail); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist failed attempt")
	}
	metrics.IncrementCounter("events_failed", map[string]string{"code": perr.Code}, "Failed delivery attempts")

	if p.policy.ShouldRetry(ectx.Event.AttemptNumber, perr.Retryable) {
		delay := p.policy.DelayForAttempt(ectx.Event.AttemptNumber)
		log.WithField("delay", delay).Info("Scheduling retry on same identity")
		p.scheduleRetry(ectx.Message.ID, ectx.Identity.ID, ectx.Event.AttemptNumber+1, delay)
		return nil
	}

	candidate, ok, err := p.fallback.Next(ctx, ectx.Message.ID, ectx.Identity.ID)
	if err != nil {
		return err
	}
	if !ok {
		// Terminal for the whole message: the last failed event stands as
		// the permanent record.
		log.Warn("No fallback identity available, message permanently failed")
		metrics.IncrementCounter("messages_exhausted", nil, "Messages that ran out of identities")
		return nil
	}

	log.WithFields(logrus.Fields{
		"fallback_identity": candidate.Identity.ID,
		"priority":          candidate.Credential.Priority,
	}).Info("Falling back to alternate identity")
	metrics.IncrementCounter("events_fallback", nil, "Fallbacks to an alternate identity")

	return p.enqueueAttempt(ctx, ectx.Message.ID, candidate.Identity.ID, 1)
}

// failPermanently terminates the attempt with a fixed non-retryable code.
// Resolution misses can never succeed on retry, so no retry or fallback is
// attempted and the queue entry is acknowledged.
func (p *Processor) failPermanently(ctx context.Context, ectx *models.EventContext, code, message string) error {
	detail := &models.ErrorDetail{
		Code:     code,
		Message:  message,
		Category: apperrors.CategoryPermanent,
	}
	if err := p.store.MarkFailed(ctx, ectx.Event.ID, p.now(), 0, detail); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist permanent failure")
	}
	metrics.IncrementCounter("events_failed", map[string]string{"code": code}, "Failed delivery attempts")
	return nil
}

// enqueueAttempt inserts a new queued event and publishes its dispatch
// signal. Publish happens only after the insert commits; if it fails, the
// row is recoverable by the orphan sweep, so the error is logged rather
// than propagated.
func (p *Processor) enqueueAttempt(ctx context.Context, messageID, identityID string, attemptNumber int) error {
	event := &models.MessageEvent{
		ID:            p.newID(),
		MessageID:     messageID,
		IdentityID:    identityID,
		Status:        models.EventStatusQueued,
		AttemptNumber: attemptNumber,
		CreatedAt:     p.now(),
	}
	if err := p.store.InsertEvent(ctx, event); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to insert attempt")
	}

	if _, err := p.queue.Publish(ctx, event.ID); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.ID,
			"message_id": messageID,
		}).Warn("Failed to publish attempt, orphan sweep will recover it")
	}
	return nil
}

// scheduleRetry arranges the next same-identity attempt after the backoff
// delay without blocking the worker. The wait is an in-process timer, not a
// durable schedule; a crash during it drops the retry and only the sweep's
// stuck/orphan detection compensates.
func (p *Processor) scheduleRetry(messageID, identityID string, attemptNumber int, delay time.Duration) {
	p.wg.Add(1)
	fired := make(chan struct{})
	timer := p.afterFunc(delay, func() { close(fired) })

	go func() {
		defer p.wg.Done()
		select {
		case <-p.closed:
			timer.Stop()
			return
		case <-fired:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := p.enqueueAttempt(ctx, messageID, identityID, attemptNumber); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"message_id": messageID,
				"identity":   identityID,
				"attempt":    attemptNumber,
			}).Error("Failed to enqueue retry attempt")
		}
	}()
}

// asProviderError normalizes adapter failures: structured provider errors
// pass through, anything else is treated as a retryable adapter fault.
func asProviderError(err error) *providers.Error {
	var perr *providers.Error
	if errors.As(err, &perr) {
		return perr
	}
	return &providers.Error{
		Code:      "ADAPTER_ERROR",
		Message:   err.Error(),
		Category:  apperrors.CategoryTransient,
		Retryable: true,
	}
}
