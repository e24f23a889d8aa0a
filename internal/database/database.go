package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatchd/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEventNotFound is returned when an event id has no row in the store.
// Redelivered queue entries for deleted events hit this; the processor logs
// and acknowledges without retrying.
var ErrEventNotFound = errors.New("event not found")

// Store is the Postgres-backed event store. It is the source of truth for
// delivery status; the dispatch queue is only a signal.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Setup applies the pipeline's schema idempotently.
func (s *Store) Setup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EventContext loads the event together with its message, sending identity,
// owning credential and the recipient's channel identifiers.
func (s *Store) EventContext(ctx context.Context, eventID string) (*models.EventContext, error) {
	var ectx models.EventContext

	err := withRetry(ctx, "fetch event context", func() error {
		event, err := s.fetchEvent(ctx, eventID)
		if err != nil {
			return err
		}
		ectx.Event = *event

		row := s.pool.QueryRow(ctx, qSelectMessage, event.MessageID)
		if err := row.Scan(
			&ectx.Message.ID,
			&ectx.Message.OrganizationID,
			&ectx.Message.ContactID,
			&ectx.Message.Channel,
			&ectx.Message.Payload,
			&ectx.Message.DeliveredIdentityID,
			&ectx.Message.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to fetch message %s: %w", event.MessageID, err)
		}

		row = s.pool.QueryRow(ctx, qSelectIdentityWithCredential, event.IdentityID)
		if err := scanIdentityWithCredential(row, &ectx.Identity, &ectx.Credential); err != nil {
			return fmt.Errorf("failed to fetch identity %s: %w", event.IdentityID, err)
		}

		rows, err := s.pool.Query(ctx, qSelectContactIdentifiers, ectx.Message.ContactID)
		if err != nil {
			return fmt.Errorf("failed to fetch contact identifiers: %w", err)
		}
		defer rows.Close()

		ectx.Identifiers = ectx.Identifiers[:0]
		for rows.Next() {
			var ci models.ContactIdentifier
			if err := rows.Scan(&ci.ContactID, &ci.Channel, &ci.Value); err != nil {
				return err
			}
			ectx.Identifiers = append(ectx.Identifiers, ci)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return &ectx, nil
}

func (s *Store) fetchEvent(ctx context.Context, eventID string) (*models.MessageEvent, error) {
	var (
		e         models.MessageEvent
		code      *string
		message   *string
		category  *string
		retryable *bool
	)

	row := s.pool.QueryRow(ctx, qSelectEvent, eventID)
	err := row.Scan(
		&e.ID,
		&e.MessageID,
		&e.IdentityID,
		&e.Status,
		&e.AttemptNumber,
		&e.StartedAt,
		&e.CompletedAt,
		&e.ResponseTimeMs,
		&code,
		&message,
		&category,
		&retryable,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event %s: %w", eventID, err)
	}

	if code != nil {
		e.Error = &models.ErrorDetail{
			Code:    *code,
			Message: derefString(message),
		}
		if category != nil {
			e.Error.Category = *category
		}
		if retryable != nil {
			e.Error.Retryable = *retryable
		}
	}
	return &e, nil
}

// ClaimEvent transitions queued -> processing with a conditional update.
// Zero rows affected means another consumer already claimed the event (or it
// reached a terminal status) and the caller must abort.
func (s *Store) ClaimEvent(ctx context.Context, eventID string, now time.Time) (bool, error) {
	var claimed bool
	err := withRetry(ctx, "claim event", func() error {
		tag, err := s.pool.Exec(ctx, qClaimEvent, eventID, now.UTC())
		if err != nil {
			return err
		}
		claimed = tag.RowsAffected() == 1
		return nil
	})
	return claimed, err
}

// MarkSent records the terminal success and stamps the delivered identity on
// the parent message, the single Message mutation the pipeline performs.
func (s *Store) MarkSent(ctx context.Context, eventID string, completedAt time.Time, responseTimeMs int64) error {
	return withRetry(ctx, "mark event sent", func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		var messageID, identityID string
		row := tx.QueryRow(ctx, qMarkSent, eventID, completedAt.UTC(), responseTimeMs)
		if err := row.Scan(&messageID, &identityID); err != nil {
			return fmt.Errorf("failed to mark event %s sent: %w", eventID, err)
		}

		if _, err := tx.Exec(ctx, qStampDeliveredIdentity, messageID, identityID); err != nil {
			return fmt.Errorf("failed to stamp delivered identity: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// MarkFailed records the terminal failure of one attempt with its structured
// error. It never touches other events of the message.
func (s *Store) MarkFailed(ctx context.Context, eventID string, completedAt time.Time, responseTimeMs int64, detail *models.ErrorDetail) error {
	return withRetry(ctx, "mark event failed", func() error {
		_, err := s.pool.Exec(ctx, qMarkFailed,
			eventID, completedAt.UTC(), responseTimeMs,
			detail.Code, detail.Message, detail.Category, detail.Retryable,
		)
		return err
	})
}

// InsertEvent appends a new attempt row in queued status.
func (s *Store) InsertEvent(ctx context.Context, event *models.MessageEvent) error {
	return withRetry(ctx, "insert event", func() error {
		_, err := s.pool.Exec(ctx, qInsertEvent,
			event.ID, event.MessageID, event.IdentityID,
			event.Status, event.AttemptNumber, event.CreatedAt.UTC(),
		)
		return err
	})
}

// IdentitiesAttempted returns the distinct identity ids present in the
// message's event history.
func (s *Store) IdentitiesAttempted(ctx context.Context, messageID string) ([]string, error) {
	var ids []string
	err := withRetry(ctx, "list attempted identities", func() error {
		rows, err := s.pool.Query(ctx, qIdentitiesAttempted, messageID)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FallbackCandidates returns eligible alternate identities for the message,
// ordered by credential priority then identity id.
func (s *Store) FallbackCandidates(ctx context.Context, messageID, identityID string) ([]models.FallbackCandidate, error) {
	var out []models.FallbackCandidate
	err := withRetry(ctx, "find fallback candidates", func() error {
		rows, err := s.pool.Query(ctx, qFallbackCandidates, messageID, identityID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var c models.FallbackCandidate
			if err := scanIdentityWithCredential(rows, &c.Identity, &c.Credential); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OrphanedQueuedEvents lists queued events older than minAge but younger
// than maxAge; older rows are considered abandoned data and left alone.
func (s *Store) OrphanedQueuedEvents(ctx context.Context, minAge, maxAge time.Duration, limit int) ([]string, error) {
	now := time.Now().UTC()
	return s.listEventIDs(ctx, "list orphaned events", qOrphanedQueuedEvents,
		now.Add(-minAge), now.Add(-maxAge), limit)
}

// StuckProcessingEvents lists processing events whose start time exceeds the
// timeout and which never completed, i.e. events abandoned by a crashed
// worker.
func (s *Store) StuckProcessingEvents(ctx context.Context, timeout time.Duration, limit int) ([]string, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	return s.listEventIDs(ctx, "list stuck events", qStuckProcessingEvents, cutoff, limit)
}

// RequeueStuckEvent resets an abandoned processing event to queued, clearing
// the started/completed/response/error fields inside a transaction. This is
// the only place the pipeline mutates an existing event back to a
// non-terminal state: the prior processing claim was never a real outcome.
func (s *Store) RequeueStuckEvent(ctx context.Context, eventID string) (bool, error) {
	var reset bool
	err := withRetry(ctx, "requeue stuck event", func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, qRequeueStuckEvent, eventID)
		if err != nil {
			return err
		}
		reset = tag.RowsAffected() == 1
		return tx.Commit(ctx)
	})
	return reset, err
}

func (s *Store) listEventIDs(ctx context.Context, name, query string, args ...interface{}) ([]string, error) {
	var ids []string
	err := withRetry(ctx, name, func() error {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanIdentityWithCredential(row scannable, identity *models.ProviderIdentity, credential *models.ProviderCredential) error {
	return row.Scan(
		&identity.ID,
		&identity.CredentialID,
		&identity.Identifier,
		&identity.Active,
		&credential.ID,
		&credential.OrganizationID,
		&credential.Channel,
		&credential.Provider,
		&credential.Priority,
		&credential.Active,
		&credential.Config,
	)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
