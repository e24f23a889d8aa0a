package service

import (
	"context"
	"time"

	"dispatchd/internal/models"
	"dispatchd/internal/queue"
	"dispatchd/pkg/providers"

	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) EventContext(ctx context.Context, eventID string) (*models.EventContext, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EventContext), args.Error(1)
}

func (m *mockStore) ClaimEvent(ctx context.Context, eventID string, now time.Time) (bool, error) {
	args := m.Called(ctx, eventID, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MarkSent(ctx context.Context, eventID string, completedAt time.Time, responseTimeMs int64) error {
	args := m.Called(ctx, eventID, completedAt, responseTimeMs)
	return args.Error(0)
}

func (m *mockStore) MarkFailed(ctx context.Context, eventID string, completedAt time.Time, responseTimeMs int64, detail *models.ErrorDetail) error {
	args := m.Called(ctx, eventID, completedAt, responseTimeMs, detail)
	return args.Error(0)
}

func (m *mockStore) InsertEvent(ctx context.Context, event *models.MessageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockStore) IdentitiesAttempted(ctx context.Context, messageID string) ([]string, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockStore) FallbackCandidates(ctx context.Context, messageID, identityID string) ([]models.FallbackCandidate, error) {
	args := m.Called(ctx, messageID, identityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FallbackCandidate), args.Error(1)
}

func (m *mockStore) OrphanedQueuedEvents(ctx context.Context, minAge, maxAge time.Duration, limit int) ([]string, error) {
	args := m.Called(ctx, minAge, maxAge, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockStore) StuckProcessingEvents(ctx context.Context, timeout time.Duration, limit int) ([]string, error) {
	args := m.Called(ctx, timeout, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockStore) RequeueStuckEvent(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Publish(ctx context.Context, eventID string) (string, error) {
	args := m.Called(ctx, eventID)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]queue.Entry, error) {
	args := m.Called(ctx, consumer, count, block)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Entry), args.Error(1)
}

func (m *mockQueue) Ack(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *mockQueue) PendingEventIDs(ctx context.Context, limit int64) (map[string]struct{}, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *mockQueue) ClaimIdle(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]queue.Entry, error) {
	args := m.Called(ctx, consumer, minIdle, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Entry), args.Error(1)
}

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Send(ctx context.Context, req providers.SendRequest) (*providers.SendResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.SendResult), args.Error(1)
}

// stubRegistry resolves every lookup to one adapter (or nothing).
type stubRegistry struct {
	adapter providers.Adapter
}

func (r *stubRegistry) Resolve(provider models.ProviderType, channel models.Channel) (providers.Adapter, bool) {
	if r.adapter == nil {
		return nil, false
	}
	return r.adapter, true
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ProcessEvent(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}
