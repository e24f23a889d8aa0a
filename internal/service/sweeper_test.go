package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestSweeper(store *mockStore, q *mockQueue) *Sweeper {
	return NewSweeper(store, q, SweeperOptions{
		Interval:      time.Hour,
		BatchSize:     100,
		StuckTimeout:  5 * time.Minute,
		OrphanMinAge:  time.Minute,
		OrphanMaxAge:  24 * time.Hour,
		PendingLookup: 1000,
	}, testLogger())
}

func TestSweep_RepublishesOrphanedEvents(t *testing.T) {
	store := &mockStore{}
	q := &mockQueue{}
	s := newTestSweeper(store, q)

	store.On("OrphanedQueuedEvents", mock.Anything, time.Minute, 24*time.Hour, 100).
		Return([]string{"evt-1", "evt-2"}, nil)
	q.On("PendingEventIDs", mock.Anything, int64(1000)).Return(map[string]struct{}{}, nil)
	q.On("Publish", mock.Anything, "evt-1").Return("1-0", nil)
	q.On("Publish", mock.Anything, "evt-2").Return("2-0", nil)
	store.On("StuckProcessingEvents", mock.Anything, 5*time.Minute, 100).Return([]string{}, nil)

	report := s.Sweep(context.Background())

	assert.Equal(t, 2, report.OrphansRequeued)
	assert.Equal(t, 0, report.OrphansSkipped)
	q.AssertExpectations(t)
}

func TestSweep_SkipsEventsAlreadyPending(t *testing.T) {
	store := &mockStore{}
	q := &mockQueue{}
	s := newTestSweeper(store, q)

	store.On("OrphanedQueuedEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"evt-1", "evt-2"}, nil)
	q.On("PendingEventIDs", mock.Anything, int64(1000)).Return(map[string]struct{}{
		"evt-1": {},
	}, nil)
	q.On("Publish", mock.Anything, "evt-2").Return("2-0", nil)
	store.On("StuckProcessingEvents", mock.Anything, mock.Anything, mock.Anything).Return([]string{}, nil)

	report := s.Sweep(context.Background())

	assert.Equal(t, 1, report.OrphansRequeued)
	assert.Equal(t, 1, report.OrphansSkipped)
	q.AssertNotCalled(t, "Publish", mock.Anything, "evt-1")
}

func TestSweep_OrphanPublishFailureDoesNotAbortBatch(t *testing.T) {
	store := &mockStore{}
	q := &mockQueue{}
	s := newTestSweeper(store, q)

	store.On("OrphanedQueuedEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"evt-1", "evt-2"}, nil)
	q.On("PendingEventIDs", mock.Anything, int64(1000)).Return(map[string]struct{}{}, nil)
	q.On("Publish", mock.Anything, "evt-1").Return("", errors.New("queue unreachable"))
	q.On("Publish", mock.Anything, "evt-2").Return("2-0", nil)
	store.On("StuckProcessingEvents", mock.Anything, mock.Anything, mock.Anything).Return([]string{}, nil)

	report := s.Sweep(context.Background())

	assert.Equal(t, 1, report.OrphansFailed)
	assert.Equal(t, 1, report.OrphansRequeued)
}

func TestSweep_ResetsAndRepublishesStuckEvents(t *testing.T) {
	store := &mockStore{}
	q := &mockQueue{}
	s := newTestSweeper(store, q)

	store.On("OrphanedQueuedEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]string{}, nil)
	store.On("StuckProcessingEvents", mock.Anything, 5*time.Minute, 100).
		Return([]string{"evt-9"}, nil)
	store.On("RequeueStuckEvent", mock.Anything, "evt-9").Return(true, nil)
	q.On("Publish", mock.Anything, "evt-9").Return("9-0", nil)

	report := s.Sweep(context.Background())

	assert.Equal(t, 1, report.StuckRequeued)
	store.AssertExpectations(t)
	q.AssertExpectations(t)
}

func TestSweep_StuckEventFinishedElsewhereIsSkipped(t *testing.T) {
	store := &mockStore{}
	q := &mockQueue{}
	s := newTestSweeper(store, q)

	store.On("OrphanedQueuedEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]string{}, nil)
	store.On("StuckProcessingEvents", mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"evt-9"}, nil)
	// The reset found the row no longer in processing: another actor won.
	store.On("RequeueStuckEvent", mock.Anything, "evt-9").Return(false, nil)

	report := s.Sweep(context.Background())

	assert.Equal(t, 1, report.StuckSkipped)
	assert.Equal(t, 0, report.StuckRequeued)
	q.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestSweep_StuckResetWithFailedPublishCountsAsFailed(t *testing.T) {
	store := &mockStore{}
	q := &mockQueue{}
	s := newTestSweeper(store, q)

	store.On("OrphanedQueuedEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]string{}, nil)
	store.On("StuckProcessingEvents", mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"evt-9"}, nil)
	store.On("RequeueStuckEvent", mock.Anything, "evt-9").Return(true, nil)
	q.On("Publish", mock.Anything, "evt-9").Return("", errors.New("queue unreachable"))

	report := s.Sweep(context.Background())

	// The row is queued again, so the orphan detector recovers it later.
	assert.Equal(t, 1, report.StuckFailed)
}

func TestSweeperStart_StopsOnStopSignal(t *testing.T) {
	store := &mockStore{}
	q := &mockQueue{}
	s := newTestSweeper(store, q)

	store.On("OrphanedQueuedEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]string{}, nil)
	store.On("StuckProcessingEvents", mock.Anything, mock.Anything, mock.Anything).
		Return([]string{}, nil)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after Stop()")
	}
}
