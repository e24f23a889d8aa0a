package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispatchd/internal/queue"

	"github.com/stretchr/testify/mock"
)

func newTestWorker(q *mockQueue, processor *mockProcessor) *Worker {
	return NewWorker(q, processor, WorkerOptions{
		Consumer:     "test-consumer",
		ReadCount:    10,
		ReadBlock:    10 * time.Millisecond,
		ClaimMinIdle: time.Minute,
		ClaimEvery:   time.Hour,
	}, testLogger())
}

func TestWorkerHandle_AcksAfterSuccessfulProcessing(t *testing.T) {
	q := &mockQueue{}
	processor := &mockProcessor{}
	w := newTestWorker(q, processor)

	processor.On("ProcessEvent", mock.Anything, "evt-1").Return(nil)
	q.On("Ack", mock.Anything, "1-0").Return(nil)

	w.handle(context.Background(), queue.Entry{ID: "1-0", EventID: "evt-1"})

	processor.AssertExpectations(t)
	q.AssertExpectations(t)
}

func TestWorkerHandle_LeavesEntryPendingOnInfrastructureError(t *testing.T) {
	q := &mockQueue{}
	processor := &mockProcessor{}
	w := newTestWorker(q, processor)

	processor.On("ProcessEvent", mock.Anything, "evt-1").Return(errors.New("database unavailable"))

	w.handle(context.Background(), queue.Entry{ID: "1-0", EventID: "evt-1"})

	q.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
}

func TestWorkerHandle_AcksMalformedEntryWithoutProcessing(t *testing.T) {
	q := &mockQueue{}
	processor := &mockProcessor{}
	w := newTestWorker(q, processor)

	q.On("Ack", mock.Anything, "1-0").Return(nil)

	w.handle(context.Background(), queue.Entry{ID: "1-0", EventID: ""})

	processor.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything)
	q.AssertExpectations(t)
}

func TestWorkerAdoptIdleEntries(t *testing.T) {
	q := &mockQueue{}
	processor := &mockProcessor{}
	w := newTestWorker(q, processor)

	q.On("ClaimIdle", mock.Anything, "test-consumer", time.Minute, int64(10)).Return([]queue.Entry{
		{ID: "1-0", EventID: "evt-1"},
		{ID: "2-0", EventID: "evt-2"},
	}, nil)
	processor.On("ProcessEvent", mock.Anything, "evt-1").Return(nil)
	processor.On("ProcessEvent", mock.Anything, "evt-2").Return(nil)
	q.On("Ack", mock.Anything, "1-0").Return(nil)
	q.On("Ack", mock.Anything, "2-0").Return(nil)

	w.adoptIdleEntries(context.Background())

	processor.AssertExpectations(t)
	q.AssertExpectations(t)
}

func TestWorkerStart_StopsOnContextCancel(t *testing.T) {
	q := &mockQueue{}
	processor := &mockProcessor{}
	w := newTestWorker(q, processor)

	ctx, cancel := context.WithCancel(context.Background())
	q.On("Read", mock.Anything, "test-consumer", int64(10), 10*time.Millisecond).
		Return([]queue.Entry{}, nil).
		Run(func(mock.Arguments) { cancel() })

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestWorkerStart_StopsOnStopSignal(t *testing.T) {
	q := &mockQueue{}
	processor := &mockProcessor{}
	w := newTestWorker(q, processor)

	q.On("Read", mock.Anything, "test-consumer", int64(10), 10*time.Millisecond).
		Return([]queue.Entry{}, nil).
		Run(func(mock.Arguments) { w.Stop() })

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after Stop()")
	}
}
