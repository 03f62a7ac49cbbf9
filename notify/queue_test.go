package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failures struct {
	mu   sync.Mutex
	errs []error
}

func (f *failures) record(_ Alert, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *failures) all() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

func TestPublishQueue_Delivers(t *testing.T) {
	published := make(chan Alert, 4)
	q := newPublishQueue(4, func(a Alert) error {
		published <- a
		return nil
	}, nil)
	defer q.stop()

	require.NoError(t, q.enqueue(context.Background(), Alert{Event: EventDepositCredited}))
	select {
	case a := <-published:
		assert.Equal(t, EventDepositCredited, a.Event)
	case <-time.After(time.Second):
		t.Fatal("alert was not published")
	}
}

func TestPublishQueue_StuckBrokerNeverBlocksCaller(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := newPublishQueue(1, func(Alert) error {
		started <- struct{}{}
		<-release
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, q.enqueue(ctx, Alert{Event: EventDepositError}))
	<-started

	returned := make(chan error, 2)
	go func() {
		returned <- q.enqueue(ctx, Alert{Event: EventDepositError})
		returned <- q.enqueue(ctx, Alert{Event: EventDepositError})
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-returned:
			if i == 0 {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrQueueFull)
			}
		case <-time.After(time.Second):
			t.Fatal("enqueue waited on the publisher")
		}
	}

	close(release)
	q.stop()
	assert.ErrorIs(t, q.enqueue(ctx, Alert{}), ErrClosed)
}

func TestPublishQueue_Blocked(t *testing.T) {
	f := &failures{}
	q := newPublishQueue(4, func(Alert) error { return nil }, f.record)
	defer q.stop()

	q.setBlocked(true)
	assert.ErrorIs(t, q.enqueue(context.Background(), Alert{}), ErrBrokerBlocked)

	q.setBlocked(false)
	assert.NoError(t, q.enqueue(context.Background(), Alert{}))
}

func TestPublishQueue_ReportsFailures(t *testing.T) {
	f := &failures{}
	q := newPublishQueue(4, func(Alert) error { return assert.AnError }, f.record)
	defer q.stop()

	require.NoError(t, q.enqueue(context.Background(), Alert{Event: EventDepositPartial}))
	require.Eventually(t, func() bool { return len(f.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, f.all()[0], assert.AnError)
}

func TestPublishQueue_CancelledContext(t *testing.T) {
	q := newPublishQueue(4, func(Alert) error { return nil }, nil)
	defer q.stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.enqueue(ctx, Alert{}), context.Canceled)
}
