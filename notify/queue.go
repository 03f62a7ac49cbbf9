package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned when the publish backlog is full
	ErrQueueFull = errors.New("alert queue is full")
	// ErrBrokerBlocked is returned while the broker is refusing publishes
	ErrBrokerBlocked = errors.New("broker connection is blocked")
	// ErrClosed is returned after the sink is closed
	ErrClosed = errors.New("alert sink is closed")
)

// publishQueue hands alerts to a single publishing goroutine so callers
// never wait on the broker
type publishQueue struct {
	pending chan Alert
	publish func(Alert) error
	onError func(Alert, error)

	blocked int32
	closed  int32
	done    chan struct{}
	wg      sync.WaitGroup
}

func newPublishQueue(size int, publish func(Alert) error, onError func(Alert, error)) *publishQueue {
	if size <= 0 {
		size = 1
	}
	q := &publishQueue{
		pending: make(chan Alert, size),
		publish: publish,
		onError: onError,
		done:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *publishQueue) setBlocked(blocked bool) {
	var v int32
	if blocked {
		v = 1
	}
	atomic.StoreInt32(&q.blocked, v)
}

func (q *publishQueue) isBlocked() bool {
	return atomic.LoadInt32(&q.blocked) == 1
}

func (q *publishQueue) enqueue(ctx context.Context, alert Alert) error {
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrClosed
	}
	if q.isBlocked() {
		return ErrBrokerBlocked
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case q.pending <- alert:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *publishQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case alert := <-q.pending:
			if q.isBlocked() {
				q.fail(alert, ErrBrokerBlocked)
				continue
			}
			if err := q.publish(alert); err != nil {
				q.fail(alert, err)
			}
		}
	}
}

func (q *publishQueue) fail(alert Alert, err error) {
	if q.onError != nil {
		q.onError(alert, err)
	}
}

// stop discards the backlog. A publish in flight must be unblocked by the
// caller, usually by closing the connection, before stop returns.
func (q *publishQueue) stop() {
	if !atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		return
	}
	close(q.done)
	q.wg.Wait()
}
