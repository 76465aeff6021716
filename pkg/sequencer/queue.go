package sequencer

import (
	"context"
	"sync"
	"time"
)

// queue is one device's FIFO. Immediate queues only carry the device's
// connection id; paced queues also feed a drain goroutine.
type queue struct {
	deviceID string
	connID   string
	paced    bool

	mu       sync.Mutex
	pending  []*Command
	inflight *Command
	err      error

	ctrl     chan byte
	wake     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newQueue(deviceID, connID string, paced bool) *queue {
	return &queue{
		deviceID: deviceID,
		connID:   connID,
		paced:    paced,
		ctrl:     make(chan byte, 16),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

func (q *queue) push(cmd *Command, limit int) error {
	q.mu.Lock()
	if q.err != nil {
		err := q.err
		q.mu.Unlock()
		return err
	}
	if len(q.pending) >= limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// next pops the oldest command and marks it in flight. It blocks while the
// queue is empty and returns nil once the queue is stopped.
func (q *queue) next(ctx context.Context) *Command {
	for {
		q.mu.Lock()
		if q.err != nil {
			q.mu.Unlock()
			return nil
		}
		if len(q.pending) > 0 {
			cmd := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.inflight = cmd
			q.mu.Unlock()
			return cmd
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.stopped:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (q *queue) complete(cmd *Command, err error) {
	q.mu.Lock()
	if q.inflight == cmd {
		q.inflight = nil
	}
	q.mu.Unlock()
	cmd.finish(err)
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.inflight != nil {
		n++
	}
	return n
}

// stop records err and wakes the drain loop. Immediate queues have nothing
// to fail.
func (q *queue) stop(err error) {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.err = err
		q.mu.Unlock()
		close(q.stopped)
	})
}

func (q *queue) cause() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		return ErrStopped
	}
	return q.err
}

// failAll completes every waiting command with the stop cause.
func (q *queue) failAll() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	err := q.err
	if err == nil {
		err = ErrStopped
		q.err = err
	}
	q.mu.Unlock()
	for _, cmd := range pending {
		cmd.finish(err)
	}
}

// discardControl drops ACK/NAK bytes that arrived with nothing in flight.
func (q *queue) discardControl() {
	for {
		select {
		case <-q.ctrl:
		default:
			return
		}
	}
}

// sleep waits d. It returns false if the queue stopped first.
func (q *queue) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}
