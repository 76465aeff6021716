package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// Command is one outbound request. It completes exactly once: on ACK, on
// exhausted retries, or when its device disconnects.
type Command struct {
	DeviceID string
	Message  wire.Message
	Enqueued time.Time

	frame []byte

	// Owned by the drain goroutine while in flight.
	retries int
	naks    int

	once sync.Once
	err  error
	done chan struct{}
}

func newCommand(deviceID string, m wire.Message, frame []byte) *Command {
	return &Command{
		DeviceID: deviceID,
		Message:  m,
		Enqueued: time.Now(),
		frame:    frame,
		done:     make(chan struct{}),
	}
}

func (c *Command) finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed when the command completes.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Err returns the outcome. It is nil until Done is closed.
func (c *Command) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the command completes or ctx ends.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retries returns how many times the command was resent.
func (c *Command) Retries() int {
	select {
	case <-c.done:
		return c.retries + c.naks
	default:
		return 0
	}
}
