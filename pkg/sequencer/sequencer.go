package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/buzzspeakerhire/bss-control-app/pkg/connection"
	"github.com/buzzspeakerhire/bss-control-app/pkg/session"
	"github.com/buzzspeakerhire/bss-control-app/pkg/wire"
)

// Sessions is the view of the session registry the sequencer needs.
type Sessions interface {
	Get(id string) (*session.Session, bool)
	Sessions() []*session.Session
}

// Sequencer owns the device-id to queue map.
type Sequencer struct {
	mu     sync.Mutex
	queues map[string]*queue

	sessions Sessions
	config   Config

	onTimeout func(deviceID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Sequencer writing through sessions.
func New(config Config, sessions Sessions) *Sequencer {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		queues:   make(map[string]*queue),
		sessions: sessions,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnTimeout sets the hook run, in its own goroutine, when a command times
// out for good and Config.ReconnectOnTimeout is set.
func (sq *Sequencer) OnTimeout(fn func(deviceID string)) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	sq.onTimeout = fn
}

// Submit queues m for deviceID. On an immediate link the frame is written
// before Submit returns and the returned Command is already complete. The
// error return covers only failures to accept the command.
func (sq *Sequencer) Submit(deviceID string, m wire.Message) (*Command, error) {
	frame, err := wire.Encode(m)
	if err != nil {
		return nil, err
	}
	s, ok := sq.sessions.Get(deviceID)
	if !ok || s.State() != session.StateConnected {
		return nil, fmt.Errorf("%s: %w", deviceID, session.ErrNotConnected)
	}

	q, err := sq.queueFor(s)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(deviceID, m, frame)

	if !q.paced {
		cmd.finish(s.Write(frame))
		return cmd, nil
	}
	if err := q.push(cmd, sq.config.QueueLimit); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Send submits m and waits for it to complete.
func (sq *Sequencer) Send(ctx context.Context, deviceID string, m wire.Message) error {
	cmd, err := sq.Submit(deviceID, m)
	if err != nil {
		return err
	}
	return cmd.Wait(ctx)
}

// Broadcast submits m to every connected device. Presets are node
// independent, so RECALL_PRESET goes out this way. Commands that were
// accepted are returned even when some devices failed.
func (sq *Sequencer) Broadcast(m wire.Message) ([]*Command, error) {
	sessions := sq.sessions.Sessions()
	if len(sessions) == 0 {
		return nil, ErrNoSessions
	}
	var cmds []*Command
	var errs []error
	for _, s := range sessions {
		cmd, err := sq.Submit(s.ID(), m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, errors.Join(errs...)
}

// HandleControl feeds an ACK or NAK byte read from s. Bytes for an
// immediate link, or for a session the queue no longer belongs to, are
// ignored.
func (sq *Sequencer) HandleControl(s *session.Session, ctrl byte) {
	sq.mu.Lock()
	q := sq.queues[s.ID()]
	sq.mu.Unlock()
	if q == nil || !q.paced || q.connID != s.ConnID() {
		return
	}
	select {
	case q.ctrl <- ctrl:
	default:
		sq.config.Logger.Debug("control byte dropped", "device", s.ID())
	}
}

// HandleDisconnect fails every command pending for s and forgets its queue.
// A later Submit after a reconnect starts a fresh queue.
func (sq *Sequencer) HandleDisconnect(s *session.Session, cause error) {
	sq.mu.Lock()
	q := sq.queues[s.ID()]
	if q == nil || q.connID != s.ConnID() {
		sq.mu.Unlock()
		return
	}
	delete(sq.queues, s.ID())
	sq.mu.Unlock()
	q.stop(closedError(cause))
}

// Pending returns the number of commands waiting or in flight for deviceID.
func (sq *Sequencer) Pending(deviceID string) int {
	sq.mu.Lock()
	q := sq.queues[deviceID]
	sq.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.len()
}

// Stop fails all pending commands with ErrStopped and ends every drain loop.
func (sq *Sequencer) Stop() {
	sq.cancel()
	sq.mu.Lock()
	queues := sq.queues
	sq.queues = make(map[string]*queue)
	sq.mu.Unlock()
	for _, q := range queues {
		q.stop(ErrStopped)
	}
	sq.wg.Wait()
}

// forget drops q from the map unless a newer queue replaced it.
func (sq *Sequencer) forget(q *queue) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.queues[q.deviceID] == q {
		delete(sq.queues, q.deviceID)
	}
}

func closedError(cause error) error {
	if cause == nil {
		return ErrSessionClosed
	}
	return fmt.Errorf("%w: %w", ErrSessionClosed, cause)
}

func (sq *Sequencer) paced(s *session.Session) bool {
	switch sq.config.Pacing {
	case PaceAlways:
		return true
	case PaceNever:
		return false
	default:
		return !s.FullDuplex()
	}
}

// queueFor returns the live queue for s, creating it (and its drain loop when
// paced) on first use. A queue left over from an earlier session of the same
// id is replaced.
//
// Sessions turn Disconnected before HandleDisconnect runs, and
// HandleDisconnect takes sq.mu, so checking the state under sq.mu means no
// queue is created for a session whose disconnect was already handled.
func (sq *Sequencer) queueFor(s *session.Session) (*queue, error) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.ctx.Err() != nil {
		return nil, ErrStopped
	}
	if s.State() != session.StateConnected {
		return nil, fmt.Errorf("%s: %w", s.ID(), session.ErrNotConnected)
	}
	if q, ok := sq.queues[s.ID()]; ok {
		if q.connID == s.ConnID() {
			return q, nil
		}
		q.stop(closedError(session.ErrClosed))
	}

	q := newQueue(s.ID(), s.ConnID(), sq.paced(s))
	sq.queues[s.ID()] = q
	if q.paced {
		sq.wg.Add(1)
		go sq.drain(q)
	}
	return q, nil
}

// drain runs one paced queue until it is stopped.
func (sq *Sequencer) drain(q *queue) {
	defer sq.wg.Done()
	log := sq.config.Logger.With("device", q.deviceID)

	for {
		cmd := q.next(sq.ctx)
		if cmd == nil {
			break
		}
		err := sq.transmit(q, cmd)
		q.complete(cmd, err)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionClosed):
			// The session is gone; fail the rest and stop.
			q.stop(err)
			sq.forget(q)
		case errors.Is(err, ErrCommandTimeout):
			log.Warn("command timed out", "msg", cmd.Message.String(), "retries", cmd.retries)
			if sq.config.ReconnectOnTimeout {
				sq.mu.Lock()
				fn := sq.onTimeout
				sq.mu.Unlock()
				if fn != nil {
					go fn(q.deviceID)
				}
			}
		case errors.Is(err, ErrNegativeAck):
			log.Info("command rejected", "msg", cmd.Message.String(), "naks", cmd.naks)
		default:
			log.Debug("command failed", "msg", cmd.Message.String(), "error", err)
		}

		if sq.config.PaceDelay > 0 && !q.sleep(sq.ctx, sq.config.PaceDelay) {
			break
		}
	}
	q.failAll()
}

// transmit sends cmd and waits for its answer, resending per the retry
// policy.
func (sq *Sequencer) transmit(q *queue, cmd *Command) error {
	backoff := connection.NewBackoff(sq.config.RetryBackoff)
	for {
		s, ok := sq.sessions.Get(q.deviceID)
		if !ok || s.ConnID() != q.connID {
			return closedError(nil)
		}

		q.discardControl()
		if err := s.Write(cmd.frame); err != nil {
			return closedError(err)
		}

		timer := time.NewTimer(sq.config.AckTimeout)
		select {
		case b := <-q.ctrl:
			timer.Stop()
			if b == wire.ACK {
				return nil
			}
			if cmd.naks < sq.config.NakRetries {
				cmd.naks++
				continue
			}
			return ErrNegativeAck

		case <-timer.C:
			if cmd.retries < sq.config.MaxRetries {
				cmd.retries++
				select {
				case <-q.stopped:
					return q.cause()
				default:
				}
				if err := backoff.Wait(sq.ctx); err != nil {
					return ErrStopped
				}
				continue
			}
			return ErrCommandTimeout

		case <-q.stopped:
			timer.Stop()
			return q.cause()

		case <-sq.ctx.Done():
			timer.Stop()
			return ErrStopped
		}
	}
}
