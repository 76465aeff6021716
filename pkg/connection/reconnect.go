package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrManagerStopped is returned by Trigger after Stop.
var ErrManagerStopped = errors.New("reconnect manager stopped")

// ConnectFunc re-establishes a link. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// ManagerConfig configures a reconnect Manager.
type ManagerConfig struct {
	Backoff BackoffConfig

	// AttemptTimeout bounds each ConnectFunc call.
	AttemptTimeout time.Duration

	// MaxAttempts ends a run after this many failures. Zero retries forever.
	MaxAttempts int
}

// DefaultManagerConfig returns defaults suitable for a device link.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Backoff:        DefaultBackoffConfig(),
		AttemptTimeout: 5 * time.Second,
	}
}

// Hooks observe a Manager. Any of them may be nil. They run on the
// Manager's goroutine.
type Hooks struct {
	// Reconnecting runs before each attempt, numbered from 1.
	Reconnecting func(attempt int, delay time.Duration)

	// Reconnected runs after a successful attempt.
	Reconnected func()

	// GiveUp runs when MaxAttempts failures end a run.
	GiveUp func(lastErr error)
}

// Manager re-dials a lost link with backoff. Trigger starts a run, which
// ends on success, after MaxAttempts failures, or on Stop. Triggers that
// arrive during a run fold into it.
type Manager struct {
	config  ManagerConfig
	hooks   Hooks
	connect ConnectFunc
	backoff *Backoff

	trigger chan struct{}

	mu      sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a Manager and starts its loop. It stays idle until
// Trigger.
func NewManager(connect ConnectFunc, config ManagerConfig, hooks Hooks) *Manager {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultManagerConfig().AttemptTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:  config,
		hooks:   hooks,
		connect: connect,
		backoff: NewBackoff(config.Backoff),
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go m.loop()
	return m
}

// Trigger requests a run.
func (m *Manager) Trigger() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrManagerStopped
	}
	select {
	case m.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Stop cancels any run in progress and waits for the loop to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cancel()
	<-m.done
}

// Attempts returns the failed attempts of the current run.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.trigger:
			m.run()
		}
	}
}

func (m *Manager) run() {
	defer m.backoff.Reset()

	var lastErr error
	for m.config.MaxAttempts == 0 || m.backoff.Attempts() < m.config.MaxAttempts {
		delay := m.backoff.Next()
		if m.hooks.Reconnecting != nil {
			m.hooks.Reconnecting(m.backoff.Attempts(), delay)
		}
		if !sleep(m.ctx, delay) {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.config.AttemptTimeout)
		lastErr = m.connect(ctx)
		cancel()
		if lastErr == nil {
			if m.hooks.Reconnected != nil {
				m.hooks.Reconnected()
			}
			return
		}
		if m.ctx.Err() != nil {
			return
		}
	}
	if m.hooks.GiveUp != nil {
		m.hooks.GiveUp(lastErr)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
