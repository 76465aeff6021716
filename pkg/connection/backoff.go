package connection

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Reconnect pacing defaults.
const (
	DefaultInitial    = 1 * time.Second
	DefaultMax        = 30 * time.Second
	DefaultMultiplier = 2.0
	DefaultJitter     = 0.25
)

// BackoffConfig describes an exponential delay schedule. Zero Initial, Max
// and Multiplier take the defaults above. Zero Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" toml:"initial"`
	Max        time.Duration `yaml:"max" toml:"max"`
	Multiplier float64       `yaml:"multiplier,omitempty" toml:"multiplier,omitempty"`
	Jitter     float64       `yaml:"jitter,omitempty" toml:"jitter,omitempty"`
}

// DefaultBackoffConfig returns the reconnect schedule: 1s doubling to 30s.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    DefaultInitial,
		Max:        DefaultMax,
		Multiplier: DefaultMultiplier,
		Jitter:     DefaultJitter,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultInitial
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	c.Jitter = max(c.Jitter, 0)
	return c
}

// Base returns the un-jittered delay before retry n, counting from zero.
func (c BackoffConfig) Base(n int) time.Duration {
	c = c.normalized()
	d := float64(c.Initial)
	for range n {
		d *= c.Multiplier
		if d >= float64(c.Max) {
			return c.Max
		}
	}
	return time.Duration(d)
}

// Backoff walks a BackoffConfig schedule one attempt at a time. It is safe
// for concurrent use.
type Backoff struct {
	config BackoffConfig

	mu       sync.Mutex
	attempts int
}

// NewBackoff creates a Backoff at attempt zero.
func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config.normalized()}
}

// Next returns the delay for the current attempt, jitter included, and
// counts the attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	n := b.attempts
	b.attempts++
	b.mu.Unlock()

	d := b.config.Base(n)
	if b.config.Jitter > 0 {
		d += time.Duration(float64(d) * b.config.Jitter * rand.Float64())
	}
	return d
}

// Wait sleeps for Next or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset starts the schedule over. Call it after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// Attempts returns the number of Next calls since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
