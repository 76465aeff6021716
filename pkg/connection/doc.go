// Package connection paces retries and re-dials lost device links.
//
// # Backoff
//
// A BackoffConfig is an exponential schedule: retry n waits
// Initial·Multiplier^n, capped at Max, plus up to Jitter of that again.
// The sequencer walks a short schedule (50ms to 1s) between resends of an
// unanswered command. The reconnect Manager walks a long one (1s to 30s)
// between dial attempts.
//
// # Reconnection
//
// A Manager idles until Trigger, usually called from a disconnect
// notification. It then dials until one attempt succeeds, MaxAttempts
// attempts have failed, or Stop is called. Hooks report each step.
package connection
