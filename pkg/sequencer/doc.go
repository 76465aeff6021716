// Package sequencer orders outbound commands per device.
//
// Full-duplex links (TCP, UDP) get immediate mode: Submit writes the frame
// at once and the session's write lock keeps writes for one device from
// interleaving. Half-duplex links (serial) get paced mode: commands wait in
// a per-device FIFO and a drain goroutine sends one at a time, moving on when
// the device answers ACK or NAK:
//
//	enqueue ──► pending ──► in flight ──► ACK ──────────────► done (nil)
//	                            │
//	                            ├── NAK, naks left ──► resend
//	                            ├── NAK ────────────► done (ErrNegativeAck)
//	                            ├── timeout, retries left ──► backoff, resend
//	                            └── timeout ────────► done (ErrCommandTimeout)
//
// After each command the drain loop waits PaceDelay, then takes the next one.
// It stops when the device disconnects, failing whatever is still queued.
package sequencer
