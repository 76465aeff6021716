// Package session owns the link to each device.
//
// A Registry maps device ids to Sessions. Connect replaces any existing
// session for the id; a failed Connect leaves nothing behind. Each Session
// runs one reader goroutine that appends incoming chunks to a private
// accumulator, scans it for complete frames and ACK/NAK bytes, and hands
// them to the Registry's Handler in arrival order. Frames may be split
// across any number of chunks and any number of frames may share a chunk.
//
// Invalid frames (bad checksum, unknown type, wrong length) are dropped and
// counted; the session stays up. A read or write error, or an accumulator
// that grows past Config.MaxAccumulator without a terminating END, tears the
// session down. Teardown always ends with Handler.OnDisconnect, which is the
// single place pending commands are failed and subscribers told.
package session
