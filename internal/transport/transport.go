// Package transport abstracts the ordered, reliable, message-preserving
// duplex binary channel a Multiplexer runs over.
package transport

import "context"

// Transport is an ordered, reliable, message-preserving duplex binary
// channel. A single message written by Send arrives whole at the peer's
// Receive; messages are never split, merged, or reordered.
//
// Receive has at most one caller in flight at a time (the Multiplexer's Pump
// A owns it exclusively). Send has no such guarantee: the Multiplexer spawns
// one task per socket and each may call Send concurrently, so implementations
// must serialize their own writes internally. Close unblocks any in-flight
// Send or Receive with an error.
type Transport interface {
	Send(ctx context.Context, message []byte) error
	Receive(ctx context.Context, buf []byte) (int, error)
	Close() error
}
