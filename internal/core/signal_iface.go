package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a raw encoded envelope ready for the wire.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full outbound queue yields ErrBackpressure.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// OldestDropper is implemented by connections that can evict the oldest
// queued frame to make room for a new one.
type OldestDropper interface {
	DropOldest() bool
}
