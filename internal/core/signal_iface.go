package core

// Frame is a raw wire payload, one JSON envelope per frame.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ConnID identifies a single live connection. A user reconnecting gets a new
// ConnID, which is what lets a stale disconnect be told apart from the
// current registration.
type ConnID string
