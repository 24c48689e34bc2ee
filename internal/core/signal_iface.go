package core

// Frame is a raw text payload.
type Frame []byte

// SessionID names one relay-side socket.
type SessionID string

// SignalConnection abstracts one relay-side client socket.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingChannel is the endpoint side of the relay link. One channel
// is shared by every call of a process.
type SignalingChannel interface {
	Events() <-chan SignalingEvent
	Send(event string, payload any) error
}
