package call

import "github.com/pion/webrtc/v4"

// IceBuffer holds candidates until the description they depend on is in place.
// Once drained it stays closed and Add reports false, telling the caller
// to apply the candidate right away.
type IceBuffer struct {
	items  []webrtc.ICECandidateInit
	closed bool
}

// Add buffers c while the buffer is open.
func (b *IceBuffer) Add(c webrtc.ICECandidateInit) bool {
	if b.closed {
		return false
	}
	b.items = append(b.items, c)
	return true
}

// Drain closes the buffer and returns the held candidates in arrival order.
func (b *IceBuffer) Drain() []webrtc.ICECandidateInit {
	out := b.items
	b.items = nil
	b.closed = true
	return out
}

// Discard closes the buffer and drops its contents.
func (b *IceBuffer) Discard() int {
	return len(b.Drain())
}

func (b *IceBuffer) Len() int     { return len(b.items) }
func (b *IceBuffer) Closed() bool { return b.closed }
