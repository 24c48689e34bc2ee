package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Dial/internal/domain"
)

var (
	ErrCallExists     = errors.New("call id already in use")
	ErrUnknownCall    = errors.New("unknown call")
	ErrNotParticipant = errors.New("not a participant of this call")
)

// Call is one relayed call as the relay sees it.
type Call struct {
	ID       domain.CallID
	Caller   domain.UserID
	Callee   domain.UserID
	Kind     domain.MediaKind
	Answered bool
	Opened   time.Time
}

// Counterpart returns the other side of the call for uid.
func (c Call) Counterpart(uid domain.UserID) (domain.UserID, bool) {
	switch uid {
	case c.Caller:
		return c.Callee, true
	case c.Callee:
		return c.Caller, true
	}
	return "", false
}

type CallTable struct {
	mu    sync.RWMutex
	calls map[domain.CallID]*Call
}

func NewCallTable() *CallTable {
	return &CallTable{calls: make(map[domain.CallID]*Call)}
}

func (t *CallTable) Open(id domain.CallID, caller, callee domain.UserID, kind domain.MediaKind) (Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[id]; ok {
		return Call{}, ErrCallExists
	}
	c := &Call{ID: id, Caller: caller, Callee: callee, Kind: kind, Opened: time.Now()}
	t.calls[id] = c
	return *c, nil
}

// Peer resolves who should receive a message uid sent for call id.
func (t *CallTable) Peer(id domain.CallID, uid domain.UserID) (domain.UserID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.calls[id]
	if !ok {
		return "", ErrUnknownCall
	}
	peer, ok := c.Counterpart(uid)
	if !ok {
		return "", ErrNotParticipant
	}
	return peer, nil
}

// MarkAnswered is only honoured for the callee.
func (t *CallTable) MarkAnswered(id domain.CallID, callee domain.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return ErrUnknownCall
	}
	if c.Callee != callee {
		return ErrNotParticipant
	}
	c.Answered = true
	return nil
}

func (t *CallTable) Close(id domain.CallID) (Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return Call{}, false
	}
	delete(t.calls, id)
	return *c, true
}

// CloseInvolving removes and returns every call uid takes part in.
func (t *CallTable) CloseInvolving(uid domain.UserID) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for id, c := range t.calls {
		if c.Caller == uid || c.Callee == uid {
			out = append(out, *c)
			delete(t.calls, id)
		}
	}
	return out
}

func (t *CallTable) Get(id domain.CallID) (Call, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.calls[id]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

func (t *CallTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.calls)
}

func (t *CallTable) Snapshot() []Call {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Call, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, *c)
	}
	return out
}
