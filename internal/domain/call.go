package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type CallID string

// NewCallID returns a fresh opaque call id.
func NewCallID() CallID {
	return CallID(uuid.NewString())
}

type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	switch d {
	case Incoming:
		return "incoming"
	case Outgoing:
		return "outgoing"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

type MediaKind string

const (
	Audio MediaKind = "audio"
	Video MediaKind = "video"
)

// ParseMediaKind maps the wire value to a MediaKind. Unknown values are rejected.
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case Audio, Video:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// CallIdentity never changes once a session is created.
type CallIdentity struct {
	CallID    CallID
	PeerID    UserID
	Direction Direction
	MediaKind MediaKind
}

type CallState int

const (
	StateIdle CallState = iota
	StateRingingIn
	StateRingingOut
	StateNegotiating
	StateActive
	StateEnded
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "IDLE",
	StateRingingIn:   "RINGING_IN",
	StateRingingOut:  "RINGING_OUT",
	StateNegotiating: "NEGOTIATING",
	StateActive:      "ACTIVE",
	StateEnded:       "ENDED",
	StateFailed:      "FAILED",
}

func (s CallState) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}
