package core

import (
	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
)

// TransportState is the coarse media transport status a call cares about.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// PeerConnection is the media endpoint of a single call.
// Every operation returns immediately; done runs later on a worker
// goroutine owned by the implementation, never on the caller's.
type PeerConnection interface {
	// CreateOffer creates and applies a local offer.
	CreateOffer(done func(webrtc.SessionDescription, error))
	// CreateAnswer applies offer as remote description if not done yet,
	// then creates and applies the local answer.
	CreateAnswer(offer webrtc.SessionDescription, done func(webrtc.SessionDescription, error))
	SetRemoteDescription(desc webrtc.SessionDescription, done func(error))
	AddICECandidate(c webrtc.ICECandidateInit, done func(error))
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(TransportState))
	// Close releases the endpoint. Safe to call more than once.
	Close()
}

type PeerConnectionFactory interface {
	NewPeerConnection(id domain.CallIdentity) (PeerConnection, error)
}
