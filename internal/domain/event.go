package domain

import "time"

type CallEventKind int

const (
	EventIncomingRinging CallEventKind = iota
	EventOutgoingRinging
	EventNegotiating
	EventActive
	EventEnded
	EventFailed
)

func (k CallEventKind) String() string {
	switch k {
	case EventIncomingRinging:
		return "IncomingRinging"
	case EventOutgoingRinging:
		return "OutgoingRinging"
	case EventNegotiating:
		return "Negotiating"
	case EventActive:
		return "Active"
	case EventEnded:
		return "Ended"
	case EventFailed:
		return "Failed"
	}
	return "Unknown"
}

// CallEvent is what presenters see. Terminal events may carry Err;
// Ended events carry Reason and, if the call got connected, Duration.
type CallEvent struct {
	Kind     CallEventKind
	Identity CallIdentity
	State    CallState
	Reason   EndReason
	Err      *CallError
	Duration time.Duration
	At       time.Time
}

type EndReason string

const (
	ReasonNone           EndReason = ""
	ReasonLocalHangup    EndReason = "local_hangup"
	ReasonRemoteHangup   EndReason = "remote_hangup"
	ReasonDeclined       EndReason = "declined"
	ReasonRemoteDeclined EndReason = "remote_declined"
	ReasonBusy           EndReason = "busy"
	ReasonPeerOffline    EndReason = "peer_offline"
	ReasonTimeout        EndReason = "ring_timeout"
	ReasonShutdown       EndReason = "shutdown"
)
