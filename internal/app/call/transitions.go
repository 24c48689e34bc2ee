package call

import "github.com/dkeye/Dial/internal/domain"

var allowed = map[domain.CallState]map[domain.CallState]bool{
	domain.StateIdle: {
		domain.StateRingingIn:  true,
		domain.StateRingingOut: true,
	},
	domain.StateRingingIn: {
		domain.StateNegotiating: true,
		domain.StateEnded:       true,
		domain.StateFailed:      true,
	},
	domain.StateRingingOut: {
		domain.StateNegotiating: true,
		domain.StateEnded:       true,
		domain.StateFailed:      true,
	},
	domain.StateNegotiating: {
		domain.StateActive: true,
		domain.StateEnded:  true,
		domain.StateFailed: true,
	},
	domain.StateActive: {
		domain.StateEnded:  true,
		domain.StateFailed: true,
	},
}

// CanTransition reports whether from -> to is in the call state table.
func CanTransition(from, to domain.CallState) bool {
	return allowed[from][to]
}

func eventFor(s domain.CallState) (domain.CallEventKind, bool) {
	switch s {
	case domain.StateRingingIn:
		return domain.EventIncomingRinging, true
	case domain.StateRingingOut:
		return domain.EventOutgoingRinging, true
	case domain.StateNegotiating:
		return domain.EventNegotiating, true
	case domain.StateActive:
		return domain.EventActive, true
	case domain.StateEnded:
		return domain.EventEnded, true
	case domain.StateFailed:
		return domain.EventFailed, true
	}
	return 0, false
}
