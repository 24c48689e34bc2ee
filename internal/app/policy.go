package app

import (
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

// ConflictAction says what to do with an incoming call while another one is live.
type ConflictAction int

const (
	ReplyBusy ConflictAction = iota
	IgnoreCall
)

type Policy interface {
	OnConflict(live domain.CallIdentity, incoming core.IncomingCall) ConflictAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnConflict(domain.CallIdentity, core.IncomingCall) ConflictAction {
	return ReplyBusy
}
