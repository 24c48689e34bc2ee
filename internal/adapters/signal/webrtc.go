package signal

import (
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/wire"
)

// handleCandidate forwards trickled ICE untouched; the relay never looks
// inside SDP or candidates.
func (ctl *SignalWSController) handleCandidate(sid core.SessionID, conn *WsSignalConn, env wire.Envelope) {
	var p wire.IceCandidate
	if err := env.DecodeData(&p); err != nil {
		ctl.sendError(conn, "", wire.CodeBadPayload, err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		ctl.sendError(conn, p.CallID, wire.CodeBadPayload, err.Error())
		return
	}
	d, err := ctl.Orch.Route(sid, p.CallID)
	if err != nil {
		ctl.routeError(conn, p.CallID, d, err)
		return
	}
	ctl.sendJSON(d.Signal, wire.EventIceCandidate, p)
}
