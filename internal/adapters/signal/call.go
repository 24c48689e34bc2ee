package signal

import (
	"errors"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/wire"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleOffer(sid core.SessionID, uid domain.UserID, conn *WsSignalConn, env wire.Envelope) {
	var p wire.Offer
	if err := env.DecodeData(&p); err != nil {
		ctl.sendError(conn, "", wire.CodeBadPayload, err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		ctl.sendError(conn, p.CallID, wire.CodeBadPayload, err.Error())
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(uid) {
		log.Warn().Str("module", "signal").Str("user", string(uid)).Msg("offer rate limited")
		ctl.sendError(conn, p.CallID, wire.CodeRateLimited, "too many calls")
		return
	}

	d, err := ctl.Orch.PlaceCall(sid, p.CallID, p.PeerID, p.MediaKind)
	if err != nil {
		ctl.routeError(conn, p.CallID, d, err)
		return
	}
	ctl.sendJSON(d.Signal, wire.EventIncomingCall, wire.IncomingCall{
		CallID:   p.CallID,
		CallerID: d.From,
		CallType: p.MediaKind,
		Offer:    p.SDP,
	})
}

func (ctl *SignalWSController) handleAnswer(sid core.SessionID, conn *WsSignalConn, env wire.Envelope) {
	var p wire.Answer
	if err := env.DecodeData(&p); err != nil {
		ctl.sendError(conn, "", wire.CodeBadPayload, err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		ctl.sendError(conn, p.CallID, wire.CodeBadPayload, err.Error())
		return
	}
	d, err := ctl.Orch.Answer(sid, p.CallID)
	if err != nil {
		ctl.routeError(conn, p.CallID, d, err)
		return
	}
	ctl.sendJSON(d.Signal, wire.EventCallAnswered, wire.CallAnswered{CallID: p.CallID, Answer: p.SDP})
}

var endEvents = map[string]string{
	wire.EventHangup:  wire.EventCallEnded,
	wire.EventDecline: wire.EventCallDeclined,
	wire.EventBusy:    wire.EventCallBusy,
}

func (ctl *SignalWSController) handleEnd(sid core.SessionID, conn *WsSignalConn, env wire.Envelope) {
	var p wire.CallRef
	if err := env.DecodeData(&p); err != nil || p.CallID == "" {
		ctl.sendError(conn, "", wire.CodeBadPayload, "callId required")
		return
	}
	d, err := ctl.Orch.EndCall(sid, p.CallID)
	if errors.Is(err, orch.ErrPeerOffline) {
		return
	}
	if err != nil {
		ctl.routeError(conn, p.CallID, d, err)
		return
	}
	ctl.sendJSON(d.Signal, endEvents[env.Event], wire.CallRef{CallID: p.CallID})
}

// routeError reports a failed routing decision back to the sender.
func (ctl *SignalWSController) routeError(conn *WsSignalConn, id domain.CallID, d orch.Delivery, err error) {
	switch {
	case errors.Is(err, orch.ErrPeerOffline):
		ctl.sendJSON(conn, wire.EventUserOffline, wire.UserOffline{CallID: id, TargetUserID: d.To})
	case errors.Is(err, orch.ErrNotRegistered):
		ctl.sendError(conn, id, wire.CodeNotRegistered, err.Error())
	case errors.Is(err, app.ErrUnknownCall), errors.Is(err, app.ErrNotParticipant):
		ctl.sendError(conn, id, wire.CodeUnknownCall, err.Error())
	default:
		ctl.sendError(conn, id, wire.CodeBadPayload, err.Error())
	}
	log.Debug().Err(err).Str("module", "signal").Str("call_id", string(id)).Msg("route failed")
}
