package signal

import (
	"errors"

	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/wire"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRegister(sid core.SessionID, conn *WsSignalConn, env wire.Envelope) {
	var p wire.Register
	if err := env.DecodeData(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad register payload")
		ctl.sendError(conn, "", wire.CodeBadPayload, err.Error())
		return
	}
	uid, err := domain.ParseUserID(string(p.UserID))
	if err != nil {
		ctl.sendError(conn, "", wire.CodeBadPayload, err.Error())
		return
	}

	if err := ctl.Orch.Register(sid, uid, p.AuthToken); err != nil {
		if errors.Is(err, orch.ErrAuthFailed) {
			ctl.sendError(conn, "", wire.CodeAuthFailed, "invalid token")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("register")
		ctl.sendError(conn, "", wire.CodeBadPayload, err.Error())
		return
	}

	ctl.sendJSON(conn, wire.EventRegistered, wire.Registered{UserID: uid})
	ctl.broadcastStatus(uid, domain.PresenceOnline)
}

func (ctl *SignalWSController) handleOnlineUsers(conn *WsSignalConn) {
	ctl.sendJSON(conn, wire.EventOnlineUsers, wire.OnlineUsers{Users: ctl.Orch.Registry.Online()})
}

func (ctl *SignalWSController) broadcastStatus(uid domain.UserID, status domain.Presence) {
	for _, peer := range ctl.Orch.Registry.SignalsExcept(uid) {
		ctl.sendJSON(peer, wire.EventUserStatus, wire.UserStatus{UserID: uid, Status: status})
	}
}

// handleDisconnect tells the other side of every open call and then
// everyone else that uid is gone.
func (ctl *SignalWSController) handleDisconnect(sid core.SessionID) {
	uid, ended, ok := ctl.Orch.Disconnect(sid)
	if !ok {
		return
	}
	for _, call := range ended {
		peer, _ := call.Counterpart(uid)
		if conn, ok := ctl.Orch.Registry.SignalOf(peer); ok {
			ctl.sendJSON(conn, wire.EventCallEnded, wire.CallRef{CallID: call.ID})
		}
	}
	if ctl.Limiter != nil {
		ctl.Limiter.Forget(uid)
	}
	ctl.broadcastStatus(uid, domain.PresenceOffline)
}
