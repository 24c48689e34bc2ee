package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var tick <-chan time.Time
	if ctl.cfg.PingPeriod > 0 {
		t := time.NewTicker(ctl.cfg.PingPeriod)
		defer t.Stop()
		tick = t.C
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.handleDisconnect(sid)
	}()

	var wait time.Duration
	if ctl.cfg.PingPeriod > 0 {
		wait = 2 * ctl.cfg.PingPeriod
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		if ctx.Err() != nil {
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		if wait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		}
		ctl.handleSignal(sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, "", wire.CodeBadPayload, err.Error())
		return
	}

	switch env.Event {
	case wire.EventRegister:
		ctl.handleRegister(sid, c, env)
		return
	case wire.EventPing:
		ctl.handlePing(c)
		return
	}

	uid, ok := ctl.Orch.Registry.UserOf(sid)
	if !ok {
		ctl.sendError(c, "", wire.CodeNotRegistered, "register first")
		return
	}

	switch env.Event {
	case wire.EventGetOnlineUsers:
		ctl.handleOnlineUsers(c)
	case wire.EventOffer:
		ctl.handleOffer(sid, uid, c, env)
	case wire.EventAnswer:
		ctl.handleAnswer(sid, c, env)
	case wire.EventIceCandidate:
		ctl.handleCandidate(sid, c, env)
	case wire.EventHangup, wire.EventDecline, wire.EventBusy:
		ctl.handleEnd(sid, c, env)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown signal")
		ctl.sendError(c, "", wire.CodeUnknownEvent, env.Event)
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, event string, v any) {
	b, err := wire.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil && !errors.Is(err, ErrConnClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("event", event).Msg("sendJSON dropped")
	}
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, id domain.CallID, code, msg string) {
	ctl.sendJSON(c, wire.EventError, wire.Error{CallID: id, Code: code, Message: msg})
}
