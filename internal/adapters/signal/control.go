package signal

import "github.com/dkeye/Dial/internal/wire"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, wire.EventPong, nil)
}
