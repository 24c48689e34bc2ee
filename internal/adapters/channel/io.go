package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/wire"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var errSendClosed = errors.New("send queue closed")

func (c *Channel) writePump(ctx context.Context, conn *websocket.Conn, send <-chan core.Frame) error {
	var tick <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		t := time.NewTicker(c.cfg.PingPeriod)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()
		case data, ok := <-send:
			if !ok {
				return errSendClosed
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-tick:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) error {
	var wait time.Duration
	if c.cfg.PingPeriod > 0 {
		wait = 2 * c.cfg.PingPeriod
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if wait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(wait))
		}

		ev, err := wire.DecodeEvent(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping relay frame")
			continue
		}
		if ev == nil {
			continue
		}
		if !c.emit(ctx, ev) {
			return ctx.Err()
		}
	}
}
