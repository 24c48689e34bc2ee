// Package channel is the endpoint side of the relay websocket.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotConnected  = errors.New("signaling not connected")
	ErrBackpressure  = errors.New("backpressure")
	ErrNoCredentials = errors.New("no access token available")
)

type Config struct {
	URL        string
	UserID     domain.UserID
	Reconnect  bool
	Backoff    []time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
	SendQueue  int
	EventQueue int
	Dialer     *websocket.Dialer
}

// Channel keeps one websocket to the relay alive and turns its frames
// into core.SignalingEvents. Connected and Disconnected are synthesized
// around every connection.
type Channel struct {
	cfg    Config
	creds  core.CredentialStore
	events chan core.SignalingEvent
	log    zerolog.Logger

	mu   sync.RWMutex
	send chan core.Frame
}

func New(cfg Config, creds core.CredentialStore) *Channel {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.EventQueue <= 0 {
		cfg.EventQueue = 256
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		cfg:    cfg,
		creds:  creds,
		events: make(chan core.SignalingEvent, cfg.EventQueue),
		log:    log.With().Str("module", "channel").Str("user", string(cfg.UserID)).Logger(),
	}
}

// Events is closed when Run returns.
func (c *Channel) Events() <-chan core.SignalingEvent { return c.events }

func (c *Channel) Send(event string, payload any) error {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// RequestOnlineUsers asks the relay for its presence list.
func (c *Channel) RequestOnlineUsers() error {
	return c.Send(wire.EventGetOnlineUsers, nil)
}

// Run connects and, if configured, reconnects until ctx is done.
// Without reconnect it returns the error that ended the first connection.
func (c *Channel) Run(ctx context.Context) error {
	defer close(c.events)
	attempt := 0
	for {
		connected, err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !c.cfg.Reconnect {
			return err
		}
		if connected {
			attempt = 0
		}
		wait := c.backoff(attempt)
		attempt++
		c.log.Warn().Err(err).Dur("retry_in", wait).Int("attempt", attempt).Msg("relay connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Channel) backoff(attempt int) time.Duration {
	if len(c.cfg.Backoff) == 0 {
		return time.Second
	}
	if attempt >= len(c.cfg.Backoff) {
		attempt = len(c.cfg.Backoff) - 1
	}
	return c.cfg.Backoff[attempt]
}

func (c *Channel) connectOnce(ctx context.Context) (bool, error) {
	token, ok := c.creds.AccessToken()
	if !ok {
		return false, ErrNoCredentials
	}
	register, err := wire.Encode(wire.EventRegister, wire.Register{UserID: c.cfg.UserID, AuthToken: token})
	if err != nil {
		return false, err
	}

	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}
	c.log.Info().Str("url", c.cfg.URL).Msg("connected to relay")

	sendCh := make(chan core.Frame, c.cfg.SendQueue)
	sendCh <- register
	c.mu.Lock()
	c.send = sendCh
	c.mu.Unlock()

	c.emit(ctx, core.Connected{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writePump(gctx, conn, sendCh) })
	g.Go(func() error { return c.readPump(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	err = g.Wait()

	c.mu.Lock()
	c.send = nil
	c.mu.Unlock()

	if ctx.Err() == nil {
		c.emit(ctx, core.Disconnected{Err: err})
	}
	return true, err
}

func (c *Channel) emit(ctx context.Context, ev core.SignalingEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
