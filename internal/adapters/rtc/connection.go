package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("peer connection closed")

// Connection runs every operation on its own worker goroutine, one at a
// time and in submission order, so candidates reach pion in the order
// they were handed over.
type Connection struct {
	pc     *webrtc.PeerConnection
	callID domain.CallID
	log    zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	closing bool
	onICE   func(webrtc.ICECandidateInit)
	onState func(core.TransportState)

	wake     chan struct{}
	done     chan struct{}
	released atomic.Int32
	cancel   context.CancelFunc
	stats    mediaStats
}

func newConnection(pc *webrtc.PeerConnection, id domain.CallIdentity) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:     pc,
		callID: id.CallID,
		log: log.With().
			Str("module", "webrtc").
			Str("call_id", string(id.CallID)).
			Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Info().Str("ice_state", s.String()).Msg("ICE state")
		c.emitState(mapICEState(s))
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Debug().Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go c.drain(ctx, track)
		go c.drainRTCP(ctx, receiver)
	})

	go c.loop()
	return c
}

func mapICEState(s webrtc.ICEConnectionState) core.TransportState {
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return core.TransportConnected
	case webrtc.ICEConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.ICEConnectionStateFailed:
		return core.TransportFailed
	case webrtc.ICEConnectionStateClosed:
		return core.TransportClosed
	}
	return core.TransportConnecting
}

func (c *Connection) emitState(st core.TransportState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// drain reads remote RTP so pion's buffers never fill, and counts it.
func (c *Connection) drain(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		c.stats.observe(pkt)
	}
}

func (c *Connection) drainRTCP(ctx context.Context, receiver *webrtc.RTPReceiver) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkts, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		c.stats.observeRTCP(pkts)
	}
}

func (c *Connection) submit(op func()) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, op)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Connection) loop() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			closing := c.closing
			c.mu.Unlock()
			if closing {
				c.release()
				return
			}
			<-c.wake
			continue
		}
		op := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		op()
	}
}

func (c *Connection) CreateOffer(done func(webrtc.SessionDescription, error)) {
	ok := c.submit(func() {
		offer, err := c.pc.CreateOffer(nil)
		if err == nil {
			err = c.pc.SetLocalDescription(offer)
		}
		done(offer, err)
	})
	if !ok {
		go done(webrtc.SessionDescription{}, ErrClosed)
	}
}

func (c *Connection) CreateAnswer(offer webrtc.SessionDescription, done func(webrtc.SessionDescription, error)) {
	ok := c.submit(func() {
		if c.pc.RemoteDescription() == nil {
			if err := c.pc.SetRemoteDescription(offer); err != nil {
				done(webrtc.SessionDescription{}, err)
				return
			}
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err == nil {
			err = c.pc.SetLocalDescription(answer)
		}
		done(answer, err)
	})
	if !ok {
		go done(webrtc.SessionDescription{}, ErrClosed)
	}
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription, done func(error)) {
	if !c.submit(func() { done(c.pc.SetRemoteDescription(desc)) }) {
		go done(ErrClosed)
	}
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit, done func(error)) {
	if !c.submit(func() { done(c.pc.AddICECandidate(ci)) }) {
		go done(ErrClosed)
	}
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnStateChange(fn func(core.TransportState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Close lets already queued operations finish, then closes the pion
// connection once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.onICE = nil
	c.onState = nil
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Connection) release() {
	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
	} else {
		c.log.Info().Dict("media", c.stats.dict()).Msg("closed")
	}
	c.released.Add(1)
	close(c.done)
}

// Done is closed once the underlying connection has been released.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) Released() int { return int(c.released.Load()) }
