// Package agent runs a headless calling endpoint: one relay channel, one
// call registry and a presenter that logs what happens.
package agent

import (
	"context"
	"sync"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/app/call"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Channel is the relay link the agent drives.
type Channel interface {
	core.SignalingChannel
	Run(ctx context.Context) error
	RequestOnlineUsers() error
}

type Options struct {
	Calls     call.Config
	Policy    app.Policy
	Presenter *Presenter

	// Dial, if set, is called once after the first registration.
	Dial     domain.UserID
	DialKind domain.MediaKind
}

type Agent struct {
	Calls     *call.Registry
	Presenter *Presenter

	channel  Channel
	opts     Options
	dialOnce sync.Once
	log      zerolog.Logger
}

func New(ch Channel, factory core.PeerConnectionFactory, opts Options) *Agent {
	p := opts.Presenter
	if p == nil {
		p = NewPresenter(false)
	}
	reg := call.NewRegistry(opts.Calls, ch, factory, p, opts.Policy)
	p.decide = reg.Decide
	if opts.DialKind == "" {
		opts.DialKind = domain.Audio
	}
	return &Agent{
		Calls:     reg,
		Presenter: p,
		channel:   ch,
		opts:      opts,
		log:       log.With().Str("module", "agent").Logger(),
	}
}

// Run blocks until ctx is done or the channel gives up.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Calls.Run(gctx)
		return nil
	})
	g.Go(func() error { return a.channel.Run(gctx) })
	g.Go(func() error {
		a.pump(gctx)
		return nil
	})
	return g.Wait()
}

func (a *Agent) pump(ctx context.Context) {
	for ev := range a.channel.Events() {
		if ack, ok := ev.(core.RegistrationAck); ok {
			a.onRegistered(ctx, ack)
		}
		if !a.Calls.Deliver(ev) {
			a.log.Debug().Msgf("dropping %T after stop", ev)
		}
	}
}

func (a *Agent) onRegistered(ctx context.Context, ack core.RegistrationAck) {
	a.log.Info().Str("user", string(ack.UserID)).Msg("registered with relay")
	if err := a.channel.RequestOnlineUsers(); err != nil {
		a.log.Warn().Err(err).Msg("request online users")
	}
	if a.opts.Dial == "" {
		return
	}
	a.dialOnce.Do(func() {
		go func() {
			id, err := a.Calls.Dial(ctx, a.opts.Dial, a.opts.DialKind)
			if err != nil {
				a.log.Error().Err(err).Str("peer", string(a.opts.Dial)).Msg("dial")
				return
			}
			a.log.Info().Str("call_id", string(id)).Str("peer", string(a.opts.Dial)).Msg("dialing")
		}()
	})
}
