package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Dial/internal/adapters/channel"
	"github.com/dkeye/Dial/internal/adapters/credentials"
	"github.com/dkeye/Dial/internal/adapters/rtc"
	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/app/agent"
	"github.com/dkeye/Dial/internal/app/call"
	"github.com/dkeye/Dial/internal/config"
	"github.com/dkeye/Dial/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := pflag.NewFlagSet("agent", pflag.ExitOnError)
	fs.String("relay", "", "relay websocket url")
	fs.String("user", "", "user id to register as")
	fs.String("token", "", "access token (falls back to the token env var)")
	fs.Bool("auto-answer", false, "accept every incoming call")
	fs.String("dial", "", "call this user once registered")
	fs.String("media", "", "audio or video for --dial")
	debug := fs.Bool("debug", false, "debug logging")
	_ = fs.Parse(os.Args[1:])
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(
		config.WithFlag("agent.relay_url", fs.Lookup("relay")),
		config.WithFlag("agent.user_id", fs.Lookup("user")),
		config.WithFlag("agent.access_token", fs.Lookup("token")),
		config.WithFlag("agent.auto_answer", fs.Lookup("auto-answer")),
		config.WithFlag("agent.dial", fs.Lookup("dial")),
		config.WithFlag("agent.dial_media", fs.Lookup("media")),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	ac := cfg.Agent

	uid, err := domain.ParseUserID(ac.UserID)
	if err != nil {
		log.Fatal().Err(err).Msg("agent.user_id")
	}
	kind, err := domain.ParseMediaKind(ac.DialMedia)
	if err != nil {
		log.Fatal().Err(err).Msg("agent.dial_media")
	}

	factory, err := rtc.NewFactory(ac.ICEServers)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	creds := credentials.Chain{
		credentials.NewStatic(ac.AccessToken),
		credentials.Env{Var: ac.TokenEnv},
	}
	ch := channel.New(channel.Config{
		URL:        ac.RelayURL,
		UserID:     uid,
		Reconnect:  ac.Reconnect,
		Backoff:    ac.Backoff,
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
		EventQueue: ac.EventQueue,
	}, creds)

	a := agent.New(ch, factory, agent.Options{
		Calls: call.Config{
			RingTimeout:     ac.RingTimeout,
			DisconnectGrace: ac.DisconnectGrace,
			QueueSize:       ac.EventQueue,
		},
		Policy:    app.SimplePolicy{},
		Presenter: agent.NewPresenter(ac.AutoAnswer),
		Dial:      domain.UserID(ac.Dial),
		DialKind:  kind,
	})

	log.Info().Str("user", string(uid)).Str("relay", ac.RelayURL).Bool("auto_answer", ac.AutoAnswer).Msg("Dial agent started")
	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("agent stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Agent exited gracefully")
}
