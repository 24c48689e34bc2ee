package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Dial/internal/adapters/http"
	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/config"
	"github.com/dkeye/Dial/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := pflag.NewFlagSet("relay", pflag.ExitOnError)
	fs.Int("port", 3002, "listen port")
	fs.String("secret", "", "HMAC secret for access tokens")
	issue := fs.String("issue-token", "", "print an access token for this user id and exit")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(
		config.WithFlag("port", fs.Lookup("port")),
		config.WithFlag("secret", fs.Lookup("secret")),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	auth := app.NewHMACAuth(cfg.Secret)

	if *issue != "" {
		uid, err := domain.ParseUserID(*issue)
		if err != nil {
			log.Fatal().Err(err).Msg("bad user id")
		}
		fmt.Println(auth.Issue(uid))
		return
	}
	if cfg.Secret == "" {
		log.Warn().Msg("no secret configured, any non-empty token is accepted")
	}

	o := orch.New(auth)
	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Dial relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("relay stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Relay exited gracefully")
}
