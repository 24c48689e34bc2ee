package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Dial/internal/adapters/signal"
	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a random token to the cookie session so one
// browser or agent can be followed across reconnects in the logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	key := cfg.Secret
	if key == "" {
		// sessions do not survive a restart without a configured secret
		key = uuid.NewString()
	}
	store := cookie.NewStore([]byte(key))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("DialSessions", store))
	r.Use(ClientTokenMiddleware())

	ctrl := signal.NewSignalWSController(o, signal.Config{
		PingPeriod:  cfg.PingPeriod,
		ReadLimit:   cfg.ReadLimit,
		SendQueue:   cfg.Relay.SendQueue,
		OfferLimit:  cfg.Relay.OfferLimit,
		OfferWindow: cfg.Relay.OfferWindow,
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/users/online", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": o.Registry.Online()})
	})

	api.GET("/calls", func(c *gin.Context) {
		answered, ringing := o.ActiveCalls()
		c.JSON(http.StatusOK, gin.H{
			"active":  answered,
			"ringing": ringing,
			"total":   answered + ringing,
		})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
