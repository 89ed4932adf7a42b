package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/skillswap/relay/internal/adapters/signal"
	"github.com/skillswap/relay/internal/auth"
	"github.com/skillswap/relay/internal/config"
	"github.com/skillswap/relay/internal/core"
)

const sessionName = "SkillswapSession"

// Deps are the collaborators the HTTP surface needs. Issuer may be nil; the
// dev token route is only mounted in debug mode anyway.
type Deps struct {
	Signal   *signal.SignalWSController
	History  core.MessageReader
	Verifier auth.Verifier
	Issuer   *auth.Issuer
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": deps.Signal.Registry.Count()})
	})

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.POST("/session", handleSessionLogin(deps.Verifier))
	api.DELETE("/session", handleSessionLogout)
	api.GET("/messages/:friendId", RequireToken(deps.Verifier), handleHistory(deps.History))

	if cfg.Mode == "debug" && deps.Issuer != nil {
		api.POST("/dev/token", handleDevToken(deps.Issuer))
		log.Warn().Str("module", "adapters.http").Msg("dev token endpoint enabled")
	}

	return r
}
