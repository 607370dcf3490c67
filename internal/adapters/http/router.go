package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/adapters/gateway"
	"github.com/carelink/realtime/internal/config"
)

// SetupRouter wires both websocket channels. Each endpoint runs the auth
// gate on its own, so a revoked token cannot ride an open channel.
func SetupRouter(ctx context.Context, cfg *config.Config, chatEndpoint, callEndpoint *gateway.Endpoint) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/ws/chat", func(c *gin.Context) {
		chatEndpoint.Handle(ctx, c)
	})
	api.GET("/ws/call", func(c *gin.Context) {
		callEndpoint.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
