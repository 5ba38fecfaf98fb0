package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/auth"
	"github.com/Hammer-Institute/boiler/internal/config"
	"github.com/Hammer-Institute/boiler/internal/gateway"
	"github.com/Hammer-Institute/boiler/internal/store"
)

// NewServer builds the HTTP server: REST administrative API plus the
// WebSocket gateway endpoint.
func NewServer(gw *gateway.Gateway, bridge *gateway.Bridge, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	apiHandlers := NewAPIHandlers(authService, logger)
	userHandlers := NewUserHandlers(st, bridge, logger)
	channelHandlers := NewChannelHandlers(st, bridge, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	authed := api.Group("", AuthMiddleware(authService, st, logger))
	authed.GET("/users/me", userHandlers.Me)
	authed.PATCH("/users/me", userHandlers.Update)
	authed.POST("/channels", channelHandlers.Create)
	authed.GET("/channels", channelHandlers.List)
	authed.GET("/channels/:id", channelHandlers.Get)
	authed.DELETE("/channels/:id", channelHandlers.Delete)
	authed.PUT("/channels/:id/members/:uid", channelHandlers.AddMember)
	authed.DELETE("/channels/:id/members/:uid", channelHandlers.RemoveMember)

	router.GET("/gateway", gin.WrapH(NewWSHandler(gw, authService, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
