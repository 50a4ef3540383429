package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/auth"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/delivery"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// NewServer builds the HTTP server exposing REST routes and the /ws endpoint.
func NewServer(
	hub *core.Hub,
	coord *delivery.Coordinator,
	authService *auth.Service,
	st store.Store,
	cfg *config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, coord, authService, st, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter wires every route onto a gin engine.
func NewRouter(
	hub *core.Hub,
	coord *delivery.Coordinator,
	authService *auth.Service,
	st store.Store,
	cfg *config.Config,
	logger *zerolog.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.CORSOrigin))
	router.MaxMultipartMemory = cfg.MaxUploadBytes

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.Static("/uploads", cfg.UploadDir)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, coord, authService, cfg, logger)))

	apiHandlers := NewAPIHandlers(authService, hub.Presence(), logger)
	userHandlers := NewUserHandlers(st, hub.Presence(), logger)
	messageHandlers := NewMessageHandlers(st, coord, logger)
	uploadHandlers := NewUploadHandlers(coord, cfg, logger)

	users := router.Group("/api/users")
	users.POST("/register", apiHandlers.Register)
	users.POST("/login", apiHandlers.Login)

	protected := router.Group("/api")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/users/profile", userHandlers.Profile)
	protected.GET("/users/all", userHandlers.ListUsers)
	protected.POST("/messages", messageHandlers.SendMessage)
	protected.GET("/messages/:receiverId", messageHandlers.History)
	protected.PUT("/messages/:receiverId/read", messageHandlers.MarkRead)
	protected.POST("/upload", uploadHandlers.Upload)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "not found"})
	})

	return router
}
