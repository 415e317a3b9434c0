package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/apiserver/handlers"
	"github.com/gameupdater/gameupdater/pkg/apiserver/middleware"
	"github.com/gameupdater/gameupdater/pkg/auth"
)

type Server struct {
	router  *gin.Engine
	service handlers.UpdateService
	events  handlers.EventSource
	tokens  *auth.TokenManager
	logger  *zap.Logger
	origins []string
}

type Option func(*Server)

// WithAllowedOrigins restricts CORS to origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// NewServer builds the HTTP API. A nil token manager leaves the API open,
// which is only meant for a UI bound to localhost.
func NewServer(service handlers.UpdateService, events handlers.EventSource, tokens *auth.TokenManager, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		service: service,
		events:  events,
		tokens:  tokens,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if tokens == nil {
		logger.Warn("api authentication is disabled")
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS(s.origins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connected": s.service.GetConnectionStatus()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	if s.tokens != nil {
		api.Use(middleware.Auth(s.tokens))
	}

	updateHandler := handlers.NewUpdateHandler(s.service)
	updates := api.Group("", middleware.RequireScope(auth.ScopeUpdates))
	{
		updates.POST("/updates", updateHandler.Create)
		updates.GET("/updates", updateHandler.List)
		updates.GET("/updates/indeterminate", updateHandler.ListIndeterminate)
		updates.POST("/second-factor", updateHandler.SubmitSecondFactor)
		updates.GET("/connection", updateHandler.Connection)
		updates.GET("/queue", updateHandler.Queue)

		eventsHandler := handlers.NewEventsHandler(s.events)
		updates.GET("/events", eventsHandler.Stream)
	}

	settingsHandler := handlers.NewSettingsHandler(s.service)
	settings := api.Group("", middleware.RequireScope(auth.ScopeSettings))
	{
		settings.GET("/settings", settingsHandler.Get)
		settings.PUT("/settings", settingsHandler.Update)
		settings.GET("/installations/:gameId/:appId", settingsHandler.GetInstallation)
		settings.PUT("/installations/:gameId/:appId", settingsHandler.PutInstallation)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
