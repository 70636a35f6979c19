package api

import (
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/api/handlers"
	"github.com/finkargo/tip-analytics/internal/api/middleware"
	"github.com/finkargo/tip-analytics/internal/config"
	"github.com/finkargo/tip-analytics/pkg/keycloak"
)

type Server struct {
	Config   *config.Config
	Router   *gin.Engine
	Handler  *handlers.Handler
	Gatherer prometheus.Gatherer
	Limiter  *middleware.TenantRateLimiter
	logger   *zap.Logger
}

func NewServer(cfg *config.Config, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:   cfg,
		Router:   router,
		Handler:  handler,
		Gatherer: gatherer,
		Limiter:  middleware.NewTenantRateLimiter(cfg.RateLimit.UploadsPerMinute, cfg.RateLimit.Burst),
		logger:   logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", s.Handler.Health)
	s.Router.GET("/ready", s.Handler.Ready)
	if s.Config.Metrics.Enabled {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api/v1")
	if s.Config.Auth.Enabled {
		api.Use(middleware.AuthRequired(s.keyFunc()))
	}
	api.Use(middleware.Tenant(s.Config.Auth.OrgClaim))

	analytics := api.Group("/analytics")
	{
		analytics.GET("/health", s.Handler.GetHealth)
		analytics.GET("/all", s.Handler.GetAllAnalytics)
		analytics.GET("/uploads", s.Handler.ListUploads)
		analytics.GET("/:type", s.Handler.GetAnalytics)
		analytics.POST("/upload", middleware.RateLimit(s.Limiter), s.Handler.Upload)
		analytics.POST("/validate", s.Handler.Validate)
	}

	providers := api.Group("/providers")
	{
		providers.GET("", s.Handler.ListProviders)
		providers.DELETE("/:name",
			middleware.OperatorRequired(s.Config.Auth.OperatorRole, s.Config.Auth.OperatorToken),
			s.Handler.RemoveProvider)
	}
}

func (s *Server) keyFunc() jwt.Keyfunc {
	kc := s.Config.Auth.Keycloak
	if kc.URL == "" {
		return middleware.HMACKey(s.Config.Auth.JWTSecret)
	}
	s.logger.Info("Verifying tokens against keycloak", zap.String("url", kc.URL), zap.String("realm", kc.Realm))
	return keycloak.NewKeySet(kc.URL, kc.Realm, s.logger).Keyfunc
}
