package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/api/handlers"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/api/middleware"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/config"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	handler *handlers.Handler
}

func NewServer(cfg *config.Config, h *handlers.Handler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		handler: h,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", handlers.HealthCheck)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Stripe calls this directly; auth is the signature check.
	s.Router.POST("/stripe/webhook", s.handler.StripeWebhook)

	api := s.Router.Group("/api/v1")
	api.Use(middleware.AuthRequired(s.Config.JWTSecret))
	{
		api.GET("/reports/latest", s.handler.GetLatestReport)
		api.GET("/reports", s.handler.ListReports)
		api.GET("/reports/:id", s.handler.GetReport)
		api.GET("/reports/:id/csv", s.handler.ExportReportCSV)
		api.GET("/reports/:id/unlock-status", s.handler.GetUnlockStatus)

		api.POST("/scans", s.handler.TriggerScan)
		api.GET("/scans/:id", s.handler.GetScanStatus)

		api.GET("/monitoring", s.handler.GetMonitoring)
		api.POST("/monitoring", s.handler.SaveMonitoring)

		api.GET("/subscription", s.handler.GetSubscription)
		api.POST("/billing/checkout", s.handler.CreateCheckout)
	}
}
