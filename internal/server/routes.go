package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/linkscanner/linkscanner/internal/observability"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	if scan := s.opts.Scanner; scan != nil {
		s.router.Get("/", scan.Root)
		s.router.Get("/scan", scan.Scan)
		s.router.Get("/enhanced-scan", scan.EnhancedScan)
		s.router.Get("/rate-limits", scan.RateLimits)
	}

	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	if s.opts.Version != nil {
		s.router.Method("GET", "/version", s.opts.Version)
	}

	// Lives in this package to reach HandleError.
	s.router.Get("/metrics", MetricsHandler)

	s.registerAdminEndpoint()
}

// registerAdminEndpoint registers POST /admin/signal when an admin token is configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token configured)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,  // requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
