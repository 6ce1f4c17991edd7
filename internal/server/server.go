// Package server manages the HTTP server hosting the wallet API. Route
// providers contribute routes; the manager owns the router, common
// middleware, and server lifecycle. The WebSocket endpoint shares the HTTP
// server, so one port serves both transports.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/api"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
	"github.com/tusharbhayani/paradym-wallet/pkg/middleware"
)

// RouteProvider contributes routes to the shared router
type RouteProvider interface {
	// RegisterRoutes adds routes to the router. The router may be shared
	// with other providers.
	RegisterRoutes(router *gin.Engine)

	// Name returns the provider name for logging
	Name() string
}

// Manager owns the HTTP server and its router
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	providers []RouteProvider

	router *gin.Engine
	server *http.Server
}

// NewManager creates a server manager
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("server"),
	}
}

// AddProvider registers a route provider. Call before Start.
func (m *Manager) AddProvider(p RouteProvider) {
	m.providers = append(m.providers, p)
	m.logger.Debug("Added route provider", zap.String("name", p.Name()))
}

// Start builds the router and starts the HTTP server. It returns once the
// listener goroutine is running; serve errors are logged.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m.router = m.buildRouter()
	m.addStatusEndpoints(m.router)
	for _, p := range m.providers {
		m.logger.Info("Registering routes", zap.String("provider", p.Name()))
		p.RegisterRoutes(m.router)
	}

	addr := m.cfg.Server.Address()
	m.server = &http.Server{
		Addr:        addr,
		Handler:     m.router,
		ReadTimeout: 15 * time.Second,
		// Long-lived WebSocket connections share this server; the write
		// timeout stays unset so upgraded connections are not cut off.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		m.logger.Info("HTTP server listening", zap.String("address", addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the server
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Router returns the router; useful in tests
func (m *Manager) Router() *gin.Engine {
	return m.router
}

// buildRouter creates the router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(m.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     m.cfg.CORS.AllowedOrigins,
		AllowMethods:     m.cfg.CORS.AllowedMethods,
		AllowHeaders:     m.cfg.CORS.AllowedHeaders,
		ExposeHeaders:    m.cfg.CORS.ExposedHeaders,
		AllowCredentials: m.cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(m.cfg.CORS.MaxAge) * time.Second,
	}))
	return router
}

// addStatusEndpoints adds /health and /status routes
func (m *Manager) addStatusEndpoints(router *gin.Engine) {
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, api.StatusResponse{
			Status:       "ok",
			Service:      "wallet-backend",
			APIVersion:   api.CurrentAPIVersion,
			Capabilities: api.APICapabilities[api.CurrentAPIVersion],
		})
	}
	router.GET("/health", handler)
	router.GET("/status", handler)
}
