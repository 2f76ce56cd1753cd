// Package api serves the local control API: run lifecycle, status,
// logs, config, and export access over HTTP. The server binds to
// loopback by default; it is an operator surface, not a public one.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pithecene-io/prospect/cli/config"
	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/runmgr"
)

// Server is the control API over one config file and one run manager.
type Server struct {
	cfgPath string
	mu      sync.RWMutex
	cfg     *config.Config
	mgr     *runmgr.Manager
	logger  *log.Logger

	echo      *echo.Echo
	csrfToken string
	limiter   *ipLimiter
	startedAt time.Time
}

// New builds the server and wires its routes.
func New(cfgPath string, cfg *config.Config, mgr *runmgr.Manager, logger *log.Logger) *Server {
	s := &Server{
		cfgPath:   cfgPath,
		cfg:       cfg,
		mgr:       mgr,
		logger:    logger,
		csrfToken: newToken(),
		limiter:   newIPLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		startedAt: time.Now(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.rateLimit)

	api := e.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/csrf-token", s.handleCSRFToken)
	api.GET("/status", s.handleStatus)
	api.GET("/status/:retailer", s.handleRetailerStatus)
	api.GET("/runs/:retailer", s.handleRuns)
	api.GET("/logs/:retailer/:run_id", s.handleLogs)
	api.GET("/config", s.handleGetConfig)
	api.GET("/export/:retailer/:format", s.handleExport)

	mutating := api.Group("", s.requireCSRF)
	mutating.POST("/scraper/start", s.handleStart, requireJSON)
	mutating.POST("/scraper/stop", s.handleStop, requireJSON)
	mutating.POST("/scraper/restart", s.handleRestart, requireJSON)
	mutating.POST("/config", s.handleUpdateConfig, requireJSON)
	mutating.POST("/export/multi", s.handleExportMulti, requireJSON)

	s.echo = e
	return s
}

// CSRFToken exposes the per-process token for local clients.
func (s *Server) CSRFToken() string { return s.csrfToken }

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address until the listener fails or
// Shutdown is called.
func (s *Server) Start() error {
	addr := s.config().Server.Listen
	s.logger.Info("control api listening", map[string]any{"addr": addr})
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func newToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
