// Package api serves the consultation and idea streaming endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nghyane/medistream/internal/access"
	"github.com/nghyane/medistream/internal/config"
	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/upstream"
	"github.com/nghyane/medistream/internal/usage"
	"github.com/nghyane/medistream/internal/util"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	keepAliveEnabled   bool
	keepAliveTimeout   time.Duration
	keepAliveOnTimeout func()
	pingInterval       time.Duration
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithKeepAliveEndpoint enables a keep-alive endpoint with the provided timeout and callback.
func WithKeepAliveEndpoint(timeout time.Duration, onTimeout func()) ServerOption {
	return func(cfg *serverOptionConfig) {
		if timeout <= 0 || onTimeout == nil {
			return
		}
		cfg.keepAliveEnabled = true
		cfg.keepAliveTimeout = timeout
		cfg.keepAliveOnTimeout = onTimeout
	}
}

// WithPingInterval sets how often an idle stream gets an SSE comment line.
func WithPingInterval(d time.Duration) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.pingInterval = d
	}
}

const defaultPingInterval = 15 * time.Second

// Server is the HTTP front end: gin engine, verifier, completer and usage sink.
type Server struct {
	engine *gin.Engine
	server *http.Server

	mu        sync.RWMutex
	cfg       *config.Config
	completer upstream.Completer

	access *access.Manager
	usage  *usage.Persister

	pingInterval time.Duration

	keepAliveEnabled   bool
	keepAliveTimeout   time.Duration
	keepAliveOnTimeout func()
	keepAliveHeartbeat chan struct{}
	keepAliveStop      chan struct{}
}

// NewServer wires the routes. persister may be nil when usage recording is off.
func NewServer(cfg *config.Config, completer upstream.Completer, accessManager *access.Manager, persister *usage.Persister, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{pingInterval: defaultPingInterval}
	for i := range opts {
		opts[i](optionState)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(log.GinLogger())
	engine.Use(log.GinRecovery())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	s := &Server{
		engine:       engine,
		cfg:          cfg,
		completer:    completer,
		access:       accessManager,
		usage:        persister,
		pingInterval: optionState.pingInterval,
	}
	s.setupRoutes()

	if optionState.keepAliveEnabled {
		s.enableKeepAlive(optionState.keepAliveTimeout, optionState.keepAliveOnTimeout)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens until Stop. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}
	log.Infof("API server listening on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop shuts the server down, letting in-flight streams finish until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")

	if s.keepAliveEnabled {
		select {
		case s.keepAliveStop <- struct{}{}:
		default:
		}
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}

func (s *Server) snapshot() (*config.Config, upstream.Completer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.completer
}

// UpdateConfig applies a reloaded configuration. A nil completer keeps the current one.
func (s *Server) UpdateConfig(cfg *config.Config, completer upstream.Completer) {
	s.mu.Lock()
	oldCfg := s.cfg
	s.cfg = cfg
	if completer != nil {
		s.completer = completer
	}
	s.mu.Unlock()

	if oldCfg == nil || oldCfg.Debug != cfg.Debug {
		util.SetLogLevel(cfg)
		log.Debugf("debug mode updated to %t", cfg.Debug)
	}
	if oldCfg != nil && oldCfg.LoggingToFile != cfg.LoggingToFile {
		if err := log.ConfigureLogOutput(cfg.LoggingToFile, ""); err != nil {
			log.Errorf("failed to reconfigure log output: %v", err)
		}
	}
	log.Infof("server configuration updated (provider=%s model=%s)", cfg.Upstream.Provider, cfg.Upstream.Model)
}
