package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jamesprial/storegate/config"
	"github.com/jamesprial/storegate/internal/interfaces"
)

const shutdownTimeout = 30 * time.Second

// ServiceName is reported by the health endpoint.
const ServiceName = "api-gateway"

var healthBody = mustJSON(map[string]string{
	"status":  "healthy",
	"service": ServiceName,
})

// Service implements interfaces.Gateway using dependency injection
type Service struct {
	container interfaces.Container
	logger    interfaces.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	started  time.Time
}

var _ interfaces.Gateway = (*Service)(nil)

// NewService creates a new gateway service with dependency injection
func NewService(container interfaces.Container) *Service {
	return &Service{
		container: container,
		logger:    container.Logger(),
	}
}

// Handler returns the server's top-level handler: the health endpoint, the
// metrics endpoints when enabled, and the gateway pipeline for everything
// else. Paths reach the pipeline exactly as sent; no cleaning or redirects.
func (s *Service) Handler() http.Handler {
	h := &rootHandler{
		pipeline: s.container.BuildHandler(),
		exact:    map[string]http.Handler{"/health": http.HandlerFunc(healthHandler)},
	}

	if cfg := s.container.Config(); cfg != nil && cfg.Metrics.IsEnabled() {
		s.registerMetricsEndpoints(h, cfg)
	}
	return h
}

// rootHandler serves a few fixed GET endpoints and hands every other request
// to the pipeline untouched.
type rootHandler struct {
	pipeline http.Handler
	exact    map[string]http.Handler
}

func (h *rootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if endpoint, ok := h.exact[r.URL.Path]; ok {
			endpoint.ServeHTTP(w, r)
			return
		}
	}
	h.pipeline.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(healthBody)
}

// Start implements interfaces.Gateway.Start. It returns once the listener is
// bound; serving continues in the background.
func (s *Service) Start() error {
	cfg := s.container.Config()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("gateway already started")
	}

	listenAddr := fmt.Sprintf(":%d", cfg.ListenPort)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.listener = ln
	s.started = time.Now()

	s.logger.Info("Starting storefront API gateway", map[string]any{
		"listen_addr": ln.Addr().String(),
		"routes":      len(cfg.Routes),
		"tls":         cfg.TLS != nil && cfg.TLS.Enabled,
	})

	server := s.server
	tlsCfg := cfg.TLS
	go func() {
		var err error
		if tlsCfg != nil && tlsCfg.Enabled {
			err = server.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", map[string]any{"error": err.Error()})
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop implements interfaces.Gateway.Stop
func (s *Service) Stop() error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	s.logger.Info("Stopping storefront API gateway", map[string]any{})

	if snapshot := s.container.MetricsSnapshot(); snapshot != nil {
		s.logger.Info("Final metrics before shutdown", snapshot)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown will wait for active connections to complete
	server.SetKeepAlivesEnabled(false)
	shutdownErr := server.Shutdown(ctx)
	closeErr := s.container.Close(ctx)

	if shutdownErr != nil {
		s.logger.Error("Error during graceful shutdown", map[string]any{"error": shutdownErr.Error()})
	} else {
		s.logger.Info("Graceful shutdown completed", map[string]any{})
	}

	return errors.Join(shutdownErr, closeErr)
}

// Health implements interfaces.Gateway.Health
func (s *Service) Health() map[string]any {
	health := map[string]any{
		"status":    "healthy",
		"service":   ServiceName,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	s.mu.Lock()
	if !s.started.IsZero() && s.server != nil {
		health["uptime_seconds"] = int64(time.Since(s.started).Seconds())
	}
	s.mu.Unlock()

	if cfg := s.container.Config(); cfg != nil {
		health["config"] = map[string]any{
			"listen_port": cfg.ListenPort,
			"routes":      len(cfg.Routes),
		}
	}

	return health
}

// registerMetricsEndpoints adds the metrics endpoints to h
func (s *Service) registerMetricsEndpoints(h *rootHandler, cfg *config.Config) {
	promHandler := s.container.MetricsHandler()
	if promHandler == nil {
		return
	}

	endpoint := cfg.Metrics.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultMetricsEndpoint
	}
	endpoint = "/" + strings.Trim(endpoint, "/")

	h.exact[endpoint] = promHandler
	if jsonHandler := s.container.MetricsJSONHandler(); jsonHandler != nil {
		h.exact[endpoint+"/json"] = jsonHandler
	}

	s.logger.Info("Registered metrics endpoints", map[string]any{
		"endpoint":      endpoint,
		"json_endpoint": endpoint + "/json",
	})
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
