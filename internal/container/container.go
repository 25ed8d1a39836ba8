package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jamesprial/storegate/config"
	"github.com/jamesprial/storegate/internal/auth"
	"github.com/jamesprial/storegate/internal/interfaces"
	"github.com/jamesprial/storegate/internal/logging"
	"github.com/jamesprial/storegate/internal/metrics"
	"github.com/jamesprial/storegate/internal/middleware"
	"github.com/jamesprial/storegate/internal/pipeline"
	"github.com/jamesprial/storegate/internal/proxy"
	"github.com/jamesprial/storegate/internal/routing"
	"github.com/jamesprial/storegate/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	rateLimiterTTL             = 1 * time.Hour
	rateLimiterCleanupInterval = 5 * time.Minute
)

// Container holds all application dependencies
type Container struct {
	configLoader     interfaces.ConfigLoader
	logger           interfaces.Logger
	logCloser        io.Closer
	config           *config.Config
	table            *routing.Table
	gate             *auth.Gate
	rateLimiter      *proxy.ClientRateLimiter
	stopCleanup      chan struct{}
	forwarder        *proxy.Forwarder
	metricsCollector *metrics.MetricsCollector
	tracerOptions    []telemetry.Option
	tracerShutdown   telemetry.ShutdownFunc
	pipeline         *pipeline.Pipeline
}

// New creates a new dependency injection container
func New() *Container {
	return &Container{}
}

// SetConfigLoader sets the configuration loader
func (c *Container) SetConfigLoader(loader interfaces.ConfigLoader) {
	c.configLoader = loader
}

// SetLogger sets the logger implementation
func (c *Container) SetLogger(logger interfaces.Logger) {
	c.logger = logger
}

// SetTracerOptions configures the tracer started when tracing is enabled.
func (c *Container) SetTracerOptions(opts ...telemetry.Option) {
	c.tracerOptions = opts
}

// ConfigLoader returns the configuration loader
func (c *Container) ConfigLoader() interfaces.ConfigLoader {
	return c.configLoader
}

// Logger returns the logger
func (c *Container) Logger() interfaces.Logger {
	return c.logger
}

// Config returns the loaded configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Table returns the route table
func (c *Container) Table() *routing.Table {
	return c.table
}

// Gate returns the auth gate
func (c *Container) Gate() *auth.Gate {
	return c.gate
}

// RateLimiter returns the client rate limiter, or nil when disabled
func (c *Container) RateLimiter() interfaces.RateLimiter {
	if c.rateLimiter == nil {
		return nil
	}
	return c.rateLimiter
}

// MetricsCollector returns the metrics collector, or nil when disabled
func (c *Container) MetricsCollector() *metrics.MetricsCollector {
	return c.metricsCollector
}

// Initialize loads configuration and sets up all dependencies
func (c *Container) Initialize() error {
	if c.configLoader == nil {
		return fmt.Errorf("config loader not set")
	}

	cfg, err := c.configLoader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c.config = cfg

	if c.logger == nil {
		if cfg.LogFile != "" {
			c.logger, c.logCloser = logging.NewFileLogger(cfg.LogLevel, logging.FileOptions{Path: cfg.LogFile})
		} else {
			c.logger = logging.NewSlogLogger(cfg.LogLevel)
		}
	}

	c.table, err = routing.NewTable(cfg.Routes)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	var gateOpts []auth.GateOption
	if cfg.Auth.VerifyCredentials {
		gateOpts = append(gateOpts, auth.WithVerifier(auth.NewJWTVerifier(cfg.Auth.JWTSecret)))
	}
	c.gate = auth.NewGate(cfg.PublicPaths, gateOpts...)

	if cfg.Metrics.IsEnabled() {
		c.metricsCollector = metrics.NewMetricsCollector()
	}

	if cfg.Limits.RequestsPerSecond > 0 {
		c.rateLimiter = proxy.NewClientRateLimiter(
			rate.Limit(cfg.Limits.RequestsPerSecond),
			cfg.Limits.Burst,
			rateLimiterTTL,
			c.logger,
		)
		c.stopCleanup = make(chan struct{})
		go c.rateLimiter.StartCleanup(rateLimiterCleanupInterval, c.stopCleanup)
	}

	var transport http.RoundTripper = proxy.NewTransport(cfg.Upstream)
	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, c.logger, c.tracerOptions...)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		c.tracerShutdown = shutdown
		transport = otelhttp.NewTransport(transport)
	}
	c.forwarder = proxy.NewForwarder(transport, c.logger, proxy.WithRequestTimeout(cfg.Upstream.RequestTimeout))

	c.pipeline = c.buildPipeline()

	c.logger.Info("Gateway dependencies initialized", map[string]any{
		"routes":                c.table.Len(),
		"public_paths":          len(cfg.PublicPaths),
		"credential_verify":     c.gate.VerificationEnabled(),
		"rate_limit_per_second": cfg.Limits.RequestsPerSecond,
		"metrics_enabled":       c.metricsCollector != nil,
		"tracing_enabled":       cfg.Tracing.Enabled,
	})
	return nil
}

func (c *Container) buildPipeline() *pipeline.Pipeline {
	var recorder auth.DecisionRecorder
	opts := []pipeline.Option{pipeline.WithLogger(c.logger)}
	if c.metricsCollector != nil {
		recorder = c.metricsCollector
		opts = append(opts, pipeline.WithObserver(c.metricsCollector))
	}

	stages := []pipeline.Stage{
		middleware.NewValidationStage(c.config.Limits.MaxBodyBytes),
		auth.NewGateStage(c.gate, c.logger, recorder),
	}
	if c.rateLimiter != nil {
		stages = append(stages, proxy.NewRateLimitStage(c.rateLimiter, c.logger,
			proxy.WithCredentialKeys(c.gate.VerificationEnabled())))
	}
	stages = append(stages, pipeline.NewRouterStage(c.table), c.forwarder)

	return pipeline.New(c.table, stages, opts...)
}

// Stages returns the pipeline stage names in execution order
func (c *Container) Stages() []string {
	if c.pipeline == nil {
		return nil
	}
	return c.pipeline.Stages()
}

// BuildHandler creates the complete request handling chain
func (c *Container) BuildHandler() http.Handler {
	if c.pipeline == nil {
		panic("container not initialized")
	}

	var handler http.Handler = c.pipeline
	if c.config.Tracing.Enabled {
		handler = otelhttp.NewHandler(handler, c.config.Tracing.ServiceName)
	}

	// Recovery is the outermost middleware
	return middleware.Chain(handler,
		middleware.Recovery(c.logger),
		middleware.RequestID,
		middleware.AccessLog(c.logger),
	)
}

// MetricsHandler returns the Prometheus handler, or nil when metrics are off
func (c *Container) MetricsHandler() http.Handler {
	if c.metricsCollector == nil {
		return nil
	}
	return metrics.PrometheusHandler(c.metricsCollector)
}

// MetricsJSONHandler returns the JSON snapshot handler, or nil when metrics are off
func (c *Container) MetricsJSONHandler() http.Handler {
	if c.metricsCollector == nil {
		return nil
	}
	return metrics.JSONHandler(c.metricsCollector)
}

// MetricsSnapshot returns the aggregated metrics, or nil when metrics are off
func (c *Container) MetricsSnapshot() map[string]any {
	if c.metricsCollector == nil {
		return nil
	}
	return c.metricsCollector.GetMetrics()
}

// Close stops background work and flushes tracing and log output.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.stopCleanup != nil {
		close(c.stopCleanup)
		c.stopCleanup = nil
	}
	if c.tracerShutdown != nil {
		if err := c.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		c.tracerShutdown = nil
	}
	if c.logCloser != nil {
		if err := c.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		c.logCloser = nil
	}
	return errors.Join(errs...)
}
