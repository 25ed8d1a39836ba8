package interfaces

import (
	"context"
	"net/http"

	"github.com/jamesprial/storegate/config"
)

// ConfigLoader handles loading configuration from various sources
type ConfigLoader interface {
	Load() (*config.Config, error)
}

// CredentialVerifier checks a raw Authorization header value.
// A nil error means the credential is valid.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) error
}

// RateLimiter tracks request budgets per client
type RateLimiter interface {
	// Allow reports whether the client may make another request now
	Allow(clientKey string) bool

	// GetLimit returns the current limit for a client
	GetLimit(clientKey string) (allowed bool, remaining int)

	// Reset clears the rate limit state for a client
	Reset(clientKey string)
}

// Gateway represents the main gateway service
type Gateway interface {
	// Start begins serving HTTP requests
	Start() error

	// Stop gracefully shuts down the gateway
	Stop() error

	// Health returns the health status of the gateway
	Health() map[string]any
}

// Logger provides structured logging
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Container holds application dependencies and provides dependency injection
type Container interface {
	// Config returns the loaded configuration
	Config() *config.Config

	// Logger returns the logger instance
	Logger() Logger

	// BuildHandler creates the complete request handling chain
	BuildHandler() http.Handler

	// MetricsHandler returns the metrics exposition handler, or nil when disabled
	MetricsHandler() http.Handler

	// MetricsJSONHandler returns the JSON metrics snapshot handler, or nil when disabled
	MetricsJSONHandler() http.Handler

	// MetricsSnapshot returns aggregated metrics, or nil when disabled
	MetricsSnapshot() map[string]any

	// Close releases background resources started by Initialize
	Close(ctx context.Context) error
}
