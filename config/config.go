package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for any configuration that must stop the
// gateway from starting.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultListenPort            = 8080
	DefaultLogLevel              = "info"
	DefaultDialTimeout           = 5 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultMaxIdleConnsPerHost   = 32
	DefaultMaxBodyBytes          = 10 * 1024 * 1024
	DefaultMetricsEndpoint       = "/metrics"
	DefaultServiceName           = "api-gateway"
)

type Config struct {
	ListenPort  int            `yaml:"listen_port"`
	LogLevel    string         `yaml:"log_level"`
	LogFile     string         `yaml:"log_file"`
	PublicPaths []string       `yaml:"public_paths"`
	Routes      []RouteConfig  `yaml:"routes"`
	Upstream    UpstreamConfig `yaml:"upstream"`
	Limits      Limits         `yaml:"limits"`
	Auth        AuthConfig     `yaml:"auth"`
	TLS         *TLSConfig     `yaml:"tls"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Tracing     TracingConfig  `yaml:"tracing"`
}

// RouteConfig describes one backend service behind a path prefix.
type RouteConfig struct {
	Name          string `yaml:"name"`
	Prefix        string `yaml:"prefix"`
	TargetHost    string `yaml:"target_host"`
	TargetPort    int    `yaml:"target_port"`
	RewritePrefix string `yaml:"rewrite_prefix"`
}

type UpstreamConfig struct {
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
}

type Limits struct {
	RequestsPerSecond int   `yaml:"requests_per_second"`
	Burst             int   `yaml:"burst"`
	MaxBodyBytes      int64 `yaml:"max_body_bytes"`
}

type AuthConfig struct {
	VerifyCredentials bool   `yaml:"verify_credentials"`
	JWTSecret         string `yaml:"jwt_secret"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type MetricsConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// IsEnabled reports whether metrics are on. Metrics default to enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultRoutes mirrors the storefront's docker-compose service layout.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Name: "users", Prefix: "/api/users", TargetHost: "users-service", TargetPort: 8081},
		{Name: "products", Prefix: "/api/products", TargetHost: "products-service", TargetPort: 8082},
		{Name: "inventory", Prefix: "/api/inventory", TargetHost: "inventory-service", TargetPort: 8083},
		{Name: "cart", Prefix: "/api/cart", TargetHost: "cart-service", TargetPort: 8084},
		{Name: "orders", Prefix: "/api/orders", TargetHost: "orders-service", TargetPort: 8085},
	}
}

// DefaultPublicPaths are reachable with any method and no credential.
func DefaultPublicPaths() []string {
	return []string{"/api/users/register", "/api/users/login", "/api/products"}
}

// Default returns a configuration usable without any file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a YAML configuration file. Defaults are not applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field. Lists left out of the file entirely
// fall back to the defaults; an explicit empty list is kept.
func (c *Config) ApplyDefaults() {
	if c.ListenPort == 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.PublicPaths == nil {
		c.PublicPaths = DefaultPublicPaths()
	}
	if c.Routes == nil {
		c.Routes = DefaultRoutes()
	}
	if c.Upstream.DialTimeout == 0 {
		c.Upstream.DialTimeout = DefaultDialTimeout
	}
	if c.Upstream.ResponseHeaderTimeout == 0 {
		c.Upstream.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	}
	if c.Upstream.MaxIdleConnsPerHost == 0 {
		c.Upstream.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Limits.RequestsPerSecond > 0 && c.Limits.Burst <= 0 {
		c.Limits.Burst = c.Limits.RequestsPerSecond
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = DefaultMetricsEndpoint
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
}

// Validate checks everything the gateway needs before it may listen.
func (c *Config) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: listen_port %d out of range", ErrInvalidConfig, c.ListenPort)
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("%w: no routes configured", ErrInvalidConfig)
	}
	for i, r := range c.Routes {
		if strings.TrimSpace(r.TargetHost) == "" {
			return fmt.Errorf("%w: route %d (%s): missing target_host", ErrInvalidConfig, i, r.Prefix)
		}
		if r.TargetPort < 1 || r.TargetPort > 65535 {
			return fmt.Errorf("%w: route %d (%s): target_port %d out of range", ErrInvalidConfig, i, r.Prefix, r.TargetPort)
		}
	}
	for _, p := range c.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: public path %q must start with /", ErrInvalidConfig, p)
		}
	}
	if c.Limits.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: max_body_bytes must not be negative", ErrInvalidConfig)
	}
	if c.Auth.VerifyCredentials && c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: verify_credentials requires jwt_secret", ErrInvalidConfig)
	}
	if c.TLS != nil && c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("%w: tls enabled without cert_file and key_file", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a deep copy so loaders never hand out shared slices.
func (c *Config) Clone() *Config {
	out := *c
	if c.PublicPaths != nil {
		out.PublicPaths = append([]string{}, c.PublicPaths...)
	}
	if c.Routes != nil {
		out.Routes = append([]RouteConfig{}, c.Routes...)
	}
	if c.TLS != nil {
		tls := *c.TLS
		out.TLS = &tls
	}
	if c.Metrics.Enabled != nil {
		enabled := *c.Metrics.Enabled
		out.Metrics.Enabled = &enabled
	}
	return &out
}
