package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/jamesprial/storegate/config"
	"github.com/jamesprial/storegate/internal/interfaces"
)

// LookupEnv matches os.LookupEnv so tests can supply their own environment.
type LookupEnv func(key string) (string, bool)

// FileLoader loads configuration from a YAML file
type FileLoader struct {
	filePath  string
	lookupEnv LookupEnv
}

// NewFileLoader creates a new file-based configuration loader
func NewFileLoader(filePath string) *FileLoader {
	return &FileLoader{
		filePath:  filePath,
		lookupEnv: os.LookupEnv,
	}
}

// WithEnv replaces the environment used for overrides.
func (f *FileLoader) WithEnv(lookup LookupEnv) *FileLoader {
	f.lookupEnv = lookup
	return f
}

// Load implements interfaces.ConfigLoader
func (f *FileLoader) Load() (*config.Config, error) {
	cfg, err := config.Load(f.filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return finalize(cfg, f.lookupEnv)
}

// DefaultLoader serves the built-in configuration plus environment overrides.
type DefaultLoader struct {
	lookupEnv LookupEnv
}

// NewDefaultLoader creates a loader that needs no file
func NewDefaultLoader() *DefaultLoader {
	return &DefaultLoader{lookupEnv: os.LookupEnv}
}

// WithEnv replaces the environment used for overrides.
func (d *DefaultLoader) WithEnv(lookup LookupEnv) *DefaultLoader {
	d.lookupEnv = lookup
	return d
}

// Load implements interfaces.ConfigLoader
func (d *DefaultLoader) Load() (*config.Config, error) {
	return finalize(&config.Config{}, d.lookupEnv)
}

// MemoryLoader loads configuration from memory (useful for testing)
type MemoryLoader struct {
	config *config.Config
}

// NewMemoryLoader creates a new in-memory configuration loader
func NewMemoryLoader(cfg *config.Config) *MemoryLoader {
	return &MemoryLoader{
		config: cfg,
	}
}

// Load implements interfaces.ConfigLoader. The environment is not consulted.
func (m *MemoryLoader) Load() (*config.Config, error) {
	if m.config == nil {
		return nil, fmt.Errorf("%w: no configuration provided", config.ErrInvalidConfig)
	}
	return finalize(m.config.Clone(), nil)
}

// NewLoader picks the file loader when path exists or was set explicitly,
// and the default loader otherwise.
func NewLoader(path string, explicit bool) interfaces.ConfigLoader {
	if explicit {
		return NewFileLoader(path)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return NewDefaultLoader()
	}
	return NewFileLoader(path)
}

func finalize(cfg *config.Config, lookup LookupEnv) (*config.Config, error) {
	if lookup != nil {
		if err := applyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	if lookup != nil {
		// Routes may come from defaults, so they are overlaid last.
		if err := applyRouteEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config, lookup LookupEnv) error {
	for _, key := range []string{"GATEWAY_LISTEN_PORT", "PORT"} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", config.ErrInvalidConfig, key, v)
		}
		cfg.ListenPort = port
		break
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("JWT_SECRET"); ok && v != "" {
		cfg.Auth.JWTSecret = v
	}
	return nil
}

func applyRouteEnv(cfg *config.Config, lookup LookupEnv) error {
	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		if r.Name == "" {
			continue
		}
		prefix := EnvPrefix(r.Name)
		if v, ok := lookup(prefix + "_SERVICE_HOST"); ok && v != "" {
			r.TargetHost = v
		}
		if v, ok := lookup(prefix + "_SERVICE_PORT"); ok && v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s_SERVICE_PORT=%q is not a port", config.ErrInvalidConfig, prefix, v)
			}
			r.TargetPort = port
		}
	}
	return nil
}

// EnvPrefix turns a route name into its environment variable prefix.
func EnvPrefix(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}
