// Package config provides configuration management for the session guardian.
// It supports environment variable-based configuration with validation and default values
// for the API gateway, CSRF handling, expiry scheduling, cross-tab synchronization,
// Redis, the status server, and logging.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// MinPortNumber is the minimum valid port number.
	MinPortNumber = 1
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535
	// MinWarningThreshold is the shortest warning lead time accepted.
	MinWarningThreshold = time.Second
)

// ConfigFileEnv names the environment variable pointing at an optional YAML overlay.
const ConfigFileEnv = "CONFIG_FILE"

// Config represents the complete configuration for the session guardian,
// aggregating all component-specific configurations.
type Config struct {
	// Environment holds environment-specific settings.
	Environment EnvironmentConfig `envconfig:"ENVIRONMENT" mapstructure:"environment"`
	// API contains the target API location, request timeout, and endpoint paths.
	API APIConfig `envconfig:"API" mapstructure:"api"`
	// CSRF contains the anti-forgery cookie and header names.
	CSRF CSRFConfig `envconfig:"CSRF" mapstructure:"csrf"`
	// Session contains expiry prediction settings.
	Session SessionConfig `envconfig:"SESSION" mapstructure:"session"`
	// Sync contains cross-tab synchronization settings.
	Sync SyncConfig `envconfig:"SYNC" mapstructure:"sync"`
	// Redis contains Redis connection and pool configuration.
	Redis RedisConfig `envconfig:"REDIS" mapstructure:"redis"`
	// Server contains the local status server configuration.
	Server ServerConfig `envconfig:"SERVER" mapstructure:"server"`
	// Logging contains logging configuration.
	Logging LoggingConfig `envconfig:"LOGGING" mapstructure:"logging"`
}

type Environment string

const (
	Local   Environment = "LOCAL"
	NonProd Environment = "NONPROD"
	Prod    Environment = "PROD"
)

// EnvironmentConfig holds environment-specific settings.
type EnvironmentConfig struct {
	// Environment indicates the current running environment (LOCAL, NONPROD, PROD).
	Environment Environment `envconfig:"ENV" default:"LOCAL" mapstructure:"env"`
}

// APIConfig describes the cookie/CSRF-protected API the guardian talks to.
type APIConfig struct {
	// BaseURL is the scheme and host of the API (e.g., "http://localhost:3001").
	BaseURL string `envconfig:"BASE_URL"       default:"http://localhost:3001" mapstructure:"base_url"`
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration `envconfig:"TIMEOUT"        default:"10s"                   mapstructure:"timeout"`
	// BootstrapPath is the side-effect-free endpoint that sets or rotates the CSRF cookie.
	BootstrapPath string `envconfig:"BOOTSTRAP_PATH" default:"/api"                  mapstructure:"bootstrap_path"`
	// LoginPath accepts credentials.
	LoginPath string `envconfig:"LOGIN_PATH"     default:"/api/auth/login"       mapstructure:"login_path"`
	// LogoutPath ends the session.
	LogoutPath string `envconfig:"LOGOUT_PATH"    default:"/api/auth/logout"      mapstructure:"logout_path"`
	// StatusPath reports the current authentication state.
	StatusPath string `envconfig:"STATUS_PATH"    default:"/api/auth/status"      mapstructure:"status_path"`
}

// CSRFConfig names the anti-forgery cookie and request header.
type CSRFConfig struct {
	// CookieName is the cookie holding the token.
	CookieName string `envconfig:"COOKIE_NAME"        default:"csrf"         mapstructure:"cookie_name"`
	// LegacyCookieName is consulted when CookieName is absent.
	LegacyCookieName string `envconfig:"LEGACY_COOKIE_NAME" default:"csrf_"        mapstructure:"legacy_cookie_name"`
	// HeaderName carries the token on every request.
	HeaderName string `envconfig:"HEADER_NAME"        default:"X-CSRF-Token" mapstructure:"header_name"`
}

// SessionConfig contains expiry prediction settings.
type SessionConfig struct {
	// DefaultTimeout is assumed when the server omits the session timeout (seconds).
	DefaultTimeout int `envconfig:"DEFAULT_TIMEOUT"   default:"3600"  mapstructure:"default_timeout"`
	// WarningThreshold is the lead time before expiry during which the alert is shown.
	WarningThreshold time.Duration `envconfig:"WARNING_THRESHOLD" default:"60s"   mapstructure:"warning_threshold"`
	// MinimalDelay is the floor for any expiry timer.
	MinimalDelay time.Duration `envconfig:"MINIMAL_DELAY"     default:"500ms" mapstructure:"minimal_delay"`
	// LapseGrace is added to the remaining lifetime when a peer marker arms the lapse check.
	LapseGrace time.Duration `envconfig:"LAPSE_GRACE"       default:"1s"    mapstructure:"lapse_grace"`
}

// SyncBackend selects the shared activity-marker channel.
type SyncBackend string

const (
	SyncMemory SyncBackend = "memory"
	SyncFile   SyncBackend = "file"
	SyncRedis  SyncBackend = "redis"
)

// SyncConfig contains cross-tab synchronization settings.
type SyncConfig struct {
	// Backend is one of memory, file, redis.
	Backend SyncBackend `envconfig:"BACKEND"     default:"memory"                       mapstructure:"backend"`
	// MarkerFile is the shared marker file for the file backend.
	MarkerFile string `envconfig:"MARKER_FILE" default:".guardian/last-activity.json" mapstructure:"marker_file"`
	// MarkerKey is the Redis key holding the latest marker.
	MarkerKey string `envconfig:"MARKER_KEY"  default:"guardian:activity:last"       mapstructure:"marker_key"`
	// Channel is the Redis pub/sub channel markers are broadcast on.
	Channel string `envconfig:"CHANNEL"     default:"guardian:activity"            mapstructure:"channel"`
	// MarkerTTL expires the Redis marker key; zero keeps it forever.
	MarkerTTL time.Duration `envconfig:"MARKER_TTL"  default:"24h"                          mapstructure:"marker_ttl"`
}

// RedisConfig contains Redis connection configuration including
// connection pool settings and timeouts.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `envconfig:"URL"           default:"redis://localhost:6379" mapstructure:"url"`
	// Password is the Redis authentication password.
	Password string `envconfig:"PASSWORD"                                       mapstructure:"password"`
	// DB is the Redis database number to use.
	DB int `envconfig:"DB"            default:"0"                      mapstructure:"db"`
	// MaxRetries is the maximum number of retry attempts for failed operations.
	MaxRetries int `envconfig:"MAX_RETRIES"   default:"3"                      mapstructure:"max_retries"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `envconfig:"POOL_SIZE"     default:"10"                     mapstructure:"pool_size"`
	// MinIdleConn is the minimum number of idle connections.
	MinIdleConn int `envconfig:"MIN_IDLE_CONN" default:"1"                      mapstructure:"min_idle_conn"`
	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT"  default:"5s"                     mapstructure:"dial_timeout"`
	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"  default:"3s"                     mapstructure:"read_timeout"`
	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"                     mapstructure:"write_timeout"`
	// PoolTimeout is the amount of time client waits for connection.
	PoolTimeout time.Duration `envconfig:"POOL_TIMEOUT"  default:"4s"                     mapstructure:"pool_timeout"`
	// IdleTimeout is the amount of time after which client closes idle connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"  default:"300s"                   mapstructure:"idle_timeout"`
}

// ServerConfig holds the local status server settings (health, metrics, session snapshot).
type ServerConfig struct {
	// Enabled starts the status server.
	Enabled bool `envconfig:"ENABLED"          default:"true"      mapstructure:"enabled"`
	// Port is the HTTP server listening port.
	Port int `envconfig:"PORT"             default:"9464"      mapstructure:"port"`
	// Host is the network interface to bind to.
	Host string `envconfig:"HOST"             default:"127.0.0.1" mapstructure:"host"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"     default:"15s"       mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT"    default:"15s"       mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum time to wait for graceful server shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"       mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration including
// log level, format, and output destination.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `envconfig:"LEVEL"  default:"info"   mapstructure:"level"`
	// Format is the log output format (json, text).
	Format string `envconfig:"FORMAT" default:"text"   mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `envconfig:"OUTPUT" default:"stderr" mapstructure:"output"`
}

// Load reads configuration from environment variables, applies the YAML
// overlay named by CONFIG_FILE when set, and returns a validated Config.
// Values in the overlay take precedence over environment variables and defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := applyYAMLConfig(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API base URL: %q", c.API.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported API base URL scheme: %s", u.Scheme)
	}

	for name, p := range map[string]string{
		"bootstrap": c.API.BootstrapPath,
		"login":     c.API.LoginPath,
		"logout":    c.API.LogoutPath,
		"status":    c.API.StatusPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s path must start with '/': %q", name, p)
		}
	}

	if c.API.Timeout <= 0 {
		return errors.New("API timeout must be positive")
	}

	if c.CSRF.CookieName == "" || c.CSRF.HeaderName == "" {
		return errors.New("CSRF cookie and header names are required")
	}

	if c.Session.WarningThreshold < MinWarningThreshold {
		return fmt.Errorf("warning threshold must be at least %s", MinWarningThreshold)
	}

	if c.Session.MinimalDelay <= 0 {
		return errors.New("minimal delay must be positive")
	}

	if c.Session.LapseGrace < 0 {
		return errors.New("lapse grace must not be negative")
	}

	switch c.Sync.Backend {
	case SyncMemory, SyncRedis:
	case SyncFile:
		if c.Sync.MarkerFile == "" {
			return errors.New("marker file is required for the file sync backend")
		}
	default:
		return fmt.Errorf("unsupported sync backend: %s", c.Sync.Backend)
	}

	if c.Server.Enabled && (c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber) {
		return errors.New("server port must be between 1 and 65535")
	}

	return nil
}

// ServerAddr returns the formatted server address string in host:port format.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
