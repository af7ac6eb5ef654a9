// Package config provides configuration structures for the console server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dataherald/console/pkg/services"
)

// Auth types.
const (
	AuthJWT    = "jwt"
	AuthAPIKey = "api_key"
	AuthBearer = "bearer"
)

// Config represents the server configuration.
type Config struct {
	// Server settings
	Address           string        `yaml:"address" json:"address"`
	Database          string        `yaml:"database" json:"database"`
	LogLevel          string        `yaml:"log_level" json:"log_level"`
	MaxConnections    int           `yaml:"max_connections" json:"max_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	MaxMessageSize    int64         `yaml:"max_message_size" json:"max_message_size"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	TLS     TLSConfig     `yaml:"tls" json:"tls"`
	Auth    AuthConfig    `yaml:"auth" json:"auth"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Health  HealthConfig  `yaml:"health" json:"health"`

	// gRPC reflection
	Reflection bool `yaml:"reflection" json:"reflection"`

	ConnectionPool ConnectionPoolConfig  `yaml:"connection_pool" json:"connection_pool"`
	Cache          CacheConfig           `yaml:"cache" json:"cache"`
	APIKeys        services.APIKeyConfig `yaml:"api_keys" json:"api_keys"`
	Census         CensusConfig          `yaml:"census" json:"census"`
}

// TLSConfig represents TLS configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Type    string `yaml:"type" json:"type"` // jwt, api_key, bearer

	JWTAuth    JWTAuthConfig    `yaml:"jwt_auth" json:"jwt_auth"`
	BearerAuth BearerAuthConfig `yaml:"bearer_auth" json:"bearer_auth"`
}

// JWTAuthConfig represents JWT authentication configuration. Either Secret
// (HMAC) or PublicKeyFile (RSA/ECDSA PEM) must be set.
type JWTAuthConfig struct {
	Secret        string   `yaml:"secret" json:"secret"`
	PublicKeyFile string   `yaml:"public_key_file" json:"public_key_file"`
	Issuer        string   `yaml:"issuer" json:"issuer"`
	Audience      string   `yaml:"audience" json:"audience"`
	Algorithms    []string `yaml:"algorithms" json:"algorithms"`
}

// BearerAuthConfig represents bearer token authentication configuration.
type BearerAuthConfig struct {
	Tokens map[string]string `yaml:"tokens" json:"tokens"` // token -> username
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration.
type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ConnectionPoolConfig represents connection pool configuration.
type ConnectionPoolConfig struct {
	MaxOpenConnections int           `yaml:"max_open_connections" json:"max_open_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections" json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `yaml:"health_check_period" json:"health_check_period"`
}

// CacheConfig represents query-list cache configuration.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	MaxSize     int64         `yaml:"max_size" json:"max_size"`
	MaxEntries  int           `yaml:"max_entries" json:"max_entries"`
	TTL         time.Duration `yaml:"ttl" json:"ttl"`
	EnableStats bool          `yaml:"enable_stats" json:"enable_stats"`
}

// CensusConfig represents the status census schedule.
type CensusConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Schedule string        `yaml:"schedule" json:"schedule"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}

	if c.MaxConnections <= 0 {
		c.MaxConnections = 100
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 * 1024 * 1024 // 16MB
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
		}
	}

	if c.Auth.Enabled {
		switch c.Auth.Type {
		case AuthJWT:
			if c.Auth.JWTAuth.Secret == "" && c.Auth.JWTAuth.PublicKeyFile == "" {
				return fmt.Errorf("JWT auth requires a secret or a public key file")
			}
			if len(c.Auth.JWTAuth.Algorithms) == 0 {
				if c.Auth.JWTAuth.Secret != "" {
					c.Auth.JWTAuth.Algorithms = []string{"HS256"}
				} else {
					c.Auth.JWTAuth.Algorithms = []string{"RS256"}
				}
			}
		case AuthBearer:
			if len(c.Auth.BearerAuth.Tokens) == 0 {
				return fmt.Errorf("bearer auth requires tokens")
			}
		case AuthAPIKey:
		default:
			return fmt.Errorf("unsupported auth type: %s", c.Auth.Type)
		}
	}

	if c.ConnectionPool.MaxOpenConnections <= 0 {
		c.ConnectionPool.MaxOpenConnections = 25
	}
	if c.ConnectionPool.MaxIdleConnections <= 0 {
		c.ConnectionPool.MaxIdleConnections = 5
	}
	if c.ConnectionPool.ConnMaxLifetime <= 0 {
		c.ConnectionPool.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnectionPool.ConnMaxIdleTime <= 0 {
		c.ConnectionPool.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.ConnectionPool.HealthCheckPeriod <= 0 {
		c.ConnectionPool.HealthCheckPeriod = time.Minute
	}

	if c.Cache.Enabled {
		if c.Cache.MaxSize <= 0 {
			c.Cache.MaxSize = 64 * 1024 * 1024
		}
		if c.Cache.MaxEntries <= 0 {
			c.Cache.MaxEntries = 256
		}
	}

	if c.APIKeys.Prefix == "" {
		c.APIKeys.Prefix = services.DefaultAPIKeyConfig().Prefix
	}
	if c.APIKeys.RandomBytes == 0 {
		c.APIKeys.RandomBytes = services.DefaultAPIKeyConfig().RandomBytes
	}
	if c.APIKeys.RandomBytes < 16 {
		return fmt.Errorf("api_keys.random_bytes must be at least 16, got %d", c.APIKeys.RandomBytes)
	}

	if c.Census.Schedule == "" {
		c.Census.Schedule = services.DefaultCensusSchedule
	}
	if c.Census.Timeout <= 0 {
		c.Census.Timeout = time.Minute
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:           "0.0.0.0:8815",
		Database:          "console.duckdb",
		LogLevel:          "info",
		MaxConnections:    100,
		ConnectionTimeout: 30 * time.Second,
		MaxMessageSize:    16 * 1024 * 1024,
		ShutdownTimeout:   30 * time.Second,
		Auth: AuthConfig{
			Enabled: false,
			Type:    AuthAPIKey,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled: true,
		},
		Reflection: true,
		ConnectionPool: ConnectionPoolConfig{
			MaxOpenConnections: 25,
			MaxIdleConnections: 5,
			ConnMaxLifetime:    30 * time.Minute,
			ConnMaxIdleTime:    10 * time.Minute,
			HealthCheckPeriod:  time.Minute,
		},
		Cache: CacheConfig{
			Enabled:     true,
			MaxSize:     64 * 1024 * 1024, // 64MB
			MaxEntries:  256,
			TTL:         30 * time.Second,
			EnableStats: true,
		},
		APIKeys: services.DefaultAPIKeyConfig(),
		Census: CensusConfig{
			Enabled:  true,
			Schedule: services.DefaultCensusSchedule,
			Timeout:  time.Minute,
		},
	}
}
