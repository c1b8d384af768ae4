// Package config loads application configuration from defaults, an optional
// YAML file, and environment variables, in that order of precedence (lowest
// to highest). A .env file in the working directory is honored for local
// development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	SSE     SSEConfig     `json:"sse" yaml:"sse"`
	Memory  MemoryConfig  `json:"memory" yaml:"memory"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	Debug        bool   `json:"debug" yaml:"debug"`
}

// SSEConfig represents the SSE transport configuration
type SSEConfig struct {
	SSEPath          string `json:"sse_path" yaml:"sse_path"`
	MessagePath      string `json:"message_path" yaml:"message_path"`
	HeartbeatSeconds int    `json:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	MaxSessions      int    `json:"max_sessions" yaml:"max_sessions"`
	SessionQueueSize int    `json:"session_queue_size" yaml:"session_queue_size"`
}

// MemoryConfig represents the memory store configuration
type MemoryConfig struct {
	// Driver is "sqlite3" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// DSN for postgres; Path for sqlite
	DSN  string `json:"dsn" yaml:"dsn"`
	Path string `json:"path" yaml:"path"`

	MaxOpenConns    int `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int `json:"conn_max_lifetime_minutes" yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig represents the optional Redis connection used for distributed
// rate limiting
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"-" yaml:"-"`
	DB       int    `json:"db" yaml:"db"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 30,
			Debug:        false,
		},
		SSE: SSEConfig{
			SSEPath:          "/sse",
			MessagePath:      "/messages",
			HeartbeatSeconds: 30,
			MaxSessions:      1000,
			SessionQueueSize: 64,
		},
		Memory: MemoryConfig{
			Driver:          "sqlite3",
			Path:            "./data/memory.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 60,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file named
// by EZMCP_CONFIG_FILE, and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()

	if path := os.Getenv("EZMCP_CONFIG_FILE"); path != "" {
		if err := loadFromFile(config, path); err != nil {
			return nil, err
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile overlays configuration from a YAML file
func loadFromFile(config *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv overlays configuration from environment variables
func loadFromEnv(config *Config) {
	if host := os.Getenv("EZMCP_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("EZMCP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if debug := os.Getenv("EZMCP_DEBUG"); debug != "" {
		if d, err := strconv.ParseBool(debug); err == nil {
			config.Server.Debug = d
		}
	}

	if path := os.Getenv("EZMCP_SSE_PATH"); path != "" {
		config.SSE.SSEPath = path
	}
	if path := os.Getenv("EZMCP_MESSAGE_PATH"); path != "" {
		config.SSE.MessagePath = path
	}

	if driver := os.Getenv("EZMCP_MEMORY_DRIVER"); driver != "" {
		config.Memory.Driver = driver
	}
	if dsn := os.Getenv("EZMCP_MEMORY_DSN"); dsn != "" {
		config.Memory.DSN = dsn
	}
	if path := os.Getenv("EZMCP_MEMORY_PATH"); path != "" {
		config.Memory.Path = path
	}

	if addr := os.Getenv("EZMCP_REDIS_ADDR"); addr != "" {
		config.Redis.Enabled = true
		config.Redis.Addr = addr
	}
	if password := os.Getenv("EZMCP_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("EZMCP_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = d
		}
	}

	if level := os.Getenv("EZMCP_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("EZMCP_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Memory.Driver {
	case "sqlite3":
		if c.Memory.Path == "" {
			return fmt.Errorf("memory path is required for sqlite3")
		}
	case "postgres":
		if c.Memory.DSN == "" {
			return fmt.Errorf("memory dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported memory driver: %s", c.Memory.Driver)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// ReadTimeoutDuration returns the server read timeout as a duration
func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the server write timeout as a duration
func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// Address returns the host:port the server binds to
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
