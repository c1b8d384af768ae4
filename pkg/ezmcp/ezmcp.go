// Package ezmcp is a lightweight framework for exposing functions as MCP
// tools over HTTP. An App owns a tool registry, a middleware chain, and the
// SSE session transport; registering a tool takes a name, a description, its
// parameter declarations, and a handler. There is no global application:
// every App is explicit and independently configurable.
package ezmcp

import (
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"ezmcp/internal/config"
	"ezmcp/pkg/ezmcp/middleware"
	"ezmcp/pkg/ezmcp/server"
	"ezmcp/pkg/ezmcp/transport"
)

// Option configures an App at construction time
type Option func(*App)

// WithVersion sets the version reported during the initialize handshake
func WithVersion(version string) Option {
	return func(a *App) {
		a.version = version
	}
}

// WithDebug enables debug mode: the App logs at debug level unless a custom
// logger is supplied with WithLogger
func WithDebug(debug bool) Option {
	return func(a *App) {
		a.debug = debug
	}
}

// WithLogger sets the structured logger used by the App and everything it
// builds. It takes precedence over the logger debug mode would install.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
		a.loggerSet = true
	}
}

// WithConfig applies a loaded configuration to the App: SSE paths and session
// limits, debug mode, the logger described by the logging section, and a
// Redis-backed rate limiter when the redis section enables one. The server
// section's host and port are the caller's to pass to Run.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) {
		if cfg == nil {
			return
		}

		a.debug = cfg.Server.Debug
		if cfg.SSE.SSEPath != "" {
			a.ssePath = cfg.SSE.SSEPath
		}
		if cfg.SSE.MessagePath != "" {
			a.messagePath = cfg.SSE.MessagePath
		}
		if cfg.SSE.HeartbeatSeconds > 0 {
			a.heartbeat = time.Duration(cfg.SSE.HeartbeatSeconds) * time.Second
		}
		if cfg.SSE.MaxSessions > 0 {
			a.maxSessions = cfg.SSE.MaxSessions
		}

		a.logger = newLogger(cfg.Logging, cfg.Server.Debug)
		a.loggerSet = true
		a.redisCfg = cfg.Redis
	}
}

// newLogger builds a slog logger from the logging configuration. Debug mode
// forces the debug level regardless of the configured one.
func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// WithSSEPaths overrides the session stream and message endpoints
func WithSSEPaths(ssePath, messagePath string) Option {
	return func(a *App) {
		if ssePath != "" {
			a.ssePath = ssePath
		}
		if messagePath != "" {
			a.messagePath = messagePath
		}
	}
}

// WithHeartbeat overrides the SSE heartbeat interval
func WithHeartbeat(interval time.Duration) Option {
	return func(a *App) {
		a.heartbeat = interval
	}
}

// WithMaxSessions caps the number of concurrent SSE sessions
func WithMaxSessions(max int) Option {
	return func(a *App) {
		a.maxSessions = max
	}
}

// New creates an App with the given name. Defaults: version "0.1.0", session
// stream on /sse, messages on /messages, debug off.
func New(name string, opts ...Option) *App {
	a := &App{
		name:        name,
		version:     "0.1.0",
		ssePath:     "/sse",
		messagePath: "/messages",
		heartbeat:   30 * time.Second,
		maxSessions: 1000,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.debug && !a.loggerSet {
		a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	a.server = server.NewServer(a.name, a.version, a.logger)
	a.sse = transport.NewSSETransport(&transport.SSEConfig{
		SSEPath:           a.ssePath,
		MessagePath:       a.messagePath,
		HeartbeatInterval: a.heartbeat,
		MaxSessions:       a.maxSessions,
		Logger:            a.logger,
	})
	a.sse.SetHandler(a.server)

	a.rpc = transport.NewHTTPTransport(&transport.HTTPConfig{
		Path:   "/rpc",
		Logger: a.logger,
	})
	a.rpc.SetHandler(a.server)

	a.ws = transport.NewWebSocketTransport(&transport.WebSocketConfig{
		Path:   "/ws",
		Logger: a.logger,
	})
	a.ws.SetHandler(a.server)

	if a.redisCfg.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     a.redisCfg.Addr,
			Password: a.redisCfg.Password,
			DB:       a.redisCfg.DB,
		})
		a.server.Use(middleware.NewRateLimit(middleware.NewRedisLimiter(client, 0, 0), a.logger))
	}

	return a
}
