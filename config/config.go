// Package config defines the runtime configuration of the rediminute server.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds every tuneable of a server instance.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Host string
	Port int // 0 picks a free port

	// ── Session lifecycle ────────────────────────────────────────────
	IdleTimeout     time.Duration // rolling read deadline per session
	CleanupInterval time.Duration // sweeper period
	WriteTimeout    time.Duration // 0 = unbounded
	ShutdownTimeout time.Duration // 0 = wait for handlers indefinitely
	MaxLineBytes    int           // longest accepted message, delimiter excluded

	// ── Response cache ───────────────────────────────────────────────
	CacheTTL  time.Duration // 0 disables caching
	RedisAddr string        // empty uses the in-memory cache

	// ── Logging ──────────────────────────────────────────────────────
	LogLevel  string
	LogFormat string
	LogDir    string
	Debug     bool // forces LogLevel to debug
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		IdleTimeout:     DefaultIdleTimeout,
		CleanupInterval: DefaultCleanupInterval,
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxLineBytes:    DefaultMaxLineBytes,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// Addr returns the host:port the listener binds.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EffectiveLogLevel returns LogLevel, or "debug" when Debug is set.
func (c *Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 0-65535", c.Port)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must not be negative")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout must not be negative")
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("max line bytes must be positive, got %d", c.MaxLineBytes)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown log format %q (want json or console)", c.LogFormat)
	}

	return nil
}
