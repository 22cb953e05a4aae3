package config

import "time"

// All tuneable defaults live here so CLI flags, environment loading and
// tests agree on them.
const (
	// DefaultHost is the bind address.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the bind port.
	DefaultPort = 6379

	// DefaultIdleTimeout is the rolling per-session read deadline.
	DefaultIdleTimeout = 300 * time.Second

	// DefaultCleanupInterval is the stale-session sweep period.
	DefaultCleanupInterval = 60 * time.Second

	// DefaultWriteTimeout bounds a single response write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultShutdownTimeout is how long Stop waits for handlers to exit
	// after their transports have been closed.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultMaxLineBytes is the longest message a peer may send.
	DefaultMaxLineBytes = 64 * 1024

	// DefaultLogLevel is the minimum level logged.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the log encoding.
	DefaultLogFormat = "json"

	// ServiceName tags every log entry and names log files.
	ServiceName = "rediminute"
)
