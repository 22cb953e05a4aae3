// Package cli wires command-line flags and environment configuration to the
// rediminute server and its interactive client.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/cyberinferno/rediminute/cacher"
	"github.com/cyberinferno/rediminute/config"
	"github.com/cyberinferno/rediminute/logger"
	"github.com/cyberinferno/rediminute/processor"
	"github.com/cyberinferno/rediminute/tcpserver"
)

// version is overridable at link time:
//
//	go build -ldflags "-X github.com/cyberinferno/rediminute/internal/cli.version=1.1.0"
var version = "0.1.0" //nolint:gochecknoglobals

const redisNamespace = "rediminute:responses"

// RunServer parses args on top of the environment, starts the server and
// blocks until ctx is cancelled and shutdown has completed. Log output and
// usage text go to out.
func RunServer(ctx context.Context, args []string, out io.Writer) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("rediminute", flag.ContinueOnError)
	fs.SetOutput(out)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host to bind")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Port to bind (0 picks a free port)")

	// ── session lifecycle ────────────────────────────────────────
	idle := fs.IntP("timeout", "t", seconds(cfg.IdleTimeout), "Idle timeout in seconds")
	cleanup := fs.Int("cleanup-interval", seconds(cfg.CleanupInterval), "Stale session sweep interval in seconds")
	write := fs.Int("write-timeout", seconds(cfg.WriteTimeout), "Response write timeout in seconds (0 = none)")
	shutdown := fs.Int("shutdown-timeout", seconds(cfg.ShutdownTimeout), "Max seconds to wait for sessions on shutdown (0 = no limit)")
	fs.IntVar(&cfg.MaxLineBytes, "max-line-bytes", cfg.MaxLineBytes, "Disconnect peers sending a longer line")

	// ── response cache ───────────────────────────────────────────
	cacheTTL := fs.Int("cache-ttl", seconds(cfg.CacheTTL), "Cache processor responses for this many seconds (0 = off)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the response cache (default in-memory)")

	// ── logging ──────────────────────────────────────────────────
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json or console)")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Also write daily-rotated log files to this directory")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printServerUsage(out, fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printServerUsage(out, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(out, "rediminute %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg.IdleTimeout = time.Duration(*idle) * time.Second
	cfg.CleanupInterval = time.Duration(*cleanup) * time.Second
	cfg.WriteTimeout = time.Duration(*write) * time.Second
	cfg.ShutdownTimeout = time.Duration(*shutdown) * time.Second
	cfg.CacheTTL = time.Duration(*cacheTTL) * time.Second

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Service: config.ServiceName,
		Level:   cfg.EffectiveLogLevel(),
		Format:  cfg.LogFormat,
		Dir:     cfg.LogDir,
		Output:  out,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = log.Close()
	}()

	proc, closeCache := buildProcessor(ctx, cfg, log)
	defer closeCache()

	srv := tcpserver.New(serverConfig(cfg), proc, log)
	return srv.Serve(ctx)
}

func serverConfig(cfg *config.Config) tcpserver.Config {
	return tcpserver.Config{
		Name:            config.ServiceName,
		Addr:            cfg.Addr(),
		IdleTimeout:     cfg.IdleTimeout,
		CleanupInterval: cfg.CleanupInterval,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxLineBytes:    cfg.MaxLineBytes,
	}
}

// buildProcessor returns the echo processor, wrapped in a response cache
// when CacheTTL is set. The returned func releases the cache backend.
func buildProcessor(ctx context.Context, cfg *config.Config, log logger.Logger) (processor.Processor, func()) {
	if cfg.CacheTTL <= 0 {
		return processor.Echo, func() {}
	}

	if cfg.RedisAddr == "" {
		log.Info("response cache enabled",
			logger.Field{Key: "backend", Value: "memory"},
			logger.Field{Key: "ttl", Value: cfg.CacheTTL.String()})
		c := cacher.NewMemoryCacher[string](cfg.CacheTTL, 2*cfg.CacheTTL)
		return processor.Cached(processor.Echo, c, cfg.CacheTTL), func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// the cached processor falls through to the echo on backend errors
		log.Warn("redis unreachable, responses will not be cached until it recovers",
			logger.Field{Key: "redis_addr", Value: cfg.RedisAddr},
			logger.Field{Key: "error", Value: err})
	}

	log.Info("response cache enabled",
		logger.Field{Key: "backend", Value: "redis"},
		logger.Field{Key: "redis_addr", Value: cfg.RedisAddr},
		logger.Field{Key: "ttl", Value: cfg.CacheTTL.String()})

	c := cacher.NewRedisCacher[string](rdb, redisNamespace)
	return processor.Cached(processor.Echo, c, cfg.CacheTTL), func() {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close failed", logger.Field{Key: "error", Value: err})
		}
	}
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

func printServerUsage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(out, `rediminute v%s

A line-oriented TCP server that answers every received line and reclaims
idle connections.

Usage:
  rediminute [options]

Options:
`, version)
	fs.SetOutput(out)
	fs.PrintDefaults()
	fmt.Fprintf(out, `
Every option can also be set through a %s-prefixed environment variable,
e.g. %sPORT=7000 or %sIDLE_TIMEOUT=60. Flags take precedence.
`, config.EnvPrefix, config.EnvPrefix, config.EnvPrefix)
}
