package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (internal/cli)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every supported environment variable.
const EnvPrefix = "REDIMINUTE_"

// LoadFromEnv overlays environment variables onto cfg. Only non-empty,
// well-formed values override. Call it before flag parsing so that flags
// take precedence.
func LoadFromEnv(cfg *Config) {
	LoadFromLookup(cfg, os.LookupEnv)
}

// LoadFromLookup is LoadFromEnv with an injectable lookup function.
func LoadFromLookup(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(EnvPrefix + key)
		return strings.TrimSpace(v)
	}

	if v := get("HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := parseInt(get("PORT")); ok {
		cfg.Port = v
	}
	if v, ok := parseSeconds(get("IDLE_TIMEOUT")); ok {
		cfg.IdleTimeout = v
	}
	if v, ok := parseSeconds(get("CLEANUP_INTERVAL")); ok {
		cfg.CleanupInterval = v
	}
	if v, ok := parseSeconds(get("WRITE_TIMEOUT")); ok {
		cfg.WriteTimeout = v
	}
	if v, ok := parseSeconds(get("SHUTDOWN_TIMEOUT")); ok {
		cfg.ShutdownTimeout = v
	}
	if v, ok := parseInt(get("MAX_LINE_BYTES")); ok {
		cfg.MaxLineBytes = v
	}
	if v, ok := parseSeconds(get("CACHE_TTL")); ok {
		cfg.CacheTTL = v
	}
	if v := get("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := get("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := get("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := get("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if parseBool(get("DEBUG")) {
		cfg.Debug = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func parseInt(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseSeconds(v string) (time.Duration, bool) {
	n, ok := parseInt(v)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func parseBool(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == "yes"
}
