// Package config assembles runtime configuration from environment variables,
// in the teacher's getEnvDefault style rather than a config-framework.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the tunables of §4.5's concurrency parameters and the
// ambient service settings.
type Config struct {
	BoltPath             string
	HTTPAddr             string
	MaxParallelPerConst  int
	DefaultTaskTimeout   time.Duration
	SynchronizerTimeout  time.Duration
	CancellationRetain   time.Duration
	UndoStackDepth       int
}

// Load reads configuration from the environment, falling back to defaults
// matching spec.md §4.5/§4.4.
func Load() Config {
	return Config{
		BoltPath:            getEnv("CONSTELLATION_DB_PATH", "./data"),
		HTTPAddr:             getEnv("CONSTELLATION_HTTP_ADDR", ":8080"),
		MaxParallelPerConst:  getEnvInt("CONSTELLATION_MAX_PARALLEL", 10),
		DefaultTaskTimeout:   getEnvSeconds("CONSTELLATION_TASK_TIMEOUT_SECONDS", 1000),
		SynchronizerTimeout:  getEnvSeconds("CONSTELLATION_SYNC_TIMEOUT_SECONDS", 30),
		CancellationRetain:   getEnvSeconds("CONSTELLATION_CANCEL_RETAIN_SECONDS", 300),
		UndoStackDepth:       getEnvInt("CONSTELLATION_UNDO_DEPTH", 100),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defSeconds)) * time.Second
}
