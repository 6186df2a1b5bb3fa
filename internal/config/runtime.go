// Package config holds the evaluation run configuration: environment-variable
// runtime settings, the eval run parameters, policy configuration validation,
// and key=value override parsing.
package config

import (
	"os"
	"strconv"
)

// Runtime carries process-level settings read from the environment. Every
// field has a working default so a bare invocation runs.
type Runtime struct {
	SnapshotBaseURL  string
	SnapshotCacheDir string
	ExprCacheMax     int
	CycleObsBuffer   int
}

func Load() Runtime {
	return Runtime{
		SnapshotBaseURL:  getenv("ROBOEVAL_SNAPSHOT_URL", ""),
		SnapshotCacheDir: getenv("ROBOEVAL_SNAPSHOT_CACHE", defaultCacheDir()),
		ExprCacheMax:     getenvInt("ROBOEVAL_EXPR_CACHE_MAX", 1024, 1),
		CycleObsBuffer:   getenvInt("ROBOEVAL_CYCLE_OBS_BUFFER", 4096, 1),
	}
}

func defaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.cache/roboeval/snapshots"
	}
	return ".roboeval-snapshots"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback, min int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return fallback
	}
	return v
}
