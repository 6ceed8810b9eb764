// Package config reads crs's configuration file and environment
// overrides: scan key=value lines, merge env overrides, trim quotes (see
// DESIGN.md), resolving crs's cache-root-relative config plus the global
// CLI flags.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix crs recognizes for environment-variable
// overrides of config file keys (CRS_CACHE_DIR overrides cache_dir, etc).
const EnvPrefix = "CRS_"

// Config holds key/value settings read from a config file plus CRS_*
// environment overrides, and the resolved runtime paths derived from
// them.
type Config struct {
	Values map[string]string

	CacheDir    string
	IndexPath   string
	StorePath   string
	CompileDB   string
	LogLevel    string
	JobsDefault int
}

// DefaultPath is where crs looks for its config file absent an explicit
// override.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "crs", "config")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/crs.conf"
	}
	return filepath.Join(home, ".config", "crs", "config")
}

// Load reads path if present (a missing file is not an error), merges
// CRS_* environment overrides, and resolves cache-root-relative paths.
func Load(path string, cacheDirOverride string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	mergeEnvOverrides(cfg)

	cacheDir := cacheDirOverride
	if cacheDir == "" {
		cacheDir = cfg.Values["cache_dir"]
	}
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cacheDir = filepath.Join(home, ".cache", "crs")
	}
	cfg.CacheDir = cacheDir
	cfg.IndexPath = filepath.Join(cacheDir, "index.db")
	cfg.StorePath = filepath.Join(cacheDir, "pkgs")
	cfg.CompileDB = filepath.Join(cacheDir, "compile-cache.db")

	cfg.LogLevel = cfg.Values["log_level"]
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.JobsDefault = runtime.NumCPU()
	if jobs, err := strconv.Atoi(cfg.Values["jobs"]); err == nil && jobs > 0 {
		cfg.JobsDefault = jobs
	}

	return cfg, nil
}

func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, EnvPrefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], EnvPrefix))
		cfg.Values[key] = parts[1]
	}
}
