package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.conf"), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheDir == "" {
		t.Fatal("expected a default cache dir even with no config file")
	}
}

func TestLoadParsesKeyValueLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crs.conf")
	if err := os.WriteFile(path, []byte("# comment\nlog_level = debug\ncache_dir=\"/tmp/crscache\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.CacheDir != "/tmp/crscache" {
		t.Fatalf("CacheDir = %q, want /tmp/crscache", cfg.CacheDir)
	}
}

func TestCacheDirOverrideWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crs.conf")
	os.WriteFile(path, []byte("cache_dir=/from/file\n"), 0o644)

	cfg, err := Load(path, "/from/flag")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheDir != "/from/flag" {
		t.Fatalf("CacheDir = %q, want /from/flag", cfg.CacheDir)
	}
}

func TestLoadDefaultsJobsToHostCoreCount(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.conf"), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JobsDefault != runtime.NumCPU() {
		t.Fatalf("JobsDefault = %d, want %d (runtime.NumCPU())", cfg.JobsDefault, runtime.NumCPU())
	}
}

func TestLoadJobsConfigKeyOverridesHostCoreCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crs.conf")
	if err := os.WriteFile(path, []byte("jobs=2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JobsDefault != 2 {
		t.Fatalf("JobsDefault = %d, want 2", cfg.JobsDefault)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CRS_LOG_LEVEL", "trace")
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.conf"), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "trace" {
		t.Fatalf("LogLevel = %q, want trace (env override)", cfg.LogLevel)
	}
}
