package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultSession: "work",
		BaseURL:        "http://chat.example:8080",
		RequestTimeout: Duration{3 * time.Second},
		Poll:           Poll{Interval: Duration{2 * time.Second}},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.BaseURL != "http://chat.example:8080" {
		t.Errorf("BaseURL = %q", loaded.BaseURL)
	}
	if loaded.RequestTimeout.Duration != 3*time.Second {
		t.Errorf("RequestTimeout = %v, want 3s", loaded.RequestTimeout.Duration)
	}
	if loaded.Poll.Interval.Duration != 2*time.Second {
		t.Errorf("Poll.Interval = %v, want 2s", loaded.Poll.Interval.Duration)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	def := Default()
	if cfg.BaseURL != def.BaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, def.BaseURL)
	}
	if cfg.Poll.Interval != def.Poll.Interval || cfg.Poll.MaxBackoff != def.Poll.MaxBackoff {
		t.Errorf("Poll = %+v, want %+v", cfg.Poll, def.Poll)
	}
	if cfg.RequestTimeout.Duration != 0 {
		t.Errorf("RequestTimeout = %v, want 0 (client default)", cfg.RequestTimeout.Duration)
	}
}

func TestLoadOrDefaultEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("base_url = \"http://from-file\"\nlog_level = \"debug\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvBaseURL, "http://from-env/")

	cfg, err := LoadOrDefault(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != "http://from-env" {
		t.Errorf("BaseURL = %q, want http://from-env (env wins, trailing slash trimmed)", cfg.BaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("request_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
