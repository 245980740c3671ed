package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() without a config file failed: %v", err)
	}

	if cfg.DataDir != filepath.Join(home, "stream") {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Refresh.Interval != 10*time.Second {
		t.Errorf("Refresh.Interval = %v, want 10s", cfg.Refresh.Interval)
	}
	if cfg.Cache.StaleAfter != 30*time.Second || cfg.Save.Debounce != 500*time.Millisecond {
		t.Errorf("durations = %v, %v", cfg.Cache.StaleAfter, cfg.Save.Debounce)
	}
	if cfg.Attrs.Backend != AttrsXattr {
		t.Errorf("Attrs.Backend = %q", cfg.Attrs.Backend)
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "conf", FileName)

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	cfg.Folder = "/home/me/journal"
	cfg.Timezone = "Asia/Tokyo"
	cfg.AI.APIKey = "secret"
	cfg.Refresh.Interval = time.Minute

	if err := WriteDefault(path, cfg); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	if err := WriteDefault(path, cfg); err == nil {
		t.Error("WriteDefault() overwrote an existing file")
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "secret") {
		t.Error("API key written to the config file")
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.Folder != cfg.Folder || got.Refresh.Interval != time.Minute {
		t.Errorf("loaded folder = %q, interval = %v", got.Folder, got.Refresh.Interval)
	}
	loc, err := got.Location()
	if err != nil || loc.String() != "Asia/Tokyo" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STREAM_FOLDER", "/env/journal")
	t.Setenv("STREAM_REFRESH_INTERVAL", "2m")
	t.Setenv("STREAM_ATTRS_BACKEND", "sqlite")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Folder != "/env/journal" {
		t.Errorf("Folder = %q", cfg.Folder)
	}
	if cfg.Refresh.Interval != 2*time.Minute {
		t.Errorf("Refresh.Interval = %v, want 2m", cfg.Refresh.Interval)
	}
	if cfg.Attrs.Backend != AttrsSQLite {
		t.Errorf("Attrs.Backend = %q", cfg.Attrs.Backend)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	tests := []struct {
		name string
		body string
	}{
		{"backend", "[attrs]\nbackend = \"nfs\"\n"},
		{"timezone", "timezone = \"Mars/Olympus\"\n"},
		{"overscan", "[prefetch]\noverscan = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() error = nil")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() of a missing explicit file succeeded")
	}
}
