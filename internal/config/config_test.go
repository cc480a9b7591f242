package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"registry endpoint", func(c *Config) string { return c.Registry.Endpoint }, "registry.local:5000"},
		{"state dir", func(c *Config) string { return c.State.Dir }, "/var/lib/regmirror/state"},
		{"run id", func(c *Config) string { return c.State.RunID }, "default"},
		{"cache dir", func(c *Config) string { return c.Artifacts.CacheDir }, "/var/lib/regmirror/archives"},
		{"engine preference", func(c *Config) string { return c.Engine.Preference }, "auto"},
		{"push wait timeout", func(c *Config) string { return c.Push.WaitTimeout }, "30m"},
		{"push poll interval", func(c *Config) string { return c.Push.PollInterval }, "10s"},
		{"manifest path", func(c *Config) string { return c.Manifest }, "/etc/regmirror/manifest.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if cfg.Download.RetryCount != 3 {
		t.Errorf("Download.RetryCount = %d, want 3", cfg.Download.RetryCount)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "regmirror.yaml")

	configContent := `
registry:
  endpoint: "registry.customer.example:443"
state:
  dir: "/custom/state"
  run_id: "site-a"
artifacts:
  base_url: "https://artifacts.example.com"
  cache_dir: "/custom/archives"
engine:
  preference: "podman"
push:
  wait_timeout: "5m"
  poll_interval: "2s"
download:
  retry_count: 5
manifest: "/custom/manifest.yaml"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Registry.Endpoint != "registry.customer.example:443" {
		t.Errorf("Registry.Endpoint = %q", cfg.Registry.Endpoint)
	}
	if cfg.State.Dir != "/custom/state" || cfg.State.RunID != "site-a" {
		t.Errorf("State = %+v", cfg.State)
	}
	if cfg.Artifacts.BaseURL != "https://artifacts.example.com" {
		t.Errorf("Artifacts.BaseURL = %q", cfg.Artifacts.BaseURL)
	}
	if cfg.Engine.Preference != "podman" {
		t.Errorf("Engine.Preference = %q", cfg.Engine.Preference)
	}
	if cfg.Download.RetryCount != 5 {
		t.Errorf("Download.RetryCount = %d", cfg.Download.RetryCount)
	}
	if cfg.Manifest != "/custom/manifest.yaml" {
		t.Errorf("Manifest = %q", cfg.Manifest)
	}

	if got := cfg.PushWaitTimeout(); got != 5*time.Minute {
		t.Errorf("PushWaitTimeout() = %v, want 5m", got)
	}
	if got := cfg.PushPollInterval(); got != 2*time.Second {
		t.Errorf("PushPollInterval() = %v, want 2s", got)
	}
}

// TestLoadPartialConfig verifies unset fields keep their defaults
func TestLoadPartialConfig(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "regmirror.yaml")

	if err := os.WriteFile(configFile, []byte("registry:\n  endpoint: \"mirror.example:5000\"\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Registry.Endpoint != "mirror.example:5000" {
		t.Errorf("Registry.Endpoint = %q", cfg.Registry.Endpoint)
	}
	if cfg.State.Dir != "/var/lib/regmirror/state" {
		t.Errorf("State.Dir lost its default: %q", cfg.State.Dir)
	}
	if cfg.Download.RetryCount != 3 {
		t.Errorf("Download.RetryCount lost its default: %d", cfg.Download.RetryCount)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "regmirror.yaml")
	if err := os.WriteFile(configFile, []byte("registry: [not\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(configFile); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

// TestDurationFallbacks verifies malformed durations fall back to defaults
func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Push.WaitTimeout = "not-a-duration"
	cfg.Push.PollInterval = "-5s"

	if got := cfg.PushWaitTimeout(); got != 30*time.Minute {
		t.Errorf("PushWaitTimeout() = %v, want 30m fallback", got)
	}
	if got := cfg.PushPollInterval(); got != 10*time.Second {
		t.Errorf("PushPollInterval() = %v, want 10s fallback", got)
	}
}

func TestStateDirFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.State.Dir = "/var/lib/regmirror/state"
	cfg.State.RunID = "site-a"

	got := cfg.StateDirFor("registry.customer.example:443/mirror")
	want := "/var/lib/regmirror/state/registry.customer.example_443_mirror-site-a"
	if got != want {
		t.Errorf("StateDirFor() = %q, want %q", got, want)
	}

	// No run id: just the sanitized registry.
	cfg.State.RunID = ""
	got = cfg.StateDirFor("registry.local:5000")
	want = "/var/lib/regmirror/state/registry.local_5000"
	if got != want {
		t.Errorf("StateDirFor() = %q, want %q", got, want)
	}

	// Empty registry still yields a usable directory name.
	got = cfg.StateDirFor("")
	want = "/var/lib/regmirror/state/registry"
	if got != want {
		t.Errorf("StateDirFor() = %q, want %q", got, want)
	}
}
