package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	State     StateConfig     `yaml:"state"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Engine    EngineConfig    `yaml:"engine"`
	Push      PushConfig      `yaml:"push"`
	Download  DownloadConfig  `yaml:"download"`
	Manifest  string          `yaml:"manifest"`
}

// RegistryConfig holds destination registry settings
type RegistryConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// StateConfig holds settings for the shared marker state directory
type StateConfig struct {
	Dir   string `yaml:"dir"`
	RunID string `yaml:"run_id"`
}

// ArtifactsConfig holds settings for archive acquisition
type ArtifactsConfig struct {
	BaseURL  string `yaml:"base_url"`
	CacheDir string `yaml:"cache_dir"`
}

// EngineConfig holds container engine selection settings
type EngineConfig struct {
	// Preference is "auto", "docker", or "podman"
	Preference string `yaml:"preference"`
}

// PushConfig holds settings for the push-only consumer wait loop
type PushConfig struct {
	WaitTimeout  string `yaml:"wait_timeout"`
	PollInterval string `yaml:"poll_interval"`
}

// DownloadConfig holds settings for archive downloads
type DownloadConfig struct {
	RetryCount int `yaml:"retry_count"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			Endpoint: "registry.local:5000",
		},
		State: StateConfig{
			Dir:   "/var/lib/regmirror/state",
			RunID: "default",
		},
		Artifacts: ArtifactsConfig{
			CacheDir: "/var/lib/regmirror/archives",
		},
		Engine: EngineConfig{
			Preference: "auto",
		},
		Push: PushConfig{
			WaitTimeout:  "30m",
			PollInterval: "10s",
		},
		Download: DownloadConfig{
			RetryCount: 3,
		},
		Manifest: "/etc/regmirror/manifest.yaml",
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"regmirror.yaml",
		"/etc/regmirror/regmirror.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "regmirror", "regmirror.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// PushWaitTimeout parses the push wait timeout, falling back to 30 minutes.
func (c *Config) PushWaitTimeout() time.Duration {
	return parseDurationOr(c.Push.WaitTimeout, 30*time.Minute)
}

// PushPollInterval parses the push poll interval, falling back to 10 seconds.
func (c *Config) PushPollInterval() time.Duration {
	return parseDurationOr(c.Push.PollInterval, 10*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// StateDirFor returns the marker directory for a destination registry.
// Each (registry, run id) pair gets its own directory so independent
// mirror runs never share markers.
func (c *Config) StateDirFor(registry string) string {
	name := sanitizeDirName(registry)
	if c.State.RunID != "" {
		name += "-" + c.State.RunID
	}
	return filepath.Join(c.State.Dir, name)
}

func sanitizeDirName(s string) string {
	repl := strings.NewReplacer("/", "_", ":", "_")
	s = repl.Replace(strings.TrimSpace(s))
	if s == "" {
		return "registry"
	}
	return s
}
