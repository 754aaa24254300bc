// Package config handles loading and parsing gdmcp.toml configuration
// files. Every setting has a working default; the file is optional.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gdmcp/gdmcp/internal/fsys"
)

// FileName is the per-project configuration file, looked up at the
// project root.
const FileName = "gdmcp.toml"

// Config is the top-level gdmcp configuration.
type Config struct {
	Godot     Godot     `toml:"godot,omitempty"`
	Bridge    Bridge    `toml:"bridge,omitempty"`
	Doctor    Doctor    `toml:"doctor,omitempty"`
	Telemetry Telemetry `toml:"telemetry,omitempty"`
}

// Godot holds executable resolution overrides.
type Godot struct {
	// Path pins the Godot executable, bypassing discovery.
	Path string `toml:"path,omitempty"`
	// Strict fails resolution instead of falling back to a default
	// path when no candidate validates.
	Strict bool `toml:"strict,omitempty"`
}

// Bridge holds connectivity settings for the editor bridge.
type Bridge struct {
	Host string `toml:"host,omitempty"` // default 127.0.0.1
	Port int    `toml:"port,omitempty"` // default 9080
	// ProbeTimeoutMs bounds each connect+health round trip.
	ProbeTimeoutMs int `toml:"probe_timeout_ms,omitempty"`
	// LaunchTimeoutMs bounds the whole auto-launch poll loop.
	LaunchTimeoutMs int `toml:"launch_timeout_ms,omitempty"`
}

// Doctor holds doctor-run defaults overridable by CLI flags.
type Doctor struct {
	ReadOnly bool `toml:"read_only,omitempty"`
}

// Telemetry holds OTLP endpoint overrides. Environment variables take
// precedence over these.
type Telemetry struct {
	MetricsURL string `toml:"metrics_url,omitempty"`
	LogsURL    string `toml:"logs_url,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Bridge: Bridge{
			Host:            "127.0.0.1",
			Port:            9080,
			ProbeTimeoutMs:  2000,
			LaunchTimeoutMs: 30000,
		},
	}
}

// ProbeTimeout returns the per-attempt probe budget.
func (b Bridge) ProbeTimeout() time.Duration {
	return time.Duration(b.ProbeTimeoutMs) * time.Millisecond
}

// LaunchTimeout returns the auto-launch deadline.
func (b Bridge) LaunchTimeout() time.Duration {
	return time.Duration(b.LaunchTimeoutMs) * time.Millisecond
}

// Marshal encodes a Config to TOML bytes.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return buf.Bytes(), nil
}

// Load reads and parses a gdmcp.toml at the given path. A missing file
// yields the defaults; any other read error is surfaced.
func Load(fs fsys.FS, path string) (*Config, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			return &cfg, nil
		}
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	return Parse(data)
}

// LoadProject loads the configuration for a project root. The project
// file wins; when it is absent the user-level config under
// $XDG_CONFIG_HOME/gdmcp/ is consulted; missing both yields defaults.
func LoadProject(fs fsys.FS, root string) (*Config, error) {
	if root != "" {
		path := filepath.Join(root, FileName)
		if _, err := fs.Stat(path); err == nil {
			return Load(fs, path)
		}
	}
	if p := userConfigPath(); p != "" {
		return Load(fs, p)
	}
	cfg := Default()
	return &cfg, nil
}

// userConfigPath returns the user-level config location, empty when no
// home directory can be determined.
func userConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "gdmcp", FileName)
}

// Parse decodes TOML data into a Config, layering it over Default so
// omitted settings keep their built-in values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
