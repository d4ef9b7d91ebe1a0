// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the asihost shim.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"ASIHOST_LOG_LEVEL"`
	Game      string          `yaml:"game" env:"ASIHOST_GAME"` // "", "launcher", "le1", "le2", "le3"
	Hooks     HooksConfig     `yaml:"hooks"`
	Modules   ModulesConfig   `yaml:"modules"`
	ASILoader ASILoaderConfig `yaml:"asi_loader"`
	Launcher  LauncherConfig  `yaml:"launcher"`
	Health    HealthConfig    `yaml:"health"`
}

// HooksConfig selects the redirection primitive.
type HooksConfig struct {
	Method string `yaml:"method" env:"ASIHOST_HOOKS_METHOD"` // "inline" or "slot"
}

// ModuleToggle controls one built-in module.
type ModuleToggle struct {
	Enabled  bool `yaml:"enabled"`
	Required bool `yaml:"required"` // activation failure aborts the host
}

type ModulesConfig struct {
	LaunchFix ModuleToggle `yaml:"launch_fix"`
	ASILoader ModuleToggle `yaml:"asi_loader"`
	Launcher  ModuleToggle `yaml:"launcher"`
}

type ASILoaderConfig struct {
	Dir        string   `yaml:"dir" env:"ASIHOST_ASI_DIR"`
	Extensions []string `yaml:"extensions"`
}

type LauncherConfig struct {
	Target string   `yaml:"target" env:"ASIHOST_LAUNCH_TARGET"` // "", "le1", "le2", "le3"
	Args   []string `yaml:"args"`
	Wait   bool     `yaml:"wait"` // false: terminate the launcher once the game is spawned
}

// HealthConfig configures the diagnostics HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"ASIHOST_HEALTH_PORT"` // e.g. "127.0.0.1:8687"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Hooks:    HooksConfig{Method: "inline"},
		Modules: ModulesConfig{
			LaunchFix: ModuleToggle{Enabled: true},
			ASILoader: ModuleToggle{Enabled: true},
			Launcher:  ModuleToggle{Enabled: true},
		},
		ASILoader: ASILoaderConfig{
			Dir:        "ASI",
			Extensions: []string{".asi", ".so"},
		},
		Launcher: LauncherConfig{
			Wait: true,
		},
		Health: HealthConfig{
			Enabled: false,
			Port:    "127.0.0.1:8687",
		},
	}
}

// LoadDir loads YAML files from a directory and merges them into a single
// Config. Expected files:
//   - base.yaml    → log_level, game, hooks, modules, health
//   - plugins.yaml → asi_loader
//   - launch.yaml  → launcher
//
// Missing files are silently ignored (defaults apply).
func LoadDir(dir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, f := range []string{"base.yaml", "plugins.yaml", "launch.yaml"} {
		if err := loadFileInto(filepath.Join(dir, f), cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFileInto reads a YAML file and unmarshals it into an existing Config,
// overwriting only the fields present in the file.
func loadFileInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides reads ASIHOST_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"ASIHOST_LOG_LEVEL":     func(v string) { c.LogLevel = v },
		"ASIHOST_GAME":          func(v string) { c.Game = v },
		"ASIHOST_HOOKS_METHOD":  func(v string) { c.Hooks.Method = v },
		"ASIHOST_ASI_DIR":       func(v string) { c.ASILoader.Dir = v },
		"ASIHOST_LAUNCH_TARGET": func(v string) { c.Launcher.Target = v },
		"ASIHOST_HEALTH_PORT":   func(v string) { c.Health.Port = v },
	}

	boolOverrides := map[string]*bool{
		"ASIHOST_LAUNCH_FIX_ENABLED": &c.Modules.LaunchFix.Enabled,
		"ASIHOST_ASI_LOADER_ENABLED": &c.Modules.ASILoader.Enabled,
		"ASIHOST_LAUNCHER_ENABLED":   &c.Modules.Launcher.Enabled,
		"ASIHOST_LAUNCH_WAIT":        &c.Launcher.Wait,
		"ASIHOST_HEALTH_ENABLED":     &c.Health.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			if b, ok := parseBool(val); ok {
				*target = b
			}
		}
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on":
		return true, true
	case "no", "off":
		return false, true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return b, err == nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Hooks.Method {
	case "slot", "inline":
	default:
		return fmt.Errorf("hooks.method must be 'slot' or 'inline', got %q", c.Hooks.Method)
	}

	switch strings.ToLower(c.Game) {
	case "", "launcher", "le1", "le2", "le3":
	default:
		return fmt.Errorf("game must be one of launcher, le1, le2, le3, got %q", c.Game)
	}

	switch strings.ToLower(c.Launcher.Target) {
	case "", "le1", "le2", "le3":
	default:
		return fmt.Errorf("launcher.target must be one of le1, le2, le3, got %q", c.Launcher.Target)
	}

	if c.Modules.ASILoader.Enabled && c.ASILoader.Dir == "" {
		return fmt.Errorf("asi_loader.dir is required when the asi loader is enabled")
	}
	for _, ext := range c.ASILoader.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("asi_loader.extensions: %q must start with a dot", ext)
		}
	}

	if c.Health.Enabled && c.Health.Port == "" {
		return fmt.Errorf("health.port is required when health is enabled")
	}

	return nil
}
