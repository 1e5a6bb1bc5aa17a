package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/vendsync/internal/mapping"
)

// DefaultFileName is the config file looked up in the project root.
const DefaultFileName = "vendsync.yaml"

// Config represents the complete vendsync configuration. All paths are
// explicit; components never read ambient global state or the process cwd.
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Manifest ManifestConfig `yaml:"manifest"`
	Mappings []mapping.Rule `yaml:"mappings"`
	Sync     SyncConfig     `yaml:"sync"`
}

// SourceConfig locates the vendored upstream checkout.
type SourceConfig struct {
	// Path to the checked-out source tree, relative to the project root
	// unless absolute.
	Path string `yaml:"path"`
}

// ManifestConfig locates the sync manifest file.
type ManifestConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig tunes sync behavior.
type SyncConfig struct {
	// Workers bounds per-file concurrency during a sync run.
	Workers int `yaml:"workers"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandPaths expands environment variables and ~ in all path fields.
func (c *Config) expandPaths() error {
	var err error
	if c.Source.Path, err = expand(c.Source.Path); err != nil {
		return err
	}
	if c.Manifest.Path, err = expand(c.Manifest.Path); err != nil {
		return err
	}
	return nil
}

func expand(path string) (string, error) {
	expanded, err := homedir.Expand(os.ExpandEnv(path))
	if err != nil {
		return "", fmt.Errorf("failed to expand path %q: %w", path, err)
	}
	return expanded, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Manifest.Path == "" {
		c.Manifest.Path = filepath.Join(".vendsync", "manifest.json")
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Source.Path == "" {
		return fmt.Errorf("source.path is required")
	}

	if len(c.Mappings) == 0 {
		return fmt.Errorf("at least one mapping rule is required")
	}
	for i, rule := range c.Mappings {
		if rule.From == "" {
			return fmt.Errorf("mappings[%d].from is required", i)
		}
		if rule.To == "" {
			return fmt.Errorf("mappings[%d].to is required", i)
		}
		if filepath.IsAbs(rule.From) || filepath.IsAbs(rule.To) {
			return fmt.Errorf("mappings[%d]: rule paths must be relative (from %q, to %q)", i, rule.From, rule.To)
		}
		if escapesRoot(rule.From) || escapesRoot(rule.To) {
			return fmt.Errorf("mappings[%d]: rule paths must not escape their root (from %q, to %q)", i, rule.From, rule.To)
		}
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}

	return nil
}

// escapesRoot reports whether a cleaned relative path climbs out of its root.
func escapesRoot(path string) bool {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

// SourceDir resolves the source tree path against the project root.
func (c *Config) SourceDir(projectRoot string) string {
	return resolve(projectRoot, c.Source.Path)
}

// ManifestPath resolves the manifest file path against the project root.
func (c *Config) ManifestPath(projectRoot string) string {
	return resolve(projectRoot, c.Manifest.Path)
}

func resolve(projectRoot, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(projectRoot, path)
}
