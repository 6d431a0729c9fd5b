// internal/config/config.go
//
// This package handles configuration and the .modload directory structure.
// Every project that uses modload gets a .modload/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ModloadDir is the name of the directory we create in each project
	ModloadDir = ".modload"

	defaultModulesDir = "modules"
	defaultManifest   = "module.yaml"
	defaultCache      = "forever"
)

const defaultProjectConfigYAML = `# modload project configuration
version: 1

modules:
  # Directory searched for bare specifiers, walking up from the requesting file.
  dir: modules
  # Package manifest inside each module directory.
  manifest: module.yaml
  # Extra extensions mapped onto an existing executor.
  # extensions:
  #   .yamlc: .yaml

cache:
  # forever keeps successful resolutions until the process exits; none disables caching.
  resolutions: forever

install:
  enabled: true
  # Also install on the blocking resolution path.
  sync: false
  # Copy packages from a local registry directory...
  registry: ../registry
  # ...or run a command with the missing specifiers appended.
  # command: ["npm", "install"]
  # options:
  #   save: "false"
`

// ModulesConfig controls how specifiers are located.
type ModulesConfig struct {
	Dir        string            `yaml:"dir"`
	Manifest   string            `yaml:"manifest"`
	Extensions map[string]string `yaml:"extensions,omitempty"`
}

// CacheConfig selects the resolution cache policy.
type CacheConfig struct {
	Resolutions string `yaml:"resolutions"`
}

// InstallConfig describes the installer used when a specifier is missing.
type InstallConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Sync     bool              `yaml:"sync"`
	Registry string            `yaml:"registry,omitempty"`
	Command  []string          `yaml:"command,omitempty"`
	Options  map[string]string `yaml:"options,omitempty"`
}

// ProjectConfig models .modload/config.yaml.
type ProjectConfig struct {
	Version int           `yaml:"version"`
	Modules ModulesConfig `yaml:"modules"`
	Cache   CacheConfig   `yaml:"cache"`
	Install InstallConfig `yaml:"install"`
}

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the directory modload was run from
	ProjectDir string

	// ModloadProjectDir is ProjectDir/.modload
	ModloadProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .modload directory structure in the given
// project directory and seeds a default config.yaml.
//
// Structure created:
// .modload/
// ├── config.yaml
// ├── logs/    <- modload.log
// └── state/   <- serialized manager handles
func InitProjectDir(projectDir string) error {
	root := filepath.Join(projectDir, ModloadDir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig creates a new Config populated with the project's settings.
// A missing config.yaml yields defaults.
func NewConfig(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{
		ProjectDir:        abs,
		ModloadProjectDir: filepath.Join(abs, ModloadDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ModloadProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.ModloadProjectDir, "state")
}

// StatePath is where the CLI keeps the serialized manager state.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir(), "manager.yaml")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ModloadProjectDir, "config.yaml")
}

// ModulesDir returns the directory name searched for bare specifiers.
func (c *Config) ModulesDir() string {
	return c.Project.Modules.Dir
}

// Manifest returns the package manifest file name.
func (c *Config) Manifest() string {
	return c.Project.Modules.Manifest
}

// ExtensionAliases returns configured extension aliases.
func (c *Config) ExtensionAliases() map[string]string {
	return c.Project.Modules.Extensions
}

// CachePolicy returns the configured resolution cache policy name.
func (c *Config) CachePolicy() string {
	return c.Project.Cache.Resolutions
}

// Install returns the installer settings with the registry resolved against
// the project directory. The stored value keeps the form it was written in.
func (c *Config) Install() InstallConfig {
	settings := c.Project.Install
	settings.Registry = resolvePath(c.ProjectDir, settings.Registry)
	return settings
}

// SetCachePolicy updates the resolution cache policy and persists it back to
// .modload/config.yaml.
func (c *Config) SetCachePolicy(policy string) error {
	policy = strings.ToLower(strings.TrimSpace(policy))
	if policy == "" {
		return fmt.Errorf("config: cache policy is required")
	}
	c.Project.Cache.Resolutions = policy
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Modules: ModulesConfig{Dir: defaultModulesDir, Manifest: defaultManifest},
		Cache:   CacheConfig{Resolutions: defaultCache},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Modules.Dir) == "" {
		pc.Modules.Dir = defaultModulesDir
	}
	if strings.TrimSpace(pc.Modules.Manifest) == "" {
		pc.Modules.Manifest = defaultManifest
	}
	if strings.TrimSpace(pc.Cache.Resolutions) == "" {
		pc.Cache.Resolutions = defaultCache
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Modules.Dir = strings.TrimSpace(pc.Modules.Dir)
	pc.Modules.Manifest = strings.TrimSpace(pc.Modules.Manifest)
	if len(pc.Modules.Extensions) > 0 {
		aliases := make(map[string]string, len(pc.Modules.Extensions))
		for ext, target := range pc.Modules.Extensions {
			aliases[normalizeExt(ext)] = normalizeExt(target)
		}
		pc.Modules.Extensions = aliases
	}
	pc.Cache.Resolutions = strings.ToLower(strings.TrimSpace(pc.Cache.Resolutions))
	pc.Install.Registry = strings.TrimSpace(pc.Install.Registry)
	command := pc.Install.Command[:0]
	for _, arg := range pc.Install.Command {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			command = append(command, trimmed)
		}
	}
	pc.Install.Command = command
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if strings.ContainsAny(pc.Modules.Dir, `/\`) {
		return fmt.Errorf("modules.dir must be a single directory name")
	}
	for _, ext := range sortedKeys(pc.Modules.Extensions) {
		if ext == "" || pc.Modules.Extensions[ext] == "" {
			return fmt.Errorf("modules.extensions[%s]: alias and target are required", ext)
		}
	}
	switch pc.Cache.Resolutions {
	case "forever", "none":
	default:
		return fmt.Errorf("cache.resolutions must be 'forever' or 'none'")
	}
	if pc.Install.Enabled {
		hasRegistry := pc.Install.Registry != ""
		hasCommand := len(pc.Install.Command) > 0
		if hasRegistry == hasCommand {
			return fmt.Errorf("install: exactly one of registry or command is required")
		}
	}
	return nil
}

func normalizeExt(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed != "" && !strings.HasPrefix(trimmed, ".") {
		trimmed = "." + trimmed
	}
	return trimmed
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.ModloadProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure modload dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
