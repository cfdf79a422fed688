package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up when none is given
const DefaultFile = "ketchup.yml"

// TagsEnv overrides features.tags when set
const TagsEnv = "KETCHUP_TAGS"

// Config represents the ketchup.yml configuration
type Config struct {
	Version        int                  `yaml:"version"`
	Settings       Settings             `yaml:"settings"`
	PropertiesFile string               `yaml:"properties_file,omitempty"`
	Properties     map[string]string    `yaml:"properties"`
	Containers     map[string]Container `yaml:"containers"`
	Resources      map[string]Resource  `yaml:"resources"`
	Hooks          Hooks                `yaml:"hooks"`
	Features       Features             `yaml:"features"`

	// Dir is the directory the config was loaded from. Relative paths in
	// the config resolve against it.
	Dir string `yaml:"-"`
}

type Settings struct {
	Timeout  time.Duration `yaml:"timeout"`
	Parallel int           `yaml:"parallel"`
	FailFast bool          `yaml:"fail_fast"`
	Output   string        `yaml:"output"`
	Reset    ResetSettings `yaml:"reset"`
}

type ResetSettings struct {
	Level string `yaml:"level"` // scenario, none
}

type Container struct {
	Image     string            `yaml:"image"`
	Env       map[string]string `yaml:"env"`
	Ports     []string          `yaml:"ports"`
	DependsOn []string          `yaml:"depends_on"`
	WaitFor   WaitStrategy      `yaml:"wait_for"`
}

type WaitStrategy struct {
	// port, log, http or exec
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
	// For HTTP
	Method string `yaml:"method,omitempty"`
	Path   string `yaml:"path,omitempty"`

	Timeout time.Duration `yaml:"timeout"`
}

type Resource struct {
	Type      string         `yaml:"type"`
	Container string         `yaml:"container"`
	Options   map[string]any `yaml:"options"`
	// nil leaves the decision to the handler
	Reset *bool `yaml:"reset,omitempty"`
	// Database specific
	Database string `yaml:"database,omitempty"`
}

type Hooks struct {
	BeforeAll      []Hook `yaml:"before_all"`
	AfterAll       []Hook `yaml:"after_all"`
	BeforeScenario []Hook `yaml:"before_scenario"`
	AfterScenario  []Hook `yaml:"after_scenario"`
}

type Hook struct {
	SQL       string `yaml:"sql,omitempty"`
	SQLFile   string `yaml:"sql_file,omitempty"`
	Exec      string `yaml:"exec,omitempty"`
	Resource  string `yaml:"resource,omitempty"`
	Container string `yaml:"container,omitempty"`
}

type Features struct {
	Paths    []string `yaml:"paths"`
	Tags     string   `yaml:"tags"`
	Scenario string   `yaml:"scenario,omitempty"`
}

// Resource types with a step catalog. Each may be configured at most once
// because their steps are not prefixed with the resource name.
var singletonTypes = map[string]bool{
	"api":      true,
	"postgres": true,
	"redis":    true,
}

// Load reads and parses the ketchup.yml configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Dir = filepath.Dir(path)

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Tags returns the tag expression to run: the flag value, then the
// KETCHUP_TAGS environment variable, then features.tags
func (c *Config) Tags(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(TagsEnv); env != "" {
		return env
	}
	return c.Features.Tags
}

// Path resolves p against the config directory
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = 5 * time.Minute
	}
	if c.Settings.Parallel == 0 {
		c.Settings.Parallel = 1
	}
	if c.Settings.Output == "" {
		c.Settings.Output = "pretty"
	}
	if c.Settings.Reset.Level == "" {
		c.Settings.Reset.Level = "scenario"
	}
	if len(c.Features.Paths) == 0 {
		c.Features.Paths = []string{"./features"}
	}
	if c.Properties == nil {
		c.Properties = make(map[string]string)
	}
	for name, res := range c.Resources {
		if res.Type == "postgresql" {
			res.Type = "postgres"
			c.Resources[name] = res
		}
	}
}

func (c *Config) validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	validLevels := map[string]bool{"scenario": true, "none": true}
	if !validLevels[c.Settings.Reset.Level] {
		return fmt.Errorf("invalid reset level: %s", c.Settings.Reset.Level)
	}

	if c.Settings.Parallel < 0 {
		return fmt.Errorf("parallel must be positive, got %d", c.Settings.Parallel)
	}

	seen := make(map[string]string)
	for name, res := range c.Resources {
		if res.Container != "" {
			if _, ok := c.Containers[res.Container]; !ok {
				return fmt.Errorf("resource %q references unknown container %q", name, res.Container)
			}
		}
		if singletonTypes[res.Type] {
			if other, ok := seen[res.Type]; ok {
				return fmt.Errorf("resources %q and %q are both of type %s; only one is allowed", other, name, res.Type)
			}
			seen[res.Type] = name
		}
	}

	for name, cont := range c.Containers {
		if cont.Image == "" {
			return fmt.Errorf("container %q has no image", name)
		}
		for _, dep := range cont.DependsOn {
			if _, ok := c.Containers[dep]; !ok {
				return fmt.Errorf("container %q depends on unknown container %q", name, dep)
			}
		}
	}

	for _, hooks := range [][]Hook{c.Hooks.BeforeAll, c.Hooks.AfterAll, c.Hooks.BeforeScenario, c.Hooks.AfterScenario} {
		for _, h := range hooks {
			if (h.SQL != "" || h.SQLFile != "") && h.Resource == "" {
				return fmt.Errorf("sql hook requires a resource")
			}
			if h.Exec != "" && h.Container == "" {
				return fmt.Errorf("exec hook requires a container")
			}
		}
	}

	return nil
}
