package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config models tdprio.yml.
type Config struct {
	Experiment Experiment `yaml:"experiment" json:"experiment"`
	Datasets   struct {
		Files []string `yaml:"files" json:"files,omitempty" validate:"dive,required"`
	} `yaml:"datasets" json:"datasets"`
	Server struct {
		Addr     string    `yaml:"addr" json:"addr" validate:"required,hostname_port"`
		BasePath string    `yaml:"base_path" json:"base_path" validate:"required,startswith=/"`
		Webhooks []Webhook `yaml:"webhooks" json:"webhooks,omitempty" validate:"dive"`
	} `yaml:"server" json:"server"`
}

// Webhook is an endpoint that receives appended events.
type Webhook struct {
	URL            string   `yaml:"url" json:"url" validate:"required,url"`
	Secret         string   `yaml:"secret" json:"-"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty" validate:"gte=0"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Experiment configures rollout sweeps.
type Experiment struct {
	Dataset           string  `yaml:"dataset" json:"dataset"`
	MaxSimulations    int     `yaml:"max_simulations" json:"max_simulations" validate:"gte=1,lte=10000"`
	ExplorationWeight float64 `yaml:"exploration_weight" json:"exploration_weight" validate:"gt=0"`
	Seed              int64   `yaml:"seed" json:"seed"`
	Parallelism       int     `yaml:"parallelism" json:"parallelism" validate:"gte=1,lte=256"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config.%s fails %q (got %v)", yamlPath(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return err
	}
	seen := map[string]bool{}
	for _, f := range c.Datasets.Files {
		if seen[f] {
			return fmt.Errorf("config.datasets.files lists %s twice", f)
		}
		seen[f] = true
	}
	return nil
}

// yamlPath turns "Config.Experiment.MaxSimulations" into "experiment.max_simulations".
func yamlPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && prev >= 'a' && prev <= 'z' {
				b.WriteByte('_')
			}
			prev = r
			r += 'a' - 'A'
		} else {
			prev = r
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tdprio.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace on fs. A nil fs reads the
// OS filesystem.
func Load(fs afero.Fs, workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := readFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tdp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(fs afero.Fs, workspace string) (*Config, error) {
	data, err := readFile(fs, Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

func readFile(fs afero.Fs, path string) ([]byte, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return afero.ReadFile(fs, path)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `experiment:
  dataset: default
  max_simulations: 30
  exploration_weight: 1
  seed: 1
  parallelism: 4

datasets:
  files: []

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  # webhooks:
  #   - url: https://hooks.example.com/tdprio
  #     events: [sweep.completed]
  #     timeout_seconds: 5
`
