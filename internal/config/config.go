package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ProjectConfig holds settings loaded from conductor.yml, conductor.yaml or
// conductor.toml. Every field is optional; Defaults fills the gaps.
type ProjectConfig struct {
	Listen  string        `yaml:"listen,omitempty" toml:"listen"`
	DataDir string        `yaml:"dataDir,omitempty" toml:"data_dir"`
	Storage StorageConfig `yaml:"storage,omitempty" toml:"storage"`
	Log     LogConfig     `yaml:"log,omitempty" toml:"log"`
	Engine  EngineConfig  `yaml:"engine,omitempty" toml:"engine"`

	// Agents routes stage names to remote A2A agent endpoints. Stages not
	// listed run on the built-in agents.
	Agents map[string]string `yaml:"agents,omitempty" toml:"agents"`

	// Path is the file the config was read from; empty for defaults.
	Path string `yaml:"-" toml:"-"`
}

// StorageConfig selects the Storage Contract implementation.
type StorageConfig struct {
	Driver string `yaml:"driver,omitempty" toml:"driver"` // "memory" or "sqlite"
	DSN    string `yaml:"dsn,omitempty" toml:"dsn"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level,omitempty" toml:"level"`
	Dir   string `yaml:"dir,omitempty" toml:"dir"`
}

// EngineConfig tunes the orchestration engine.
type EngineConfig struct {
	EventBuffer       int           `yaml:"eventBuffer,omitempty" toml:"event_buffer"`
	StageTimeout      time.Duration `yaml:"stageTimeout,omitempty" toml:"stage_timeout"`
	MaxAttempts       int           `yaml:"maxAttempts,omitempty" toml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoffBase,omitempty" toml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoffMax,omitempty" toml:"backoff_max"`
	DecisionTimeout   time.Duration `yaml:"decisionTimeout,omitempty" toml:"decision_timeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout,omitempty" toml:"idle_timeout"`
	MinConfidence     float64       `yaml:"minConfidence,omitempty" toml:"min_confidence"`
	ResumeConcurrency int           `yaml:"resumeConcurrency,omitempty" toml:"resume_concurrency"`
}

var fileNames = []string{"conductor.yml", "conductor.yaml", "conductor.toml"}

// Load reads the first config file found in dir. It returns defaults (not an
// error) if no config file exists.
func Load(dir string) (*ProjectConfig, error) {
	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	cfg := &ProjectConfig{}
	cfg.Defaults()
	return cfg, nil
}

// LoadFile reads a single config file, choosing the decoder by extension.
func LoadFile(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg ProjectConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension", path)
	}

	cfg.Path = path
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Defaults fills zero-valued fields.
func (c *ProjectConfig) Defaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8420"
	}
	if c.DataDir == "" {
		c.DataDir = ".conductor"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(c.DataDir, "sessions.db")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	e := &c.Engine
	if e.EventBuffer <= 0 {
		e.EventBuffer = 64
	}
	if e.StageTimeout <= 0 {
		e.StageTimeout = 2 * time.Minute
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 3
	}
	if e.BackoffBase <= 0 {
		e.BackoffBase = 500 * time.Millisecond
	}
	if e.BackoffMax <= 0 {
		e.BackoffMax = 30 * time.Second
	}
	if e.DecisionTimeout <= 0 {
		e.DecisionTimeout = 15 * time.Minute
	}
	if e.IdleTimeout <= 0 {
		e.IdleTimeout = time.Hour
	}
	if e.MinConfidence <= 0 {
		e.MinConfidence = 0.3
	}
	if e.ResumeConcurrency <= 0 {
		e.ResumeConcurrency = 8
	}
}

// Validate rejects settings the engine cannot run with.
func (c *ProjectConfig) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Engine.EventBuffer < 2 {
		return fmt.Errorf("engine.eventBuffer must be at least 2, got %d", c.Engine.EventBuffer)
	}
	if c.Engine.MinConfidence > 1 {
		return fmt.Errorf("engine.minConfidence must be within (0, 1], got %v", c.Engine.MinConfidence)
	}
	for stage, endpoint := range c.Agents {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			return fmt.Errorf("agents.%s: endpoint %q is not an http(s) URL", stage, endpoint)
		}
	}
	return nil
}
