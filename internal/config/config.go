// ABOUTME: Configuration loading and parsing for the parley engine.
// ABOUTME: YAML with environment variable expansion, duration parsing, and strict validation.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	Database DatabaseConfig  `yaml:"database"`
	Session  SessionConfig   `yaml:"session"`
	Context  ContextConfig   `yaml:"context"`
	Memory   MemoryConfig    `yaml:"memory"`
	Adapters []AdapterConfig `yaml:"adapters"`
	Limits   LimitsConfig    `yaml:"limits"`
	Prompts  PromptsConfig   `yaml:"prompts"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// DatabaseConfig holds the archive store location. An empty path disables
// persistence.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`
	MaxSessions   int           `yaml:"max_sessions"`

	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// ContextConfig holds the context window budget, in runes of turn content.
type ContextConfig struct {
	Budget int `yaml:"budget"`
}

// MemoryConfig holds memory pool bounds.
type MemoryConfig struct {
	Capacity int           `yaml:"capacity"`
	MaxAge   time.Duration `yaml:"-"`

	MaxAgeRaw string `yaml:"max_age"`
}

// AdapterConfig describes one model backend. Order in the list is the
// failover priority order.
type AdapterConfig struct {
	Name        string        `yaml:"name"`
	Kind        string        `yaml:"kind"` // openai, anthropic, gemini
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"-"`
	Retries     int           `yaml:"retries"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`

	TimeoutRaw string `yaml:"timeout"`
}

// LimitsConfig holds the per-identity backpressure policy.
type LimitsConfig struct {
	EventsPerSecond float64 `yaml:"events_per_second"`
	Burst           int     `yaml:"burst"`
}

// PromptsConfig selects the persona and optional template overrides.
type PromptsConfig struct {
	Persona string `yaml:"persona"`
	Dir     string `yaml:"dir"`
}

// Load reads a configuration file, expands ${VAR} environment references,
// parses duration strings, applies defaults, and validates. Validation
// failures here are configuration errors: fatal at startup, never deferred
// to runtime.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values the file may omit. The defaults mirror the
// bot deployments this engine grew out of: hour-long sessions, an hourly
// sweeps cadence, and a rate limit of one event per second with small burst.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = time.Hour
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = 1000
	}
	if c.Context.Budget == 0 {
		c.Context.Budget = 4000
	}
	if c.Memory.Capacity == 0 {
		c.Memory.Capacity = 100
	}
	if c.Memory.MaxAge == 0 {
		c.Memory.MaxAge = 30 * 24 * time.Hour
	}
	if c.Limits.EventsPerSecond == 0 {
		c.Limits.EventsPerSecond = 1
	}
	if c.Limits.Burst == 0 {
		c.Limits.Burst = 5
	}
	if c.Prompts.Persona == "" {
		c.Prompts.Persona = "assistant"
	}
	for i := range c.Adapters {
		if c.Adapters[i].Timeout == 0 {
			c.Adapters[i].Timeout = 30 * time.Second
		}
		if c.Adapters[i].Retries == 0 {
			c.Adapters[i].Retries = 2
		}
	}
}

// Validate checks that every required field is present and every bound is
// positive. Returns the first failure encountered.
func (c *Config) Validate() error {
	if c.Context.Budget <= 0 {
		return fmt.Errorf("context.budget must be positive, got %d", c.Context.Budget)
	}
	if c.Memory.Capacity <= 0 {
		return fmt.Errorf("memory.capacity must be positive, got %d", c.Memory.Capacity)
	}
	if c.Memory.MaxAge <= 0 {
		return fmt.Errorf("memory.max_age must be positive")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must not be negative")
	}
	if len(c.Adapters) == 0 {
		return fmt.Errorf("at least one adapter must be configured")
	}
	for i, a := range c.Adapters {
		if a.Name == "" {
			return fmt.Errorf("adapters[%d]: name is required", i)
		}
		if a.Kind == "" {
			return fmt.Errorf("adapter %s: kind is required", a.Name)
		}
		if a.Model == "" {
			return fmt.Errorf("adapter %s: model is required", a.Name)
		}
		if a.Timeout <= 0 {
			return fmt.Errorf("adapter %s: timeout must be positive", a.Name)
		}
		if a.Retries < 1 {
			return fmt.Errorf("adapter %s: retries must be at least 1", a.Name)
		}
	}
	if c.Limits.EventsPerSecond <= 0 {
		return fmt.Errorf("limits.events_per_second must be positive")
	}
	if c.Limits.Burst < 1 {
		return fmt.Errorf("limits.burst must be at least 1")
	}
	return nil
}

// parseDurations converts raw duration strings into time.Duration values.
func (c *Config) parseDurations() error {
	var err error

	if c.Session.IdleTimeoutRaw != "" {
		c.Session.IdleTimeout, err = time.ParseDuration(c.Session.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing session.idle_timeout %q: %w", c.Session.IdleTimeoutRaw, err)
		}
	}
	if c.Session.SweepIntervalRaw != "" {
		c.Session.SweepInterval, err = time.ParseDuration(c.Session.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing session.sweep_interval %q: %w", c.Session.SweepIntervalRaw, err)
		}
	}
	if c.Memory.MaxAgeRaw != "" {
		c.Memory.MaxAge, err = time.ParseDuration(c.Memory.MaxAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing memory.max_age %q: %w", c.Memory.MaxAgeRaw, err)
		}
	}
	for i := range c.Adapters {
		if c.Adapters[i].TimeoutRaw != "" {
			c.Adapters[i].Timeout, err = time.ParseDuration(c.Adapters[i].TimeoutRaw)
			if err != nil {
				return fmt.Errorf("parsing adapter %s timeout %q: %w",
					c.Adapters[i].Name, c.Adapters[i].TimeoutRaw, err)
			}
		}
	}
	return nil
}
