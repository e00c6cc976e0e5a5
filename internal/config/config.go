// Package config provides configuration types and defaults for conductor.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/retry"
	"github.com/zjrosen/conductor/internal/orchestration/tracing"
	"github.com/zjrosen/conductor/internal/orchestration/window"
)

// Task store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration options for conductor.
type Config struct {
	Agents      []AgentConfig     `mapstructure:"agents"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Clipboard   ClipboardConfig   `mapstructure:"clipboard"`
	Readiness   ReadinessConfig   `mapstructure:"readiness"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Bus         BusConfig         `mapstructure:"bus"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Tasks       TasksConfig       `mapstructure:"tasks"`
	Tracing     tracing.Config    `mapstructure:"tracing"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Simulation  SimulationConfig  `mapstructure:"simulation"`
}

// AgentConfig describes one editor window.
type AgentConfig struct {
	ID string `mapstructure:"id" yaml:"id"`
	// WindowTitle enables the focus check before every click. Empty skips it.
	WindowTitle string `mapstructure:"window_title" yaml:"window_title,omitempty"`
	// Coordinates maps element name (input, copy, probe) to screen position.
	Coordinates map[string]window.Point `mapstructure:"coordinates" yaml:"coordinates"`
}

// RetryConfig is the retry policy for UI operations.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ClipboardConfig controls how long a copy waits for the clipboard to change.
type ClipboardConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

// ReadinessConfig configures the readiness watcher.
type ReadinessConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
}

// PoolConfig configures the worker loops.
type PoolConfig struct {
	ClaimPollInterval time.Duration `mapstructure:"claim_poll_interval"`
	// MinPriority restricts workers to tasks at or above this priority.
	MinPriority *int `mapstructure:"min_priority"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// CorrelationConfig configures correlated waits.
type CorrelationConfig struct {
	ResolvedTTL time.Duration `mapstructure:"resolved_ttl"`
}

// TasksConfig selects the task store and seed file.
type TasksConfig struct {
	Store    string `mapstructure:"store"`
	DBPath   string `mapstructure:"db_path"`
	SeedFile string `mapstructure:"seed_file"`
	// Watch reloads SeedFile when it changes.
	Watch bool `mapstructure:"watch"`
	// SyncInterval reloads the store so tasks added by other processes are seen.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics when non-empty.
	ListenAddr string `mapstructure:"listen_addr"`
}

// SimulationConfig tunes the simulated editors used by run --simulate.
type SimulationConfig struct {
	Latency time.Duration `mapstructure:"latency"`
}

// DefaultConfigDir returns ~/.config/conductor or empty if home is unavailable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "conductor")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// DefaultDBPath returns the default sqlite task database path.
func DefaultDBPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return "tasks.db"
	}
	return filepath.Join(dir, "tasks.db")
}

// DefaultAgents returns two example agents laid out side by side.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			ID: "A1",
			Coordinates: map[string]window.Point{
				window.ElementInput: {X: 400, Y: 900},
				window.ElementCopy:  {X: 700, Y: 120},
				window.ElementProbe: {X: 400, Y: 60},
			},
		},
		{
			ID: "A2",
			Coordinates: map[string]window.Point{
				window.ElementInput: {X: 1360, Y: 900},
				window.ElementCopy:  {X: 1660, Y: 120},
				window.ElementProbe: {X: 1360, Y: 60},
			},
		},
	}
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()

	return Config{
		Agents: DefaultAgents(),
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       500 * time.Millisecond,
			Multiplier:  1,
			MaxDelay:    5 * time.Second,
		},
		Clipboard: ClipboardConfig{
			PollInterval: 100 * time.Millisecond,
			PollTimeout:  3 * time.Second,
		},
		Readiness: ReadinessConfig{
			PollInterval:    time.Second,
			ResponseTimeout: 5 * time.Minute,
			HealthInterval:  30 * time.Second,
		},
		Pool: PoolConfig{
			ClaimPollInterval: 2 * time.Second,
		},
		Bus: BusConfig{
			BufferSize: 256,
		},
		Correlation: CorrelationConfig{
			ResolvedTTL: 10 * time.Minute,
		},
		Tasks: TasksConfig{
			Store:        StoreSQLite,
			DBPath:       DefaultDBPath(),
			Watch:        true,
			SyncInterval: 5 * time.Second,
		},
		Tracing: tc,
		Simulation: SimulationConfig{
			Latency: 2 * time.Second,
		},
	}
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := ValidateAgents(c.Agents); err != nil {
		return err
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: retry: %w", ErrInvalidConfig, err)
	}
	if c.Clipboard.PollInterval <= 0 || c.Clipboard.PollTimeout <= 0 {
		return fmt.Errorf("%w: clipboard.poll_interval and clipboard.poll_timeout must be positive", ErrInvalidConfig)
	}
	if c.Clipboard.PollInterval > c.Clipboard.PollTimeout {
		return fmt.Errorf("%w: clipboard.poll_interval exceeds poll_timeout", ErrInvalidConfig)
	}
	if c.Readiness.PollInterval <= 0 || c.Readiness.ResponseTimeout <= 0 {
		return fmt.Errorf("%w: readiness.poll_interval and readiness.response_timeout must be positive", ErrInvalidConfig)
	}
	if c.Readiness.HealthInterval < 0 {
		return fmt.Errorf("%w: readiness.health_interval must not be negative", ErrInvalidConfig)
	}
	if c.Pool.ClaimPollInterval <= 0 {
		return fmt.Errorf("%w: pool.claim_poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Bus.BufferSize <= 0 {
		return fmt.Errorf("%w: bus.buffer_size must be positive, got %d", ErrInvalidConfig, c.Bus.BufferSize)
	}
	if c.Correlation.ResolvedTTL <= 0 {
		return fmt.Errorf("%w: correlation.resolved_ttl must be positive", ErrInvalidConfig)
	}
	if err := ValidateTasks(c.Tasks); err != nil {
		return err
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateAgents requires at least one agent, unique IDs and coordinates for
// every element.
func ValidateAgents(agents []AgentConfig) error {
	if len(agents) == 0 {
		return fmt.Errorf("%w: at least one agent is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(agents))
	for i, a := range agents {
		if a.ID == "" {
			return fmt.Errorf("%w: agents[%d].id is required", ErrInvalidConfig, i)
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate agent id %q", ErrInvalidConfig, a.ID)
		}
		seen[a.ID] = true
	}
	if err := coordinates(agents).Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateTasks checks the task store settings.
func ValidateTasks(t TasksConfig) error {
	switch t.Store {
	case StoreMemory:
	case StoreSQLite:
		if t.DBPath == "" {
			return fmt.Errorf("%w: tasks.db_path is required when store is %q", ErrInvalidConfig, StoreSQLite)
		}
	default:
		return fmt.Errorf("%w: tasks.store must be %q or %q, got %q", ErrInvalidConfig, StoreMemory, StoreSQLite, t.Store)
	}
	if t.Watch && t.SeedFile == "" {
		log.Debug(log.CatConfig, "tasks.watch set without seed_file, nothing to watch")
	}
	if t.SyncInterval < 0 {
		return fmt.Errorf("%w: tasks.sync_interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

func coordinates(agents []AgentConfig) window.StaticCoordinates {
	out := make(window.StaticCoordinates, len(agents))
	for _, a := range agents {
		elements := make(map[string]window.Point, len(a.Coordinates))
		for k, v := range a.Coordinates {
			elements[k] = v
		}
		out[a.ID] = elements
	}
	return out
}

// Coordinates returns the configured screen positions.
func (c Config) Coordinates() window.StaticCoordinates {
	return coordinates(c.Agents)
}

// AgentIDs returns the agent IDs in configuration order.
func (c Config) AgentIDs() []string {
	ids := make([]string, len(c.Agents))
	for i, a := range c.Agents {
		ids[i] = a.ID
	}
	return ids
}

// WindowTitles returns the agents that have a focus check configured.
func (c Config) WindowTitles() map[string]string {
	titles := make(map[string]string)
	for _, a := range c.Agents {
		if a.WindowTitle != "" {
			titles[a.ID] = a.WindowTitle
		}
	}
	return titles
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Delay:       c.Retry.Delay,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// WatcherConfig converts the readiness section.
func (c Config) WatcherConfig() window.WatcherConfig {
	return window.WatcherConfig{
		PollInterval:    c.Readiness.PollInterval,
		ResponseTimeout: c.Readiness.ResponseTimeout,
		HealthInterval:  c.Readiness.HealthInterval,
	}
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
