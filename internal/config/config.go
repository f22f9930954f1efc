// Package config handles configuration loading for quill.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/quill/internal/retry"
	"github.com/ShayCichocki/quill/internal/store"
	"github.com/ShayCichocki/quill/internal/telemetry"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

const (
	appName           = "quill"
	envPrefix         = "QUILL"
	projectConfigName = ".quill.yaml"
)

// Config holds all configuration for quill.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Watchdog     WatchdogConfig     `mapstructure:"watchdog"`
	Locks        LocksConfig        `mapstructure:"locks"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Intent       IntentConfig       `mapstructure:"intent"`
	Store        store.Config       `mapstructure:"store"`
	Retry        retry.Policy       `mapstructure:"retry"`
	Content      ContentConfig      `mapstructure:"content"`
	Log          LogConfig          `mapstructure:"log"`
	TUI          TUIConfig          `mapstructure:"tui"`
	Telemetry    telemetry.Config   `mapstructure:"telemetry"`
}

// AnthropicConfig holds language model settings.
type AnthropicConfig struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	UseBedrock        bool   `mapstructure:"use_bedrock"`
	AWSRegion         string `mapstructure:"aws_region"`
	AWSProfile        string `mapstructure:"aws_profile"`
	MaxTokens         int64  `mapstructure:"max_tokens" validate:"gte=0"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" validate:"gte=0"`
}

// OrchestratorConfig holds task orchestration settings.
type OrchestratorConfig struct {
	// ConfidenceThreshold is the minimum classification confidence that starts a task.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	// CheckpointMaxAge is how long a paused task stays resumable.
	CheckpointMaxAge time.Duration `mapstructure:"checkpoint_max_age" validate:"gt=0"`
	// HistoryLimit caps the persisted task history.
	HistoryLimit int `mapstructure:"history_limit" validate:"gte=1"`
	// TokenBudget refuses new tasks once spent; zero means unlimited.
	TokenBudget int64 `mapstructure:"token_budget" validate:"gte=0"`
}

// WatchdogConfig bounds how long a task may stay in one active state.
type WatchdogConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// LocksConfig holds resource lock settings.
type LocksConfig struct {
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// QueueConfig holds background job settings.
type QueueConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gte=1"`
}

// SchedulerConfig holds periodic job settings.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	// RulesFile is an optional YAML rule table, reloaded on change.
	RulesFile string `mapstructure:"rules_file"`
}

// IntentConfig holds classifier settings.
type IntentConfig struct {
	// RulesFile optionally replaces the built-in keyword rules.
	RulesFile string `mapstructure:"rules_file"`
}

// ContentConfig locates the content the built-in skills read and write.
type ContentConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate" validate:"gt=0"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (QUILL_*, ANTHROPIC_API_KEY)
// 2. Project config (.quill.yaml in current directory or parent)
// 3. User config (~/.config/quill/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file plus environment overrides.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// QUILL_QUEUE_MAX_CONCURRENT overrides queue.max_concurrent.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", envPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Store.RedisPassword = expandEnv(cfg.Store.RedisPassword)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the struct constraints and returns an error wrapping ErrInvalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))
	for key, value := range cfg.settings() {
		v.Set(key, value)
	}
	return v.WriteConfig()
}

// Settings returns the configuration as flat dotted keys, with the API key masked.
func (c *Config) Settings() map[string]any {
	s := c.settings()
	s["anthropic.api_key"] = MaskAPIKey(c.Anthropic.APIKey)
	s["store.redis_password"] = maskSecret(c.Store.RedisPassword)
	s["store.dsn"] = maskSecret(c.Store.DSN)
	return s
}

func (c *Config) settings() map[string]any {
	return map[string]any{
		"anthropic.api_key":                 c.Anthropic.APIKey,
		"anthropic.model":                   c.Anthropic.Model,
		"anthropic.use_bedrock":             c.Anthropic.UseBedrock,
		"anthropic.aws_region":              c.Anthropic.AWSRegion,
		"anthropic.aws_profile":             c.Anthropic.AWSProfile,
		"anthropic.max_tokens":              c.Anthropic.MaxTokens,
		"anthropic.requests_per_minute":     c.Anthropic.RequestsPerMinute,
		"orchestrator.confidence_threshold": c.Orchestrator.ConfidenceThreshold,
		"orchestrator.checkpoint_max_age":   c.Orchestrator.CheckpointMaxAge.String(),
		"orchestrator.history_limit":        c.Orchestrator.HistoryLimit,
		"orchestrator.token_budget":         c.Orchestrator.TokenBudget,
		"watchdog.timeout":                  c.Watchdog.Timeout.String(),
		"locks.ttl":                         c.Locks.TTL.String(),
		"locks.sweep_interval":              c.Locks.SweepInterval.String(),
		"queue.max_concurrent":              c.Queue.MaxConcurrent,
		"scheduler.enabled":                 c.Scheduler.Enabled,
		"scheduler.poll_interval":           c.Scheduler.PollInterval.String(),
		"scheduler.rules_file":              c.Scheduler.RulesFile,
		"intent.rules_file":                 c.Intent.RulesFile,
		"store.driver":                      c.Store.Driver,
		"store.path":                        c.Store.Path,
		"store.dsn":                         c.Store.DSN,
		"store.redis_addr":                  c.Store.RedisAddr,
		"store.redis_password":              c.Store.RedisPassword,
		"store.redis_db":                    c.Store.RedisDB,
		"retry.max_attempts":                c.Retry.MaxAttempts,
		"retry.base_delay":                  c.Retry.BaseDelay.String(),
		"retry.max_delay":                   c.Retry.MaxDelay.String(),
		"content.dir":                       c.Content.Dir,
		"log.level":                         c.Log.Level,
		"log.format":                        c.Log.Format,
		"tui.refresh_rate":                  c.TUI.RefreshRate.String(),
		"telemetry.enabled":                 c.Telemetry.Enabled,
		"telemetry.endpoint":                c.Telemetry.Endpoint,
		"telemetry.insecure":                c.Telemetry.Insecure,
		"telemetry.sample_rate":             c.Telemetry.SampleRate,
		"telemetry.export_interval":         c.Telemetry.ExportInterval.String(),
	}
}

// Set returns a copy of c with one dotted key changed and revalidated.
func (c *Config) Set(key, value string) (*Config, error) {
	settings := c.settings()
	key = strings.ToLower(key)
	if _, ok := settings[key]; !ok {
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}

	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	v.Set(key, value)

	updated := &Config{}
	if err := v.Unmarshal(updated); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	return updated, nil
}

// Get returns the display value of one dotted key.
func (c *Config) Get(key string) (any, error) {
	value, ok := c.Settings()[strings.ToLower(key)]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
	return value, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, value := range d.settings() {
		v.SetDefault(key, value)
	}
}

// getUserConfigDir returns the XDG config directory for quill.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// findProjectConfig searches for .quill.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Orchestrator: OrchestratorConfig{
			ConfidenceThreshold: 0.6,
			CheckpointMaxAge:    24 * time.Hour,
			HistoryLimit:        200,
		},
		Watchdog: WatchdogConfig{
			Timeout: 5 * time.Minute,
		},
		Locks: LocksConfig{
			TTL:           5 * time.Minute,
			SweepInterval: 60 * time.Second,
		},
		Queue: QueueConfig{
			MaxConcurrent: 2,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: 60 * time.Second,
		},
		Store: store.Config{
			Driver: store.DriverSQLite,
			Path:   store.DefaultPath(),
		},
		Retry: retry.Default(),
		Content: ContentConfig{
			Dir: "content",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
		Telemetry: telemetry.Default(),
	}
}
