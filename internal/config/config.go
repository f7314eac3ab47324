package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete auth core configuration
type Config struct {
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	PromptGuard PromptGuardConfig `yaml:"prompt_guard"`
	Relock      RelockConfig      `yaml:"relock"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// RateLimitConfig controls passcode failed-attempt lockout policy.
type RateLimitConfig struct {
	MaxAttempts     int    `yaml:"max_attempts"`
	LockoutDuration string `yaml:"lockout_duration"`
	ResetWindow     string `yaml:"reset_window"`

	LockoutDurationParsed time.Duration `yaml:"-"`
	ResetWindowParsed     time.Duration `yaml:"-"`
}

// PromptGuardConfig controls credential-prompt coordination cooldowns.
type PromptGuardConfig struct {
	AutoSuppressCooldown  string `yaml:"auto_suppress_cooldown"`
	RecentSuccessCooldown string `yaml:"recent_success_cooldown"`
	PostSuccessSuppress   string `yaml:"post_success_suppress"`

	AutoSuppressCooldownParsed  time.Duration `yaml:"-"`
	RecentSuccessCooldownParsed time.Duration `yaml:"-"`
	PostSuccessSuppressParsed   time.Duration `yaml:"-"`
}

// RelockConfig controls the biometric re-lock policy applied when the
// app returns to the foreground.
type RelockConfig struct {
	MinBackgroundDuration string `yaml:"min_background_duration"`
	PromptCooldown        string `yaml:"prompt_cooldown"`
	FailureCooldown       string `yaml:"failure_cooldown"`
	GracePeriod           string `yaml:"grace_period"`

	MinBackgroundDurationParsed time.Duration `yaml:"-"`
	PromptCooldownParsed        time.Duration `yaml:"-"`
	FailureCooldownParsed       time.Duration `yaml:"-"`
	GracePeriodParsed           time.Duration `yaml:"-"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file, encrypted, or sqlite
	Path    string `yaml:"path,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Policy defaults applied when the corresponding field is unset.
const (
	DefaultMaxAttempts           = 3
	DefaultLockoutDuration       = 5 * time.Minute
	DefaultResetWindow           = 15 * time.Minute
	DefaultAutoSuppressCooldown  = 45 * time.Second
	DefaultRecentSuccessCooldown = 12 * time.Second
	DefaultPostSuccessSuppress   = 60 * time.Second
	DefaultMinBackgroundDuration = 30 * time.Second
	DefaultPromptCooldown        = 10 * time.Second
	DefaultFailureCooldown       = 30 * time.Second
	DefaultGracePeriod           = 15 * time.Second
)

// Default returns a config populated entirely with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	expandedPath := ExpandPath(path)

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if cfg.Storage.Path != "" {
		cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	}

	return &cfg, nil
}

// parseDurations converts duration strings to time.Duration fields
func (c *Config) parseDurations() error {
	parse := func(name, value string, out *time.Duration) error {
		if value == "" {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*out = d
		return nil
	}

	if err := parse("lockout_duration", c.RateLimit.LockoutDuration, &c.RateLimit.LockoutDurationParsed); err != nil {
		return err
	}
	if err := parse("reset_window", c.RateLimit.ResetWindow, &c.RateLimit.ResetWindowParsed); err != nil {
		return err
	}
	if err := parse("auto_suppress_cooldown", c.PromptGuard.AutoSuppressCooldown, &c.PromptGuard.AutoSuppressCooldownParsed); err != nil {
		return err
	}
	if err := parse("recent_success_cooldown", c.PromptGuard.RecentSuccessCooldown, &c.PromptGuard.RecentSuccessCooldownParsed); err != nil {
		return err
	}
	if err := parse("post_success_suppress", c.PromptGuard.PostSuccessSuppress, &c.PromptGuard.PostSuccessSuppressParsed); err != nil {
		return err
	}
	if err := parse("min_background_duration", c.Relock.MinBackgroundDuration, &c.Relock.MinBackgroundDurationParsed); err != nil {
		return err
	}
	if err := parse("prompt_cooldown", c.Relock.PromptCooldown, &c.Relock.PromptCooldownParsed); err != nil {
		return err
	}
	if err := parse("failure_cooldown", c.Relock.FailureCooldown, &c.Relock.FailureCooldownParsed); err != nil {
		return err
	}
	if err := parse("grace_period", c.Relock.GracePeriod, &c.Relock.GracePeriodParsed); err != nil {
		return err
	}

	return nil
}

// applyDefaults fills zero-valued policy fields
func (c *Config) applyDefaults() {
	if c.RateLimit.MaxAttempts == 0 {
		c.RateLimit.MaxAttempts = DefaultMaxAttempts
	}
	if c.RateLimit.LockoutDurationParsed == 0 {
		c.RateLimit.LockoutDurationParsed = DefaultLockoutDuration
	}
	if c.RateLimit.ResetWindowParsed == 0 {
		c.RateLimit.ResetWindowParsed = DefaultResetWindow
	}
	if c.PromptGuard.AutoSuppressCooldownParsed == 0 {
		c.PromptGuard.AutoSuppressCooldownParsed = DefaultAutoSuppressCooldown
	}
	if c.PromptGuard.RecentSuccessCooldownParsed == 0 {
		c.PromptGuard.RecentSuccessCooldownParsed = DefaultRecentSuccessCooldown
	}
	if c.PromptGuard.PostSuccessSuppressParsed == 0 {
		c.PromptGuard.PostSuccessSuppressParsed = DefaultPostSuccessSuppress
	}
	if c.Relock.MinBackgroundDurationParsed == 0 {
		c.Relock.MinBackgroundDurationParsed = DefaultMinBackgroundDuration
	}
	if c.Relock.PromptCooldownParsed == 0 {
		c.Relock.PromptCooldownParsed = DefaultPromptCooldown
	}
	if c.Relock.FailureCooldownParsed == 0 {
		c.Relock.FailureCooldownParsed = DefaultFailureCooldown
	}
	if c.Relock.GracePeriodParsed == 0 {
		c.Relock.GracePeriodParsed = DefaultGracePeriod
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// ExpandPath expands ~ to home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RateLimit.MaxAttempts < 1 {
		return fmt.Errorf("rate_limit.max_attempts must be at least 1")
	}

	switch c.Storage.Backend {
	case "memory":
	case "file", "encrypted", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for backend %s", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}

	return nil
}
