package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abelbrown/jtfnews/internal/model"
)

// Config is the startup configuration. It is read once and never mutated by
// the pipeline at runtime.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	// KillSwitch is a file whose presence stops the daemon between cycles.
	KillSwitch string `yaml:"kill_switch"`

	Verify   VerifyConfig   `yaml:"verify"`
	Match    MatchConfig    `yaml:"match"`
	Timing   TimingConfig   `yaml:"timing"`
	Retry    RetryConfig    `yaml:"retry"`
	Extract  ExtractConfig  `yaml:"extract"`
	Alerts   AlertConfig    `yaml:"alerts"`
	Telegram TelegramConfig `yaml:"telegram"`
	HTTP     HTTPConfig     `yaml:"http"`

	Sources []model.Source `yaml:"sources"`
}

// VerifyConfig holds the corroboration thresholds.
type VerifyConfig struct {
	MinConfidence      int           `yaml:"min_confidence"`
	MinSources         int           `yaml:"min_sources"` // fixed at 2
	QueueTimeout       time.Duration `yaml:"queue_timeout"`
	DuplicateWindow    time.Duration `yaml:"duplicate_window"`
	ColdStartThreshold int           `yaml:"cold_start_threshold"`

	// Percent of shares above which a common holder makes two sources related.
	OwnershipHolderPercentThreshold float64 `yaml:"ownership_holder_percent_threshold"`

	QueueBackupThreshold int `yaml:"queue_backup_threshold"`
}

// MatchConfig tunes the weighted-overlap matcher.
type MatchConfig struct {
	MinShared  int                `yaml:"min_shared"`
	MinScore   float64            `yaml:"min_score"`
	Weights    map[string]float64 `yaml:"weights"` // keyed by entity kind: loc, num, name, noun
	Aliases    map[string]string  `yaml:"aliases"`
	AliasesVer string             `yaml:"aliases_version"`
}

// TimingConfig controls the cycle cadence and boundary call limits.
type TimingConfig struct {
	CycleInterval  time.Duration `yaml:"cycle_interval"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// RetryConfig configures the backoff wrapper around external calls.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// ExtractConfig selects the fact extraction provider.
type ExtractConfig struct {
	Provider      string  `yaml:"provider"` // "openai" or "claude"
	Model         string  `yaml:"model"`
	OpenAIKey     string  `yaml:"openai_api_key,omitempty"`
	AnthropicKey  string  `yaml:"anthropic_api_key,omitempty"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	DailyBudget   float64 `yaml:"daily_budget"`    // USD
	InputPerMTok  float64 `yaml:"input_per_mtok"`  // USD per million input tokens
	OutputPerMTok float64 `yaml:"output_per_mtok"` // USD per million output tokens
}

// AlertConfig holds operator alert behaviour.
type AlertConfig struct {
	// Cooldowns overrides the default per-type window, keyed by alert name.
	Cooldowns map[string]time.Duration `yaml:"cooldowns"`

	// FailureThreshold is the consecutive-failure count that raises api_failure.
	FailureThreshold int `yaml:"failure_threshold"`

	MaxPerMinute int `yaml:"max_per_minute"`
}

// TelegramConfig holds bot credentials for alerts and channel posts.
type TelegramConfig struct {
	BotToken    string `yaml:"bot_token,omitempty"`
	AlertChatID int64  `yaml:"alert_chat_id"`
	ChannelID   int64  `yaml:"channel_id"`
}

// HTTPConfig is the daemon's status listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "data",
		LogLevel:   "info",
		KillSwitch: "/tmp/jtf-stop",
		Verify: VerifyConfig{
			MinConfidence:                   85,
			MinSources:                      2,
			QueueTimeout:                    24 * time.Hour,
			DuplicateWindow:                 24 * time.Hour,
			ColdStartThreshold:              10,
			OwnershipHolderPercentThreshold: 5.0,
			QueueBackupThreshold:            100,
		},
		Match: MatchConfig{
			MinShared: 2,
			MinScore:  2.5,
			Weights: map[string]float64{
				"loc":  1.5,
				"num":  1.5,
				"name": 1.25,
				"noun": 1.0,
			},
		},
		Timing: TimingConfig{
			CycleInterval:  5 * time.Minute,
			FetchTimeout:   30 * time.Second,
			MaxConcurrency: 5,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseDelay:   time.Second,
			CallTimeout: 60 * time.Second,
		},
		Extract: ExtractConfig{
			Provider:      "claude",
			Model:         "claude-sonnet-4-5-20250929",
			RatePerSecond: 2,
			Burst:         2,
			DailyBudget:   5.0,
			InputPerMTok:  3.0,
			OutputPerMTok: 15.0,
		},
		Alerts: AlertConfig{
			FailureThreshold: 3,
			MaxPerMinute:     10,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8089",
		},
	}
}

// Load reads config from path over the defaults. A missing file yields the
// defaults. Environment variables are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.AutoPopulateFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for API keys
}

// AutoPopulateFromEnv fills in credentials and paths from environment variables
func (c *Config) AutoPopulateFromEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Extract.OpenAIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Extract.AnthropicKey = key
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		c.Telegram.BotToken = tok
	}
	if id, err := strconv.ParseInt(os.Getenv("TELEGRAM_ALERT_CHAT_ID"), 10, 64); err == nil {
		c.Telegram.AlertChatID = id
	}
	if id, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHANNEL_ID"), 10, 64); err == nil {
		c.Telegram.ChannelID = id
	}
	if dir := os.Getenv("JTF_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
}

// Validate checks values the pipeline relies on.
func (c *Config) Validate() error {
	var errs []error
	v := c.Verify
	if v.MinSources != 2 {
		errs = append(errs, fmt.Errorf("verify.min_sources must be 2, got %d", v.MinSources))
	}
	if v.MinConfidence < 0 || v.MinConfidence > 100 {
		errs = append(errs, fmt.Errorf("verify.min_confidence %d out of range 0-100", v.MinConfidence))
	}
	if v.QueueTimeout <= 0 {
		errs = append(errs, errors.New("verify.queue_timeout must be positive"))
	}
	if v.DuplicateWindow < 0 {
		errs = append(errs, errors.New("verify.duplicate_window must not be negative"))
	}
	if v.ColdStartThreshold <= 0 {
		errs = append(errs, errors.New("verify.cold_start_threshold must be positive"))
	}
	if c.Match.MinShared < 1 {
		errs = append(errs, errors.New("match.min_shared must be at least 1"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Retry.CallTimeout <= 0 {
		errs = append(errs, errors.New("retry.call_timeout must be positive"))
	}
	if c.Timing.CycleInterval <= 0 {
		errs = append(errs, errors.New("timing.cycle_interval must be positive"))
	}
	if c.Timing.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("timing.max_concurrency must be at least 1"))
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		switch {
		case s.ID == "":
			errs = append(errs, errors.New("source with empty id"))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("duplicate source id %q", s.ID))
		case s.BaselineRating < 0 || s.BaselineRating > 10:
			errs = append(errs, fmt.Errorf("source %q: baseline_rating %.1f out of range 0-10", s.ID, s.BaselineRating))
		}
		seen[s.ID] = true
	}
	return errors.Join(errs...)
}

// Path joins name onto the data directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}

// SourceByID returns the configured source, if any.
func (c *Config) SourceByID(id string) (model.Source, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return model.Source{}, false
}
