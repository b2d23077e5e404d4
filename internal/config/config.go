package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/browser"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DREAMUP_TIMEOUTS_LOAD
const EnvPrefix = "DREAMUP"

// Config holds application configuration
type Config struct {
	Browser   BrowserConfig     `mapstructure:"browser"`
	Timeouts  TimeoutsConfig    `mapstructure:"timeouts"`
	Engine    EngineConfig      `mapstructure:"engine"`
	Evidence  EvidenceConfig    `mapstructure:"evidence"`
	Logger    LoggerConfig      `mapstructure:"logger"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Evaluator EvaluatorConfig   `mapstructure:"evaluator"`
	KeyMap    map[string]string `mapstructure:"key_map"`
	Actions   []ActionSpec      `mapstructure:"actions"`
}

// BrowserConfig configures the Chrome session
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
	BlockAds       bool   `mapstructure:"block_ads"`
	ExecPath       string `mapstructure:"exec_path"`
}

// TimeoutsConfig holds the run budgets
type TimeoutsConfig struct {
	Load        time.Duration `mapstructure:"load"`
	PerAction   time.Duration `mapstructure:"per_action"`
	TotalScript time.Duration `mapstructure:"total_script"`
}

// EngineConfig tunes state resolution
type EngineConfig struct {
	MaxResolveDepth int           `mapstructure:"max_resolve_depth"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	ClassifyTimeout time.Duration `mapstructure:"classify_timeout"`
	LevelCadence    int           `mapstructure:"level_cadence"`
	LevelAdvanceCap int           `mapstructure:"level_advance_cap"`
	FirstKeyDelay   time.Duration `mapstructure:"first_key_delay"`
	RepeatKeyDelay  time.Duration `mapstructure:"repeat_key_delay"`
}

// EvidenceConfig says where screenshots and reports go
type EvidenceConfig struct {
	Dir      string `mapstructure:"dir"`
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Region string `mapstructure:"s3_region"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug"`
	Info   string `mapstructure:"info"`
	Warn   string `mapstructure:"warn"`
	Error  string `mapstructure:"error"`
	DPanic string `mapstructure:"dpanic"`
	Panic  string `mapstructure:"panic"`
	Fatal  string `mapstructure:"fatal"`
}

// DatabaseConfig points at the run history database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EvaluatorConfig controls optional LLM scoring
type EvaluatorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

// ActionSpec is one scripted action as written in YAML. Coordinates are
// normalized 0..1; durations are strings such as "500ms".
type ActionSpec struct {
	Type        string        `mapstructure:"type"`
	Selector    string        `mapstructure:"selector"`
	X           *float64      `mapstructure:"x"`
	Y           *float64      `mapstructure:"y"`
	Key         string        `mapstructure:"key"`
	Repeat      int           `mapstructure:"repeat"`
	Duration    time.Duration `mapstructure:"duration"`
	Label       string        `mapstructure:"label"`
	Description string        `mapstructure:"description"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.block_ads", true)
	v.SetDefault("browser.exec_path", "")

	// -- Timeouts --
	v.SetDefault("timeouts.load", "45s")
	v.SetDefault("timeouts.per_action", "30s")
	v.SetDefault("timeouts.total_script", "240s")

	// -- Engine --
	v.SetDefault("engine.max_resolve_depth", 3)
	v.SetDefault("engine.settle_delay", "1s")
	v.SetDefault("engine.classify_timeout", "5s")
	v.SetDefault("engine.level_cadence", 4)
	v.SetDefault("engine.level_advance_cap", 2)
	v.SetDefault("engine.first_key_delay", "400ms")
	v.SetDefault("engine.repeat_key_delay", "300ms")

	// -- Evidence --
	v.SetDefault("evidence.dir", "./qa-results")
	v.SetDefault("evidence.s3_bucket", "")
	v.SetDefault("evidence.s3_region", "us-east-1")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "playtest")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Database --
	v.SetDefault("database.path", "./qa-results/history.db")

	// -- Evaluator --
	v.SetDefault("evaluator.enabled", false)
	v.SetDefault("evaluator.model", "gpt-4o")
}

// NewDefaultConfig returns the configuration with nothing but defaults
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// defaults are static; failing here is a programming error
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Load reads configuration from path, or from config.yaml in . or
// $HOME/.dreamup when path is empty, layered over defaults and DREAMUP_*
// environment variables. A missing default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dreamup")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper decodes and validates v
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	v.BindEnv("evaluator.api_key", "OPENAI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if err := c.TimeoutPolicy().Validate(); err != nil {
		return fmt.Errorf("timeouts: %w", err)
	}
	if c.Engine.MaxResolveDepth < 1 {
		return fmt.Errorf("engine.max_resolve_depth must be a positive integer")
	}
	if c.Engine.LevelCadence < 1 {
		return fmt.Errorf("engine.level_cadence must be a positive integer")
	}
	if c.Engine.LevelAdvanceCap < 1 {
		return fmt.Errorf("engine.level_advance_cap must be a positive integer")
	}
	if c.Engine.ClassifyTimeout <= 0 {
		return fmt.Errorf("engine.classify_timeout must be positive")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if _, err := c.Script(); err != nil {
		return err
	}
	return nil
}

// TimeoutPolicy converts the timeouts section
func (c *Config) TimeoutPolicy() agent.TimeoutPolicy {
	return agent.TimeoutPolicy{
		Load:        c.Timeouts.Load,
		PerAction:   c.Timeouts.PerAction,
		TotalScript: c.Timeouts.TotalScript,
	}
}

// EngineOptions converts the engine section and key map
func (c *Config) EngineOptions() agent.Options {
	settle := c.Engine.SettleDelay
	if settle == 0 {
		// zero in a config file means "no settling", not "use the default"
		settle = -1
	}
	return agent.Options{
		SettleDelay:     settle,
		ClassifyTimeout: c.Engine.ClassifyTimeout,
		MaxResolveDepth: c.Engine.MaxResolveDepth,
		LevelCadence:    c.Engine.LevelCadence,
		LevelAdvanceCap: c.Engine.LevelAdvanceCap,
		FirstKeyDelay:   c.Engine.FirstKeyDelay,
		RepeatKeyDelay:  c.Engine.RepeatKeyDelay,
		KeyMap:          c.KeyMap,
	}
}

// BrowserOptions converts the browser section
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:       c.Browser.Headless,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
		BlockAdHosts:   c.Browser.BlockAds,
		ExecPath:       c.Browser.ExecPath,
	}
}

// Script converts the configured actions, or returns the standard script
// when none are configured.
func (c *Config) Script() ([]agent.Action, error) {
	if len(c.Actions) == 0 {
		return agent.NewStandardGameScript(), nil
	}
	return ConvertActions(c.Actions)
}

// ConvertActions turns specs into validated actions
func ConvertActions(specs []ActionSpec) ([]agent.Action, error) {
	actions := make([]agent.Action, 0, len(specs))
	for i, spec := range specs {
		a, err := spec.Action()
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Action converts and validates one script entry
func (s ActionSpec) Action() (agent.Action, error) {
	a := agent.Action{
		Type:        agent.ActionType(strings.ToLower(strings.TrimSpace(s.Type))),
		Selector:    s.Selector,
		Key:         s.Key,
		Repeat:      s.Repeat,
		Duration:    s.Duration,
		Label:       s.Label,
		Description: s.Description,
	}
	switch {
	case s.X != nil && s.Y != nil:
		a.Point = &agent.Point{X: *s.X, Y: *s.Y}
	case s.X != nil || s.Y != nil:
		return agent.Action{}, fmt.Errorf("%w: click coordinates need both x and y", agent.ErrInvalidAction)
	}
	if err := a.Validate(); err != nil {
		return agent.Action{}, err
	}
	return a, nil
}

// LoadScript reads a standalone YAML or JSON file holding an "actions" list
func LoadScript(path string) ([]agent.Action, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	var file struct {
		Actions []ActionSpec `mapstructure:"actions"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to decode script %s: %w", path, err)
	}
	if len(file.Actions) == 0 {
		return nil, fmt.Errorf("script %s has no actions", path)
	}
	return ConvertActions(file.Actions)
}
