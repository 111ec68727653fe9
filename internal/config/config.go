// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Gap policies decide what happens to a test that contains Unresolved steps.
const (
	GapPolicyFail = "fail"
	GapPolicySkip = "skip"
)

// EnvPrefix is the prefix for environment variable overrides (TESTPILOT_ENGINE_PARALLELISM, ...).
const EnvPrefix = "TESTPILOT"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	Compiler() CompilerConfig
	Codegen() CodegenConfig
	Artifacts() ArtifactsConfig
	Metrics() MetricsConfig

	SetEngineParallelism(int)
	SetBrowserPoolSize(int)
	SetBrowserHeadless(bool)
	SetCodegenTarget(string)
	SetCodegenOutputDir(string)
	SetCodegenRun(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	CompilerCfg  CompilerConfig  `mapstructure:"compiler" yaml:"compiler"`
	CodegenCfg   CodegenConfig   `mapstructure:"codegen" yaml:"codegen"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Compiler() CompilerConfig   { return c.CompilerCfg }
func (c *Config) Codegen() CodegenConfig     { return c.CodegenCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineParallelism(n int)   { c.EngineCfg.Parallelism = n }
func (c *Config) SetBrowserPoolSize(n int)     { c.BrowserCfg.PoolSize = n }
func (c *Config) SetBrowserHeadless(b bool)    { c.BrowserCfg.Headless = b }
func (c *Config) SetCodegenTarget(t string)    { c.CodegenCfg.Target = t }
func (c *Config) SetCodegenOutputDir(d string) { c.CodegenCfg.OutputDir = d }
func (c *Config) SetCodegenRun(b bool)         { c.CodegenCfg.Run = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL means cases come from files.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the pooled browser instances.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	PoolSize       int           `mapstructure:"pool_size" yaml:"pool_size"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	DisableCache   bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// ContextRate limits how many isolated contexts one instance opens per second.
	ContextRate  float64 `mapstructure:"context_rate" yaml:"context_rate"`
	ContextBurst int     `mapstructure:"context_burst" yaml:"context_burst"`
}

// EngineConfig configures the scheduler and the live interpreter.
type EngineConfig struct {
	Parallelism        int           `mapstructure:"parallelism" yaml:"parallelism"`
	AcquireTimeout     time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	TestTimeout        time.Duration `mapstructure:"test_timeout" yaml:"test_timeout"`
	StepTimeout        time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	StepDelay          time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	PerformanceMetrics bool          `mapstructure:"performance_metrics" yaml:"performance_metrics"`
	ScreenshotOnSteps  bool          `mapstructure:"screenshot_on_steps" yaml:"screenshot_on_steps"`
	GapPolicy          string        `mapstructure:"gap_policy" yaml:"gap_policy"`
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
}

// CompilerConfig tunes the step compiler.
type CompilerConfig struct {
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
}

// CodegenConfig controls source generation for external test frameworks.
type CodegenConfig struct {
	Target        string        `mapstructure:"target" yaml:"target"`
	OutputDir     string        `mapstructure:"output_dir" yaml:"output_dir"`
	Run           bool          `mapstructure:"run" yaml:"run"`
	RunnerTimeout time.Duration `mapstructure:"runner_timeout" yaml:"runner_timeout"`
	Python        string        `mapstructure:"python" yaml:"python"`
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
}

// ArtifactsConfig locates reports and screenshots on disk.
type ArtifactsConfig struct {
	ReportsDir     string `mapstructure:"reports_dir" yaml:"reports_dir"`
	ScreenshotsDir string `mapstructure:"screenshots_dir" yaml:"screenshots_dir"`
}

// MetricsConfig controls the per-batch Prometheus textfile.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// NewDefaultConfig returns a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "testpilot")
	v.SetDefault("logger.log_file", "testpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.pool_size", 3)
	v.SetDefault("browser.args", []string{"--disable-dev-shm-usage"})
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.context_rate", 5.0)
	v.SetDefault("browser.context_burst", 2)

	// -- Engine --
	v.SetDefault("engine.parallelism", 3)
	v.SetDefault("engine.acquire_timeout", "60s")
	v.SetDefault("engine.test_timeout", "5m")
	v.SetDefault("engine.step_timeout", "30s")
	v.SetDefault("engine.step_delay", "500ms")
	v.SetDefault("engine.performance_metrics", true)
	v.SetDefault("engine.screenshot_on_steps", false)
	v.SetDefault("engine.gap_policy", GapPolicyFail)
	v.SetDefault("engine.base_url", "")

	// -- Compiler --
	v.SetDefault("compiler.cache_size", 512)

	// -- Codegen --
	v.SetDefault("codegen.target", "pytest")
	v.SetDefault("codegen.output_dir", "generated_tests")
	v.SetDefault("codegen.run", false)
	v.SetDefault("codegen.runner_timeout", "30m")
	v.SetDefault("codegen.python", "python")
	v.SetDefault("codegen.base_url", "")

	// -- Artifacts --
	v.SetDefault("artifacts.reports_dir", "reports")
	v.SetDefault("artifacts.screenshots_dir", "screenshots")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.textfile", "metrics.prom")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password; let the environment win.
	v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in every filesystem path.
func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.LoggerCfg.LogFile,
		&c.CodegenCfg.OutputDir,
		&c.ArtifactsCfg.ReportsDir,
		&c.ArtifactsCfg.ScreenshotsDir,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.Parallelism <= 0 {
		return fmt.Errorf("engine.parallelism must be a positive integer")
	}
	if c.BrowserCfg.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be a positive integer")
	}
	if c.EngineCfg.AcquireTimeout <= 0 {
		return fmt.Errorf("engine.acquire_timeout must be a positive duration")
	}
	if c.EngineCfg.StepDelay < 0 {
		return fmt.Errorf("engine.step_delay cannot be negative")
	}
	switch c.EngineCfg.GapPolicy {
	case GapPolicyFail, GapPolicySkip:
	default:
		return fmt.Errorf("engine.gap_policy must be %q or %q, got %q", GapPolicyFail, GapPolicySkip, c.EngineCfg.GapPolicy)
	}
	if err := validateBaseURL("engine.base_url", c.EngineCfg.BaseURL); err != nil {
		return err
	}
	if err := validateBaseURL("codegen.base_url", c.CodegenCfg.BaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.CodegenCfg.Target) == "" {
		return fmt.Errorf("codegen.target is required")
	}
	if c.BrowserCfg.ContextRate < 0 || c.BrowserCfg.ContextBurst < 0 {
		return fmt.Errorf("browser.context_rate and browser.context_burst cannot be negative")
	}
	return nil
}

func validateBaseURL(key, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}
