// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g. SCRAPERFLOW_DATABASE_URL.
const EnvPrefix = "SCRAPERFLOW"

// Interface defines the contract for accessing application configuration.
// Components depend on it rather than on *Config so tests can inject values.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Captcha() CaptchaConfig
	Execution() ExecutionConfig

	SetBrowserHeadless(bool)
	SetBrowserHumanoidEnabled(bool)
	SetNetworkNavigationTimeout(d time.Duration)
	SetExecutionLeavePagesOpen(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	NetworkCfg   NetworkConfig   `mapstructure:"network" yaml:"network"`
	CaptchaCfg   CaptchaConfig   `mapstructure:"captcha" yaml:"captcha"`
	ExecutionCfg ExecutionConfig `mapstructure:"execution" yaml:"execution"`
}

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig     { return c.NetworkCfg }
func (c *Config) Captcha() CaptchaConfig     { return c.CaptchaCfg }
func (c *Config) Execution() ExecutionConfig { return c.ExecutionCfg }

func (c *Config) SetBrowserHeadless(b bool)         { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserHumanoidEnabled(b bool)  { c.BrowserCfg.Humanoid.Enabled = b }
func (c *Config) SetExecutionLeavePagesOpen(b bool) { c.ExecutionCfg.LeavePagesOpen = b }
func (c *Config) SetNetworkNavigationTimeout(d time.Duration) {
	c.NetworkCfg.NavigationTimeout = d
}

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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the connection details of the store backing data sources.
type DatabaseConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// ViewportConfig is the fixed window size applied to every page.
type ViewportConfig struct {
	Width  int64 `mapstructure:"width" yaml:"width"`
	Height int64 `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the browser instance owned by one execution.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	Locale          string         `mapstructure:"locale" yaml:"locale"`
	Timezone        string         `mapstructure:"timezone" yaml:"timezone"`
	// RemoteDebuggingPort exposes the DevTools endpoint, which becomes the
	// portal URL of each page. Zero disables it.
	RemoteDebuggingPort int            `mapstructure:"remote_debugging_port" yaml:"remote_debugging_port"`
	Humanoid            HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// ProxyConfig defines the upstream proxy pages are routed through.
type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Upstream string `mapstructure:"upstream" yaml:"upstream"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

// NetworkConfig holds timeouts of browser-driven network waits.
type NetworkConfig struct {
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	Proxy              ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
}

// CaptchaConfig configures the challenge auto-solver.
type CaptchaConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	SettleTimeout time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	MinJitter     time.Duration `mapstructure:"min_jitter" yaml:"min_jitter"`
	MaxJitter     time.Duration `mapstructure:"max_jitter" yaml:"max_jitter"`
}

// ExecutionConfig configures the instruction interpreter.
type ExecutionConfig struct {
	MaxJumps       int     `mapstructure:"max_jumps" yaml:"max_jumps"`
	ActionRate     float64 `mapstructure:"action_rate" yaml:"action_rate"`
	ActionBurst    int     `mapstructure:"action_burst" yaml:"action_burst"`
	LeavePagesOpen bool    `mapstructure:"leave_pages_open" yaml:"leave_pages_open"`
	SubscriberBuf  int     `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
	// AllowedCommands whitelists the binaries an executeCommand system action may run.
	AllowedCommands []string `mapstructure:"allowed_commands" yaml:"allowed_commands"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scraperflow")
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
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 4)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "America/New_York")
	v.SetDefault("browser.remote_debugging_port", 0)
	setHumanoidDefaults(v)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.network_idle_timeout", "20s")
	v.SetDefault("network.action_timeout", "20s")
	v.SetDefault("network.proxy.enabled", false)

	// -- Captcha --
	v.SetDefault("captcha.enabled", true)
	v.SetDefault("captcha.max_attempts", 5)
	v.SetDefault("captcha.settle_timeout", "30s")
	v.SetDefault("captcha.min_jitter", "1s")
	v.SetDefault("captcha.max_jitter", "2s")

	// -- Execution --
	v.SetDefault("execution.max_jumps", 10000)
	v.SetDefault("execution.action_rate", 0)
	v.SetDefault("execution.action_burst", 1)
	v.SetDefault("execution.leave_pages_open", false)
	v.SetDefault("execution.subscriber_buffer", 16)
	v.SetDefault("execution.allowed_commands", []string{})
}

// NewViper returns a viper instance wired with defaults and environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only read from the environment.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")
	_ = v.BindEnv("network.proxy.password", EnvPrefix+"_PROXY_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.Viewport.Width <= 0 || c.BrowserCfg.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport must have a positive width and height")
	}
	if c.NetworkCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if err := c.NetworkCfg.Proxy.Validate(); err != nil {
		return fmt.Errorf("network.proxy configuration invalid: %w", err)
	}
	if err := c.CaptchaCfg.Validate(); err != nil {
		return fmt.Errorf("captcha configuration invalid: %w", err)
	}
	if c.ExecutionCfg.MaxJumps <= 0 {
		return fmt.Errorf("execution.max_jumps must be a positive integer")
	}
	if c.ExecutionCfg.ActionRate < 0 {
		return fmt.Errorf("execution.action_rate must not be negative")
	}
	return nil
}

// Validate checks the proxy settings.
func (p *ProxyConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Upstream == "" {
		return fmt.Errorf("upstream is required when the proxy is enabled")
	}
	if p.Password != "" && p.Username == "" {
		return fmt.Errorf("a proxy password requires a username")
	}
	return nil
}

// Validate checks the captcha settings.
func (c *CaptchaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if c.MinJitter < 0 || c.MaxJitter < c.MinJitter {
		return fmt.Errorf("jitter bounds must satisfy 0 <= min_jitter <= max_jitter")
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("settle_timeout must be a positive duration")
	}
	return nil
}
