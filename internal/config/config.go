// Package config defines the application configuration, its defaults and
// validation. Values come from a YAML file, MIMIC_* environment variables and
// CLI flags, merged through viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/veylan/mimic/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Identity schemas.Identity `mapstructure:"identity" yaml:"identity"`
	Captcha  CaptchaConfig    `mapstructure:"captcha" yaml:"captcha"`
	Interact InteractConfig   `mapstructure:"interact" yaml:"interact"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the browser connection and its artifacts.
// Either ExecPath (launch a local binary) or Endpoint (attach to a running
// DevTools websocket) may be set; Endpoint wins when both are.
type BrowserConfig struct {
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ScreenshotFormat  string        `mapstructure:"screenshot_format" yaml:"screenshot_format"`
	ScreenshotQuality int           `mapstructure:"screenshot_quality" yaml:"screenshot_quality"`
	ArtifactsDir      string        `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`
}

// CaptchaConfig holds the settings for the external solving service.
type CaptchaConfig struct {
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SolveTimeout   time.Duration `mapstructure:"solve_timeout" yaml:"solve_timeout"`
}

// InteractConfig tunes the interaction engine's wait and scroll behavior.
type InteractConfig struct {
	WaitTimeout      time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	WaitPollInterval time.Duration `mapstructure:"wait_poll_interval" yaml:"wait_poll_interval"`
	ScrollMinKeys    int           `mapstructure:"scroll_min_keys" yaml:"scroll_min_keys"`
	ScrollMaxKeys    int           `mapstructure:"scroll_max_keys" yaml:"scroll_max_keys"`
	ScrollMaxRounds  int           `mapstructure:"scroll_max_rounds" yaml:"scroll_max_rounds"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mimic")
	v.SetDefault("logger.log_file", "mimic.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.screenshot_format", "png")
	v.SetDefault("browser.screenshot_quality", 90)
	v.SetDefault("browser.artifacts_dir", "artifacts")

	// -- Identity --
	v.SetDefault("identity.user_agent", schemas.DefaultIdentity.UserAgent)
	v.SetDefault("identity.viewport.width", schemas.DefaultIdentity.Viewport.Width)
	v.SetDefault("identity.viewport.height", schemas.DefaultIdentity.Viewport.Height)
	v.SetDefault("identity.typing_delay_mean", schemas.DefaultIdentity.TypingDelayMean)
	v.SetDefault("identity.typing_delay_spread", schemas.DefaultIdentity.TypingDelaySpread)
	v.SetDefault("identity.click_jitter_radius", schemas.DefaultIdentity.ClickJitterRadius)
	v.SetDefault("identity.rng_seed", 0)

	// -- Captcha --
	v.SetDefault("captcha.endpoint", "https://api.anti-captcha.com")
	v.SetDefault("captcha.request_timeout", "30s")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("captcha.solve_timeout", "3m")

	// -- Interact --
	v.SetDefault("interact.wait_timeout", "10s")
	v.SetDefault("interact.wait_poll_interval", "250ms")
	v.SetDefault("interact.scroll_min_keys", 11)
	v.SetDefault("interact.scroll_max_keys", 15)
	v.SetDefault("interact.scroll_max_rounds", 10)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("captcha.api_key", "MIMIC_CAPTCHA_API_KEY")

	var cfg Config
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
	if c.Identity.Viewport.Width <= 0 || c.Identity.Viewport.Height <= 0 {
		return fmt.Errorf("identity.viewport dimensions must be positive")
	}
	if c.Identity.TypingDelayMean < 0 || c.Identity.TypingDelaySpread < 0 {
		return fmt.Errorf("identity typing delays must not be negative")
	}
	if c.Identity.ClickJitterRadius < 0 {
		return fmt.Errorf("identity.click_jitter_radius must not be negative")
	}
	switch c.Browser.ScreenshotFormat {
	case "png", "jpeg":
	default:
		return fmt.Errorf("browser.screenshot_format must be png or jpeg, got %q", c.Browser.ScreenshotFormat)
	}
	if c.Browser.ScreenshotQuality < 0 || c.Browser.ScreenshotQuality > 100 {
		return fmt.Errorf("browser.screenshot_quality must be between 0 and 100")
	}
	if c.Interact.ScrollMinKeys <= 0 || c.Interact.ScrollMaxKeys < c.Interact.ScrollMinKeys {
		return fmt.Errorf("interact scroll key range [%d, %d] is not sane",
			c.Interact.ScrollMinKeys, c.Interact.ScrollMaxKeys)
	}
	if c.Interact.ScrollMaxRounds <= 0 {
		return fmt.Errorf("interact.scroll_max_rounds must be a positive integer")
	}
	return nil
}
