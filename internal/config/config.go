// File: internal/config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultModalContext is the page context used when a page does not name one.
const DefaultModalContext = "default"

// Interface defines the contract for accessing harness configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Wait() WaitConfig
	Browser() BrowserConfig
	Modal() ModalConfig
	Capture() CaptureConfig

	SetBrowserHeadless(bool)
	SetBrowserDevice(string)
	SetWaitTimeout(time.Duration)
	SetCaptureDir(string)
}

// Config holds the entire harness configuration. The fields are exported so
// viper can decode into them; code outside this package goes through the
// Interface getters.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	WaitCfg    WaitConfig    `mapstructure:"wait" yaml:"wait"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	ModalCfg   ModalConfig   `mapstructure:"modal" yaml:"modal"`
	CaptureCfg CaptureConfig `mapstructure:"capture" yaml:"capture"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Wait() WaitConfig       { return c.WaitCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Modal() ModalConfig     { return c.ModalCfg }
func (c *Config) Capture() CaptureConfig { return c.CaptureCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDevice(name string)   { c.BrowserCfg.Device = name }
func (c *Config) SetWaitTimeout(d time.Duration) { c.WaitCfg.Timeout = d }
func (c *Config) SetCaptureDir(dir string)       { c.CaptureCfg.Dir = dir }

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

// WaitConfig is the default explicit wait applied to element operations.
type WaitConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	// ScrollPixels is the default per-step delta for scrolling.
	ScrollPixels int `mapstructure:"scroll_pixels" yaml:"scroll_pixels"`
}

// DeviceConfig describes an emulated device.
type DeviceConfig struct {
	Width      int64   `mapstructure:"width" yaml:"width"`
	Height     int64   `mapstructure:"height" yaml:"height"`
	PixelRatio float64 `mapstructure:"pixel_ratio" yaml:"pixel_ratio"`
	UserAgent  string  `mapstructure:"user_agent" yaml:"user_agent"`
	Mobile     bool    `mapstructure:"mobile" yaml:"mobile"`
}

// BrowserConfig controls session creation.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// Device names an entry of Devices; empty disables emulation.
	Device  string                  `mapstructure:"device" yaml:"device"`
	Devices map[string]DeviceConfig `mapstructure:"devices" yaml:"devices"`
	Args    []string                `mapstructure:"args" yaml:"args"`
	BaseURL string                  `mapstructure:"base_url" yaml:"base_url"`

	IgnoreTLSErrors bool `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// DeviceProfile returns the selected device, or false when emulation is off.
// Device names match case-insensitively, since viper lowercases map keys.
func (b BrowserConfig) DeviceProfile() (string, DeviceConfig, bool) {
	if b.Device == "" {
		return "", DeviceConfig{}, false
	}
	if d, ok := b.Devices[b.Device]; ok {
		return b.Device, d, true
	}
	for name, d := range b.Devices {
		if strings.EqualFold(name, b.Device) {
			return b.Device, d, true
		}
	}
	return "", DeviceConfig{}, false
}

// ModalRuleConfig is the textual form of a modal rule. Locators use the
// "strategy=value" syntax, e.g. "css=[data-a-target='consent-banner']".
type ModalRuleConfig struct {
	Name      string   `mapstructure:"name" yaml:"name"`
	Locator   string   `mapstructure:"locator" yaml:"locator"`
	Fallbacks []string `mapstructure:"fallbacks" yaml:"fallbacks,omitempty"`
	// Action is "click" (default) or "escape_key".
	Action string `mapstructure:"action" yaml:"action,omitempty"`
	// Dismiss, when set, is clicked instead of Locator.
	Dismiss string `mapstructure:"dismiss" yaml:"dismiss,omitempty"`
}

// ModalConfig holds the overlay dismissal policy.
type ModalConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	ScanTimeout   time.Duration `mapstructure:"scan_timeout" yaml:"scan_timeout"`
	ScanInterval  time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
	// Rules maps a page context to its ordered rules.
	Rules map[string][]ModalRuleConfig `mapstructure:"rules" yaml:"rules"`
}

// RulesFor returns the rules registered for a page context, falling back to
// the default context.
func (m ModalConfig) RulesFor(context string) []ModalRuleConfig {
	if rules, ok := m.Rules[strings.ToLower(context)]; ok {
		return rules
	}
	return m.Rules[DefaultModalContext]
}

// Contexts lists the configured page contexts, sorted.
func (m ModalConfig) Contexts() []string {
	out := make([]string, 0, len(m.Rules))
	for name := range m.Rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CaptureConfig controls failure artifacts.
type CaptureConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Dir may start with ~.
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a configuration populated with the defaults.
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
	v.SetDefault("logger.service_name", "pageharness")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Wait --
	v.SetDefault("wait.timeout", "10s")
	v.SetDefault("wait.poll_interval", "500ms")
	v.SetDefault("wait.page_load_timeout", "30s")
	v.SetDefault("wait.scroll_pixels", 800)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.device", "iPhone 12 Pro")
	v.SetDefault("browser.devices", map[string]any{
		"iPhone 12 Pro": map[string]any{
			"width": 390, "height": 844, "pixel_ratio": 3.0, "mobile": true,
			"user_agent": "Mozilla/5.0 (iPhone; CPU iPhone OS 14_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Mobile/15E148 Safari/604.1",
		},
		"Pixel 5": map[string]any{
			"width": 393, "height": 851, "pixel_ratio": 2.75, "mobile": true,
			"user_agent": "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.91 Mobile Safari/537.36",
		},
		"Custom": map[string]any{
			"width": 375, "height": 812, "pixel_ratio": 3.0, "mobile": true,
			"user_agent": "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
		},
	})
	v.SetDefault("browser.args", []string{
		"--disable-notifications",
		"--disable-popup-blocking",
		"--disable-blink-features=AutomationControlled",
		"--no-sandbox",
		"--disable-dev-shm-usage",
	})
	v.SetDefault("browser.base_url", "")
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Modal --
	v.SetDefault("modal.enabled", true)
	v.SetDefault("modal.scan_timeout", "2s")
	v.SetDefault("modal.scan_interval", "250ms")
	v.SetDefault("modal.verify_timeout", "3s")
	v.SetDefault("modal.rules", map[string]any{})

	// -- Capture --
	v.SetDefault("capture.enabled", true)
	v.SetDefault("capture.dir", "screenshots")
	v.SetDefault("capture.timeout", "10s")
}

// NewConfigFromViper unmarshals and validates a configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
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
	if err := c.WaitCfg.Validate(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	if c.BrowserCfg.Device != "" {
		if _, _, ok := c.BrowserCfg.DeviceProfile(); !ok {
			return fmt.Errorf("browser.device %q is not defined in browser.devices", c.BrowserCfg.Device)
		}
	}
	if err := c.ModalCfg.Validate(); err != nil {
		return fmt.Errorf("modal: %w", err)
	}
	if c.CaptureCfg.Enabled && c.CaptureCfg.Dir == "" {
		return errors.New("capture.dir is required when capture is enabled")
	}
	return nil
}

// Validate checks the wait durations.
func (w WaitConfig) Validate() error {
	if w.Timeout <= 0 {
		return errors.New("timeout must be a positive duration")
	}
	if w.PollInterval <= 0 || w.PollInterval > w.Timeout {
		return fmt.Errorf("poll_interval must be positive and no longer than timeout (%v)", w.Timeout)
	}
	if w.PageLoadTimeout <= 0 {
		return errors.New("page_load_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the modal timings and that every rule names a locator.
// Locator syntax is checked where rules are compiled.
func (m ModalConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.ScanTimeout <= 0 || m.VerifyTimeout <= 0 {
		return errors.New("scan_timeout and verify_timeout must be positive durations")
	}
	if m.ScanInterval <= 0 || m.ScanInterval > m.ScanTimeout {
		return fmt.Errorf("scan_interval must be positive and no longer than scan_timeout (%v)", m.ScanTimeout)
	}
	for ctx, rules := range m.Rules {
		for i, r := range rules {
			if strings.TrimSpace(r.Locator) == "" {
				return fmt.Errorf("rules.%s[%d]: locator is required", ctx, i)
			}
		}
	}
	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
