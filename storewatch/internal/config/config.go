// Package config loads storewatch configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

// Config is the top-level storewatch configuration.
type Config struct {
	URL      string        `yaml:"url" validate:"required,url"`
	Storages []string      `yaml:"storages" validate:"min=1,dive,storagetype"`
	Monitor  MonitorConfig `yaml:"monitor"`
	Browser  BrowserConfig `yaml:"browser"`
	Store    StoreConfig   `yaml:"store"`
	HTTP     HTTPConfig    `yaml:"http"`
	Sinks    []SinkConfig  `yaml:"sinks" validate:"dive"`
}

// MonitorConfig tunes every monitor.
type MonitorConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" validate:"min=10ms"`
	DurationInterval time.Duration `yaml:"duration_interval" validate:"min=10ms"`
	HighlightWindow  time.Duration `yaml:"highlight_window" validate:"min=0"`
	LogCap           int           `yaml:"log_cap" validate:"min=1"`
	PersistCap       int           `yaml:"persist_cap" validate:"min=0,ltefield=LogCap"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headful          bool          `yaml:"headful"`
	Stealth          *bool         `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking" validate:"dive,oneof=image font media stylesheet"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// StealthEnabled reports the effective stealth setting. Default: on.
func (b BrowserConfig) StealthEnabled() bool {
	return b.Stealth == nil || *b.Stealth
}

// StoreConfig selects the blob persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite badger"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`
}

// HTTPConfig controls the API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type" validate:"oneof=stdout webhook"`
	URL  string `yaml:"url" validate:"required_if=Type webhook,omitempty,url"`
	// Retries is how often a failed webhook POST is retried. Absent means
	// DefaultRetries; 0 disables retrying.
	Retries *int          `yaml:"retries" validate:"omitempty,min=0"`
	Backoff time.Duration `yaml:"backoff"`
}

// DefaultRetries applies to webhook sinks without a retries key.
const DefaultRetries = 3

// RetryCount returns the effective retry count.
func (s SinkConfig) RetryCount() int {
	if s.Retries == nil {
		return DefaultRetries
	}
	return *s.Retries
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("storagetype", func(fl validator.FieldLevel) bool {
		_, err := change.ParseStorageType(fl.Field().String())
		return err == nil
	})
	return v
}

// LoadFile reads, defaults and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration watching localStorage of url with every
// default applied.
func Default(url string) *Config {
	cfg := &Config{URL: url}
	cfg.applyDefaults()
	return cfg
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validate: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// StorageTypes returns the configured storage areas in canonical form.
// Call after Validate.
func (c *Config) StorageTypes() []change.StorageType {
	out := make([]change.StorageType, 0, len(c.Storages))
	seen := make(map[change.StorageType]bool)
	for _, s := range c.Storages {
		st, err := change.ParseStorageType(s)
		if err != nil || seen[st] {
			continue
		}
		seen[st] = true
		out = append(out, st)
	}
	return out
}

func (c *Config) applyDefaults() {
	if len(c.Storages) == 0 {
		c.Storages = []string{string(change.Local)}
	}
	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 500 * time.Millisecond
	}
	if c.Monitor.DurationInterval <= 0 {
		c.Monitor.DurationInterval = time.Second
	}
	if c.Monitor.HighlightWindow <= 0 {
		c.Monitor.HighlightWindow = 3 * time.Second
	}
	if c.Monitor.LogCap <= 0 {
		c.Monitor.LogCap = 1000
	}
	if c.Monitor.PersistCap <= 0 {
		c.Monitor.PersistCap = 100
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"image", "font", "media"}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries == nil {
			n := DefaultRetries
			c.Sinks[i].Retries = &n
		}
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Backoff <= 0 {
			c.Sinks[i].Backoff = time.Second
		}
	}
}
