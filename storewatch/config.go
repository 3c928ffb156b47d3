package storewatch

import (
	"github.com/hazyhaar/storewatch/storewatch/internal/config"
)

// Config is the top-level storewatch configuration. Re-exported from internal.
type Config = config.Config

// MonitorConfig tunes every monitor.
type MonitorConfig = config.MonitorConfig

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a validated-ready configuration watching the
// localStorage of url.
func DefaultConfig(url string) *Config {
	return config.Default(url)
}
