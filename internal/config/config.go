package config

import (
	"time"
)

// Config represents the complete engine configuration
type Config struct {
	SDK     SDKConfig     `yaml:"sdk"`
	Backend BackendConfig `yaml:"backend"`
	Trip    TripConfig    `yaml:"trip"`
	Cache   CacheConfig   `yaml:"cache"`
}

// SDKConfig holds the vendor location SDK settings
type SDKConfig struct {
	PublishableKey  string        `yaml:"publishable_key"`
	BaseURL         string        `yaml:"base_url"`
	FixURL          string        `yaml:"fix_url"`
	DeviceID        string        `yaml:"device_id"`
	Verbosity       string        `yaml:"verbosity"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	MaxCacheAge     time.Duration `yaml:"max_cache_age"`
	Timeout         time.Duration `yaml:"timeout"`
	DesiredAccuracy string        `yaml:"desired_accuracy"`
}

// BackendConfig holds CRM backend sync settings
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	UserID  string `yaml:"user_id"`
}

// TripConfig holds trip engine tunables
type TripConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl"`
}

// CacheConfig holds cache maintenance settings
type CacheConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		SDK: SDKConfig{
			BaseURL: "https://api.radar.io",
			// Zero CacheTTL means every sample resolves a fresh fix; zero
			// MaxCacheAge means no age cap when caching is enabled.
			Verbosity:       "error",
			Timeout:         30 * time.Second,
			DesiredAccuracy: "high",
		},
		Trip: TripConfig{
			SampleInterval: 8 * time.Second,
			AckTimeout:     8 * time.Second,
			RefreshTTL:     30 * time.Second,
		},
		Cache: CacheConfig{
			CleanupInterval: 5 * time.Minute, // Completed journeys leave entries behind
		},
	}
}

// Merge overlays loaded values onto defaults, keeping defaults for any field
// the loaded config leaves zero.
func (c *Config) Merge(defaults *Config) {
	if c.SDK.BaseURL == "" {
		c.SDK.BaseURL = defaults.SDK.BaseURL
	}
	if c.SDK.Verbosity == "" {
		c.SDK.Verbosity = defaults.SDK.Verbosity
	}
	// CacheTTL and MaxCacheAge are not merged: zero is a meaningful
	// setting (no fix reuse, no age cap).
	if c.SDK.Timeout == 0 {
		c.SDK.Timeout = defaults.SDK.Timeout
	}
	if c.SDK.DesiredAccuracy == "" {
		c.SDK.DesiredAccuracy = defaults.SDK.DesiredAccuracy
	}
	if c.Trip.SampleInterval == 0 {
		c.Trip.SampleInterval = defaults.Trip.SampleInterval
	}
	if c.Trip.AckTimeout == 0 {
		c.Trip.AckTimeout = defaults.Trip.AckTimeout
	}
	if c.Trip.RefreshTTL == 0 {
		c.Trip.RefreshTTL = defaults.Trip.RefreshTTL
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = defaults.Cache.CleanupInterval
	}
}
