package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. TABSYNC_API_URL.
const Prefix = "TABSYNC"

// Config holds all application configuration.
type Config struct {
	APIURL         string        `envconfig:"API_URL" default:"http://localhost:3000/api"`
	Token          string        `envconfig:"TOKEN"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`

	MaxOpenTabs       int           `envconfig:"MAX_OPEN_TABS" default:"5"`
	InactivityTimeout time.Duration `envconfig:"INACTIVITY_TIMEOUT" default:"15m"`
	DragThreshold     float64       `envconfig:"DRAG_THRESHOLD" default:"5"`
	FetchTitles       bool          `envconfig:"FETCH_TITLES" default:"true"`

	Port   int    `envconfig:"PORT" default:"19192"`
	DBPath string `envconfig:"DB"`      // empty = storage.DefaultDBPath()
	LogDir string `envconfig:"LOG_DIR"` // empty = next to the database
}

// Load reads configuration from TABSYNC_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that envconfig cannot.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s_API_URL %q: want an http(s) URL", Prefix, c.APIURL)
	}
	if c.MaxOpenTabs < 1 {
		return fmt.Errorf("invalid %s_MAX_OPEN_TABS %d: must be at least 1", Prefix, c.MaxOpenTabs)
	}
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("invalid %s_INACTIVITY_TIMEOUT %s: must be positive", Prefix, c.InactivityTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid %s_REQUEST_TIMEOUT %s: must be positive", Prefix, c.RequestTimeout)
	}
	if c.DragThreshold < 0 {
		return fmt.Errorf("invalid %s_DRAG_THRESHOLD %g: must not be negative", Prefix, c.DragThreshold)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid %s_PORT %d", Prefix, c.Port)
	}
	return nil
}
