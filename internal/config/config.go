// Package config holds the engine configuration. Values are read from
// KQ_-prefixed environment variables with hardcoded fallback defaults, so a
// bare binary still points at the production backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultBaseURL is the backend used when no configuration is supplied.
const DefaultBaseURL = "http://bkkq.xjtu.edu.cn/attendance-student-pc"

// Config is the full configuration surface of the engine.
type Config struct {
	// Backend endpoints.
	BaseURL        string `envconfig:"BASE_URL"`
	LoginURL       string `envconfig:"LOGIN_URL"`
	RedirectPrefix string `envconfig:"REDIRECT_PREFIX"`

	// Optional weekly-schedule request parameters. Zero means "omit from
	// the request body".
	TermNo int `envconfig:"TERM_NO" default:"0"`
	Week   int `envconfig:"WEEK" default:"0"`

	// Local state.
	CacheDir string `envconfig:"CACHE_DIR"`

	// Timing knobs.
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"15m"`
	RetryDelay   time.Duration `envconfig:"RETRY_DELAY" default:"20m"`
	MaxAttempts  int           `envconfig:"MAX_ATTEMPTS" default:"3"`

	// DemoFallback lets the normalizer fall back to the bundled example
	// dataset when no raw weekly cache exists. Off in production.
	DemoFallback bool `envconfig:"DEMO_FALLBACK" default:"false"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// New reads the environment and resolves derived defaults.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("kq", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.resolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveDefaults() error {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.LoginURL == "" {
		c.LoginURL = c.BaseURL + "/#/login"
	}
	if c.RedirectPrefix == "" {
		c.RedirectPrefix = c.BaseURL + "/#/home"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("config: resolve cache dir: %w", err)
		}
		c.CacheDir = filepath.Join(base, "kqchecker")
	}
	return nil
}
