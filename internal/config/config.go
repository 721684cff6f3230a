package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultMaxUploadSize mirrors the drop target's 5 MB limit.
const DefaultMaxUploadSize = 5_000_000

// Config is the complete runtime configuration, read once at start.
type Config struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	LogLevel          string        `mapstructure:"log_level"`
	ClassifierURL     string        `mapstructure:"classifier_url"`
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout"`
	MaxUploadSize     int64         `mapstructure:"max_upload_size"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	PreviewTTL        time.Duration `mapstructure:"preview_ttl"`
	BenignLabel       string        `mapstructure:"benign_label"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	Theme             Theme         `mapstructure:"theme"`
}

// Theme is the design-token set rendered into the page as CSS custom properties.
type Theme struct {
	Primary    string `mapstructure:"primary"`
	Accent     string `mapstructure:"accent"`
	Success    string `mapstructure:"success"`
	Failure    string `mapstructure:"failure"`
	Background string `mapstructure:"background"`
	Surface    string `mapstructure:"surface"`
	Text       string `mapstructure:"text"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// REACT_APP_API_URL is what the endpoint has historically been exported as.
	if err := v.BindEnv("classifier_url", "CLASSIFIER_URL", "REACT_APP_API_URL"); err != nil {
		return nil, fmt.Errorf("bind classifier_url: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("classifier_url", "")
	v.SetDefault("classifier_timeout", "30s")
	v.SetDefault("max_upload_size", DefaultMaxUploadSize)
	v.SetDefault("session_ttl", "30m")
	v.SetDefault("redis_addr", "")
	v.SetDefault("preview_ttl", "30m")
	v.SetDefault("benign_label", "Benign")
	v.SetDefault("shutdown_timeout", "15s")

	d := DefaultTheme()
	v.SetDefault("theme.primary", d.Primary)
	v.SetDefault("theme.accent", d.Accent)
	v.SetDefault("theme.success", d.Success)
	v.SetDefault("theme.failure", d.Failure)
	v.SetDefault("theme.background", d.Background)
	v.SetDefault("theme.surface", d.Surface)
	v.SetDefault("theme.text", d.Text)
}

// DefaultTheme returns the stock blue palette.
func DefaultTheme() Theme {
	return Theme{
		Primary:    "#007bff",
		Accent:     "#17a2b8",
		Success:    "#28a745",
		Failure:    "#dc3545",
		Background: "#e3f2fd",
		Surface:    "#ffffff",
		Text:       "#0056b3",
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClassifierURL) == "" {
		return errors.New("CLASSIFIER_URL is required")
	}
	u, err := url.Parse(c.ClassifierURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CLASSIFIER_URL must be an absolute http(s) URL, got %q", c.ClassifierURL)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be positive, got %s", c.ClassifierTimeout)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.RedisAddr != "" && c.PreviewTTL <= 0 {
		return fmt.Errorf("PREVIEW_TTL must be positive when REDIS_ADDR is set, got %s", c.PreviewTTL)
	}
	return nil
}
