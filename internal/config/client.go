package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vyrodovalexey/wishlist-sync/internal/reservation"
)

// Client defaults.
const (
	DefaultClientServerURL = "http://localhost:8080"
	DefaultPrefsPath       = "wishlist.db"
	DefaultShareDomain     = "wishproject-27a8b.web.app"
	DefaultReservationMode = reservation.ModeConditional
	DefaultWriteTimeout    = 15 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
	DefaultClientLogLevel  = "warn"
)

// Client environment variable names.
const (
	EnvClientServerURL = "WISH_SERVER_URL"
	EnvPrefsPath       = "WISH_PREFS_PATH"
	EnvShareDomain     = "WISH_SHARE_DOMAIN"
	EnvReservationMode = "WISH_RESERVATION_MODE"
	EnvWriteTimeout    = "WISH_WRITE_TIMEOUT"
	EnvRequestTimeout  = "WISH_REQUEST_TIMEOUT"
	EnvClientLogLevel  = "WISH_LOG_LEVEL"
)

// ClientConfig configures a device client.
type ClientConfig struct {
	ServerURL       string           `yaml:"server_url"       env:"WISH_SERVER_URL"       env-default:"http://localhost:8080"`
	PrefsPath       string           `yaml:"prefs_path"       env:"WISH_PREFS_PATH"       env-default:"wishlist.db"`
	ShareDomain     string           `yaml:"share_domain"     env:"WISH_SHARE_DOMAIN"     env-default:"wishproject-27a8b.web.app"`
	ReservationMode reservation.Mode `yaml:"reservation_mode" env:"WISH_RESERVATION_MODE" env-default:"conditional"`
	WriteTimeout    time.Duration    `yaml:"write_timeout"    env:"WISH_WRITE_TIMEOUT"    env-default:"15s"`
	RequestTimeout  time.Duration    `yaml:"request_timeout"  env:"WISH_REQUEST_TIMEOUT"  env-default:"10s"`
	LogLevel        string           `yaml:"log_level"        env:"WISH_LOG_LEVEL"        env-default:"warn"`
}

// Client validation errors.
var (
	ErrInvalidServerURL       = errors.New("server URL must be an absolute http or https URL")
	ErrPrefsPathRequired      = errors.New("prefs path must be set")
	ErrShareDomainRequired    = errors.New("share domain must be set")
	ErrInvalidReservationMode = errors.New("reservation mode must be one of: conditional, last-write-wins")
	ErrInvalidTimeout         = errors.New("timeouts must be positive")
)

// LoadClient reads the client configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig

	if err := read(&cfg); err != nil {
		return nil, fmt.Errorf("loading client config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the client configuration values are valid.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidServerURL
	}

	if c.PrefsPath == "" {
		return ErrPrefsPathRequired
	}

	if c.ShareDomain == "" {
		return ErrShareDomainRequired
	}

	if _, err := reservation.ParseMode(string(c.ReservationMode)); err != nil {
		return ErrInvalidReservationMode
	}

	if c.WriteTimeout <= 0 || c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if !validLogLevels[c.LogLevel] {
		return ErrInvalidLogLevel
	}

	return nil
}
