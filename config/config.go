// Package config loads guest settings from the environment and parses the
// startup location handed to an embedded guest.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/machinefabric/guestlink-go/logging"
)

// Prefix is the environment variable prefix for Settings.
const Prefix = "GUESTLINK"

// Settings holds guest configuration.
type Settings struct {
	RequestTimeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5m"`
	SlowRequestThreshold time.Duration `envconfig:"SLOW_REQUEST_THRESHOLD" default:"10s"`
	NoTimeoutActions     []string      `envconfig:"NO_TIMEOUT_ACTIONS" default:"instances.create"`
	Codec                string        `envconfig:"CODEC" default:"json"`
	LogConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads settings from GUESTLINK_* environment variables.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &s, nil
}

// LoadOrDefault loads settings from the environment or returns defaults.
func LoadOrDefault() *Settings {
	s, err := Load()
	if err != nil {
		return Default()
	}
	return s
}

// Default returns default settings.
func Default() *Settings {
	return &Settings{
		RequestTimeout:       5 * time.Minute,
		SlowRequestThreshold: 10 * time.Second,
		NoTimeoutActions:     []string{"instances.create"},
		Codec:                "json",
		LogConfig: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// LoggerConfig converts the logging section for the logging package.
func (s *Settings) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = s.Level
	cfg.Development = s.Development
	return cfg
}

// ErrNoLocation is returned when the startup location lacks the origin or
// the app guid.
var ErrNoLocation = errors.New("location does not carry origin and app_guid")

// Location is what the host tells a guest about itself at startup.
type Location struct {
	Origin  string
	AppGuid string
}

// ParseLocation reads origin and app_guid from a URL, a hash fragment or a
// bare query string. The fragment wins over the query when both are set.
func ParseLocation(raw string) (Location, error) {
	var loc Location
	for _, part := range locationParts(raw) {
		values, err := url.ParseQuery(part)
		if err != nil {
			continue
		}
		if v := values.Get("origin"); v != "" {
			loc.Origin = v
		}
		if v := values.Get("app_guid"); v != "" {
			loc.AppGuid = v
		}
	}
	if loc.Origin == "" || loc.AppGuid == "" {
		return Location{}, ErrNoLocation
	}
	return loc, nil
}

// locationParts returns the query then the fragment of raw.
func locationParts(raw string) []string {
	raw = strings.TrimSpace(raw)
	var query, fragment string
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw, fragment = raw[:i], raw[i+1:]
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		query = raw[i+1:]
	} else if !strings.Contains(raw, "://") {
		query = raw
	}
	return []string{query, fragment}
}
