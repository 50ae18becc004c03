// Package config loads the nitztz server configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/device"
)

// Environment variables consulted by ApplyEnv and the binaries.
const (
	EnvConfig  = "NITZTZ_CONFIG"
	EnvListen  = "NITZTZ_LISTEN"
	EnvSinkURL = "NITZTZ_SINK_URL"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the server configuration.
type Config struct {
	Listen       string          `yaml:"listen" validate:"required,hostname_port"`
	CountryTable string          `yaml:"country_table"`
	Sink         SinkConfig      `yaml:"sink"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	NITZ         NITZConfig      `yaml:"nitz"`
	Slots        int             `yaml:"slots" validate:"min=1,max=16"`
}

// NITZConfig holds the acceptance thresholds and policy.
type NITZConfig struct {
	UpdateSpacingMillis int32 `yaml:"update_spacing_millis" validate:"gte=0"`
	UpdateDiffMillis    int32 `yaml:"update_diff_millis" validate:"gte=0"`
	Ignore              bool  `yaml:"ignore"`
}

// SinkConfig describes where suggestions go. An empty URL logs them.
type SinkConfig struct {
	URL      string        `yaml:"url" validate:"omitempty,http_url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	Delay    time.Duration `yaml:"retry_delay" validate:"gt=0"`
	Attempts uint          `yaml:"attempts" validate:"min=1,max=10"`
	Dedup    bool          `yaml:"dedup"`
}

// RateLimitConfig limits API requests per client address.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" validate:"gt=0"`
	Burst     int     `yaml:"burst" validate:"min=1"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Listen: ":8080",
		Slots:  1,
		NITZ: NITZConfig{
			UpdateSpacingMillis: device.DefaultNITZUpdateSpacingMillis,
			UpdateDiffMillis:    device.DefaultNITZUpdateDiffMillis,
		},
		Sink: SinkConfig{
			Timeout:  30 * time.Second,
			Delay:    200 * time.Millisecond,
			Attempts: 5,
		},
		RateLimit: RateLimitConfig{PerSecond: 10, Burst: 20},
	}
}

// Decode reads YAML on top of the defaults. Unknown keys are errors.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

// Load reads the file at path; an empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config: %w", err)
	}
	defer func() { _ = f.Close() }() //nolint:errcheck // read-only file

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvListen)); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(getenv(EnvSinkURL)); v != "" {
		c.Sink.URL = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
