// Package config handles configuration loading and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file.
const (
	EnvAPIKey  = "PLACES_API_KEY"
	EnvBaseURL = "PLACES_BASE_URL"
)

// Config represents the root configuration file structure.
type Config struct {
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	APIKey       string        `yaml:"api_key" json:"-"`
	Refresh      string        `yaml:"refresh" json:"refresh"` // when-empty or always
	Kafka        Kafka         `yaml:"kafka,omitempty" json:"kafka"`
	Radius       float64       `yaml:"radius" json:"radius"` // meters
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	PhotoMaxSize int           `yaml:"photo_max_size" json:"photo_max_size"` // pixels
}

// Kafka configures the optional event publisher; disabled without brokers.
type Kafka struct {
	Topic   string   `yaml:"topic" json:"topic"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Buffer  int      `yaml:"buffer,omitempty" json:"buffer"`
}

// Enabled reports whether events should be published.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:      "https://maps.googleapis.com/maps/api",
		Refresh:      "when-empty",
		Radius:       10000,
		Timeout:      15 * time.Second,
		PhotoMaxSize: 50,
		Kafka: Kafka{
			Topic:  "nearby.events",
			Buffer: 256,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment (after loading envFiles through godotenv). An empty path skips
// the file. The result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	LoadEnv(envFiles...)
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEnv loads dotenv files (".env" when none given) into the process
// environment without overriding variables that are already set.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Strs("files", files).Msg("No .env file found, using process environment")
			return
		}
		log.Warn().Err(err).Msg("Failed to load .env file")
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		c.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		c.BaseURL = v
	}
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("api key is required (api_key or %s)", EnvAPIKey))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.Radius <= 0 {
		errs = append(errs, fmt.Errorf("radius must be > 0, got %v", c.Radius))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0, got %s", c.Timeout))
	}
	if c.PhotoMaxSize <= 0 {
		errs = append(errs, fmt.Errorf("photo_max_size must be > 0, got %d", c.PhotoMaxSize))
	}
	switch c.Refresh {
	case "when-empty", "always":
	default:
		errs = append(errs, fmt.Errorf("refresh must be when-empty or always, got %q", c.Refresh))
	}

	return errors.Join(errs...)
}
