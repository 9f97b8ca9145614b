// Package config loads runtime configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrMissingConfig reports that a request requires credentials that
// have not been configured.
var ErrMissingConfig = errors.New("api key or base url not configured")

// Config holds every tunable the engine and clients read.
type Config struct {
	// Upstream API.
	BaseURL string `yaml:"base_url" env:"FARAMITA_BASE_URL"`
	APIKey  string `yaml:"api_key" env:"FARAMITA_API_KEY"`
	Model   string `yaml:"model" env:"FARAMITA_MODEL"`

	// Media generation. Empty model names disable the feature.
	ImageModel string `yaml:"image_model" env:"FARAMITA_IMAGE_MODEL"`
	VideoModel string `yaml:"video_model" env:"FARAMITA_VIDEO_MODEL"`

	// Narration language requested from the model.
	Language string `yaml:"language" env:"FARAMITA_LANGUAGE"`

	// Probability that a proposed dice interaction is kept rather than
	// suppressed. 0 disables all rolls, 1 keeps every proposal.
	InteractionRate float64 `yaml:"interaction_rate" env:"FARAMITA_INTERACTION_RATE"`

	// Request deadlines.
	ChatTimeout  time.Duration `yaml:"chat_timeout" env:"FARAMITA_CHAT_TIMEOUT"`
	ImageTimeout time.Duration `yaml:"image_timeout" env:"FARAMITA_IMAGE_TIMEOUT"`
	VideoTimeout time.Duration `yaml:"video_timeout" env:"FARAMITA_VIDEO_TIMEOUT"`

	// Local paths.
	DataDir string `yaml:"data_dir" env:"FARAMITA_DATA_DIR"`

	Verbose bool `yaml:"verbose" env:"FARAMITA_VERBOSE"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		BaseURL:         "https://api.deepseek.com/v1",
		Model:           "deepseek-chat",
		Language:        "Chinese (Simplified)",
		InteractionRate: 0.5,
		ChatTimeout:     60 * time.Second,
		ImageTimeout:    120 * time.Second,
		VideoTimeout:    300 * time.Second,
		DataDir:         ".faramita",
	}
}

// Load reads the YAML file at path (missing file is not an error),
// then applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env only.
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// upstream failures.
func (c Config) Validate() error {
	if c.InteractionRate < 0 || c.InteractionRate > 1 {
		return fmt.Errorf("interaction_rate %v out of range [0,1]", c.InteractionRate)
	}
	if c.ChatTimeout <= 0 || c.ImageTimeout <= 0 || c.VideoTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// ChatReady reports whether chat requests can be issued.
func (c Config) ChatReady() bool {
	return c.BaseURL != "" && c.APIKey != ""
}
