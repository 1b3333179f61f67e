// Package config loads the server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen"`

	// DataDir is the root for local state: signatures, the enrollment
	// record index and precomputed source signatures.
	DataDir string `yaml:"data_dir"`

	// OutputRate is the canonical sample rate of everything the server
	// emits, in Hz.
	OutputRate int `yaml:"output_rate"`

	// DefaultLanguage is used when a synthesis request names none, and is
	// preloaded at startup.
	DefaultLanguage string `yaml:"default_language"`

	Engine Engine `yaml:"engine"`
	S3     S3     `yaml:"s3"`
}

// Engine points at the model sidecar process.
type Engine struct {
	// URL is the sidecar base URL. Empty runs the server degraded:
	// health answers, synthesis and enrollment refuse work.
	URL string `yaml:"url"`

	// Timeout bounds each sidecar call.
	Timeout time.Duration `yaml:"timeout"`

	// Denoise enables the noise-suppression stage during enrollment.
	Denoise bool `yaml:"denoise"`
}

// S3 configures the remote signature tier.
type S3 struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	// Prefix namespaces this deployment's objects within the bucket.
	Prefix string `yaml:"prefix"`
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:          ":8000",
		DataDir:         "data",
		OutputRate:      24000,
		DefaultLanguage: "ko",
		Engine: Engine{
			Timeout: 60 * time.Second,
			Denoise: true,
		},
		S3: S3{
			Prefix: "voice-signatures",
		},
	}
}

// Load reads a YAML config file, layered over Default. An empty path
// returns the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.OutputRate <= 0 {
		return fmt.Errorf("config: output_rate must be positive, got %d", c.OutputRate)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3.bucket is required when s3 is enabled")
	}
	return nil
}
