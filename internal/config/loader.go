package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// credentialEnv is the IG_* environment overlay.
type credentialEnv struct {
	RestURL    string `env:"REST_URL"`
	APIKey     string `env:"API_KEY"`
	Identifier string `env:"IDENTIFIER"`
	Password   string `env:"PASSWORD"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	loadDotenv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadDotenv loads .env beside the config file and in the working
// directory. Variables already set in the environment win.
func loadDotenv(path string) {
	candidates := []string{filepath.Join(filepath.Dir(path), ".env"), ".env"}
	seen := make(map[string]bool, len(candidates))
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			_ = godotenv.Load(abs)
		}
	}
}

func (c *Config) overlayEnv() error {
	var e credentialEnv
	if err := env.ParseWithOptions(&e, env.Options{Prefix: "IG_"}); err != nil {
		return fmt.Errorf("parse IG_ environment: %w", err)
	}
	if e.RestURL != "" {
		c.API.RestURL = e.RestURL
	}
	if e.APIKey != "" {
		c.API.APIKey = e.APIKey
	}
	if e.Identifier != "" {
		c.API.Identifier = e.Identifier
	}
	if e.Password != "" {
		c.API.Password = e.Password
	}
	return nil
}
