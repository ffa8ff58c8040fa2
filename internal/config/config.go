// Package config loads process configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mistakeknot/concord/internal/names"
)

const defaultConfigFile = "concord.yaml"

// Config is the full process configuration for one agent.
type Config struct {
	Agent struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		UserID   string `yaml:"user_id"`
		Endpoint string `yaml:"endpoint"` // advertised to peers
	} `yaml:"agent"`

	Server struct {
		Addr       string `yaml:"addr"`
		SocketPath string `yaml:"socket_path"`
	} `yaml:"server"`

	Auth struct {
		SecretFile     string `yaml:"secret_file"`
		AllowLocalhost *bool  `yaml:"allow_localhost_without_auth"`
	} `yaml:"auth"`

	Registry struct {
		URL string `yaml:"url"` // empty means standalone mode
	} `yaml:"registry"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	Calendar struct {
		URL string `yaml:"url"`
	} `yaml:"calendar"`

	Memory struct {
		URL string `yaml:"url"`
	} `yaml:"memory"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ResolvePath returns the config file path, honoring CONCORD_CONFIG.
func ResolvePath() string {
	if v := strings.TrimSpace(os.Getenv("CONCORD_CONFIG")); v != "" {
		return v
	}
	return filepath.Join(".", defaultConfigFile)
}

// LoadFromEnv loads the config file resolved from the environment.
func LoadFromEnv() (*Config, error) {
	return Load(ResolvePath())
}

// Load reads a config file, applying defaults for anything unset. A missing
// file yields a default standalone configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Agent.ID == "" {
		c.Agent.ID = "agent-" + uuid.NewString()[:8]
	}
	if c.Agent.Name == "" {
		c.Agent.Name = names.Random()
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":7448"
	}
	if c.Agent.Endpoint == "" {
		c.Agent.Endpoint = "http://localhost" + c.Server.Addr
	}
	if c.Auth.SecretFile == "" {
		c.Auth.SecretFile = "concord.secret"
	}
	if c.Auth.AllowLocalhost == nil {
		allow := true
		c.Auth.AllowLocalhost = &allow
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "concord.db"
	}
}

// AllowLocalhost reports the localhost auth bypass policy.
func (c *Config) AllowLocalhost() bool {
	return c.Auth.AllowLocalhost == nil || *c.Auth.AllowLocalhost
}
