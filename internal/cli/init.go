// Package cli holds helpers behind the command-line entry points.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mistakeknot/concord/internal/config"
)

// InitConfigFile writes a starter configuration for a new agent. An existing
// file is left untouched and reported as an error so a typo cannot clobber a
// working setup.
func InitConfigFile(path, agentID, userID string) (*config.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config file path required")
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("config file %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("check config file: %w", err)
	}

	cfg := config.Default()
	if id := strings.TrimSpace(agentID); id != "" {
		cfg.Agent.ID = id
	}
	cfg.Agent.UserID = strings.TrimSpace(userID)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	return cfg, nil
}
