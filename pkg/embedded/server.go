// Package embedded runs a scheduling agent inside a host process, for
// applications that want calendar coordination without a separate daemon.
package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/concord/internal/agent"
	"github.com/mistakeknot/concord/internal/config"
)

// Config configures the embedded agent.
type Config struct {
	// DBPath is the SQLite database file. Defaults to ~/.concord/data.db.
	DBPath string

	// Port to listen on. Defaults to 7448.
	Port int

	// Host to bind. Defaults to 127.0.0.1.
	Host string

	// AgentID and UserID identify this agent. AgentID is generated when
	// empty.
	AgentID string
	UserID  string

	// RegistryURL, when set, joins the shared agent registry. Empty runs
	// standalone.
	RegistryURL string

	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Server is an in-process scheduling agent.
type Server struct {
	cfg   config.Config
	agent *agent.Agent

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan error
}

// New creates an embedded agent.
func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".concord", "data.db")
	}
	if cfg.Port == 0 {
		cfg.Port = 7448
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	full := config.Default()
	if cfg.AgentID != "" {
		full.Agent.ID = cfg.AgentID
	}
	full.Agent.UserID = cfg.UserID
	full.Server.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	full.Agent.Endpoint = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	full.Storage.DBPath = cfg.DBPath
	full.Auth.SecretFile = filepath.Join(filepath.Dir(cfg.DBPath), "concord.secret")
	full.Registry.URL = cfg.RegistryURL

	a, err := agent.New(full, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init agent: %w", err)
	}
	return &Server{cfg: *full, agent: a}, nil
}

// Start runs the agent in a goroutine. Returns once the listener is up.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	s.mu.Unlock()

	go func() {
		s.done <- s.agent.Run(ctx)
	}()

	// Give the listener a moment to bind.
	time.Sleep(50 * time.Millisecond)
	return nil
}

// Stop shuts the agent down and waits for it to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("agent did not stop in time")
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.cfg.Server.Addr
}

// URL returns the agent's base URL.
func (s *Server) URL() string {
	return "http://" + s.cfg.Server.Addr
}
