// Package httpapi exposes the agent's REST surface: peer discovery,
// proposal exchange, status, collaboration sessions, and the transport
// endpoints used by peers connecting over plain HTTP.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mistakeknot/concord/internal/calendar"
	"github.com/mistakeknot/concord/internal/comms"
	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/memory"
	"github.com/mistakeknot/concord/internal/registry"
	"github.com/mistakeknot/concord/internal/schedule"
	"github.com/mistakeknot/concord/internal/storage"
)

type Service struct {
	log      *slog.Logger
	self     core.AgentIdentity
	store    storage.Store
	engine   *schedule.Engine
	registry *registry.Client
	router   *comms.Router
	manager  *comms.Manager
	calendar calendar.Provider
	memory   memory.Store
	started  time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

func WithRegistry(c *registry.Client) ServiceOption {
	return func(s *Service) { s.registry = c }
}

func WithCommsRouter(r *comms.Router) ServiceOption {
	return func(s *Service) { s.router = r }
}

// WithConnManager lets the HTTP transport intake count as peer activity.
func WithConnManager(m *comms.Manager) ServiceOption {
	return func(s *Service) { s.manager = m }
}

func WithCalendar(p calendar.Provider) ServiceOption {
	return func(s *Service) { s.calendar = p }
}

func WithMemory(m memory.Store) ServiceOption {
	return func(s *Service) { s.memory = m }
}

func NewService(self core.AgentIdentity, store storage.Store, engine *schedule.Engine, opts ...ServiceOption) *Service {
	s := &Service{
		self:    self,
		store:   store,
		engine:  engine,
		started: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.calendar == nil {
		s.calendar = calendar.NewStatic()
	}
	if s.memory == nil {
		s.memory = memory.Null{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
