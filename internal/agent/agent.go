// Package agent wires the full scheduling agent together: storage, the
// scheduling engine, peer connections, message routing, registry client,
// and the HTTP/websocket surface.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mistakeknot/concord/internal/auth"
	"github.com/mistakeknot/concord/internal/calendar"
	"github.com/mistakeknot/concord/internal/comms"
	"github.com/mistakeknot/concord/internal/config"
	"github.com/mistakeknot/concord/internal/core"
	httpapi "github.com/mistakeknot/concord/internal/http"
	"github.com/mistakeknot/concord/internal/memory"
	"github.com/mistakeknot/concord/internal/registry"
	"github.com/mistakeknot/concord/internal/schedule"
	"github.com/mistakeknot/concord/internal/server"
	"github.com/mistakeknot/concord/internal/storage"
	"github.com/mistakeknot/concord/internal/storage/sqlite"
	"github.com/mistakeknot/concord/internal/wire"
)

// defaultCapabilities is what a calendar agent advertises to the registry.
var defaultCapabilities = []core.Capability{
	core.CapCalendarManagement,
	core.CapScheduling,
	core.CapAvailabilityChecking,
	core.CapMeetingCoordination,
	core.CapConflictResolution,
	core.CapPreferenceLearning,
}

const sweepInterval = 60 * time.Second

// Agent is one running scheduling agent instance.
type Agent struct {
	log      *slog.Logger
	cfg      *config.Config
	self     core.AgentIdentity
	store    storage.Store
	engine   *schedule.Engine
	signer   *auth.Signer
	manager  *comms.Manager
	router   *comms.Router
	registry *registry.Client
	calendar calendar.Provider
	memory   memory.Store
	sweeper  *storage.Sweeper
	server   *server.Server
}

// New assembles an agent from configuration.
func New(cfg *config.Config, log *slog.Logger) (*Agent, error) {
	if log == nil {
		log = slog.Default()
	}

	secret, err := auth.BootstrapSecret(cfg.Auth.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("auth bootstrap: %w", err)
	}
	if secret.Created {
		log.Info("created shared secret", "file", secret.SecretFile)
	}
	signer := auth.NewSigner(cfg.Agent.ID, []byte(secret.Secret))

	store, err := sqlite.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("store init: %w", err)
	}

	engine := schedule.New(
		schedule.WithLogger(log),
		schedule.WithStore(store),
	)

	self := core.AgentIdentity{
		AgentID:      cfg.Agent.ID,
		Name:         cfg.Agent.Name,
		UserID:       cfg.Agent.UserID,
		Endpoint:     cfg.Agent.Endpoint,
		Capabilities: defaultCapabilities,
		Protocols:    []core.Protocol{core.ProtocolWebSocket, core.ProtocolHTTP},
		Status:       core.StatusOnline,
		RegisteredAt: time.Now().UTC(),
		Version:      "1.0",
	}

	a := &Agent{
		log:    log,
		cfg:    cfg,
		self:   self,
		store:  store,
		engine: engine,
		signer: signer,
		memory: memory.Null{},
	}

	if cfg.Calendar.URL != "" {
		a.calendar = calendar.NewHTTPProvider(cfg.Calendar.URL, log)
	} else {
		a.calendar = calendar.NewStatic()
	}
	if cfg.Memory.URL != "" {
		a.memory = memory.NewHTTPStore(cfg.Memory.URL, log)
	}

	a.router = comms.NewRouter(self.AgentID, nil, comms.WithRouterLogger(log))
	a.manager = comms.NewManager(self.AgentID, signer,
		func(msg wire.Message) {
			if err := a.router.HandleInbound(msg); err != nil {
				log.Warn("inbound queue rejected message", "id", msg.ID, "error", err)
			}
		},
		comms.WithManagerLogger(log),
		comms.WithCapabilities(defaultCapabilities),
	)
	a.router.SetSend(a.manager.Send)
	a.registerHandlers()

	a.registry = registry.NewClient(cfg.Registry.URL, self, signer,
		registry.WithLogger(log),
		registry.WithStore(store),
	)

	a.sweeper = storage.NewSweeper(store, log, sweepInterval, nil)

	gateway := comms.NewGateway(a.manager, a.router, log)
	svc := httpapi.NewService(self, store, engine,
		httpapi.WithLogger(log),
		httpapi.WithRegistry(a.registry),
		httpapi.WithCommsRouter(a.router),
		httpapi.WithConnManager(a.manager),
		httpapi.WithCalendar(a.calendar),
		httpapi.WithMemory(a.memory),
	)
	handler := httpapi.NewRouter(svc, gateway.Handler(),
		auth.Middleware(signer, cfg.AllowLocalhost()))

	srv, err := server.New(server.Config{
		Addr:       cfg.Server.Addr,
		SocketPath: cfg.Server.SocketPath,
		Handler:    handler,
		Log:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("server init: %w", err)
	}
	a.server = srv

	return a, nil
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// server fails.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.router.Start(ctx)
	a.manager.Start(ctx)
	a.sweeper.Start(ctx)

	if err := a.registry.Register(ctx); err != nil {
		a.log.Warn("registry registration failed, continuing standalone", "error", err)
	}
	go a.registry.RunHeartbeat(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("agent listening",
			"agent", a.self.AgentID,
			"addr", a.cfg.Server.Addr)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	a.manager.Stop()
	a.router.Stop()
	a.sweeper.Stop()
	return a.server.Shutdown(shutdownCtx)
}
