package comms

import (
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/concord/internal/auth"
	"github.com/mistakeknot/concord/internal/wire"
)

// Gateway accepts inbound websocket connections from peer agents and feeds
// their messages to the router. Accepted connections are adopted by the
// manager so replies ride the same socket.
type Gateway struct {
	log     *slog.Logger
	manager *Manager
	router  *Router
}

func NewGateway(manager *Manager, router *Router, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{log: log, manager: manager, router: router}
}

// Handler serves the /ws/agents endpoint. The peer identifies itself through
// the authenticated agent headers; anonymous sockets are rejected.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, _ := auth.FromContext(r.Context())
		peer := info.AgentID
		if peer == "" {
			peer = r.Header.Get(auth.HeaderAgentID)
		}
		if peer == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		g.log.Info("peer websocket accepted", "peer", peer)

		g.manager.Adopt(peer, conn)
		defer g.manager.Disconnect(peer)

		ctx := r.Context()
		for {
			var msg wire.Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				g.log.Debug("peer websocket closed", "peer", peer, "error", err)
				return
			}
			if err := msg.Validate(); err != nil {
				g.log.Warn("malformed frame from peer", "peer", peer, "error", err)
				continue
			}
			g.manager.Touch(peer)
			if err := g.router.HandleInbound(msg); err != nil {
				g.log.Warn("inbound queue rejected message", "peer", peer, "error", err)
			}
		}
	}
}
