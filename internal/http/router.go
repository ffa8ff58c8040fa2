package httpapi

import "net/http"

// NewRouter builds the full HTTP surface. wsHandler, when non-nil, serves
// the peer websocket channel. mw wraps every route; it is usually the auth
// middleware.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler {
		handler := http.Handler(h)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}

	mux.Handle("/api/agents/discover", wrap(svc.handleDiscover))
	mux.Handle("/api/agents/proposal", wrap(svc.handleProposal))
	mux.Handle("/api/agents/proposal/", wrap(svc.handleProposalRespond))
	mux.Handle("/api/agents/status", wrap(svc.handleUpdateStatus))
	mux.Handle("/api/agents/", wrap(svc.handleAgentStatus))
	mux.Handle("/api/agents/capabilities", wrap(svc.handleCapabilities))
	mux.Handle("/api/collaboration/sessions", wrap(svc.handleCreateSession))
	mux.Handle("/api/health", wrap(svc.handleHealth))

	// Transport endpoints used by peer connection managers.
	mux.Handle("/agents/ping", wrap(svc.handlePing))
	mux.Handle("/agents/message", wrap(svc.handleMessage))
	mux.Handle("/scheduling/proposal", wrap(svc.handleProposal))

	if wsHandler != nil {
		if mw != nil {
			mux.Handle("/ws/agents", mw(wsHandler))
		} else {
			mux.Handle("/ws/agents", wsHandler)
		}
	}

	return mux
}
