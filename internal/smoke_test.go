// End-to-end smoke test: wires storage, the scheduling engine, comms, and
// the HTTP surface together the way the agent does, then drives the full
// proposal and messaging flow through real HTTP and websocket transports.
package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/concord/client"
	"github.com/mistakeknot/concord/internal/auth"
	"github.com/mistakeknot/concord/internal/calendar"
	"github.com/mistakeknot/concord/internal/comms"
	"github.com/mistakeknot/concord/internal/core"
	httpapi "github.com/mistakeknot/concord/internal/http"
	"github.com/mistakeknot/concord/internal/registry"
	"github.com/mistakeknot/concord/internal/schedule"
	"github.com/mistakeknot/concord/internal/storage/sqlite"
	"github.com/mistakeknot/concord/internal/wire"
)

const smokeSecret = "smoke-test-secret"

// testAgent is a fully wired agent behind an httptest listener.
type testAgent struct {
	srv    *httptest.Server
	router *comms.Router
}

func startAgent(t *testing.T, allowLocalhost bool) *testAgent {
	t.Helper()

	store, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := schedule.New(schedule.WithStore(store))
	signer := auth.NewSigner("agent-smoke", []byte(smokeSecret))

	self := core.AgentIdentity{
		AgentID:      "agent-smoke",
		Name:         "smoke",
		UserID:       "me@example.com",
		Capabilities: []core.Capability{core.CapScheduling, core.CapAvailabilityChecking},
		Protocols:    []core.Protocol{core.ProtocolWebSocket, core.ProtocolHTTP},
		Status:       core.StatusOnline,
		Version:      "1.0",
	}

	router := comms.NewRouter(self.AgentID, nil)
	manager := comms.NewManager(self.AgentID, signer, func(msg wire.Message) {
		if err := router.HandleInbound(msg); err != nil {
			t.Logf("inbound rejected: %v", err)
		}
	})
	router.SetSend(manager.Send)
	router.Start(t.Context())
	t.Cleanup(router.Stop)

	router.Handle(wire.TypeAvailabilityRequest, func(_ context.Context, msg wire.Message) (*wire.Message, error) {
		reply := wire.New(self.AgentID, msg.FromAgentID, wire.TypeAvailabilityResponse,
			map[string]any{"available_slots": []any{}},
			wire.WithConversation(msg.ConversationID))
		return &reply, nil
	})

	reg := registry.NewClient("", self, signer, registry.WithStore(store))
	gateway := comms.NewGateway(manager, router, nil)

	svc := httpapi.NewService(self, store, engine,
		httpapi.WithRegistry(reg),
		httpapi.WithCommsRouter(router),
		httpapi.WithCalendar(calendar.NewStatic()),
	)
	handler := httpapi.NewRouter(svc, gateway.Handler(),
		auth.Middleware(signer, allowLocalhost))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testAgent{srv: srv, router: router}
}

func TestAgentSmoke(t *testing.T) {
	a := startAgent(t, true)

	t.Run("health and ping", func(t *testing.T) {
		for _, path := range []string{"/api/health", "/agents/ping"} {
			resp, err := http.Get(a.srv.URL + path)
			if err != nil {
				t.Fatalf("GET %s: %v", path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("GET %s = %d", path, resp.StatusCode)
			}
		}
	})

	t.Run("proposal lifecycle", func(t *testing.T) {
		start := time.Date(2024, time.January, 8, 10, 0, 0, 0, time.UTC)
		proposal := core.SchedulingProposal{
			FromAgentID:     "agent-peer",
			Title:           "roadmap review",
			ProposedTimes:   []core.AvailabilitySlot{core.NewSlot(start, start.Add(time.Hour))},
			Participants:    []string{"me@example.com"},
			DurationMinutes: 60,
			Priority:        core.PriorityHigh,
		}
		body, _ := json.Marshal(proposal)
		resp, err := http.Post(a.srv.URL+"/api/agents/proposal", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("proposal status = %d", resp.StatusCode)
		}
		var ack map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		answer, _ := json.Marshal(map[string]any{
			"status":          core.ProposalAccepted,
			"available_times": proposal.ProposedTimes,
		})
		resp, err = http.Post(a.srv.URL+"/api/agents/proposal/"+ack["proposal_id"]+"/respond",
			"application/json", bytes.NewReader(answer))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("respond status = %d", resp.StatusCode)
		}
		var settled core.ProposalResponse
		if err := json.NewDecoder(resp.Body).Decode(&settled); err != nil {
			t.Fatal(err)
		}
		if settled.Status != core.ProposalAccepted || settled.ToAgentID != "agent-peer" {
			t.Fatalf("settled = %+v", settled)
		}
	})

	t.Run("websocket peer round trip", func(t *testing.T) {
		wsURL := "ws://" + strings.TrimPrefix(a.srv.URL, "http://") + "/ws/agents"
		header := http.Header{}
		header.Set(auth.HeaderAgentID, "agent-peer")
		conn, _, err := websocket.Dial(t.Context(), wsURL, &websocket.DialOptions{HTTPHeader: header})
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "test done")

		req := wire.New("agent-peer", "agent-smoke", wire.TypeAvailabilityRequest, nil,
			wire.WithConversation("smoke-conv"), wire.WithResponse(0))
		if err := wsjson.Write(t.Context(), conn, req); err != nil {
			t.Fatalf("write: %v", err)
		}

		readCtx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		var reply wire.Message
		if err := wsjson.Read(readCtx, conn, &reply); err != nil {
			t.Fatalf("read reply: %v", err)
		}
		if reply.Type != wire.TypeAvailabilityResponse || reply.ConversationID != "smoke-conv" {
			t.Fatalf("reply = %+v", reply)
		}
	})

	t.Run("status update shows on ping", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"status": "busy"})
		req, _ := http.NewRequest(http.MethodPut, a.srv.URL+"/api/agents/status", bytes.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		ping, err := http.Get(a.srv.URL + "/agents/ping")
		if err != nil {
			t.Fatal(err)
		}
		defer ping.Body.Close()
		var got map[string]string
		if err := json.NewDecoder(ping.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got["status"] != "busy" {
			t.Fatalf("ping = %+v", got)
		}
	})
}

// With the localhost bypass disabled only credentialed clients get through.
func TestAgentSmokeRequiresAuth(t *testing.T) {
	a := startAgent(t, false)

	anon := client.New(a.srv.URL)
	if _, err := anon.Health(context.Background()); err == nil {
		t.Fatal("anonymous client should be rejected")
	}

	authed := client.New(a.srv.URL, client.WithAgentCredentials("agent-peer", smokeSecret))
	health, err := authed.Health(context.Background())
	if err != nil {
		t.Fatalf("credentialed health: %v", err)
	}
	if health["agent_id"] != "agent-smoke" {
		t.Fatalf("health = %+v", health)
	}
}
