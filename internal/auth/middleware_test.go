package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func authedHandler(t *testing.T, got *Info) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := FromContext(r.Context())
		if !ok {
			t.Error("auth info missing from context")
		}
		*got = info
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareLocalhostBypass(t *testing.T) {
	signer := NewSigner("agent-a", []byte("secret"))
	var got Info
	h := Middleware(signer, true)(authedHandler(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got.Mode != ModeLocalhost || !got.Localhost {
		t.Fatalf("info = %+v", got)
	}
}

func TestMiddlewareLocalhostDisabled(t *testing.T) {
	signer := NewSigner("agent-a", []byte("secret"))
	var got Info
	h := Middleware(signer, false)(authedHandler(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareAgentAuth(t *testing.T) {
	secret := []byte("shared")
	server := NewSigner("agent-a", secret)
	peer := NewSigner("agent-b", secret)

	token, err := peer.Mint("agent-a")
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UTC().Format(time.RFC3339)

	var got Info
	h := Middleware(server, false)(authedHandler(t, &got))

	req := httptest.NewRequest(http.MethodPost, "/agents/message", nil)
	req.RemoteAddr = "10.1.2.3:40000"
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderAgentID, "agent-b")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, peer.Signature("agent-b", ts))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.Mode != ModeAgent || got.AgentID != "agent-b" {
		t.Fatalf("info = %+v", got)
	}
}

func TestMiddlewareRejectsBadRequests(t *testing.T) {
	secret := []byte("shared")
	server := NewSigner("agent-a", secret)
	peer := NewSigner("agent-b", secret)
	token, err := peer.Mint("agent-a")
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UTC().Format(time.RFC3339)

	cases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no credentials", func(r *http.Request) {}},
		{"malformed authorization", func(r *http.Request) {
			r.Header.Set("Authorization", "Token abc")
		}},
		{"missing signature headers", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
		}},
		{"wrong signature", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
			r.Header.Set(HeaderAgentID, "agent-b")
			r.Header.Set(HeaderTimestamp, ts)
			r.Header.Set(HeaderSignature, "deadbeef")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Info
			h := Middleware(server, false)(authedHandler(t, &got))
			req := httptest.NewRequest(http.MethodPost, "/agents/message", nil)
			req.RemoteAddr = "10.1.2.3:40000"
			tc.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestIsLocalRequestForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:1000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if isLocalRequest(req) {
		t.Fatal("forwarded remote address must defeat the loopback check")
	}
}

func TestBootstrapSecret(t *testing.T) {
	path := t.TempDir() + "/agent.secret"

	created, err := BootstrapSecret(path)
	if err != nil {
		t.Fatalf("BootstrapSecret: %v", err)
	}
	if !created.Created || created.Secret == "" {
		t.Fatalf("result = %+v", created)
	}

	again, err := BootstrapSecret(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Created {
		t.Fatal("second bootstrap must reuse the existing secret")
	}
	if again.Secret != created.Secret {
		t.Fatal("secret changed between bootstraps")
	}
}
