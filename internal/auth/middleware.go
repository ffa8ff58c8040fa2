package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// Header names carried by every authenticated inter-agent request.
const (
	HeaderAgentID   = "X-Agent-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

type Mode string

const (
	ModeLocalhost Mode = "localhost"
	ModeAgent     Mode = "agent"
)

// Info describes the authenticated caller of a request.
type Info struct {
	Mode      Mode
	AgentID   string
	Localhost bool
}

type contextKey struct{}

func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// Middleware authenticates inter-agent requests. Requests from loopback
// addresses may bypass auth when allowLocalhost is set; everything else needs
// a bearer token plus the signature header triple.
func Middleware(signer *Signer, allowLocalhost bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowLocalhost && isLocalRequest(r) {
				info := Info{Mode: ModeLocalhost, Localhost: true, AgentID: r.Header.Get(HeaderAgentID)}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, info)))
				return
			}
			agentID, ok := authorize(r, signer)
			if !ok {
				writeUnauthorized(w)
				return
			}
			info := Info{Mode: ModeAgent, AgentID: agentID}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, info)))
		})
	}
}

func authorize(r *http.Request, signer *Signer) (string, bool) {
	if signer == nil {
		return "", false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	agentID, err := signer.VerifyRequest(
		token,
		r.Header.Get(HeaderAgentID),
		r.Header.Get(HeaderTimestamp),
		r.Header.Get(HeaderSignature),
	)
	if err != nil {
		return "", false
	}
	return agentID, true
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func isLocalRequest(r *http.Request) bool {
	if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.IsLoopback()
		}
		if strings.EqualFold(ip, "localhost") {
			return true
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

func forwardedFor(v string) string {
	if v == "" {
		return ""
	}
	parts := strings.Split(v, ",")
	return strings.TrimSpace(parts[0])
}
