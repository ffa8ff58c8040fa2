package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPStoreRoundTrip(t *testing.T) {
	var stored Interaction
	mux := http.NewServeMux()
	mux.HandleFunc("/memories", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&stored); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/memories/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Interaction{stored})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewHTTPStore(srv.URL, nil)
	err := s.StoreInteraction(context.Background(), Interaction{
		AgentID: "agent-a",
		PeerID:  "agent-b",
		Kind:    "proposal",
		Summary: "roadmap review",
	})
	if err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}
	if stored.Kind != "proposal" || stored.Timestamp.IsZero() {
		t.Fatalf("stored = %+v", stored)
	}

	got, err := s.Search(context.Background(), "roadmap", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "roadmap review" {
		t.Fatalf("got = %+v", got)
	}
}

// Losing the memory service costs history, never an error.
func TestHTTPStoreBestEffort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s := NewHTTPStore(srv.URL, nil)
	if err := s.StoreInteraction(context.Background(), Interaction{AgentID: "a", Kind: "proposal"}); err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}
	got, err := s.Search(context.Background(), "anything", 5)
	if err != nil || got != nil {
		t.Fatalf("Search = %+v, %v", got, err)
	}
}

func TestNullStore(t *testing.T) {
	var s Store = Null{}
	if err := s.StoreInteraction(context.Background(), Interaction{}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(context.Background(), "x", 1)
	if err != nil || got != nil {
		t.Fatalf("Search = %+v, %v", got, err)
	}
}
