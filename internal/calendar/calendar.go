// Package calendar abstracts the user's calendar backend. The HTTP provider
// talks to an external calendar service and degrades to an empty calendar
// when it is unreachable, so scheduling keeps working offline.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mistakeknot/concord/internal/core"
)

// Provider serves calendar reads and writes for one user.
type Provider interface {
	ListEvents(ctx context.Context, userID string, from, to time.Time) ([]core.CalendarEvent, error)
	CreateEvent(ctx context.Context, userID string, event core.CalendarEvent) (core.CalendarEvent, error)
	CheckAvailability(ctx context.Context, userID string, start, end time.Time) (bool, error)
}

// HTTPProvider reads and writes events through a calendar service.
type HTTPProvider struct {
	log        *slog.Logger
	url        string
	httpClient *http.Client
}

func NewHTTPProvider(url string, log *slog.Logger) *HTTPProvider {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPProvider{
		log:        log,
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]core.CalendarEvent, error) {
	url := fmt.Sprintf("%s/users/%s/events?from=%s&to=%s",
		p.url, userID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		// An unreachable calendar service must not block scheduling.
		p.log.Warn("calendar service unreachable, treating calendar as empty",
			"user", userID, "error", err)
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		p.log.Warn("calendar service error, treating calendar as empty",
			"user", userID, "status", resp.StatusCode)
		return nil, nil
	}
	var events []core.CalendarEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

func (p *HTTPProvider) CreateEvent(ctx context.Context, userID string, event core.CalendarEvent) (core.CalendarEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return core.CalendarEvent{}, fmt.Errorf("encode event: %w", err)
	}
	url := fmt.Sprintf("%s/users/%s/events", p.url, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return core.CalendarEvent{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return core.CalendarEvent{}, fmt.Errorf("create event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return core.CalendarEvent{}, fmt.Errorf("create event: status %d", resp.StatusCode)
	}
	var created core.CalendarEvent
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return core.CalendarEvent{}, fmt.Errorf("decode created event: %w", err)
	}
	return created, nil
}

func (p *HTTPProvider) CheckAvailability(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	events, err := p.ListEvents(ctx, userID, start, end)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if start.Before(ev.End) && ev.Start.Before(end) {
			return false, nil
		}
	}
	return true, nil
}

// Static is a fixed in-memory calendar for tests and standalone runs.
type Static struct {
	mu     sync.Mutex
	Events map[string][]core.CalendarEvent
}

func NewStatic() *Static {
	return &Static{Events: make(map[string][]core.CalendarEvent)}
}

func (s *Static) ListEvents(_ context.Context, userID string, from, to time.Time) ([]core.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CalendarEvent
	for _, ev := range s.Events[userID] {
		if ev.Start.Before(to) && from.Before(ev.End) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Static) CreateEvent(_ context.Context, userID string, event core.CalendarEvent) (core.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = fmt.Sprintf("evt-%d", len(s.Events[userID])+1)
	}
	s.Events[userID] = append(s.Events[userID], event)
	return event, nil
}

func (s *Static) CheckAvailability(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	events, _ := s.ListEvents(ctx, userID, start, end)
	return len(events) == 0, nil
}
