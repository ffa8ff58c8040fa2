// Package schedule implements the scheduling intelligence engine:
// availability search, multi-factor slot scoring, conflict detection and
// resolution, multi-participant intersection, and preference learning.
package schedule

import (
	"log/slog"
	"sync"

	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/storage"
)

const (
	// DefaultBufferMinutes is the spacing kept around existing events when
	// searching for free slots.
	DefaultBufferMinutes = 15

	// Slots starting outside this hour range are discarded by the coarse
	// sanity filter, independent of per-user work hours.
	earliestSlotHour = 7
	latestSlotHour   = 19

	// minConfidence is the floor below which suggestions are discarded.
	minConfidence = 0.3

	// conflictHistoryCap bounds the in-memory conflict log.
	conflictHistoryCap = 256
)

// Engine holds learned preferences and conflict history for one agent.
type Engine struct {
	log   *slog.Logger
	store storage.Store

	mu      sync.Mutex
	prefs   map[string]core.SchedulingPreference
	history []core.ConflictAnalysis
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithStore mirrors observations, feedback and conflict analyses to
// persistent storage.
func WithStore(store storage.Store) Option {
	return func(e *Engine) { e.store = store }
}

// New creates a scheduling engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		prefs: make(map[string]core.SchedulingPreference),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Preference returns the learned preference for a user, if any.
func (e *Engine) Preference(userID string) (core.SchedulingPreference, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prefs[userID]
	return p, ok
}

// ConflictHistory returns a copy of the retained conflict analyses, newest
// last.
func (e *Engine) ConflictHistory() []core.ConflictAnalysis {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.ConflictAnalysis, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) recordConflict(analysis core.ConflictAnalysis) {
	e.mu.Lock()
	e.history = append(e.history, analysis)
	if len(e.history) > conflictHistoryCap {
		e.history = e.history[len(e.history)-conflictHistoryCap:]
	}
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.AppendConflict(analysis); err != nil {
			e.log.Warn("persist conflict analysis", "error", err)
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
