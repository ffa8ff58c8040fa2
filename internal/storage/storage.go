// Package storage defines the persistence interface for scheduling state:
// proposals exchanged with peer agents, meeting observations and feedback
// that drive preference learning, and detected conflicts.
package storage

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mistakeknot/concord/internal/core"
)

// ErrNotFound is returned when a proposal does not exist.
var ErrNotFound = errors.New("not found")

type Store interface {
	SaveProposal(p core.SchedulingProposal, status core.ProposalStatus) error
	UpdateProposalStatus(proposalID string, status core.ProposalStatus) error
	Proposal(proposalID string) (core.SchedulingProposal, core.ProposalStatus, error)
	ListProposals(status core.ProposalStatus) ([]core.SchedulingProposal, error)

	AppendObservation(obs core.MeetingObservation) error
	ObservationsForUser(userID string) ([]core.MeetingObservation, error)

	AppendFeedback(fb core.MeetingFeedback) error
	FeedbackForUser(userID string) ([]core.MeetingFeedback, error)

	AppendConflict(analysis core.ConflictAnalysis) error
	RecentConflicts(limit int) ([]core.ConflictAnalysis, error)

	// ExpirePendingProposals marks pending proposals whose deadline has
	// passed and returns their IDs.
	ExpirePendingProposals(before time.Time) ([]string, error)
}

type proposalRecord struct {
	proposal core.SchedulingProposal
	status   core.ProposalStatus
	seq      uint64
}

// InMemory is a mutex-guarded in-memory store for tests and standalone runs.
type InMemory struct {
	mu           sync.Mutex
	seq          uint64
	proposals    map[string]proposalRecord
	observations map[string][]core.MeetingObservation
	feedback     map[string][]core.MeetingFeedback
	conflicts    []core.ConflictAnalysis
}

func NewInMemory() *InMemory {
	return &InMemory{
		proposals:    make(map[string]proposalRecord),
		observations: make(map[string][]core.MeetingObservation),
		feedback:     make(map[string][]core.MeetingFeedback),
	}
}

func (m *InMemory) SaveProposal(p core.SchedulingProposal, status core.ProposalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.proposals[p.ProposalID] = proposalRecord{proposal: p, status: status, seq: m.seq}
	return nil
}

func (m *InMemory) UpdateProposalStatus(proposalID string, status core.ProposalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.proposals[proposalID]
	if !ok {
		return ErrNotFound
	}
	rec.status = status
	m.proposals[proposalID] = rec
	return nil
}

func (m *InMemory) Proposal(proposalID string) (core.SchedulingProposal, core.ProposalStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.proposals[proposalID]
	if !ok {
		return core.SchedulingProposal{}, "", ErrNotFound
	}
	return rec.proposal, rec.status, nil
}

func (m *InMemory) ListProposals(status core.ProposalStatus) ([]core.SchedulingProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]proposalRecord, 0, len(m.proposals))
	for _, rec := range m.proposals {
		if status == "" || rec.status == status {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]core.SchedulingProposal, len(recs))
	for i, rec := range recs {
		out[i] = rec.proposal
	}
	return out, nil
}

func (m *InMemory) AppendObservation(obs core.MeetingObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations[obs.UserID] = append(m.observations[obs.UserID], obs)
	return nil
}

func (m *InMemory) ObservationsForUser(userID string) ([]core.MeetingObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.MeetingObservation, len(m.observations[userID]))
	copy(out, m.observations[userID])
	return out, nil
}

func (m *InMemory) AppendFeedback(fb core.MeetingFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback[fb.UserID] = append(m.feedback[fb.UserID], fb)
	return nil
}

func (m *InMemory) FeedbackForUser(userID string) ([]core.MeetingFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.MeetingFeedback, len(m.feedback[userID]))
	copy(out, m.feedback[userID])
	return out, nil
}

func (m *InMemory) AppendConflict(analysis core.ConflictAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = append(m.conflicts, analysis)
	return nil
}

func (m *InMemory) RecentConflicts(limit int) ([]core.ConflictAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conflicts := m.conflicts
	if limit > 0 && len(conflicts) > limit {
		conflicts = conflicts[len(conflicts)-limit:]
	}
	out := make([]core.ConflictAnalysis, len(conflicts))
	copy(out, conflicts)
	return out, nil
}

func (m *InMemory) ExpirePendingProposals(before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for id, rec := range m.proposals {
		if rec.status != core.ProposalReceived {
			continue
		}
		if !rec.proposal.Deadline.IsZero() && rec.proposal.Deadline.Before(before) {
			rec.status = core.ProposalError
			m.proposals[id] = rec
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired, nil
}
