package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/mistakeknot/concord/internal/core"
)

func sampleProposal(id string) core.SchedulingProposal {
	start := time.Date(2024, time.January, 8, 10, 0, 0, 0, time.UTC)
	return core.SchedulingProposal{
		ProposalID:      id,
		FromAgentID:     "agent-a",
		ToAgentID:       "agent-b",
		Title:           "planning",
		ProposedTimes:   []core.AvailabilitySlot{core.NewSlot(start, start.Add(time.Hour))},
		Participants:    []string{"alice", "bob"},
		DurationMinutes: 60,
		Priority:        core.PriorityNormal,
		CreatedAt:       start,
	}
}

func TestInMemoryProposalLifecycle(t *testing.T) {
	m := NewInMemory()
	p := sampleProposal("p1")

	if err := m.SaveProposal(p, core.ProposalReceived); err != nil {
		t.Fatalf("SaveProposal: %v", err)
	}
	got, status, err := m.Proposal("p1")
	if err != nil {
		t.Fatalf("Proposal: %v", err)
	}
	if status != core.ProposalReceived || got.Title != "planning" {
		t.Fatalf("got %q status %q", got.Title, status)
	}

	if err := m.UpdateProposalStatus("p1", core.ProposalAccepted); err != nil {
		t.Fatalf("UpdateProposalStatus: %v", err)
	}
	_, status, _ = m.Proposal("p1")
	if status != core.ProposalAccepted {
		t.Fatalf("status = %q after update", status)
	}

	if err := m.UpdateProposalStatus("missing", core.ProposalDeclined); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, _, err := m.Proposal("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInMemoryListProposals(t *testing.T) {
	m := NewInMemory()
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := m.SaveProposal(sampleProposal(id), core.ProposalReceived); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.UpdateProposalStatus("p2", core.ProposalAccepted); err != nil {
		t.Fatal(err)
	}

	received, err := m.ListProposals(core.ProposalReceived)
	if err != nil {
		t.Fatal(err)
	}
	if len(received) != 2 || received[0].ProposalID != "p1" || received[1].ProposalID != "p3" {
		t.Fatalf("received = %+v", received)
	}

	all, err := m.ListProposals("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ProposalID != "p1" {
		t.Fatalf("all = %+v, want insertion order", all)
	}
}

func TestInMemoryExpirePendingProposals(t *testing.T) {
	m := NewInMemory()
	now := time.Date(2024, time.January, 8, 12, 0, 0, 0, time.UTC)

	stale := sampleProposal("stale")
	stale.Deadline = now.Add(-time.Hour)
	fresh := sampleProposal("fresh")
	fresh.Deadline = now.Add(time.Hour)
	settled := sampleProposal("settled")
	settled.Deadline = now.Add(-time.Hour)
	open := sampleProposal("open") // no deadline at all

	for _, p := range []core.SchedulingProposal{stale, fresh, settled, open} {
		if err := m.SaveProposal(p, core.ProposalReceived); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.UpdateProposalStatus("settled", core.ProposalAccepted); err != nil {
		t.Fatal(err)
	}

	expired, err := m.ExpirePendingProposals(now)
	if err != nil {
		t.Fatalf("ExpirePendingProposals: %v", err)
	}
	if len(expired) != 1 || expired[0] != "stale" {
		t.Fatalf("expired = %v, want only the stale pending proposal", expired)
	}
	_, status, _ := m.Proposal("stale")
	if status != core.ProposalError {
		t.Fatalf("stale status = %q, want error", status)
	}
	_, status, _ = m.Proposal("settled")
	if status != core.ProposalAccepted {
		t.Fatalf("settled proposal must not be touched, got %q", status)
	}
}

func TestInMemoryObservationsAndFeedback(t *testing.T) {
	m := NewInMemory()
	start := time.Date(2024, time.January, 8, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := m.AppendObservation(core.MeetingObservation{
			UserID:          "alice",
			Start:           start.AddDate(0, 0, i),
			DurationMinutes: 30,
			Accepted:        true,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	obs, err := m.ObservationsForUser("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 3 {
		t.Fatalf("got %d observations", len(obs))
	}
	if other, _ := m.ObservationsForUser("bob"); len(other) != 0 {
		t.Fatalf("bob has %d observations", len(other))
	}

	if err := m.AppendFeedback(core.MeetingFeedback{UserID: "alice", Rating: 2}); err != nil {
		t.Fatal(err)
	}
	fb, err := m.FeedbackForUser("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(fb) != 1 || fb[0].Rating != 2 {
		t.Fatalf("feedback = %+v", fb)
	}
}

func TestInMemoryRecentConflicts(t *testing.T) {
	m := NewInMemory()
	for i := 1; i <= 5; i++ {
		err := m.AppendConflict(core.ConflictAnalysis{Type: "time_overlap", Severity: i})
		if err != nil {
			t.Fatal(err)
		}
	}
	recent, err := m.RecentConflicts(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Severity != 4 || recent[1].Severity != 5 {
		t.Fatalf("recent = %+v, want the two newest", recent)
	}
}

func TestSweeperNotifiesOnExpiry(t *testing.T) {
	m := NewInMemory()
	p := sampleProposal("late")
	p.Deadline = time.Now().UTC().Add(-time.Minute)
	if err := m.SaveProposal(p, core.ProposalReceived); err != nil {
		t.Fatal(err)
	}

	notified := make(chan string, 1)
	sw := NewSweeper(m, nil, time.Hour, func(id string) { notified <- id })
	sw.Start(t.Context())
	defer sw.Stop()

	select {
	case id := <-notified:
		if id != "late" {
			t.Fatalf("notified for %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not notify")
	}
	_, status, _ := m.Proposal("late")
	if status != core.ProposalError {
		t.Fatalf("status = %q after sweep", status)
	}
}
