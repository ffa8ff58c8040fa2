package comms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/concord/internal/wire"
)

// sentLog collects outbound messages in delivery order.
type sentLog struct {
	mu   sync.Mutex
	msgs []wire.Message
	err  error
}

func (s *sentLog) send(_ context.Context, msg wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sentLog) wait(t *testing.T, n int) []wire.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.msgs) >= n {
			out := make([]wire.Message, len(s.msgs))
			copy(out, s.msgs)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent messages", n)
	return nil
}

func startRouter(t *testing.T, sent *sentLog, opts ...RouterOption) *Router {
	t.Helper()
	r := NewRouter("agent-a", sent.send, opts...)
	r.Start(t.Context())
	t.Cleanup(r.Stop)
	return r
}

func TestEnqueueDelivers(t *testing.T) {
	sent := &sentLog{}
	r := startRouter(t, sent)

	msg := wire.New("agent-a", "agent-b", wire.TypeStatusUpdate, map[string]any{"status": "online"})
	if err := r.Enqueue(msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got := sent.wait(t, 1)
	if got[0].ID != msg.ID {
		t.Fatalf("delivered %q, want %q", got[0].ID, msg.ID)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	// No Start: nothing drains the queue.
	r := NewRouter("agent-a", (&sentLog{}).send)
	for i := 0; i < queueCapacity; i++ {
		if err := r.Enqueue(wire.New("agent-a", "agent-b", wire.TypeHeartbeat, nil)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	err := r.Enqueue(wire.New("agent-a", "agent-b", wire.TypeHeartbeat, nil))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestHandleInboundQueueFull(t *testing.T) {
	r := NewRouter("agent-a", (&sentLog{}).send)
	for i := 0; i < queueCapacity; i++ {
		if err := r.HandleInbound(wire.New("agent-b", "agent-a", wire.TypeHeartbeat, nil)); err != nil {
			t.Fatalf("HandleInbound %d: %v", i, err)
		}
	}
	err := r.HandleInbound(wire.New("agent-b", "agent-a", wire.TypeHeartbeat, nil))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestDispatchToHandler(t *testing.T) {
	sent := &sentLog{}
	r := startRouter(t, sent)

	handled := make(chan wire.Message, 1)
	r.Handle(wire.TypeStatusUpdate, func(_ context.Context, msg wire.Message) (*wire.Message, error) {
		handled <- msg
		return nil, nil
	})

	msg := wire.New("agent-b", "agent-a", wire.TypeStatusUpdate, map[string]any{"status": "busy"})
	if err := r.HandleInbound(msg); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	select {
	case got := <-handled:
		if got.ID != msg.ID {
			t.Fatalf("handler saw %q, want %q", got.ID, msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestHandlerReplyIsDelivered(t *testing.T) {
	sent := &sentLog{}
	r := startRouter(t, sent)

	r.Handle(wire.TypeAvailabilityRequest, func(_ context.Context, msg wire.Message) (*wire.Message, error) {
		reply := wire.New("agent-a", msg.FromAgentID, wire.TypeAvailabilityResponse,
			map[string]any{"available_slots": []any{}},
			wire.WithConversation(msg.ConversationID))
		return &reply, nil
	})

	req := wire.New("agent-b", "agent-a", wire.TypeAvailabilityRequest, nil,
		wire.WithConversation("conv-1"), wire.WithResponse(0))
	if err := r.HandleInbound(req); err != nil {
		t.Fatal(err)
	}

	got := sent.wait(t, 1)
	if got[0].Type != wire.TypeAvailabilityResponse || got[0].ToAgentID != "agent-b" {
		t.Fatalf("reply = %+v", got[0])
	}
	if got[0].ConversationID != "conv-1" {
		t.Fatalf("reply lost the conversation: %+v", got[0])
	}
}

func TestUnhandledMessageGetsFallbackAck(t *testing.T) {
	sent := &sentLog{}
	r := startRouter(t, sent)

	msg := wire.New("agent-b", "agent-a", wire.TypeMeetingUpdate, nil, wire.WithResponse(0))
	if err := r.HandleInbound(msg); err != nil {
		t.Fatal(err)
	}

	got := sent.wait(t, 1)
	ack := got[0]
	if ack.Type != wire.TypeHeartbeat {
		t.Fatalf("ack type = %q", ack.Type)
	}
	if ack.Payload["ack"] != msg.ID {
		t.Fatalf("ack payload = %+v, want ack: %q", ack.Payload, msg.ID)
	}
}

func TestRequestCompletedByReply(t *testing.T) {
	sent := &sentLog{}
	r := startRouter(t, sent)

	req := wire.New("agent-a", "agent-b", wire.TypeSchedulingProposal, nil,
		wire.WithConversation("conv-9"), wire.WithResponse(time.Minute))
	ch, err := r.Request(req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	sent.wait(t, 1)

	reply := wire.New("agent-b", "agent-a", wire.TypeProposalResponse,
		map[string]any{"status": "accepted"},
		wire.WithConversation("conv-9"))
	if err := r.HandleInbound(reply); err != nil {
		t.Fatal(err)
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			t.Fatalf("response err = %v", resp.Err)
		}
		if resp.Message.Type != wire.TypeProposalResponse {
			t.Fatalf("response = %+v", resp.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never completed")
	}
}

func TestRequestTimesOut(t *testing.T) {
	sent := &sentLog{}
	clock := time.Date(2024, time.January, 8, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	r := startRouter(t, sent, WithRouterClock(now))

	req := wire.New("agent-a", "agent-b", wire.TypeSchedulingProposal, nil, wire.WithResponse(time.Minute))
	req.ExpiresAt = clock.Add(time.Minute)
	ch, err := r.Request(req)
	if err != nil {
		t.Fatal(err)
	}
	sent.wait(t, 1)

	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()
	r.sweepExpired()

	select {
	case resp := <-ch:
		if !errors.Is(resp.Err, ErrResponseTimeout) {
			t.Fatalf("err = %v, want ErrResponseTimeout", resp.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never timed out")
	}
}

func TestDeliverFailureFailsPending(t *testing.T) {
	sent := &sentLog{err: errors.New("peer unreachable")}
	r := startRouter(t, sent)

	req := wire.New("agent-a", "agent-b", wire.TypeSchedulingProposal, nil, wire.WithResponse(time.Minute))
	ch, err := r.Request(req)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case resp := <-ch:
		if resp.Err == nil {
			t.Fatal("expected a send error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed")
	}
}

func TestStopFailsPendingRequests(t *testing.T) {
	sent := &sentLog{}
	r := NewRouter("agent-a", sent.send)
	r.Start(context.Background())

	req := wire.New("agent-a", "agent-b", wire.TypeSchedulingProposal, nil, wire.WithResponse(time.Hour))
	ch, err := r.Request(req)
	if err != nil {
		t.Fatal(err)
	}
	sent.wait(t, 1)

	r.Stop()

	select {
	case resp := <-ch:
		if !errors.Is(resp.Err, ErrRouterStopped) {
			t.Fatalf("err = %v, want ErrRouterStopped", resp.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request survived Stop")
	}

	if err := r.Enqueue(wire.New("agent-a", "agent-b", wire.TypeHeartbeat, nil)); !errors.Is(err, ErrRouterStopped) {
		t.Fatalf("Enqueue after Stop = %v", err)
	}
}

func TestSessionTracking(t *testing.T) {
	sent := &sentLog{}
	r := startRouter(t, sent)

	out := wire.New("agent-a", "agent-b", wire.TypeHandshake, nil, wire.WithConversation("conv-2"))
	if err := r.Enqueue(out); err != nil {
		t.Fatal(err)
	}
	sent.wait(t, 1)

	in := wire.New("agent-b", "agent-a", wire.TypeStatusUpdate, nil, wire.WithConversation("conv-2"))
	if err := r.HandleInbound(in); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		sess, ok := r.Session("conv-2")
		if ok && len(sess.Messages) == 2 {
			if len(sess.Participants) != 2 {
				t.Fatalf("participants = %v", sess.Participants)
			}
			if sess.Participants[0] != "agent-a" || sess.Participants[1] != "agent-b" {
				t.Fatalf("participants = %v, want initiator first", sess.Participants)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session incomplete: %+v ok=%v", sess, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShortResponseWindowTimesOutPromptly(t *testing.T) {
	sent := &sentLog{}
	r := startRouter(t, sent)

	req := wire.New("agent-a", "agent-b", wire.TypeSchedulingProposal, nil,
		wire.WithResponse(500*time.Millisecond))
	ch, err := r.Request(req)
	if err != nil {
		t.Fatal(err)
	}
	sent.wait(t, 1)

	// The expiry sweep ticks every second, so a half-second window must
	// lapse within the next couple of ticks, not some coarse housekeeping
	// interval later.
	select {
	case resp := <-ch:
		if !errors.Is(resp.Err, ErrResponseTimeout) {
			t.Fatalf("err = %v, want ErrResponseTimeout", resp.Err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("half-second response window still pending after 3s")
	}
}

func TestSessionMetadata(t *testing.T) {
	sent := &sentLog{}
	r := startRouter(t, sent)

	// agent-b opens the conversation, so it must lead the participant list
	// even though "agent-a" sorts before it.
	in := wire.New("agent-b", "agent-a", wire.TypeSchedulingProposal,
		map[string]any{"topic": "sprint planning"},
		wire.WithConversation("conv-7"))
	if err := r.HandleInbound(in); err != nil {
		t.Fatal(err)
	}

	var sess ConversationSession
	deadline := time.Now().Add(2 * time.Second)
	for {
		var ok bool
		sess, ok = r.Session("conv-7")
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sess.Status != SessionActive {
		t.Fatalf("status = %q, want active", sess.Status)
	}
	if sess.Topic != "sprint planning" {
		t.Fatalf("topic = %q", sess.Topic)
	}
	if len(sess.Participants) != 2 || sess.Participants[0] != "agent-b" {
		t.Fatalf("participants = %v, want the initiator first", sess.Participants)
	}

	if !r.CloseSession("conv-7", SessionCompleted) {
		t.Fatal("CloseSession reported unknown conversation")
	}
	sess, _ = r.Session("conv-7")
	if sess.Status != SessionCompleted {
		t.Fatalf("status = %q after close, want completed", sess.Status)
	}
	if r.CloseSession("conv-none", SessionFailed) {
		t.Fatal("CloseSession accepted an unknown conversation")
	}
}

func TestSessionPrune(t *testing.T) {
	base := time.Date(2024, time.January, 8, 10, 0, 0, 0, time.UTC)
	log := newSessionLog(func() time.Time { return base })

	log.append(wire.New("agent-a", "agent-b", wire.TypeHandshake, nil, wire.WithConversation("old")))
	if removed := log.prune(base.Add(time.Hour)); removed != 1 {
		t.Fatalf("pruned %d sessions, want 1", removed)
	}
	if _, ok := log.session("old"); ok {
		t.Fatal("pruned session still present")
	}
}
