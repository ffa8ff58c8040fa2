package comms

import (
	"sync"
	"time"

	"github.com/mistakeknot/concord/internal/wire"
)

// SessionStatus is the lifecycle state of a conversation session. Sessions
// open active; closure is driven by callers, never inferred here.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionTimeout   SessionStatus = "timeout"
)

// ConversationSession groups the messages of one multi-turn exchange.
// Participants are in first-seen order, so the initiator comes first.
type ConversationSession struct {
	ID           string
	Topic        string
	Status       SessionStatus
	Participants []string
	Messages     []wire.Message
	CreatedAt    time.Time
	LastActivity time.Time
}

// sessionLog tracks conversation sessions keyed by conversation ID.
type sessionLog struct {
	mu       sync.Mutex
	sessions map[string]*ConversationSession
	now      func() time.Time
}

func newSessionLog(now func() time.Time) *sessionLog {
	return &sessionLog{
		sessions: make(map[string]*ConversationSession),
		now:      now,
	}
}

// append records msg under its conversation, creating the session on first
// sight. Messages without a conversation ID are not tracked.
func (l *sessionLog) append(msg wire.Message) {
	if msg.ConversationID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	sess, ok := l.sessions[msg.ConversationID]
	if !ok {
		sess = &ConversationSession{
			ID:        msg.ConversationID,
			Status:    SessionActive,
			CreatedAt: now,
		}
		l.sessions[msg.ConversationID] = sess
	}
	if sess.Topic == "" {
		if topic, ok := msg.Payload["topic"].(string); ok {
			sess.Topic = topic
		}
	}
	sess.Messages = append(sess.Messages, msg)
	sess.LastActivity = now
	sess.Participants = addParticipant(sess.Participants, msg.FromAgentID)
	sess.Participants = addParticipant(sess.Participants, msg.ToAgentID)
}

func addParticipant(list []string, id string) []string {
	if id == "" {
		return list
	}
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// close marks a session's terminal status. The session itself stays until
// prune retires it.
func (l *sessionLog) close(conversationID string, status SessionStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[conversationID]
	if !ok {
		return false
	}
	sess.Status = status
	sess.LastActivity = l.now().UTC()
	return true
}

// session returns a copy of one conversation, if present.
func (l *sessionLog) session(conversationID string) (ConversationSession, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[conversationID]
	if !ok {
		return ConversationSession{}, false
	}
	out := *sess
	out.Messages = make([]wire.Message, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	out.Participants = append([]string(nil), sess.Participants...)
	return out, true
}

// prune drops sessions idle since before cutoff and returns how many were
// removed.
func (l *sessionLog) prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, sess := range l.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(l.sessions, id)
			removed++
		}
	}
	return removed
}
