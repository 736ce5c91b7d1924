// Package session holds per-call conversation state: the full transcript log
// and the bounded working window derived from it for prompting.
package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
)

// Message roles as stored in the transcript.
const (
	RoleCaller = "caller"
	RoleAgent  = "agent"
)

// Message is one transcript entry. Immutable once appended.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the conversation state for one call. The messages slice is the
// full append-only log; the working window used for prompting is derived from
// its tail on each read and never stored separately.
type Session struct {
	CallSID      string
	TenantID     string
	CreatedAt    time.Time
	LastActivity time.Time

	messages []Message
}

// Messages returns a copy of the full transcript log.
func (s *Session) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Window returns the most recent n messages. The full log is unaffected.
func (s *Session) Window(n int) []Message {
	if n <= 0 || len(s.messages) == 0 {
		return nil
	}
	start := len(s.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out
}

// Len returns the number of messages in the full log.
func (s *Session) Len() int {
	return len(s.messages)
}

// Store is a concurrent-safe keyed map of active conversation sessions.
// Sessions live only for the duration of their call; completed transcripts
// are persisted by the call finalizer before removal.
type Store struct {
	logger   *logrus.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session for a call. Creating a second session for
// the same call is an error: there is exactly one session per call.
func (s *Store) Create(callSID, tenantID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[callSID]; exists {
		return nil, errors.Wrap(errors.ErrSessionAlreadyExist, "create session",
			map[string]interface{}{"call_sid": callSID})
	}

	now := time.Now().UTC()
	sess := &Session{
		CallSID:      callSID,
		TenantID:     tenantID,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[callSID] = sess

	s.logger.WithFields(logrus.Fields{
		"call_sid":  callSID,
		"tenant_id": tenantID,
	}).Info("Created conversation session")

	return sess, nil
}

// Get returns the session for a call, if one exists.
func (s *Store) Get(callSID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[callSID]
	return sess, exists
}

// Append adds a message to a call's transcript log.
func (s *Store) Append(callSID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[callSID]
	if !exists {
		return errors.NewSessionNotFound(callSID)
	}

	now := time.Now().UTC()
	sess.messages = append(sess.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	sess.LastActivity = now
	return nil
}

// Remove deletes a call's session. Removing an unknown call is a no-op.
func (s *Store) Remove(callSID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[callSID]; !exists {
		return
	}
	delete(s.sessions, callSID)

	s.logger.WithField("call_sid", callSID).Info("Removed conversation session")
}

// Count returns the number of active sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
