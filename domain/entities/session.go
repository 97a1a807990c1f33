package entities

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MaxHistory bounds the conversation history kept per session. Older
// messages are discarded first.
const MaxHistory = 50

// Message represents a single message in a conversation
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Session represents one logical conversation. It lives in memory for the
// process lifetime and is owned by its session store; the mutex only
// guards the case where the REST surface and a WebSocket connection share
// a session id.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	mu           sync.Mutex
	lastActiveAt time.Time
	messages     []Message
}

// NewSession creates a session. An empty id gets a generated one.
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		lastActiveAt: now,
	}
}

// AddMessage appends a message and trims history to MaxHistory.
func (s *Session) AddMessage(role MessageRole, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(s.messages) > MaxHistory {
		s.messages = s.messages[len(s.messages)-MaxHistory:]
	}
	s.lastActiveAt = time.Now()
}

// History returns a copy of the conversation history, oldest first.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the number of stored messages.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops the conversation history but keeps the session alive.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.lastActiveAt = time.Now()
}

// LastActiveAt reports when the session last saw activity.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// Touch refreshes the activity timestamp without mutating history.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}
