package chat

import (
	"sync"
	"time"
)

// Role identifies who produced a transcript entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem marks error notices shown in place of an answer
	RoleSystem Role = "system"
)

// Message is one transcript entry
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// transcripts holds the bounded history of every session. Like the agent
// session registry it lives only as long as the process.
type transcripts struct {
	mu       sync.RWMutex
	sessions map[string][]Message
	max      int
	now      func() time.Time
}

func newTranscripts(max int) *transcripts {
	return &transcripts{
		sessions: make(map[string][]Message),
		max:      max,
		now:      time.Now,
	}
}

func (t *transcripts) append(key string, role Role, content string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := Message{Role: role, Content: content, Timestamp: t.now()}
	msgs := append(t.sessions[key], msg)
	if t.max > 0 && len(msgs) > t.max {
		msgs = append([]Message(nil), msgs[len(msgs)-t.max:]...)
	}
	t.sessions[key] = msgs
	return msg
}

func (t *transcripts) get(key string) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	msgs, ok := t.sessions[key]
	if !ok {
		return nil
	}
	return append([]Message(nil), msgs...)
}

func (t *transcripts) count(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions[key])
}
