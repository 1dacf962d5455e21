package agentcli

import (
	"sort"
	"sync"
	"time"
)

// Session is the registry's view of one conversation in the external agent.
type Session struct {
	Key string `json:"session_key"`
	// Created is true once a process was started with the create flag for Key.
	Created      bool      `json:"created"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Turns        int       `json:"turns"`
}

type sessionState struct {
	Session
	claimed bool
}

// Registry tracks which session keys the external agent already knows about.
//
// Sessions are never evicted: a key that was created must keep resuming for
// as long as the registry lives, so the map grows with the number of distinct
// conversations until the process restarts.
//
// Abandon assumes no other turn for the key is in flight. A concurrent caller
// that saw Resolve return false before the claim was abandoned would resume a
// session the agent never created; chat.Service runs one turn per key at a
// time through its session lane.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	now      func() time.Time
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
}

// Resolve reports whether key has never been seen. Exactly one caller per
// key observes true; the key is claimed before Resolve returns.
func (r *Registry) Resolve(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	st, ok := r.sessions[key]
	if !ok {
		st = &sessionState{Session: Session{Key: key}}
		r.sessions[key] = st
	}
	st.LastActivity = now
	st.Turns++

	if st.claimed {
		return false
	}
	st.claimed = true
	return true
}

// Confirm marks key as created in the external agent. After Confirm the key
// can no longer be abandoned.
func (r *Registry) Confirm(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[key]
	if !ok {
		st = &sessionState{Session: Session{Key: key}, claimed: true}
		r.sessions[key] = st
	}
	if !st.Created {
		st.Created = true
		st.CreatedAt = r.now()
	}
}

// Abandon releases an unconfirmed claim so the next turn for key creates the
// session again. It is used when no process could be started at all.
func (r *Registry) Abandon(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[key]
	if !ok || st.Created {
		return
	}
	delete(r.sessions, key)
}

// Get returns a copy of the session for key
func (r *Registry) Get(key string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[key]
	if !ok {
		return Session{}, false
	}
	return st.Session, true
}

// Snapshot returns copies of all sessions, most recently active first
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, st := range r.sessions {
		out = append(out, st.Session)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].Key < out[j].Key
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Len returns the number of known session keys
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
