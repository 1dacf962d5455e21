package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/harun/alzassist/internal/observability"
)

// idleAfter marks a websocket client idle in status listings
const idleAfter = 5 * time.Minute

type clientEntry struct {
	client *Client
	// running turns per session key
	turns map[string]int
}

// ClientRegistry tracks open websocket connections and the chat turns each
// of them is waiting on.
type ClientRegistry struct {
	mu      sync.RWMutex
	entries map[string]*clientEntry
	now     func() time.Time
}

// NewClientRegistry creates an empty client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		entries: make(map[string]*clientEntry),
		now:     time.Now,
	}
}

// Add registers a newly connected client
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.entries[client.ID] = &clientEntry{client: client, turns: make(map[string]int)}
	n := len(r.entries)
	r.mu.Unlock()

	observability.SetGatewayClients(n)
}

// Remove forgets a client and returns the session keys it still had turns
// running for. Those turns are aborted with the client's context.
func (r *ClientRegistry) Remove(clientID string) []string {
	r.mu.Lock()
	entry, ok := r.entries[clientID]
	delete(r.entries, clientID)
	n := len(r.entries)
	r.mu.Unlock()

	observability.SetGatewayClients(n)
	if !ok {
		return nil
	}
	return sortedKeys(entry.turns)
}

// Get returns the client with clientID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[clientID]
	if !ok {
		return nil, false
	}
	return entry.client, true
}

// All returns every connected client, oldest connection first
func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.entries))
	for _, entry := range r.entries {
		clients = append(clients, entry.client)
	}
	r.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ConnectedAt.Before(clients[j].ConnectedAt)
	})
	return clients
}

// Len returns the number of connected clients
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Touch records activity from clientID
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[clientID]; ok {
		entry.client.LastActivity = r.now()
	}
}

// BeginTurn records that clientID waits on a turn for sessionKey. The
// returned func ends the record and is safe to call more than once.
func (r *ClientRegistry) BeginTurn(clientID, sessionKey string) func() {
	r.mu.Lock()
	if entry, ok := r.entries[clientID]; ok {
		entry.turns[sessionKey]++
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			entry, ok := r.entries[clientID]
			if !ok {
				return
			}
			if entry.turns[sessionKey] <= 1 {
				delete(entry.turns, sessionKey)
				return
			}
			entry.turns[sessionKey]--
		})
	}
}

// Snapshot describes every connected client, oldest connection first
func (r *ClientRegistry) Snapshot() []ClientInfo {
	r.mu.RLock()
	now := r.now()
	infos := make([]ClientInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		c := entry.client
		active := 0
		for _, n := range entry.turns {
			active += n
		}
		infos = append(infos, ClientInfo{
			ID:           c.ID,
			ConnectedAt:  c.ConnectedAt,
			LastActivity: c.LastActivity,
			IPAddress:    c.IPAddress,
			Idle:         active == 0 && now.Sub(c.LastActivity) > idleAfter,
			ActiveTurns:  active,
			Sessions:     sortedKeys(entry.turns),
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

func sortedKeys(m map[string]int) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
