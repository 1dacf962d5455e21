package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster delivers server events to websocket clients
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger.With().Str("module", "gateway.broadcaster").Logger(),
	}
}

// Broadcast sends an event to every connected client
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	msg := b.stamp(EventMessage{Event: event, Stream: StreamTypeLifecycle, Data: data})
	payload, ok := b.encode(msg)
	if !ok {
		return
	}

	sent, failed := 0, 0
	for _, client := range b.clients.All() {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			failed++
			continue
		}
		sent++
	}
	b.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("success", sent).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// SendToClient sends msg to one client. Turn output only ever goes to the
// client that asked the question.
func (b *EventBroadcaster) SendToClient(clientID string, msg EventMessage) bool {
	client, ok := b.clients.Get(clientID)
	if !ok {
		return false
	}
	msg = b.stamp(msg)
	payload, ok := b.encode(msg)
	if !ok {
		return false
	}
	if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
		b.logger.Debug().
			Err(err).
			Str("clientId", clientID).
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("Failed to send event to client")
		return false
	}
	return true
}

func (b *EventBroadcaster) stamp(msg EventMessage) EventMessage {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = int64(atomic.AddUint64(&b.seq, 1))
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return msg
}

func (b *EventBroadcaster) encode(msg EventMessage) ([]byte, bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to marshal event")
		return nil, false
	}
	return payload, true
}
