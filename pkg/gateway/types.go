package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamType identifies what produced a streamed line
type StreamType string

const (
	// StreamTypeAssistant carries the agent's answer text
	StreamTypeAssistant StreamType = "assistant"
	// StreamTypeTool carries the agent's diagnostic narration of tool calls
	StreamTypeTool StreamType = "tool"
	// StreamTypeLifecycle carries queue and server state changes
	StreamTypeLifecycle StreamType = "lifecycle"
)

// RPCRequest represents a JSON-RPC 2.0 request
type RPCRequest struct {
	ID      string                 `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
	JSONRPC string                 `json:"jsonrpc"`
	// IdempotencyKey lets a reconnecting client retry chat.send safely.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// RPCResponse represents a JSON-RPC 2.0 response
type RPCResponse struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// RPCError represents a JSON-RPC 2.0 error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return e.Message
}

// EventMessage is a server-initiated message
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Stream    StreamType  `json:"stream,omitempty"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Session   string      `json:"session_key,omitempty"`
}

// ClientInfo describes a connected websocket client
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Idle         bool      `json:"idle"`
	ActiveTurns  int       `json:"activeTurns"`
	// Sessions lists the session keys with a turn running for this client.
	Sessions []string `json:"sessions,omitempty"`
}

// RequestHandler handles one RPC method. ctx ends when the client
// disconnects or the server shuts down.
type RequestHandler func(ctx context.Context, req *RPCRequest) (interface{}, error)

// RPC error codes
const (
	ParseError             = -32700
	InvalidRequest         = -32600
	MethodNotFound         = -32601
	InvalidParams          = -32602
	InternalError          = -32603
	AuthenticationRequired = -32001
	RateLimitExceeded      = -32005
	TooManyConcurrent      = -32006

	// agent turn failures
	AgentConfigurationError = -32010
	AgentCommandFailed      = -32011
	AgentStreamIOError      = -32012
	TurnAborted             = -32013
)

// Client is a connected websocket client. Writes are serialized because a
// turn streams lines from two goroutines while responses are written from
// request goroutines.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	RateLimiter  *ClientRateLimiter

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// WriteJSON sends v as one text frame
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteJSON(v)
}

// WriteMessage sends a pre-encoded frame
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteMessage(messageType, data)
}

const writeTimeout = 10 * time.Second
