package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/alzassist/pkg/agentcli"
	"github.com/harun/alzassist/pkg/chat"
)

// RPCRouter handles RPC method registration and request routing
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]RequestHandler
}

// NewRPCRouter creates a new RPC router
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]RequestHandler),
	}
}

// RegisterMethod registers an RPC method handler
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = handler
	return nil
}

// UnregisterMethod removes an RPC method handler
func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.methods, name)
}

// ParseRequest parses and validates a JSON-RPC request
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error",
			Data:    err.Error(),
		}
	}

	if req.ID == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing id field",
		}
	}

	if req.Method == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}
	}

	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	return &req, nil
}

// RouteRequest runs the handler registered for req.Method
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return &RPCResponse{
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    InvalidRequest,
				Message: "invalid request",
			},
		}
	}

	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		return &RPCResponse{
			ID:      req.ID,
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    MethodNotFound,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}

	result, err := handler(ctx, req)
	if err != nil {
		return &RPCResponse{
			ID:      req.ID,
			JSONRPC: "2.0",
			Error:   ToRPCError(err),
		}
	}
	return &RPCResponse{
		ID:      req.ID,
		JSONRPC: "2.0",
		Result:  result,
	}
}

// HasMethod checks if a method is registered
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// GetMethods returns all registered method names, sorted
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

// Error kinds reported to clients
const (
	KindConfiguration = "configuration_error"
	KindCommandFailed = "command_failure"
	KindStreamIO      = "stream_io_error"
	KindAborted       = "aborted"
	KindInvalidInput  = "invalid_input"
	KindInternal      = "internal_error"
)

// ErrorKind classifies err for clients
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidSessionKey), errors.Is(err, chat.ErrBlockedMessage):
		return KindInvalidInput
	case errors.Is(err, agentcli.ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, agentcli.ErrCommandFailed):
		return KindCommandFailed
	case errors.Is(err, agentcli.ErrStreamIO):
		return KindStreamIO
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindAborted
	default:
		return KindInternal
	}
}

// ToRPCError converts a handler error into its wire form
func ToRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	kind := ErrorKind(err)
	data := map[string]interface{}{"kind": kind}
	code := InternalError
	switch kind {
	case KindInvalidInput:
		code = InvalidParams
	case KindConfiguration:
		code = AgentConfigurationError
	case KindCommandFailed:
		code = AgentCommandFailed
		var failure *agentcli.CommandFailure
		if errors.As(err, &failure) {
			data["exit_code"] = failure.ExitCode
			data["detail"] = failure.Detail
		}
	case KindStreamIO:
		code = AgentStreamIOError
	case KindAborted:
		code = TurnAborted
	}
	return &RPCError{Code: code, Message: err.Error(), Data: data}
}
