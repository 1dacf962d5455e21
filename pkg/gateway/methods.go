package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harun/alzassist/internal/tracing"
	"github.com/harun/alzassist/pkg/agentcli"
	"github.com/harun/alzassist/pkg/chat"
)

// registerBuiltinMethods registers the chat methods served over /ws and /rpc
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("chat.send", s.handleChatSend)
	_ = s.router.RegisterMethod("chat.history", s.handleChatHistory)
	_ = s.router.RegisterMethod("chat.samples", func(context.Context, *RPCRequest) (interface{}, error) {
		return map[string]interface{}{"questions": s.chat.SampleQuestions()}, nil
	})
	_ = s.router.RegisterMethod("sessions.list", func(context.Context, *RPCRequest) (interface{}, error) {
		return map[string]interface{}{"sessions": s.chat.Sessions()}, nil
	})
	_ = s.router.RegisterMethod("clients.list", func(context.Context, *RPCRequest) (interface{}, error) {
		return map[string]interface{}{"clients": s.clients.Snapshot()}, nil
	})
}

// handleChatSend runs one turn. Over a websocket every output line is
// streamed to the requesting client as a turn.line event before the
// response arrives.
func (s *Server) handleChatSend(ctx context.Context, req *RPCRequest) (interface{}, error) {
	message, err := stringParam(req.Params, "message", true)
	if err != nil {
		return nil, err
	}
	sessionKey, err := stringParam(req.Params, "session_key", false)
	if err != nil {
		return nil, err
	}
	if sessionKey == "" {
		// chosen here so streamed events can name the session
		sessionKey = uuid.NewString()
	}
	requestID := req.IdempotencyKey
	if requestID == "" {
		if requestID, err = stringParam(req.Params, "request_id", false); err != nil {
			return nil, err
		}
	}

	send := chat.SendRequest{
		SessionKey: sessionKey,
		Message:    message,
		RequestID:  requestID,
	}

	if clientID := tracing.GetClientID(ctx); clientID != "" {
		defer s.clients.BeginTurn(clientID, sessionKey)()
		traceID := tracing.GetTraceID(ctx)
		send.Sink = func(line agentcli.Line) {
			s.broadcaster.SendToClient(clientID, EventMessage{
				Event:     "turn.line",
				Stream:    streamType(line.Stream),
				Data:      map[string]interface{}{"text": line.Text},
				TraceID:   traceID,
				RequestID: req.ID,
				Session:   sessionKey,
			})
		}
		send.OnQueued = func(wait time.Duration, position int) {
			s.broadcaster.SendToClient(clientID, EventMessage{
				Event:  "turn.queued",
				Stream: StreamTypeLifecycle,
				Data: map[string]interface{}{
					"waited_ms": wait.Milliseconds(),
					"position":  position,
				},
				TraceID:   traceID,
				RequestID: req.ID,
				Session:   sessionKey,
			})
		}
	}

	reply, err := s.chat.Send(ctx, send)
	if err != nil {
		return nil, err
	}
	return replyPayload(reply), nil
}

func (s *Server) handleChatHistory(_ context.Context, req *RPCRequest) (interface{}, error) {
	key, err := stringParam(req.Params, "session_key", true)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session_key": key,
		"messages":    s.chat.History(key),
	}, nil
}

func replyPayload(reply *chat.Reply) map[string]interface{} {
	return map[string]interface{}{
		"session_key": reply.SessionKey,
		"text":        reply.Text,
		"resumed":     reply.Resumed,
		"duration_ms": reply.Duration.Milliseconds(),
	}
}

func streamType(stream agentcli.Stream) StreamType {
	if stream == agentcli.StreamDiagnostic {
		return StreamTypeTool
	}
	return StreamTypeAssistant
}

func stringParam(params map[string]interface{}, name string, required bool) (string, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		if required {
			return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("missing parameter: %s", name)}
		}
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("parameter %s must be a string", name)}
	}
	return value, nil
}
