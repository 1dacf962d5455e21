package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/alzassist/internal/observability"
	"github.com/harun/alzassist/internal/tracing"
	"github.com/harun/alzassist/pkg/agentcli"
	"github.com/harun/alzassist/pkg/chat"
)

const maxRequestBody = 1 << 20

// loginAttemptsPerMinute bounds password guesses per remote address
const loginAttemptsPerMinute = 10

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Authorize(r); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": err.Error()})
			return
		}
		next(w, r)
	}
}

type loginRequest struct {
	Password string `json:"password"`
}

// handleLogin checks the password and sets a signed session cookie. With no
// password configured it always succeeds.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := remoteIP(r)
	if !s.loginLimiter(ip).Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": "too many login attempts"})
		return
	}

	password, err := readPassword(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	if err := s.auth.CheckPassword(password); err != nil {
		observability.RecordLogin(false)
		observability.RecordLoginAudit(ctx, ip, false)
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Warn().Str("ip", ip).Msg("Login failed")
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": err.Error()})
		return
	}

	token, expires, err := s.auth.IssueToken()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "failed to issue session"})
		return
	}
	http.SetCookie(w, s.auth.SessionCookie(token, expires, s.secureCookies))

	observability.RecordLogin(true)
	observability.RecordLoginAudit(ctx, ip, true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"auth_required": s.auth.Enabled(),
		"expires_at":    expires.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func readPassword(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body loginRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil {
			return "", fmt.Errorf("invalid login body: %w", err)
		}
		return body.Password, nil
	}
	r.Body = io.NopCloser(io.LimitReader(r.Body, maxRequestBody))
	if err := r.ParseForm(); err != nil {
		return "", fmt.Errorf("invalid login form: %w", err)
	}
	return r.PostForm.Get("password"), nil
}

func (s *Server) loginLimiter(ip string) *ClientRateLimiter {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	limiter, ok := s.loginLimiters[ip]
	if !ok {
		limiter = NewClientRateLimiterWithLimits(loginAttemptsPerMinute, 0)
		s.loginLimiters[ip] = limiter
	}
	return limiter
}

// handleRPC handles single-shot HTTP JSON-RPC requests
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, RPCResponse{JSONRPC: "2.0", Error: ToRPCError(err)})
		return
	}

	if !s.beginRequest() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.inFlightReqs.Done()

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()
	if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
		ctx = tracing.WithTraceID(ctx, traceID)
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("requestId", req.ID).
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	writeJSON(w, http.StatusOK, s.router.RouteRequest(ctx, req))
}

type chatStreamRequest struct {
	SessionKey string `json:"session_key"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

// handleChatStream runs one turn and streams it as Server-Sent Events:
// session, then line and queued events while the agent runs, then done or
// error.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body chatStreamRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload(chat.ErrEmptyMessage))
		return
	}
	if body.SessionKey == "" {
		body.SessionKey = uuid.NewString()
	} else if err := chat.ValidateSessionKey(body.SessionKey); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if !s.beginRequest() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.inFlightReqs.Done()

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := &sseWriter{w: w, flusher: flusher}
	defer events.close()

	events.send("session", map[string]interface{}{
		"session_key": body.SessionKey,
		"trace_id":    tracing.GetTraceID(ctx),
	})

	reply, err := s.chat.Send(ctx, chat.SendRequest{
		SessionKey: body.SessionKey,
		Message:    body.Message,
		RequestID:  body.RequestID,
		Sink: func(line agentcli.Line) {
			events.send("line", map[string]interface{}{
				"stream": streamType(line.Stream),
				"text":   line.Text,
			})
		},
		OnQueued: func(wait time.Duration, position int) {
			events.send("queued", map[string]interface{}{
				"waited_ms": wait.Milliseconds(),
				"position":  position,
			})
		},
	})
	if err != nil {
		events.send("error", errorPayload(err))
		return
	}
	events.send("done", replyPayload(reply))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.chat.Sessions()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("session_key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "session_key is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_key": key,
		"messages":    s.chat.History(key),
	})
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": s.chat.SampleQuestions()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":         "ok",
		"clients":        s.clients.Len(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
	if s.shuttingDown() {
		status["status"] = "shutting_down"
	}
	if s.queue != nil {
		status["active_turns"] = s.queue.Active()
		status["lanes"] = s.queue.Stats()
	}
	code := http.StatusOK
	if s.shuttingDown() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func errorPayload(err error) map[string]interface{} {
	payload := map[string]interface{}{
		"kind":  ErrorKind(err),
		"error": err.Error(),
	}
	var failure *agentcli.CommandFailure
	if errors.As(err, &failure) {
		payload["exit_code"] = failure.ExitCode
		payload["detail"] = failure.Detail
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sseWriter serializes events from the turn's stream goroutines and drops
// anything sent after the handler returned
type sseWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

func (e *sseWriter) send(event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	e.flusher.Flush()
}

func (e *sseWriter) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}
