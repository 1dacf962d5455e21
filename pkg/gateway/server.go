package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/alzassist/internal/observability"
	"github.com/harun/alzassist/internal/tracing"
	"github.com/harun/alzassist/pkg/chat"
	"github.com/harun/alzassist/pkg/commandqueue"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ChatService is the conversation layer served by the gateway.
// *chat.Service implements it.
type ChatService interface {
	Send(ctx context.Context, req chat.SendRequest) (*chat.Reply, error)
	History(key string) []chat.Message
	Sessions() []chat.SessionSummary
	SampleQuestions() []string
}

// QueueMonitor exposes lane state for health checks and shutdown.
// *commandqueue.CommandQueue implements it.
type QueueMonitor interface {
	Stats() map[string]commandqueue.LaneStats
	Active() int
	WaitForActive(ctx context.Context) bool
}

// Server is the HTTP and websocket front-end
type Server struct {
	host           string
	port           int
	server         *http.Server
	handler        http.Handler
	listener       net.Listener
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	router         *RPCRouter
	auth           *Authenticator
	broadcaster    *EventBroadcaster
	chat           ChatService
	queue          QueueMonitor
	secureCookies  bool
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	baseCtx        context.Context
	cancelBase     context.CancelFunc
	loginMu        sync.Mutex
	loginLimiters  map[string]*ClientRateLimiter
	startedAt      time.Time
}

// Config holds server configuration
type Config struct {
	Host string
	// Port 0 picks a free port; see Addr.
	Port  int
	Chat  ChatService
	Queue QueueMonitor
	// PasswordHash is a bcrypt hash; empty leaves the server open.
	PasswordHash  string
	StorageSecret string
	SessionTTL    time.Duration
	SecureCookies bool
	Logger        zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.StorageSecret == "" {
		return nil, fmt.Errorf("storage secret is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}

	observability.EnsureRegistered()

	logger := cfg.Logger.With().Str("module", "gateway").Logger()
	clients := NewClientRegistry()
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		host:          cfg.Host,
		port:          cfg.Port,
		clients:       clients,
		router:        NewRPCRouter(),
		auth:          NewAuthenticator(cfg.PasswordHash, cfg.StorageSecret, cfg.SessionTTL),
		broadcaster:   NewEventBroadcaster(clients, cfg.Logger),
		chat:          cfg.Chat,
		queue:         cfg.Queue,
		secureCookies: cfg.SecureCookies,
		logger:        logger,
		baseCtx:       baseCtx,
		cancelBase:    cancel,
		loginLimiters: make(map[string]*ClientRateLimiter),
		startedAt:     time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the session cookie is SameSite=Lax, so a foreign origin cannot log in
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.registerBuiltinMethods()
	s.handler = s.routes()

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/ws", s.requireAuth(s.handleWebSocket))
	mux.HandleFunc("/rpc", s.requireAuth(s.handleRPC))
	mux.HandleFunc("/api/chat", s.requireAuth(s.handleChatStream))
	mux.HandleFunc("/api/sessions", s.requireAuth(s.handleSessions))
	mux.HandleFunc("/api/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("/api/samples", s.requireAuth(s.handleSamples))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}

// Handler returns the HTTP handler serving every endpoint
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("auth_required", s.auth.Enabled()).
		Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the listening address once Start succeeded
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, waits for running turns until ctx
// ends, then aborts whatever is left and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, aborting running turns")
	}
	if s.queue != nil && !s.queue.WaitForActive(ctx) {
		s.logger.Warn().Int("active", s.queue.Active()).Msg("Queued turns still running at shutdown")
	}

	s.cancelBase()
	for _, client := range s.clients.All() {
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(closeCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// beginRequest registers a request that must finish before shutdown
func (s *Server) beginRequest() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		return false
	}
	s.inFlightReqs.Add(1)
	return true
}

// requestContext ties ctx to the server lifetime so shutdown can abort turns
func (s *Server) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.baseCtx, cancel)
	return tracing.NewRequestContext(ctx), func() {
		stop()
		cancel()
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    remoteIP(r),
		RateLimiter:  NewClientRateLimiter(),
		ctx:          tracing.WithClientID(ctx, clientID),
		cancel:       cancel,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", client.IPAddress).
		Msg("Client connected")

	s.broadcaster.SendToClient(clientID, EventMessage{
		Event:  "connected",
		Stream: StreamTypeLifecycle,
		Data: map[string]interface{}{
			"client_id": clientID,
			"methods":   s.router.GetMethods(),
		},
	})

	go s.handleClient(client)
}

// handleClient reads requests until the connection closes. Turns still
// running for the client are aborted when it disconnects.
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.cancel()
		_ = client.Conn.Close()
		abandoned := s.clients.Remove(client.ID)
		event := s.logger.Info().Str("clientId", client.ID)
		if len(abandoned) > 0 {
			event = event.Strs("abortedSessions", abandoned)
		}
		event.Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("WebSocket closed")
			}
			return
		}

		s.clients.Touch(client.ID)
		s.handleMessage(client, message)
	}
}

// handleMessage handles a single message from a client
func (s *Server) handleMessage(client *Client, message []byte) {
	req, err := s.router.ParseRequest(message)
	if err != nil {
		s.sendError(client, "", ToRPCError(err))
		return
	}

	allowed, code, reason := client.RateLimiter.Acquire()
	if !allowed {
		s.sendError(client, req.ID, &RPCError{Code: code, Message: reason})
		return
	}
	if !s.beginRequest() {
		client.RateLimiter.Release()
		s.sendError(client, req.ID, &RPCError{Code: InternalError, Message: "server is shutting down"})
		return
	}

	go func() {
		defer client.RateLimiter.Release()
		defer s.inFlightReqs.Done()

		ctx := tracing.NewRequestContext(client.ctx)
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().Str("requestId", req.ID).Str("method", req.Method).Msg("Gateway received RPC request")

		response := s.router.RouteRequest(ctx, req)
		if err := client.WriteJSON(response); err != nil {
			logger.Debug().
				Err(err).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, rpcErr *RPCError) {
	response := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error:   rpcErr,
	}
	if err := client.WriteJSON(response); err != nil {
		s.logger.Debug().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// Broadcast sends an event to every connected client
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.Snapshot()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
