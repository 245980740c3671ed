// Package dashboard provides a real-time WebSocket server for a running
// session.
//
// The dashboard broadcasts cache changes to connected WebSocket clients,
// accepts external check-for-refresh events and exposes Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/refresh"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeHello is sent to every client once it connects
	MessageTypeHello MessageType = "hello"

	// MessageTypeCacheEvent indicates an entry was set, invalidated, removed or evicted
	MessageTypeCacheEvent MessageType = "cache_event"

	// MessageTypeRefresh indicates a check-for-refresh event was received
	MessageTypeRefresh MessageType = "refresh"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CacheEventData describes one cache change
type CacheEventData struct {
	Event     string `json:"event"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
}

// RefreshData reports the outcome of a check-for-refresh event
type RefreshData struct {
	Reason  string `json:"reason"`
	Started bool   `json:"started"`
}

// Scheduler is the part of refresh.Scheduler the dashboard drives.
type Scheduler interface {
	Trigger(reason string) bool
	State() refresh.State
	Tickets() []refresh.Ticket
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	scheduler Scheduler
	metrics   http.Handler

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *zap.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on; 0 picks a free port
	Port int

	// Host to bind; empty binds loopback only
	Host string

	// Scheduler receives check-for-refresh events. May be nil.
	Scheduler Scheduler

	// Metrics serves /metrics. May be nil.
	Metrics http.Handler

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Port:   8787,
		Host:   "127.0.0.1",
		Logger: zap.NewNop(),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		scheduler: config.Scheduler,
		metrics:   config.Metrics,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		log:       config.Logger.Named("dashboard"),
	}
}

// Routes returns the HTTP handler of the server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /refresh", s.handleRefreshStatus)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Routes(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("dashboard listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dashboard server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("dashboard shutdown: %w", err)
		}
	}

	s.wg.Wait()
	s.log.Info("dashboard stopped")
	return nil
}

// Broadcast sends a message to all connected clients. It never blocks; the
// message is dropped when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.log.Warn("broadcast queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Warn("failed to marshal message", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.log.Debug("failed to send to client", zap.Error(err))
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.log.Debug("client connected", zap.Int("clients", count))

	hello, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, hello)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client leaves. Client
// messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.log.Debug("client disconnected", zap.Int("clients", count))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRefresh is the check-for-refresh event. The body is optional; a
// JSON object with a "reason" field names the sender.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "refresh is not enabled"})
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body)
	}
	if body.Reason == "" {
		body.Reason = "external"
	}

	started := s.scheduler.Trigger(body.Reason)
	data, _ := json.Marshal(RefreshData{Reason: body.Reason, Started: started})
	s.Broadcast(Message{Type: MessageTypeRefresh, Data: data})

	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	writeJSON(w, status, RefreshData{Reason: body.Reason, Started: started})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "refresh is not enabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   s.scheduler.State().String(),
		"tickets": s.scheduler.Tickets(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Stream Dashboard</title>
</head>
<body>
    <h1>Stream Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Refresh status: <a href="/refresh">/refresh</a> (POST to trigger a check)</p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
