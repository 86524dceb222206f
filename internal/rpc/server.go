// Package rpc serves the taskflow manager as JSON-RPC 2.0 over WebSocket.
//
// Every connection is read one message at a time: a request is handled to
// completion and answered before the next message is read. Mutations are
// followed by an mcp.taskUpdated or mcp.projectUpdated notification to every
// connected client. Notifications are best-effort: a client that cannot be
// written to is dropped.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mschirtzinger/taskflow/internal/manager"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8787)
	Addr string

	// WriteTimeout bounds each write to a client (default: 5s)
	WriteTimeout time.Duration

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8787",
		WriteTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[rpc] ", log.LstdFlags),
	}
}

// Server accepts WebSocket connections and dispatches JSON-RPC calls to
// the active manager.
type Server struct {
	addr         string
	writeTimeout time.Duration
	listener     net.Listener
	server       *http.Server

	managers *manager.Switcher
	methods  map[string]handlerFunc

	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	broadcast chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a server that dispatches to managers.Current().
func NewServer(managers *manager.Switcher, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:         config.Addr,
		writeTimeout: config.WriteTimeout,
		managers:     managers,
		clients:      make(map[*websocket.Conn]string),
		broadcast:    make(chan []byte, 100),
		ctx:          ctx,
		cancel:       cancel,
		logger:       config.Logger,
	}
	s.methods = s.methodTable()
	return s
}

// Handler returns the HTTP handler: /health reports status and every other
// path accepts WebSocket connections.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("RPC server listening on ws://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every connection and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping RPC server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("RPC server stopped")
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// TaskUpdated notifies every client that a task changed.
func (s *Server) TaskUpdated(project, taskID string) {
	s.Notify(MethodTaskUpdated, TaskRef{Project: project, TaskID: taskID})
}

// ProjectUpdated notifies every client that a project changed.
func (s *Server) ProjectUpdated(project string) {
	s.Notify(MethodProjectUpdated, ProjectRef{Project: project})
}

// Notify queues a notification for every connected client. It never blocks:
// when the queue is full the notification is dropped.
func (s *Server) Notify(method string, params any) {
	data, err := json.Marshal(Notification{JSONRPC: version, Method: method, Params: params})
	if err != nil {
		s.logger.Printf("Failed to marshal notification: %v", err)
		return
	}
	select {
	case s.broadcast <- data:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping notification")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case data := <-s.broadcast:
			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to notify client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	s.clientsMu.Lock()
	s.clients[conn] = id
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client %s connected (total: %d)", id, count)

	s.readLoop(conn)
}

// readLoop handles one message at a time until the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		resp, notes := s.handleMessage(data)
		out, err := json.Marshal(resp)
		if err != nil {
			s.logger.Printf("Failed to marshal response: %v", err)
			out, _ = json.Marshal(Response{JSONRPC: version, ID: resp.ID, Error: &Error{Code: CodeInternal, Message: "Internal error"}})
		}
		if err := s.write(conn, out); err != nil {
			return
		}
		for _, n := range notes {
			s.Notify(n.Method, n.Params)
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	id, exists := s.clients[conn]
	if !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client %s disconnected (total: %d)", id, count)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"clients":  s.ClientCount(),
		"base_dir": s.managers.Current().BaseDir(),
	})
}

// handleMessage decodes and dispatches one message. It returns the response
// and the notifications the call produced; the caller sends the response
// first.
func (s *Server) handleMessage(data []byte) (Response, []Notification) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{JSONRPC: version, Error: &Error{Code: CodeParseError, Message: "Parse error"}}, nil
	}

	h, ok := s.methods[req.Method]
	if !ok {
		return Response{JSONRPC: version, ID: req.ID, Error: &Error{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}}, nil
	}

	c := &call{params: req.Params}
	result, err := h(s.managers.Current(), c)
	if err != nil {
		return Response{JSONRPC: version, ID: req.ID, Error: toError(err)}, nil
	}
	return Response{JSONRPC: version, ID: req.ID, Result: result}, c.notes
}
