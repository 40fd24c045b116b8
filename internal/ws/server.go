// Package ws is the WebSocket transport. It upgrades HTTP connections
// with gobwas/ws, watches them with epoll, reads frames on a bounded
// worker pool, and hands parsed messages to the dispatcher. The package
// knows nothing about matchmaking; connect and disconnect events are
// reported through callbacks into the core.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/strangr/chat-server/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server accepts WebSocket connections and pumps their frames into the
// message callback. Connection lifecycle is reported through OnConnect
// (must succeed for the connection to stay) and OnDisconnect.
type Server struct {
	config     ServerConfig
	poller     *epoller
	conns      *connTable
	workerPool chan struct{} // semaphore limiting concurrent read workers
	onMessage  func(conn *Connection, data []byte)

	onConnect    func(connID string) error
	onDisconnect func(connID string)

	httpServer *http.Server
	extra      map[string]http.Handler // additional HTTP routes
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server with the given configuration and message
// callback. onMessage is called from a worker goroutine for every
// complete text frame.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		conns:      newConnTable(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		extra:      make(map[string]http.Handler),
		done:       make(chan struct{}),
	}
}

// SetOnConnect registers the callback run after a successful upgrade,
// before any frame is read. A non-nil error rejects the connection.
func (s *Server) SetOnConnect(fn func(connID string) error) {
	s.onConnect = fn
}

// SetOnDisconnect registers the callback run whenever a connection is
// removed (read error, heartbeat timeout, or graceful close).
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// HandleHTTP mounts an additional HTTP route on the server's listener
// (metrics, admin API). Must be called before Start.
func (s *Server) HandleHTTP(pattern string, h http.Handler) {
	s.extra[pattern] = h
}

// Start initializes the poller, configures the HTTP server, and begins
// accepting connections. It blocks until the listener stops.
func (s *Server) Start() error {
	var err error
	s.poller, err = newEpoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	for pattern, h := range s.extra {
		mux.Handle(pattern, h)
	}

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.eventLoop()
	startHeartbeat(s, defaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection,
// assigns it an id, registers it with the core, and greets the client
// with session_created.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	connID := uuid.New().String()
	c := &Connection{
		ID:        connID,
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	if s.onConnect != nil {
		if err := s.onConnect(connID); err != nil {
			log.Printf("ws: rejecting connection %s: %v", connID, err)
			conn.Close()
			return
		}
	}

	s.conns.Add(c)
	if err := s.poller.Add(conn); err != nil {
		log.Printf("ws: poller add failed for connection %s: %v", connID, err)
		s.removeConnection(c)
		return
	}

	greeting, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		ConnectionID: connID,
	})
	if err != nil {
		log.Printf("ws: failed to build session_created for %s: %v", connID, err)
	} else if err := c.WriteMessage(greeting); err != nil {
		log.Printf("ws: failed to send session_created to %s: %v", connID, err)
	}

	log.Printf("ws: new connection id=%s fd=%d (total=%d)", connID, c.Fd, s.conns.Count())
}

// handleHealth reports liveness, connection count, and uptime as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// eventLoop runs the poller wait loop, dispatching each ready connection
// to a worker goroutine bounded by the pool semaphore.
func (s *Server) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: poller wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.readFrame(conn)
			}()
		}
	}
}

// readFrame reads a single WebSocket frame from a ready connection.
// Control frames are handled without blocking on a data frame that may
// never arrive. Read failures remove the connection.
func (s *Server) readFrame(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered polling.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means no data was actually pending (stale poll
		// dispatch); the heartbeat handles genuinely dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.removeConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastPing = time.Now()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.removeConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.removeConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// removeConnection removes a connection from the poller and the table,
// closes the socket, and fires the disconnect callback exactly once.
func (s *Server) removeConnection(c *Connection) {
	_ = s.poller.Remove(c.Conn)

	if !s.conns.Remove(c.ID) {
		return
	}

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	log.Printf("ws: connection closed id=%s (total=%d)", c.ID, s.conns.Count())
}

// Kick closes the connection with the given id, firing the normal
// disconnect path. Unknown ids are ignored.
func (s *Server) Kick(id string) {
	if c := s.conns.Get(id); c != nil {
		s.removeConnection(c)
	}
}

// SendMessage writes a text frame to the connection identified by id.
func (s *Server) SendMessage(id string, data []byte) error {
	c := s.conns.Get(id)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", id)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	// Clear the deadline so it does not affect heartbeat pings.
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// Connections exposes the connection table to the heartbeat monitor.
func (s *Server) Connections() int {
	return s.conns.Count()
}

// Shutdown stops the listener, the event loop, and every connection.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	for _, c := range s.conns.All() {
		_ = s.poller.Remove(c.Conn)
		c.Close()
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR reports whether err is an interrupted syscall, expected during
// signal handling and safe to retry.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
