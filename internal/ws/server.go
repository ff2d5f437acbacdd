// Package ws handles websocket connection management: upgrading HTTP
// connections, maintaining the set of active sockets, and feeding complete
// frames to the session layer. Application semantics (auth, groups, stores)
// live behind the SessionHandler returned by each route's Acceptor.
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

	"github.com/chatbox/realtime/internal/metrics"
)

// ServerConfig holds tunable parameters for the websocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for websocket read operations
	WriteTimeout   time.Duration // timeout for websocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Acceptor decides whether an upgraded connection may stay open. It runs
// right after the websocket handshake; returning an error closes the socket
// immediately with no session attached (the auth gate). On success it
// returns the SessionHandler that owns the connection from then on.
type Acceptor func(conn *Connection, r *http.Request) (SessionHandler, error)

// Server is the websocket server built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections, registers them with an epoll instance for I/O
// readiness notifications, and dispatches ready connections to a bounded
// worker pool for frame reading.
type Server struct {
	config     ServerConfig
	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{} // semaphore limiting concurrent read workers
	mux        *http.ServeMux
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server with the given configuration. Routes are added
// with Accept and Handle before Start.
func NewServer(config ServerConfig) *Server {
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		mux:        http.NewServeMux(),
		done:       make(chan struct{}),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Accept registers a websocket route. Requests to pattern are upgraded and
// gated through the acceptor.
func (s *Server) Accept(pattern string, acceptor Acceptor) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(w, r, acceptor)
	})
}

// Handle registers a plain HTTP route on the server's mux (e.g. /metrics).
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start initializes the epoll instance and begins accepting connections. It
// starts the epoll event loop in a background goroutine and blocks on
// http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.mux,
	}

	go s.startEventLoop()

	// Detect and close dead connections.
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a websocket connection using the
// gobwas/ws zero-copy upgrader, then runs the route's acceptor. The
// handshake has already completed by the time the acceptor runs, so a
// rejection closes the socket right after the upgrade with no registration
// and no session side effects.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, acceptor Acceptor) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:        uuid.New().String(),
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	handler, err := acceptor(c, r)
	if err != nil {
		log.Printf("ws: connection rejected socket=%s path=%s: %v", c.ID, r.URL.Path, err)
		_ = conn.Close()
		return
	}
	c.handler = handler

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("ws: epoll add failed socket=%s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		handler.Closed()
		return
	}

	metrics.ConnectionsActive.Inc()
	log.Printf("ws: new connection socket=%s path=%s fd=%d (total=%d)",
		c.ID, r.URL.Path, c.Fd, s.conns.Count())
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime. Load balancers poll it.
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

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the websocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single websocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed from
// epoll and the connection manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// Don't kill the connection; the heartbeat handles dead ones.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Clear read deadline after successful frame read.
	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastPing = time.Now()

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: connection is alive, nothing else to do.
		return
	}

	// Read data frame payload.
	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	metrics.FramesReceived.Inc()
	if c.handler != nil {
		c.handler.HandleFrame(data)
	}
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, closes the underlying network connection, and runs the session's
// Closed hook. The manager's Remove return value guards against double
// cleanup when multiple goroutines race to remove the same connection
// (e.g. read error + heartbeat timeout), so Closed fires exactly once.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	if !s.conns.Remove(c.ID) {
		return
	}

	metrics.ConnectionsActive.Dec()

	if c.handler != nil {
		c.handler.Closed()
	}

	log.Printf("ws: connection closed socket=%s (total=%d)", c.ID, s.conns.Count())
}

// SendMessage writes a websocket text frame to the connection identified by
// socket ID. It is goroutine-safe thanks to the per-connection write mutex.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	// Clear the write deadline so it doesn't affect heartbeat pings.
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// Connections returns the ConnectionManager for external access to
// connection state (e.g. by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown: it stops the HTTP listener, signals
// the event loop to exit, closes all active connections (running their
// session cleanup), and tears down the epoll instance.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
