package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/veilchat/veil/internal/metrics"
	"github.com/veilchat/veil/internal/participant"
)

// ServerConfig holds tunable parameters for the gateway.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      time.Duration // ping interval; stale connections get evicted
	HeartbeatGrace time.Duration // extra slack past the interval before eviction
}

// DefaultServerConfig returns sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      30 * time.Second,
		HeartbeatGrace: 10 * time.Second,
	}
}

// Server accepts WebSocket connections, runs one reader goroutine per
// connection, and bridges NATS participant events back to the wire.
type Server struct {
	config     ServerConfig
	handler    *Handler
	events     Events
	conns      *registry
	httpServer *http.Server
	done       chan struct{}
	closeOnce  sync.Once
	startedAt  time.Time
}

// NewServer creates a Server around a handler and an event source.
func NewServer(config ServerConfig, handler *Handler, events Events) *Server {
	s := &Server{
		config:  config,
		handler: handler,
		events:  events,
		conns:   newRegistry(),
		done:    make(chan struct{}),
	}
	handler.server = s
	return s
}

// Start begins accepting connections and blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.heartbeatLoop()

	log.Printf("[gateway] listening on %s (max_conns=%d)", s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: http server: %w", err)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	c := &Conn{NetConn: netConn, CreatedAt: time.Now()}
	c.Touch()
	go s.readLoop(c)
}

// readLoop reads frames until the connection dies, dispatching data frames
// to the handler. Control frames only refresh the activity clock.
func (s *Server) readLoop(c *Conn) {
	defer s.removeConn(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		header, reader, err := wsutil.NextReader(c.NetConn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.Touch()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			if header.OpCode == ws.OpPing {
				// Answer with a pong frame; payload echo is not required here.
				if err := ws.WriteFrame(c.NetConn, ws.NewPongFrame(nil)); err != nil {
					return
				}
			}
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		s.handler.Handle(c, data)
	}
}

// bindParticipant registers an identified connection and subscribes to its
// participant's event subject.
func (s *Server) bindParticipant(c *Conn) error {
	s.conns.bind(c)

	id := c.Participant
	err := s.events.SubscribeUser(string(id), func(data []byte) {
		s.forwardEvent(id, data)
	})
	if err != nil {
		return fmt.Errorf("gateway: subscribe %s: %w", id, err)
	}
	log.Printf("[gateway] participant %s connected (total=%d)", id, s.conns.count())
	return nil
}

// forwardEvent relays a NATS participant event down the WebSocket.
func (s *Server) forwardEvent(id participant.ID, data []byte) {
	c := s.conns.get(id)
	if c == nil {
		return
	}
	msg, err := translateEvent(data)
	if err != nil {
		log.Printf("[gateway] drop event for %s: %v", id, err)
		return
	}
	if msg == nil {
		return
	}
	s.write(c, msg)
}

func (s *Server) removeConn(c *Conn) {
	if s.conns.drop(c) {
		if err := s.events.UnsubscribeUser(string(c.Participant)); err != nil {
			log.Printf("[gateway] unsubscribe %s: %v", c.Participant, err)
		}
		log.Printf("[gateway] participant %s disconnected (total=%d)", c.Participant, s.conns.count())
	}
	c.Close()
}

// write sends data with the configured write deadline.
func (s *Server) write(c *Conn, data []byte) {
	if s.config.WriteTimeout > 0 {
		_ = c.NetConn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := c.WriteMessage(data); err != nil {
		log.Printf("[gateway] write to %s: %v", c.Participant, err)
	}
	_ = c.NetConn.SetWriteDeadline(time.Time{})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// heartbeatLoop pings identified connections and evicts the ones with no
// activity past the interval plus grace.
func (s *Server) heartbeatLoop() {
	if s.config.Heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := s.config.Heartbeat + s.config.HeartbeatGrace
			now := time.Now()
			for _, c := range s.conns.all() {
				if now.Sub(c.LastActive()) > deadline {
					log.Printf("[gateway] heartbeat timeout for %s", c.Participant)
					s.removeConn(c)
					continue
				}
				if err := c.WritePing(); err != nil {
					s.removeConn(c)
				}
			}
		}
	}
}

// Shutdown stops the listener and closes every connection.
func (s *Server) Shutdown() error {
	log.Printf("[gateway] shutting down")
	s.closeOnce.Do(func() { close(s.done) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[gateway] http shutdown: %v", err)
		}
	}

	for _, c := range s.conns.all() {
		s.removeConn(c)
	}
	log.Printf("[gateway] stopped")
	return nil
}
