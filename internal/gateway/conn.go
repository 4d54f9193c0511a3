package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/veilchat/veil/internal/participant"
)

// Conn is one WebSocket client connection. Participant stays empty until the
// client identifies; the write mutex serializes outbound frames.
type Conn struct {
	Participant participant.ID // set after identify
	NetConn     net.Conn
	CreatedAt   time.Time

	writeMu    sync.Mutex
	lastActive time.Time
	activeMu   sync.Mutex
}

// WriteMessage sends a WebSocket text frame to this connection.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.NetConn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame.
func (c *Conn) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.NetConn, ws.NewPingFrame(nil))
}

// Touch records activity, postponing the heartbeat eviction.
func (c *Conn) Touch() {
	c.activeMu.Lock()
	c.lastActive = time.Now()
	c.activeMu.Unlock()
}

// LastActive returns the time of the last observed activity.
func (c *Conn) LastActive() time.Time {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return c.lastActive
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.NetConn.Close()
}

// registry is a thread-safe map of identified connections by participant id.
// A participant reconnecting replaces (and closes) their previous connection.
type registry struct {
	mu    sync.RWMutex
	conns map[participant.ID]*Conn
}

func newRegistry() *registry {
	return &registry{conns: make(map[participant.ID]*Conn)}
}

// bind registers an identified connection, closing any previous one for the
// same participant.
func (r *registry) bind(c *Conn) {
	r.mu.Lock()
	old, ok := r.conns[c.Participant]
	r.conns[c.Participant] = c
	r.mu.Unlock()

	if ok && old != c {
		old.Close()
	}
}

// drop removes the connection if it is still the current one for its
// participant. Reports whether it was removed.
func (r *registry) drop(c *Conn) bool {
	if c.Participant == "" {
		return false
	}
	r.mu.Lock()
	cur, ok := r.conns[c.Participant]
	if ok && cur == c {
		delete(r.conns, c.Participant)
	} else {
		ok = false
	}
	r.mu.Unlock()
	return ok
}

// get returns the current connection for a participant, or nil.
func (r *registry) get(id participant.ID) *Conn {
	r.mu.RLock()
	c := r.conns[id]
	r.mu.RUnlock()
	return c
}

// all returns a snapshot of the identified connections.
func (r *registry) all() []*Conn {
	r.mu.RLock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	return out
}

// count returns the number of identified connections.
func (r *registry) count() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}
