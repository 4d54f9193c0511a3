package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/veilchat/veil/internal/msglog"
	"github.com/veilchat/veil/internal/notify"
	"github.com/veilchat/veil/internal/participant"
	"github.com/veilchat/veil/internal/pool"
	"github.com/veilchat/veil/internal/rating"
	"github.com/veilchat/veil/internal/session"
)

type fakeEvents struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
}

func (f *fakeEvents) SubscribeUser(id string, handler func(data []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]func([]byte))
	}
	f.handlers[id] = handler
	return nil
}

func (f *fakeEvents) UnsubscribeUser(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
	return nil
}

func (f *fakeEvents) publish(id string, data []byte) {
	f.mu.Lock()
	h := f.handlers[id]
	f.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// loopbackPublisher feeds published events straight back into the fake event
// bus, standing in for NATS.
type loopbackPublisher struct {
	events *fakeEvents
}

func (p loopbackPublisher) PublishUser(id string, data []byte) error {
	p.events.publish(id, data)
	return nil
}

type gatewayFixture struct {
	handler *Handler
	server  *Server
	events  *fakeEvents
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	events := &fakeEvents{}
	notifier := notify.NewNotifier(loopbackPublisher{events})

	mgr := session.NewManager(session.ManagerConfig{
		Pool:     pool.NewMemoryStore(),
		Sessions: session.NewMemoryStore(),
		Ratings:  rating.NewMemoryStore(),
		Messages: msglog.NewMemoryStore(),
		Snapshots: session.SnapshotFunc(func(_ context.Context, id participant.ID) (participant.Snapshot, error) {
			return participant.Snapshot{ID: id}, nil
		}),
		Notifier: notifier,
	})

	handler := NewHandler(mgr, notifier)
	server := NewServer(DefaultServerConfig(), handler, events)
	t.Cleanup(func() { _ = server.Shutdown() })

	return &gatewayFixture{handler: handler, server: server, events: events}
}

// client is one simulated WebSocket client wired to the handler through a
// net.Pipe.
type client struct {
	conn *Conn
	wire net.Conn
}

func (f *gatewayFixture) connect(t *testing.T, id string) *client {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	c := &Conn{NetConn: serverSide, CreatedAt: time.Now()}
	c.Touch()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})

	cl := &client{conn: c, wire: clientSide}
	// Identify writes nothing on success, so it is safe to run inline.
	f.handler.Handle(c, []byte(`{"type":"identify","id":"`+id+`"}`))
	return cl
}

// send dispatches a raw client frame to the handler in the background so the
// test goroutine is free to read the response from the pipe.
func (cl *client) send(t *testing.T, h *Handler, raw string) {
	t.Helper()
	go h.Handle(cl.conn, []byte(raw))
}

// read returns the next server text frame as a decoded JSON object.
func (cl *client) read(t *testing.T) map[string]interface{} {
	t.Helper()
	_ = cl.wire.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(cl.wire)
	if err != nil {
		t.Fatalf("read server frame: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return m
}

func TestHandlerRequiresIdentify(t *testing.T) {
	f := newGatewayFixture(t)

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()
	c := &Conn{NetConn: serverSide, CreatedAt: time.Now()}
	cl := &client{conn: c, wire: clientSide}

	cl.send(t, f.handler, `{"type":"find_partner"}`)
	msg := cl.read(t)
	if msg["type"] != TypeError || msg["code"] != CodeNotIdentified {
		t.Fatalf("response = %v", msg)
	}
}

func TestHandlerSearchThenMatch(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	alice.send(t, f.handler, `{"type":"find_partner"}`)
	msg := alice.read(t)
	if msg["type"] != TypeSearching {
		t.Fatalf("alice response = %v", msg)
	}

	bob.send(t, f.handler, `{"type":"find_partner"}`)

	// alice hears about the match through her event subject; bob gets the
	// synchronous response.
	aliceMsg := alice.read(t)
	bobMsg := bob.read(t)
	if bobMsg["type"] != TypeMatchFound {
		t.Fatalf("bob response = %v", bobMsg)
	}
	if aliceMsg["type"] != TypeMatchFound {
		t.Fatalf("alice event = %v", aliceMsg)
	}
	if aliceMsg["session_id"] != bobMsg["session_id"] {
		t.Fatalf("session ids differ: %v vs %v", aliceMsg["session_id"], bobMsg["session_id"])
	}
}

func TestHandlerRelayDeliversToPartner(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	alice.send(t, f.handler, `{"type":"find_partner"}`)
	alice.read(t) // searching
	bob.send(t, f.handler, `{"type":"find_partner"}`)
	alice.read(t) // match_found event
	bob.read(t)   // match_found response

	bob.send(t, f.handler, `{"type":"message","kind":"text","text":"hi alice"}`)
	msg := alice.read(t)
	if msg["type"] != TypeMessage || msg["text"] != "hi alice" {
		t.Fatalf("alice received %v", msg)
	}
}

func TestHandlerMessageWithoutChat(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, "alice")

	alice.send(t, f.handler, `{"type":"message","kind":"text","text":"anyone?"}`)
	msg := alice.read(t)
	if msg["type"] != TypeError || msg["code"] != CodeNoActiveChat {
		t.Fatalf("response = %v", msg)
	}
}

func TestHandlerStopOutcomes(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, "alice")

	// Nothing pending: stop reports no active chat.
	alice.send(t, f.handler, `{"type":"stop"}`)
	msg := alice.read(t)
	if msg["type"] != TypeError || msg["code"] != CodeNoActiveChat {
		t.Fatalf("idle stop = %v", msg)
	}

	// Pending search: stop cancels it.
	alice.send(t, f.handler, `{"type":"find_partner"}`)
	alice.read(t)
	alice.send(t, f.handler, `{"type":"stop"}`)
	msg = alice.read(t)
	if msg["type"] != TypeSearchCancelled {
		t.Fatalf("searching stop = %v", msg)
	}
}

func TestHandlerRateFlow(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	alice.send(t, f.handler, `{"type":"find_partner"}`)
	alice.read(t)
	bob.send(t, f.handler, `{"type":"find_partner"}`)
	alice.read(t)
	bobMsg := bob.read(t)
	sessionID := bobMsg["session_id"].(string)

	// Rating an active session is rejected.
	bob.send(t, f.handler, `{"type":"rate","session_id":"`+sessionID+`","value":"positive"}`)
	msg := bob.read(t)
	if msg["type"] != TypeError || msg["code"] != CodeSessionNotEnded {
		t.Fatalf("active rate = %v", msg)
	}

	bob.send(t, f.handler, `{"type":"stop"}`)
	// alice's partner_left event is written before bob's stopped response.
	if msg := alice.read(t); msg["type"] != TypePartnerLeft {
		t.Fatalf("alice event = %v", msg)
	}
	bob.read(t) // stopped

	bob.send(t, f.handler, `{"type":"rate","session_id":"`+sessionID+`","value":"positive"}`)
	msg = bob.read(t)
	if msg["type"] != TypeRateRecorded {
		t.Fatalf("rate = %v", msg)
	}

	// A repeat is rejected without overwriting.
	bob.send(t, f.handler, `{"type":"rate","session_id":"`+sessionID+`","value":"negative"}`)
	msg = bob.read(t)
	if msg["type"] != TypeError || msg["code"] != CodeAlreadyRated {
		t.Fatalf("repeat rate = %v", msg)
	}
}
