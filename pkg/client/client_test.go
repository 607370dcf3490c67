package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// stubGateway is a minimal server end: it records every frame, acks
// send_message, and can drop all sockets to force a reconnect.
type stubGateway struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	upgrades int
	sockets  []*websocket.Conn
	frames   []envelope
}

func (g *stubGateway) handler(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.upgrades++
	g.sockets = append(g.sockets, ws)
	g.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		g.mu.Lock()
		g.frames = append(g.frames, env)
		g.mu.Unlock()

		if env.Type == "send_message" {
			ack := envelope{Type: eventAck, ID: env.ID, Data: json.RawMessage(`{"ok":true,"message":{"content":"hi"}}`)}
			b, _ := json.Marshal(ack)
			_ = ws.WriteMessage(websocket.TextMessage, b)
		}
	}
}

func (g *stubGateway) upgradeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.upgrades
}

func (g *stubGateway) countFrames(event string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, env := range g.frames {
		if env.Type == event {
			n++
		}
	}
	return n
}

func (g *stubGateway) dropAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ws := range g.sockets {
		_ = ws.Close()
	}
	g.sockets = nil
}

func newStub(t *testing.T) (*stubGateway, string) {
	t.Helper()
	g := &stubGateway{}
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	t.Cleanup(srv.Close)
	return g, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestMux(url string, grace time.Duration) *Mux {
	return NewMux(Config{
		URL:           url,
		Token:         func() string { return "tok" },
		TeardownGrace: grace,
		Backoff:       25 * time.Millisecond,
	})
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestThreeConsumersOneConnection(t *testing.T) {
	g, url := newStub(t)
	m := newTestMux(url, time.Second)

	h1 := m.Acquire()
	h2 := m.Acquire()
	h3 := m.Acquire()
	defer h3.Release()

	waitFor(t, m.Connected, "connection")
	if g.upgradeCount() != 1 {
		t.Errorf("3 consumers must share 1 connection, got %d upgrades", g.upgradeCount())
	}

	h1.Release()
	h2.Release()
	time.Sleep(100 * time.Millisecond)
	if !m.Connected() {
		t.Error("connection must stay up while a consumer remains")
	}
	if g.upgradeCount() != 1 {
		t.Errorf("no reconnects expected, got %d upgrades", g.upgradeCount())
	}
}

func TestTeardownDeferredAndCancellable(t *testing.T) {
	_, url := newStub(t)
	m := newTestMux(url, 150*time.Millisecond)

	h := m.Acquire()
	waitFor(t, m.Connected, "connection")

	h.Release()
	// Teardown is scheduled, not immediate.
	if !m.Connected() {
		t.Fatal("release must not close the connection immediately")
	}

	// A remount within the grace window cancels the close.
	h2 := m.Acquire()
	time.Sleep(300 * time.Millisecond)
	if !m.Connected() {
		t.Error("remount within the grace window must keep the connection")
	}

	h2.Release()
	waitFor(t, func() bool { return !m.Connected() }, "deferred teardown")
}

func TestReleaseIsIdempotent(t *testing.T) {
	_, url := newStub(t)
	m := newTestMux(url, time.Second)

	h1 := m.Acquire()
	h2 := m.Acquire()
	h1.Release()
	h1.Release()

	if m.Refs() != 1 {
		t.Errorf("double release must not drop another consumer, refs=%d", m.Refs())
	}
	h2.Release()
}

func TestReconnectResumesCurrentRoom(t *testing.T) {
	g, url := newStub(t)
	m := newTestMux(url, time.Second)

	h := m.Acquire()
	defer h.Release()
	waitFor(t, m.Connected, "connection")

	if err := h.JoinRoom("r1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return g.countFrames(eventJoinRoom) == 1 }, "initial join")

	g.dropAll()
	waitFor(t, func() bool { return g.upgradeCount() == 2 }, "reconnect")
	// The join for r1 is re-issued without caller action.
	waitFor(t, func() bool { return g.countFrames(eventJoinRoom) == 2 }, "resumed join")
}

func TestSendMessageResolvedByAck(t *testing.T) {
	_, url := newStub(t)
	m := newTestMux(url, time.Second)

	h := m.Acquire()
	defer h.Release()
	waitFor(t, m.Connected, "connection")

	ch, err := h.SendMessage(SendMessagePayload{ChatID: "r1", Content: "hi", SenderID: "u1", ReceiverID: "u2"})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-ch:
		if !res.OK {
			t.Errorf("ack should resolve ok, got %+v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("send result never resolved")
	}
}

func TestSendMessagePreflightWhenDisconnected(t *testing.T) {
	m := NewMux(Config{
		URL:   "ws://127.0.0.1:1/api/ws/chat",
		Token: func() string { return "" }, // no credential, never dials
	})
	h := m.Acquire()
	defer h.Release()

	if _, err := h.SendMessage(SendMessagePayload{}); err != ErrNotConnected {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestPendingSendsFailOnDrop(t *testing.T) {
	g, url := newStub(t)
	m := newTestMux(url, time.Second)

	h := m.Acquire()
	defer h.Release()
	waitFor(t, m.Connected, "connection")

	// Register a pending send directly so no ack races the drop.
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	ch := make(chan SendResult, 1)
	m.pending[id] = ch
	m.mu.Unlock()

	g.dropAll()

	select {
	case res := <-ch:
		if res.OK {
			t.Error("a dropped connection must resolve pending sends as failed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pending send never resolved after drop")
	}
}

func TestTypingThrottle(t *testing.T) {
	g, url := newStub(t)
	m := NewMux(Config{
		URL:            url,
		Token:          func() string { return "tok" },
		TypingInterval: time.Hour,
		Backoff:        25 * time.Millisecond,
	})

	h := m.Acquire()
	defer h.Release()
	waitFor(t, m.Connected, "connection")

	if err := h.SetTyping("r1", true); err != nil {
		t.Fatal(err)
	}
	if err := h.SetTyping("r1", true); err != nil {
		t.Fatal(err)
	}
	// typing=false bypasses the throttle.
	if err := h.SetTyping("r1", false); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return g.countFrames("typing_set") == 2 }, "typing frames")
	time.Sleep(100 * time.Millisecond)
	if got := g.countFrames("typing_set"); got != 2 {
		t.Errorf("second typing=true must be throttled, got %d frames", got)
	}
}

func TestHandlersSharedAcrossConsumers(t *testing.T) {
	g, url := newStub(t)
	m := newTestMux(url, time.Second)

	h1 := m.Acquire()
	h2 := m.Acquire()
	defer h1.Release()
	defer h2.Release()
	waitFor(t, m.Connected, "connection")

	var mu sync.Mutex
	got := 0
	for _, h := range []*Handle{h1, h2} {
		if err := h.On("new_message", func(json.RawMessage) {
			mu.Lock()
			got++
			mu.Unlock()
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Push one event from the server side.
	g.mu.Lock()
	ws := g.sockets[0]
	g.mu.Unlock()
	b, _ := json.Marshal(envelope{Type: "new_message", Data: json.RawMessage(`{"content":"hi"}`)})
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 2
	}, "both subscribers invoked")
}

func TestReleasedHandleCannotSubscribe(t *testing.T) {
	_, url := newStub(t)
	m := newTestMux(url, time.Second)

	h := m.Acquire()
	h.Release()

	if err := h.On("new_message", func(json.RawMessage) {}); err != ErrReleased {
		t.Errorf("got %v, want ErrReleased", err)
	}
}
