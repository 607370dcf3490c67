package gateway_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/carelink/realtime/internal/adapters/chat"
	"github.com/carelink/realtime/internal/adapters/gateway"
	"github.com/carelink/realtime/internal/adapters/store"
	"github.com/carelink/realtime/internal/app"
	"github.com/carelink/realtime/internal/auth"
	"github.com/carelink/realtime/internal/core"
)

const testSecret = "test-secret"

func signToken(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	claims := auth.Claims{
		Role: "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

type testServer struct {
	srv         *httptest.Server
	revocations *store.MemoryRevocations
	chatCtl     *chat.Controller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	revocations := store.NewMemoryRevocations()
	verifier := auth.NewVerifier(testSecret, revocations)

	conns := gateway.NewConnSet()
	ctl := &chat.Controller{
		Rooms:    app.NewRoomMembership(),
		Presence: app.NewPresenceRegistry(conns),
		Store:    store.NewMemoryMessageStore(),
		Profiles: store.NewStaticProfiles(),
	}
	endpoint := gateway.NewEndpoint("chat", verifier, conns, ctl, 32768)

	r := gin.New()
	ctx, cancel := context.WithCancel(context.Background())
	r.GET("/api/ws/chat", func(c *gin.Context) {
		endpoint.Handle(ctx, c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{srv: srv, revocations: revocations, chatCtl: ctl}
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/ws/chat"
	if token != "" {
		url += "?auth_token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil skips unrelated frames (presence broadcasts arrive at any time)
// until one of the wanted type shows up.
func readUntil(t *testing.T, ws *websocket.Conn, event string) core.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type == event {
			return env
		}
	}
}

func expectRefusal(t *testing.T, ws *websocket.Conn, reason string) {
	t.Helper()
	env := readUntil(t, ws, "error")
	var p struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Error != reason {
		t.Errorf("refusal reason: got %q, want %q", p.Error, reason)
	}
}

func TestHandshakeRefusals(t *testing.T) {
	s := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		expectRefusal(t, s.dial(t, ""), "missing token")
	})
	t.Run("garbage token", func(t *testing.T) {
		expectRefusal(t, s.dial(t, "not-a-jwt"), "invalid token")
	})
	t.Run("expired token", func(t *testing.T) {
		expectRefusal(t, s.dial(t, signToken(t, "u1", -time.Minute)), "token expired")
	})
	t.Run("revoked token", func(t *testing.T) {
		token := signToken(t, "u1", time.Hour)
		s.revocations.Revoke(token)
		expectRefusal(t, s.dial(t, token), "token revoked")
	})
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func send(t *testing.T, ws *websocket.Conn, env core.Envelope) {
	t.Helper()
	if err := ws.WriteJSON(env); err != nil {
		t.Fatal(err)
	}
}

func TestChatRoundTrip(t *testing.T) {
	s := newTestServer(t)

	u1 := s.dial(t, signToken(t, "u1", time.Hour))
	u2 := s.dial(t, signToken(t, "u2", time.Hour))

	join := func(ws *websocket.Conn) {
		data, _ := json.Marshal(map[string]string{"chatId": "u1-u2"})
		send(t, ws, core.Envelope{Type: "join_room", Data: data})
	}
	join(u1)
	join(u2)
	waitFor(t, func() bool { return s.chatCtl.Rooms.MemberCount("u1-u2") == 2 }, "both joins")

	payload, _ := json.Marshal(map[string]string{
		"chatId":     "u1-u2",
		"content":    "hi",
		"senderId":   "u1",
		"receiverId": "u2",
	})
	send(t, u1, core.Envelope{Type: "send_message", ID: 1, Data: payload})

	ack := readUntil(t, u1, "ack")
	if ack.ID != 1 {
		t.Errorf("ack id: got %d, want 1", ack.ID)
	}
	var a struct {
		OK      bool `json:"ok"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(ack.Data, &a); err != nil {
		t.Fatal(err)
	}
	if !a.OK || a.Message.Content != "hi" {
		t.Errorf("ack should carry the delivered message, got %s", ack.Data)
	}

	for _, ws := range []*websocket.Conn{u1, u2} {
		env := readUntil(t, ws, "new_message")
		var msg struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Content != "hi" {
			t.Errorf("new_message content: got %q", msg.Content)
		}
	}
}

func TestPresenceBroadcastOnConnect(t *testing.T) {
	s := newTestServer(t)

	u1 := s.dial(t, signToken(t, "u1", time.Hour))
	// u2 connecting must be announced to u1 without any room in common.
	_ = s.dial(t, signToken(t, "u2", time.Hour))

	// u1 may see its own online event first; keep reading until u2 shows up.
	for {
		env := readUntil(t, u1, "user_status_change")
		var p struct {
			UserID string `json:"userId"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.UserID != "u2" {
			continue
		}
		if p.Status != "online" {
			t.Errorf("expected u2 online broadcast, got %s", env.Data)
		}
		return
	}
}
