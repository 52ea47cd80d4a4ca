package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/signal"
)

// fakeEngine is a stand-in media stack for wire-level tests: it negotiates
// instantly and records what the session feeds it.
type fakeEngine struct {
	mu        sync.Mutex
	remoteSet bool
	applied   []string
	closed    bool
}

func (e *fakeEngine) CreateLocalDescription(role session.Role) (signal.Description, error) {
	kind := "offer"
	if role == session.RoleResponder {
		kind = "answer"
	}
	return signal.Description{Type: kind, SDP: "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"}, nil
}

func (e *fakeEngine) ApplyLocalDescription(signal.Description) error { return nil }

func (e *fakeEngine) ApplyRemoteDescription(signal.Description) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteSet = true
	return nil
}

func (e *fakeEngine) AddRemoteCandidate(c signal.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.remoteSet {
		return errors.New("no remote description")
	}
	e.applied = append(e.applied, c.Candidate)
	return nil
}

func (e *fakeEngine) NegotiatedCodec() string                     { return "opus" }
func (e *fakeEngine) OnLocalCandidate(func(signal.Candidate))     {}
func (e *fakeEngine) OnConnectivityChange(func(session.Connectivity)) {}
func (e *fakeEngine) OnRemoteTrack(func(track interface{}))       {}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) appliedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.applied)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func startTestServer(t *testing.T) (*Server, int) {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"

	srv := New(cfg, func() (session.MediaEngine, error) {
		return &fakeEngine{}, nil
	})
	port, err := srv.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, port
}

func dial(t *testing.T, port int, clientID, sessionID string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws/signaling", port)
	if clientID != "" {
		url += "?client_id=" + clientID
		if sessionID != "" {
			url += "&session_id=" + sessionID
		}
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) signal.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msg, err := signal.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return msg
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg signal.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(time.Millisecond)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestServerAcknowledgesConnect(t *testing.T) {
	_, port := startTestServer(t)
	conn := dial(t, port, "dev1", "sess1")

	msg := readMsg(t, conn)
	if msg.Type != signal.TypeConnected {
		t.Fatalf("first message is %q, want %q", msg.Type, signal.TypeConnected)
	}
	if msg.ClientID != "dev1" {
		t.Errorf("ClientID = %q, want %q", msg.ClientID, "dev1")
	}
}

func TestServerAssignsClientID(t *testing.T) {
	_, port := startTestServer(t)
	conn := dial(t, port, "", "")

	msg := readMsg(t, conn)
	if msg.Type != signal.TypeConnected {
		t.Fatalf("first message is %q, want %q", msg.Type, signal.TypeConnected)
	}
	if msg.ClientID == "" {
		t.Error("server did not assign a client identity")
	}
}

func TestServerAnswersPing(t *testing.T) {
	_, port := startTestServer(t)
	conn := dial(t, port, "dev1", "sess1")
	readMsg(t, conn) // connected ack

	writeMsg(t, conn, signal.NewPing(777))

	msg := readMsg(t, conn)
	if msg.Type != signal.TypePong {
		t.Fatalf("got %q, want %q", msg.Type, signal.TypePong)
	}
	if ts := msg.HeartbeatPayload().Timestamp; ts != 777 {
		t.Errorf("pong timestamp = %d, want 777", ts)
	}
}

func TestServerNegotiatesOffer(t *testing.T) {
	srv, port := startTestServer(t)
	conn := dial(t, port, "dev1", "sess1")
	readMsg(t, conn) // connected ack

	writeMsg(t, conn, signal.NewOffer("v=0\r\nclient\r\n"))

	msg := readMsg(t, conn)
	if msg.Type != signal.TypeAnswer {
		t.Fatalf("got %q, want %q", msg.Type, signal.TypeAnswer)
	}
	if d, err := msg.Description(); err != nil || d.Type != "answer" {
		t.Errorf("bad answer payload: %+v, %v", d, err)
	}

	sess, ok := srv.Registry().Get("dev1")
	if !ok {
		t.Fatal("no session registered for dev1")
	}
	if sess.ID() != "sess1" {
		t.Errorf("session ID = %q, want %q", sess.ID(), "sess1")
	}

	// Candidates after the offer flow straight through to the engine.
	writeMsg(t, conn, signal.NewCandidate(signal.Candidate{
		Candidate: "candidate:1 1 UDP 1 10.0.0.1 40000 typ host",
		SDPMid:    "0",
	}))
	waitFor(t, "candidate delivery", func() bool {
		s, ok := srv.Registry().Get("dev1")
		return ok && s.LastActivity().After(time.Time{}) && s.State() == session.StateNegotiating
	})
}

func TestServerRejectsMalformedFrame(t *testing.T) {
	_, port := startTestServer(t)
	conn := dial(t, port, "dev1", "sess1")
	readMsg(t, conn) // connected ack

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readMsg(t, conn)
	if msg.Type != signal.TypeError {
		t.Fatalf("got %q, want %q", msg.Type, signal.TypeError)
	}
}

func TestServerRejectsUnsupportedType(t *testing.T) {
	_, port := startTestServer(t)
	conn := dial(t, port, "dev1", "sess1")
	readMsg(t, conn) // connected ack

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"renegotiate"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readMsg(t, conn)
	if msg.Type != signal.TypeError {
		t.Fatalf("got %q, want %q", msg.Type, signal.TypeError)
	}
}

// TestServerDropsAnswerWithoutSession verifies a protocol-violating answer
// from a client does not allocate a session and media engine just to be
// ignored.
func TestServerDropsAnswerWithoutSession(t *testing.T) {
	srv, port := startTestServer(t)
	conn := dial(t, port, "dev1", "sess1")
	readMsg(t, conn) // connected ack

	writeMsg(t, conn, signal.NewAnswer("v=0\r\nstray\r\n"))

	// The connection stays healthy and no session was created.
	writeMsg(t, conn, signal.NewPing(1))
	msg := readMsg(t, conn)
	if msg.Type != signal.TypePong {
		t.Fatalf("got %q, want %q", msg.Type, signal.TypePong)
	}
	if got := srv.Registry().Len(); got != 0 {
		t.Errorf("Registry().Len() = %d, want 0", got)
	}
}

func TestServerCloseHandshake(t *testing.T) {
	srv, port := startTestServer(t)
	conn := dial(t, port, "dev1", "sess1")
	readMsg(t, conn) // connected ack

	writeMsg(t, conn, signal.NewOffer("v=0\r\nclient\r\n"))
	readMsg(t, conn) // answer

	writeMsg(t, conn, signal.NewClose())
	msg := readMsg(t, conn)
	if msg.Type != signal.TypeClosed {
		t.Fatalf("got %q, want %q", msg.Type, signal.TypeClosed)
	}

	waitFor(t, "session removal", func() bool { return srv.Registry().Len() == 0 })
}

// TestServerResumesSessionAcrossReconnect verifies the core reconnect
// contract: a new WebSocket with the same client identity reaches the same
// peer session instead of restarting negotiation.
func TestServerResumesSessionAcrossReconnect(t *testing.T) {
	srv, port := startTestServer(t)

	conn := dial(t, port, "dev1", "sess1")
	readMsg(t, conn) // connected ack
	writeMsg(t, conn, signal.NewOffer("v=0\r\nclient\r\n"))
	readMsg(t, conn) // answer

	first, ok := srv.Registry().Get("dev1")
	if !ok {
		t.Fatal("no session after offer")
	}

	// Drop the socket; the session must survive the disconnect.
	conn.Close()
	time.Sleep(50 * time.Millisecond)
	if _, ok := srv.Registry().Get("dev1"); !ok {
		t.Fatal("live session destroyed by disconnect")
	}

	conn2 := dial(t, port, "dev1", "sess1")
	readMsg(t, conn2) // connected ack
	writeMsg(t, conn2, signal.NewCandidate(signal.Candidate{
		Candidate: "candidate:2 1 UDP 1 10.0.0.2 40001 typ host",
		SDPMid:    "0",
	}))

	waitFor(t, "same session resumed", func() bool {
		cur, ok := srv.Registry().Get("dev1")
		return ok && cur == first
	})
}

func TestServerCloseIsIdempotent(t *testing.T) {
	srv, port := startTestServer(t)
	conn := dial(t, port, "dev1", "sess1")
	readMsg(t, conn)

	srv.Close()
	srv.Close()
}
