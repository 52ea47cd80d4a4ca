// Package server hosts the signaling endpoint: it accepts client
// WebSockets, answers heartbeats, and fans inbound signaling into the
// per-client peer sessions held by the registry.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/signal"
	"github.com/voicewire/voicewire/internal/util"
)

// ErrClientOffline is returned when an outbound message has no live
// connection to travel over. Sessions treat candidate drops as benign; ICE
// recovers once the client reconnects.
var ErrClientOffline = errors.New("server: client not connected")

// EngineFactory builds a fresh media engine for each new peer session.
type EngineFactory func() (session.MediaEngine, error)

// Server is the server half of the signaling channel.
type Server struct {
	cfg       config.Config
	engines   EngineFactory
	registry  *session.Registry
	upgrader  websocket.Upgrader
	listener  net.Listener
	closeOnce sync.Once

	mu    sync.Mutex
	conns map[string]*clientConn // clientID → current connection
}

// New creates a server. Nothing listens until Start.
func New(cfg config.Config, engines EngineFactory) *Server {
	s := &Server{
		cfg:     cfg,
		engines: engines,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*clientConn),
	}
	s.registry = session.NewRegistry(s.newSession)
	return s
}

// Registry exposes the session registry, mainly for inspection in tests.
func (s *Server) Registry() *session.Registry { return s.registry }

// Start begins listening on the configured address and serves the
// signaling path. Returns the bound port (useful with ":0").
func (s *Server) Start() (int, error) {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return 0, fmt.Errorf("failed to start signaling server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.SignalingPath, s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	util.LogInfo("signaling server listening on %s%s", listener.Addr(), s.cfg.SignalingPath)
	return port, nil
}

// Close stops the listener, drops every client connection, and tears down
// all sessions. Idempotent.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		conns := make([]*clientConn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.conns = make(map[string]*clientConn)
		s.mu.Unlock()

		for _, c := range conns {
			c.close()
		}
		s.registry.Close()
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection handling
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "webrtc_" + clientID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cc := newClientConn(clientID, sessionID, conn)
	s.register(cc)
	util.LogInfo("client %s connected (session %s)", clientID, sessionID)

	// Acceptance ack carries the (possibly server-assigned) client identity.
	s.reply(cc, signal.NewConnected(clientID))

	go cc.writePump()
	go s.readPump(cc)
}

// register installs cc as the client's current connection, displacing a
// stale one left over from before a reconnect.
func (s *Server) register(cc *clientConn) {
	s.mu.Lock()
	old := s.conns[cc.clientID]
	s.conns[cc.clientID] = cc
	s.mu.Unlock()

	if old != nil {
		util.LogDebug("client %s: replacing stale connection", cc.clientID)
		old.close()
	}
}

// unregister removes cc if it is still the client's current connection.
func (s *Server) unregister(cc *clientConn) {
	s.mu.Lock()
	if s.conns[cc.clientID] == cc {
		delete(s.conns, cc.clientID)
	}
	s.mu.Unlock()
}

func (s *Server) readPump(cc *clientConn) {
	defer func() {
		s.unregister(cc)
		cc.close()
		util.LogInfo("client %s disconnected", cc.clientID)
		// The session stays registered so a reconnect with the same
		// identity resumes it; Remove only acts once it is terminal.
		s.registry.Remove(cc.clientID)
	}()

	for {
		cc.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := cc.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, derr := signal.Decode(data)
		if derr != nil {
			util.LogWarning("client %s: %v", cc.clientID, derr)
			s.reply(cc, signal.NewError("invalid message"))
			continue
		}
		util.Stats.AddIn()

		switch msg.Type {
		case signal.TypePing:
			// Always answered immediately; heartbeat must never be gated
			// by negotiation state.
			s.reply(cc, signal.NewPong(msg.HeartbeatPayload().Timestamp))

		case signal.TypePong:
			// The server does not originate pings; tolerate and ignore.

		case signal.TypeClose:
			if sess, ok := s.registry.Get(cc.clientID); ok {
				sess.Close()
			}
			s.reply(cc, signal.NewClosed())
			s.registry.Remove(cc.clientID)

		case signal.TypeOffer, signal.TypeCandidate:
			sess, err := s.registry.GetOrCreate(cc.clientID)
			if err != nil {
				util.LogError("client %s: session create failed: %v", cc.clientID, err)
				s.reply(cc, signal.NewError("session unavailable"))
				continue
			}
			sess.HandleMessage(msg)

		case signal.TypeAnswer:
			// Clients never legitimately answer, so a stray one must not
			// allocate a session and media engine just to be ignored.
			if sess, ok := s.registry.Get(cc.clientID); ok {
				sess.HandleMessage(msg)
			} else {
				util.LogWarning("client %s: answer without a session, dropping", cc.clientID)
			}

		default:
			util.LogWarning("client %s: unsupported message type %q", cc.clientID, msg.Type)
			s.reply(cc, signal.NewError(fmt.Sprintf("unsupported message type: %s", msg.Type)))
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Outbound
// ─────────────────────────────────────────────────────────────────────────────

// reply queues a message on a specific connection.
func (s *Server) reply(cc *clientConn, msg signal.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		util.LogError("marshal signaling message: %v", err)
		return
	}
	cc.enqueue(data)
}

// sendTo routes a session's outbound message to the client's current
// connection, wherever the client is connected right now.
func (s *Server) sendTo(clientID string, msg signal.Message) error {
	s.mu.Lock()
	cc := s.conns[clientID]
	s.mu.Unlock()
	if cc == nil {
		return ErrClientOffline
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal signaling message: %w", err)
	}
	if !cc.enqueue(data) {
		return ErrClientOffline
	}
	return nil
}

// newSession is the registry factory: a Responder session bound to this
// server's outbound path, created on first signaling contact.
func (s *Server) newSession(clientID string) (*session.Session, error) {
	engine, err := s.engines()
	if err != nil {
		return nil, fmt.Errorf("create media engine: %w", err)
	}

	s.mu.Lock()
	sessionID := "webrtc_" + clientID
	if cc := s.conns[clientID]; cc != nil {
		sessionID = cc.sessionID
	}
	s.mu.Unlock()

	sess := session.New(sessionID, session.RoleResponder, engine,
		func(m signal.Message) error { return s.sendTo(clientID, m) },
		session.Options{
			MaxPendingCandidates: s.cfg.MaxPendingCandidates,
			NegotiationDeadline:  s.cfg.NegotiationDeadline,
		})

	sess.OnStateChange(func(st session.State) {
		util.LogInfo("client %s session %s: %s", clientID, sessionID, st)
		if st.Terminal() {
			// Removal must not run on the session worker goroutine.
			go s.registry.Remove(clientID)
		}
	})
	return sess, nil
}
