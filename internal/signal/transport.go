package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/internal/util"
)

// TransportOptions tunes a Transport. Zero fields fall back to defaults.
type TransportOptions struct {
	HeartbeatInterval time.Duration // time between outbound pings (default 20s)
	HeartbeatTimeout  time.Duration // max wait for a pong (default 8s)
	MaxMissedPongs    int           // missed pongs before the link is declared dead (default 1)
	Clock             Clock         // injectable clock for tests (default RealClock)
}

func (o TransportOptions) withDefaults() TransportOptions {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 20 * time.Second
	}
	if o.HeartbeatTimeout == 0 {
		o.HeartbeatTimeout = 8 * time.Second
	}
	if o.MaxMissedPongs == 0 {
		o.MaxMissedPongs = 1
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	return o
}

// Transport is one duplex signaling channel to a fixed endpoint URL. It owns
// the WebSocket connection, the read loop, and the heartbeat; consumers are
// notified push-style through the On* callbacks.
//
// Callbacks must be registered before Connect and are invoked from the
// transport's internal goroutines; they must not block.
type Transport struct {
	url  string
	opts TransportOptions

	mu    sync.Mutex // guards conn, state, hb, gen, and the callbacks
	conn  *websocket.Conn
	state State
	hb    *heartbeat
	gen   int // connection generation, invalidates stale read loops

	writeMu sync.Mutex // serializes frames on the wire

	onMessage func(Message)
	onState   func(State)
	onError   func(error)
}

// NewTransport creates a transport for the given WebSocket URL. The URL
// carries the client identity as a query parameter, e.g.:
//
//	ws://example.com/ws/signaling?client_id=abc123
func NewTransport(url string, opts TransportOptions) *Transport {
	return &Transport{
		url:   url,
		opts:  opts.withDefaults(),
		state: StateNew,
	}
}

// OnMessage registers the callback for inbound non-heartbeat messages.
func (t *Transport) OnMessage(fn func(Message)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

// OnStateChange registers the callback for state transitions. It fires
// exactly once per genuine transition; duplicate states are suppressed.
func (t *Transport) OnStateChange(fn func(State)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// OnError registers the callback for transport-level failures.
func (t *Transport) OnError(fn func(error)) {
	t.mu.Lock()
	t.onError = fn
	t.mu.Unlock()
}

// State returns the current transport state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect dials the endpoint. On success the transport enters Connected,
// the read loop and heartbeat start, and any previous connection is
// discarded. On failure the error wraps ErrConnectFailed and the transport
// is left Disconnected for the reconnect supervisor to pick up.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()
	t.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if t.conn != nil {
		t.conn.Close()
	}
	if t.hb != nil {
		t.hb.stop()
	}
	t.conn = conn
	t.gen++
	gen := t.gen
	t.hb = newHeartbeat(heartbeatConfig{
		interval:  t.opts.HeartbeatInterval,
		timeout:   t.opts.HeartbeatTimeout,
		maxMissed: t.opts.MaxMissedPongs,
		clock:     t.opts.Clock,
		ping: func(ts int64) error {
			return t.Send(NewPing(ts))
		},
		dead: func() {
			util.LogWarning("heartbeat timed out, forcing transport close")
			t.dropConn(gen, fmt.Errorf("heartbeat timeout"))
		},
	})
	t.mu.Unlock()

	t.setState(StateConnected)
	go t.readLoop(conn, gen)
	return nil
}

// Send serializes msg and writes it to the wire. It fails with
// ErrNotConnected unless the transport is Connected.
func (t *Transport) Send(msg Message) error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write signaling message: %w", err)
	}
	util.Stats.AddOut()
	return nil
}

// Close tears the transport down: heartbeat cancelled, connection released,
// state Closed. It is idempotent and runs the same way on every exit path.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	if t.hb != nil {
		t.hb.stop()
		t.hb = nil
	}
	conn := t.conn
	t.conn = nil
	t.gen++
	t.mu.Unlock()

	t.setState(StateClosed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readLoop consumes inbound frames until the connection dies or is replaced.
// Heartbeat messages are handled inline: a remote ping is always answered
// immediately, without consulting negotiation state.
func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.dropConn(gen, err)
			return
		}

		msg, derr := Decode(data)
		if derr != nil {
			util.LogWarning("ignoring bad signaling frame: %v", derr)
			continue
		}
		util.Stats.AddIn()

		switch msg.Type {
		case TypePing:
			if err := t.Send(NewPong(msg.HeartbeatPayload().Timestamp)); err != nil {
				util.LogWarning("failed to answer ping: %v", err)
			}
		case TypePong:
			t.mu.Lock()
			hb := t.hb
			t.mu.Unlock()
			if hb != nil {
				hb.notePong()
			}
		default:
			t.mu.Lock()
			cb := t.onMessage
			t.mu.Unlock()
			if cb != nil {
				cb(msg)
			}
		}
	}
}

// dropConn handles the loss of a specific connection generation. Stale
// generations (already replaced or closed) are ignored so a reconnect
// racing an old read loop cannot corrupt state.
func (t *Transport) dropConn(gen int, cause error) {
	t.mu.Lock()
	if t.gen != gen || t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	if t.hb != nil {
		t.hb.stop()
		t.hb = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	cb := t.onError
	t.mu.Unlock()

	t.setState(StateDisconnected)
	if cb != nil {
		cb(cause)
	}
}

// setState applies a transition, suppressing duplicates. Closed is sticky.
func (t *Transport) setState(s State) {
	t.mu.Lock()
	if t.state == s || (t.state == StateClosed && s != StateClosed) {
		t.mu.Unlock()
		return
	}
	t.state = s
	cb := t.onState
	t.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}
