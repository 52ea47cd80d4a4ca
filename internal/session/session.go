package session

import (
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/signal"
	"github.com/voicewire/voicewire/internal/util"
)

// State is the lifecycle of one peer session. Failed and Closed are terminal.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Options tunes a Session. Zero fields fall back to defaults.
type Options struct {
	MaxPendingCandidates int           // cap on buffered pre-description candidates (default 64)
	NegotiationDeadline  time.Duration // max time in Negotiating (default 30s)
	Clock                signal.Clock  // injectable clock for tests (default RealClock)
}

func (o Options) withDefaults() Options {
	if o.MaxPendingCandidates == 0 {
		o.MaxPendingCandidates = 64
	}
	if o.NegotiationDeadline == 0 {
		o.NegotiationDeadline = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = signal.RealClock{}
	}
	return o
}

type eventKind int

const (
	evMessage eventKind = iota
	evConnectivity
	evStart
	evFail
)

type event struct {
	kind eventKind
	msg  signal.Message
	conn Connectivity
	err  error
}

// Session is one negotiated (or negotiating) logical connection between a
// client and a server endpoint. All mutable negotiation state lives on a
// single worker goroutine fed by an inbox channel, so signaling messages
// for one session are processed strictly in arrival order and never race.
//
// The session owns ICE-candidate buffering: candidates arriving before the
// remote description are held in order and flushed immediately after the
// description is applied, which makes the exchange correct under any
// interleaving of Offer/Answer and candidates on the wire.
type Session struct {
	id     string
	role   Role
	engine MediaEngine
	send   func(signal.Message) error
	opts   Options

	inbox     chan event
	closeCh   chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	onState func(State)

	mu           sync.RWMutex // guards the published snapshot below
	state        State
	codec        string
	lastActivity time.Time

	// Worker-owned; never touched outside the run goroutine.
	remoteApplied bool
	offerSent     bool
	pending       []signal.Candidate
	deadlineCh    <-chan time.Time
	engineClosed  bool
}

// New creates a session and starts its worker. The send function carries
// outbound signaling messages for this session; it may fail while the
// transport is down. Callbacks on the engine are claimed by the session.
func New(id string, role Role, engine MediaEngine, send func(signal.Message) error, opts Options) *Session {
	s := &Session{
		id:      id,
		role:    role,
		engine:  engine,
		send:    send,
		opts:    opts.withDefaults(),
		inbox:   make(chan event, 32),
		closeCh: make(chan struct{}),
		stopped: make(chan struct{}),
		state:   StateNew,
	}
	s.mu.Lock()
	s.lastActivity = s.opts.Clock.Now()
	s.mu.Unlock()

	engine.OnConnectivityChange(func(c Connectivity) {
		s.enqueue(event{kind: evConnectivity, conn: c})
	})
	engine.OnLocalCandidate(func(c signal.Candidate) {
		// Outbound candidates are best-effort: a drop during a transport
		// reconnect is recovered by ICE itself.
		if err := s.send(signal.NewCandidate(c)); err != nil {
			util.LogDebug("session %s: local candidate not sent: %v", s.id, err)
		}
	})

	go s.run()
	return s
}

// ID returns the stable session identity.
func (s *Session) ID() string { return s.id }

// Role returns the negotiation role.
func (s *Session) Role() Role { return s.role }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// NegotiatedCodec returns the audio codec selected by negotiation, or ""
// while negotiation is incomplete.
func (s *Session) NegotiatedCodec() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codec
}

// LastActivity returns the time of the most recent signaling activity.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// OnStateChange registers the lifecycle callback. Register before routing
// messages to the session; fired from the worker goroutine once per genuine
// transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// StartNegotiation makes an initiator session create and send its offer.
// Calling it again (e.g. after a transport reconnect re-delivers the
// server's acceptance ack) is a no-op, so a resumed session never sends a
// duplicate offer.
func (s *Session) StartNegotiation() {
	s.enqueue(event{kind: evStart})
}

// HandleMessage feeds an inbound signaling message to the session worker.
// Messages are processed in the order handed in.
func (s *Session) HandleMessage(msg signal.Message) {
	s.enqueue(event{kind: evMessage, msg: msg})
}

// Fail pushes the session toward Failed, e.g. when the reconnect supervisor
// has exhausted its budget.
func (s *Session) Fail(err error) {
	s.enqueue(event{kind: evFail, err: err})
}

// Close tears the session down. It is idempotent, produces exactly one
// Closed transition, and returns only after the worker has cancelled its
// timers and released the media engine.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
	<-s.stopped
}

func (s *Session) enqueue(ev event) {
	select {
	case s.inbox <- ev:
	case <-s.stopped:
		util.LogDebug("session %s: event dropped after shutdown", s.id)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Worker
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case ev := <-s.inbox:
			s.handle(ev)
			// A failed session is terminal: stop the worker so Close (and
			// any callback that triggers it) never blocks on a dead session.
			if s.State() == StateFailed {
				return
			}
		case <-s.deadlineCh:
			if st := s.State(); st == StateNew || st == StateNegotiating {
				s.fail(ErrNegotiationDeadline)
				return
			}
		case <-s.closeCh:
			s.shutdown()
			return
		}
	}
}

func (s *Session) handle(ev event) {
	s.touch()
	switch ev.kind {
	case evStart:
		s.handleStart()
	case evFail:
		s.fail(ev.err)
	case evConnectivity:
		s.handleConnectivity(ev.conn)
	case evMessage:
		switch ev.msg.Type {
		case signal.TypeOffer:
			s.handleOffer(ev.msg)
		case signal.TypeAnswer:
			s.handleAnswer(ev.msg)
		case signal.TypeCandidate:
			s.handleCandidate(ev.msg)
		default:
			util.LogWarning("session %s: unexpected %s message, ignoring", s.id, ev.msg.Type)
		}
	}
}

func (s *Session) handleStart() {
	if s.role != RoleInitiator {
		return
	}
	if s.State() != StateNew {
		util.LogDebug("session %s: negotiation already started", s.id)
		return
	}

	s.transition(StateNegotiating)
	s.armDeadline()

	offer, err := s.engine.CreateLocalDescription(RoleInitiator)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.engine.ApplyLocalDescription(offer); err != nil {
		s.fail(err)
		return
	}
	if err := s.send(signal.NewOffer(offer.SDP)); err != nil {
		s.fail(err)
		return
	}
	s.offerSent = true
}

func (s *Session) handleOffer(msg signal.Message) {
	if s.role != RoleResponder {
		// A stale or duplicate message must not corrupt live state.
		util.LogWarning("session %s: offer received as initiator, ignoring", s.id)
		return
	}

	switch s.State() {
	case StateNegotiating, StateConnected, StateDisconnected:
		// Renegotiation is not supported; an explicit renegotiate message
		// type would be needed to make this unambiguous.
		util.LogWarning("session %s: offer on active session ignored", s.id)
		return
	case StateFailed, StateClosed:
		return
	}

	offer, err := msg.Description()
	if err != nil {
		util.LogWarning("session %s: %v, ignoring", s.id, err)
		return
	}

	s.transition(StateNegotiating)
	s.armDeadline()

	if err := s.engine.ApplyRemoteDescription(offer); err != nil {
		s.fail(err)
		return
	}
	s.remoteApplied = true
	s.flushPending()

	answer, err := s.engine.CreateLocalDescription(RoleResponder)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.engine.ApplyLocalDescription(answer); err != nil {
		s.fail(err)
		return
	}
	if err := s.send(signal.NewAnswer(answer.SDP)); err != nil {
		s.fail(err)
		return
	}
}

func (s *Session) handleAnswer(msg signal.Message) {
	if s.role != RoleInitiator || !s.offerSent {
		util.LogWarning("session %s: answer received without a pending offer, ignoring", s.id)
		return
	}
	if s.remoteApplied {
		util.LogWarning("session %s: duplicate answer ignored", s.id)
		return
	}
	if s.State().Terminal() {
		return
	}

	answer, err := msg.Description()
	if err != nil {
		util.LogWarning("session %s: %v, ignoring", s.id, err)
		return
	}

	if err := s.engine.ApplyRemoteDescription(answer); err != nil {
		s.fail(err)
		return
	}
	s.remoteApplied = true
	s.flushPending()
}

func (s *Session) handleCandidate(msg signal.Message) {
	if s.State().Terminal() {
		return
	}

	c, err := msg.IceCandidate()
	if err != nil {
		util.LogWarning("session %s: %v, ignoring", s.id, err)
		return
	}

	if s.remoteApplied {
		if err := s.engine.AddRemoteCandidate(c); err != nil {
			util.LogWarning("session %s: candidate rejected: %v", s.id, err)
		}
		return
	}

	// No remote description yet: applying now would be invalid, so hold the
	// candidate in arrival order. The cap bounds memory under a peer that
	// floods candidates without ever completing the exchange.
	if len(s.pending) >= s.opts.MaxPendingCandidates {
		s.fail(ErrNegotiationOverflow)
		return
	}
	// A session brought to life by an early candidate has no deadline yet;
	// arm it so a peer that never sends its offer is reaped like one stuck
	// mid-negotiation.
	if s.deadlineCh == nil {
		s.armDeadline()
	}
	s.pending = append(s.pending, c)
}

// flushPending applies the buffered candidates in original arrival order,
// then clears the buffer. Individual rejections are logged, not fatal.
func (s *Session) flushPending() {
	for _, c := range s.pending {
		if err := s.engine.AddRemoteCandidate(c); err != nil {
			util.LogWarning("session %s: buffered candidate rejected: %v", s.id, err)
		}
	}
	s.pending = nil
}

func (s *Session) handleConnectivity(c Connectivity) {
	st := s.State()
	if st.Terminal() {
		return
	}

	switch c {
	case ConnectivityConnected:
		if (st == StateNegotiating && s.remoteApplied) || st == StateDisconnected {
			s.setCodec(s.engine.NegotiatedCodec())
			s.deadlineCh = nil
			s.transition(StateConnected)
		}
	case ConnectivityDisconnected:
		// Possibly transient: keep the negotiated descriptions so the
		// connection can re-attach if connectivity resumes.
		if st == StateConnected {
			s.transition(StateDisconnected)
		}
	case ConnectivityFailed:
		s.fail(ErrMediaFailed)
	case ConnectivityClosed:
		// The engine went away without an explicit disconnect from us.
		s.fail(ErrMediaFailed)
	}
}

func (s *Session) fail(err error) {
	if s.State().Terminal() {
		return
	}
	util.LogError("session %s failed: %v", s.id, err)
	s.deadlineCh = nil
	s.transition(StateFailed)
	s.closeEngine()
}

func (s *Session) shutdown() {
	s.deadlineCh = nil
	if !s.State().Terminal() {
		s.transition(StateClosed)
	}
	s.closeEngine()
}

func (s *Session) closeEngine() {
	if s.engineClosed {
		return
	}
	s.engineClosed = true
	if err := s.engine.Close(); err != nil {
		util.LogWarning("session %s: engine close: %v", s.id, err)
	}
}

func (s *Session) armDeadline() {
	s.deadlineCh = s.opts.Clock.After(s.opts.NegotiationDeadline)
}

func (s *Session) transition(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	cb := s.onState
	s.mu.Unlock()

	util.LogDebug("session %s: %s", s.id, st)
	if cb != nil {
		cb(st)
	}
}

func (s *Session) setCodec(codec string) {
	if codec == "" {
		return
	}
	s.mu.Lock()
	s.codec = codec
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.opts.Clock.Now()
	s.mu.Unlock()
}
