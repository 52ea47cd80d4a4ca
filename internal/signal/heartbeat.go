package signal

import (
	"sync"
	"time"
)

// heartbeatConfig wires a heartbeat to its transport.
type heartbeatConfig struct {
	interval  time.Duration
	timeout   time.Duration
	maxMissed int
	clock     Clock
	ping      func(ts int64) error // sends a Ping with the given timestamp
	dead      func()               // invoked once when the link is declared dead
}

// heartbeat detects silently dead transports: NAT and middlebox timeouts
// often kill a connection without ever delivering a close event, so waiting
// for the OS is not an option. Every interval a Ping is sent and a timeout
// armed; when maxMissed consecutive pongs fail to arrive, dead() fires.
type heartbeat struct {
	cfg heartbeatConfig

	pongCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	missed int
}

// newHeartbeat starts the heartbeat loop immediately.
func newHeartbeat(cfg heartbeatConfig) *heartbeat {
	h := &heartbeat{
		cfg:    cfg,
		pongCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	go h.loop()
	return h
}

// notePong records an answered ping. Called from the transport read loop.
func (h *heartbeat) notePong() {
	h.mu.Lock()
	h.missed = 0
	h.mu.Unlock()

	select {
	case h.pongCh <- struct{}{}:
	default:
	}
}

// stop cancels the heartbeat. Idempotent; no pings or dead callbacks fire
// after stop returns.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Missed returns the consecutive-missed-pong count.
func (h *heartbeat) Missed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.missed
}

func (h *heartbeat) loop() {
	for {
		select {
		case <-h.cfg.clock.After(h.cfg.interval):
		case <-h.stopCh:
			return
		}

		// Discard a pong left over from a previous cycle.
		select {
		case <-h.pongCh:
		default:
		}

		ts := h.cfg.clock.Now().UnixMilli()
		if err := h.cfg.ping(ts); err != nil {
			// The wire is already broken; report it rather than waiting for
			// a timeout that can never be answered.
			h.cfg.dead()
			return
		}

		select {
		case <-h.pongCh:
			// Answered; the missed counter was reset in notePong.
		case <-h.cfg.clock.After(h.cfg.timeout):
			h.mu.Lock()
			h.missed++
			missed := h.missed
			h.mu.Unlock()
			if missed >= h.cfg.maxMissed {
				h.cfg.dead()
				return
			}
		case <-h.stopCh:
			return
		}
	}
}
