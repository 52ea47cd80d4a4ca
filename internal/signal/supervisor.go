package signal

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/util"
)

// BackoffPolicy is the exponential backoff schedule for reconnect attempts.
type BackoffPolicy struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoffPolicy returns the observed production policy:
// 1s initial delay, factor 1.5, 30s ceiling, 10 attempts.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 1 * time.Second,
		Factor:       1.5,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
	}
}

// Delay returns the wait before the given zero-based attempt:
// min(MaxDelay, InitialDelay * Factor^attempt).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt)))
	if d < 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Supervisor wraps a Transport so transient network loss does not terminate
// the peer session above it. It owns the transport's state callback: on
// Disconnected it re-dials with exponential backoff, reusing the same
// endpoint URL (and thus the same session identity); once the retry budget
// is exhausted it surfaces ErrReconnectExhausted and closes the transport.
type Supervisor struct {
	tr     *Transport
	policy BackoffPolicy
	clock  Clock

	onState     func(State)
	onExhausted func(error)

	notify   chan State
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSupervisor wraps tr with the given backoff policy. A nil clock means
// real time.
func NewSupervisor(tr *Transport, policy BackoffPolicy, clock Clock) *Supervisor {
	if clock == nil {
		clock = RealClock{}
	}
	return &Supervisor{
		tr:     tr,
		policy: policy,
		clock:  clock,
		notify: make(chan State, 8),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// OnStateChange registers the consumer's transport state callback. The
// supervisor owns the transport's own callback slot, so consumers observe
// state through the supervisor instead.
func (s *Supervisor) OnStateChange(fn func(State)) { s.onState = fn }

// OnExhausted registers the callback fired once the retry budget is spent.
func (s *Supervisor) OnExhausted(fn func(error)) { s.onExhausted = fn }

// Start performs the initial connection (retrying per policy) and then
// supervises the transport until ctx is cancelled, Stop is called, or the
// budget runs out. The initial connection result is returned; later drops
// are handled in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	s.tr.OnStateChange(s.handleState)

	if ok := s.connectWithBackoff(ctx, true); !ok {
		close(s.done)
		return ErrReconnectExhausted
	}
	go s.run(ctx)
	return nil
}

// Stop halts supervision without closing the transport.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed when the supervision loop has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case st := <-s.notify:
			switch st {
			case StateClosed:
				return
			case StateDisconnected:
				// Stale notifications from failed dial attempts are dropped;
				// only a transport that is still down needs rescue.
				if s.tr.State() != StateDisconnected {
					continue
				}
				if ok := s.connectWithBackoff(ctx, false); !ok {
					return
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// connectWithBackoff drives one reconnection cycle. The attempt counter is
// local, so it resets to zero after every successful connection. When
// immediate is set (initial connect) the first dial happens without delay;
// a drop-triggered reconnect always waits out the first backoff step.
func (s *Supervisor) connectWithBackoff(ctx context.Context, immediate bool) bool {
	for attempt := 0; attempt < s.policy.MaxAttempts; attempt++ {
		if !(immediate && attempt == 0) {
			delay := s.policy.Delay(attempt)
			util.LogDebug("reconnect attempt %d/%d in %s", attempt+1, s.policy.MaxAttempts, delay)
			s.tr.setState(StateReconnecting)
			select {
			case <-s.clock.After(delay):
			case <-s.stopCh:
				return false
			case <-ctx.Done():
				return false
			}
		}

		err := s.tr.Connect(ctx)
		if err == nil {
			if !immediate {
				util.Stats.AddReconnect()
				util.LogInfo("signaling transport reconnected (attempt %d)", attempt+1)
			}
			return true
		}
		if errors.Is(err, ErrClosed) {
			return false
		}
		util.LogWarning("connect attempt %d/%d failed: %v", attempt+1, s.policy.MaxAttempts, err)
	}

	util.LogError("retry budget exhausted after %d attempts", s.policy.MaxAttempts)
	if s.onExhausted != nil {
		s.onExhausted(ErrReconnectExhausted)
	}
	s.tr.Close()
	return false
}

// handleState fans transport transitions out to the consumer and feeds the
// supervision loop.
func (s *Supervisor) handleState(st State) {
	if s.onState != nil {
		s.onState(st)
	}
	select {
	case s.notify <- st:
	default:
	}
}
