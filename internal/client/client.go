// Package client orchestrates the device side of a call: a supervised
// signaling transport plus an initiator-role peer session, surfaced to the
// caller as a stream of lifecycle events.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/signal"
	"github.com/voicewire/voicewire/internal/util"
)

// EventKind is a coarse lifecycle notification for the caller. Raw
// transport errors never escape; recoverable trouble is absorbed below the
// session layer.
type EventKind int

const (
	EventConnecting EventKind = iota
	EventConnected
	EventDisconnected
	EventFailed
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFailed:
		return "failed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification. Err is set only on EventFailed.
type Event struct {
	Kind EventKind
	Err  error
}

// Client ties a supervised signaling transport to one initiator session.
type Client struct {
	cfg       config.Config
	clientID  string
	sessionID string

	tr   *signal.Transport
	sup  *signal.Supervisor
	sess *session.Session

	events    chan Event
	closeOnce sync.Once
}

// New assembles a client for the configured server. An empty clientID gets
// a generated one; the session identity is always generated fresh — it is
// the client's to mint, and it rides the transport URL so the server can
// resume the same session across reconnects.
func New(cfg config.Config, engine session.MediaEngine, clientID string) (*Client, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	sessionID := uuid.NewString()

	wsURL, err := buildURL(cfg.ServerURL, clientID, sessionID)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		clientID:  clientID,
		sessionID: sessionID,
		events:    make(chan Event, 16),
	}

	c.tr = signal.NewTransport(wsURL, signal.TransportOptions{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	})
	c.sup = signal.NewSupervisor(c.tr, signal.BackoffPolicy{
		InitialDelay: cfg.ReconnectInitialDelay,
		Factor:       cfg.ReconnectFactor,
		MaxDelay:     cfg.ReconnectMaxDelay,
		MaxAttempts:  cfg.ReconnectMaxAttempts,
	}, nil)
	c.sess = session.New(sessionID, session.RoleInitiator, engine, c.tr.Send,
		session.Options{
			MaxPendingCandidates: cfg.MaxPendingCandidates,
			NegotiationDeadline:  cfg.NegotiationDeadline,
		})

	return c, nil
}

// ClientID returns the stable device identity.
func (c *Client) ClientID() string { return c.clientID }

// SessionID returns the session identity minted at construction.
func (c *Client) SessionID() string { return c.sessionID }

// NegotiatedCodec reports the codec selected by negotiation, or "".
func (c *Client) NegotiatedCodec() string { return c.sess.NegotiatedCodec() }

// Events returns the lifecycle event stream. Slow consumers lose events
// rather than stalling the session.
func (c *Client) Events() <-chan Event { return c.events }

// Start connects the signaling transport (with the supervisor's retry
// policy) and begins negotiation once the server acknowledges the client.
func (c *Client) Start(ctx context.Context) error {
	c.tr.OnMessage(func(m signal.Message) {
		switch m.Type {
		case signal.TypeConnected:
			util.LogInfo("server accepted client %s", m.ClientID)
			// A no-op on resume: the session never re-sends its offer after
			// a transport-level reconnect.
			c.sess.StartNegotiation()
		case signal.TypeClosed:
			util.LogDebug("server acknowledged close")
		case signal.TypeError:
			util.LogWarning("server reported: %s", m.Text)
		default:
			c.sess.HandleMessage(m)
		}
	})

	c.sup.OnStateChange(func(st signal.State) {
		util.LogDebug("signaling transport: %s", st)
	})
	c.sup.OnExhausted(func(err error) {
		c.sess.Fail(err)
	})

	c.sess.OnStateChange(func(st session.State) {
		switch st {
		case session.StateNegotiating:
			c.emit(Event{Kind: EventConnecting})
		case session.StateConnected:
			util.LogInfo("audio channel up (codec %s)", c.sess.NegotiatedCodec())
			c.emit(Event{Kind: EventConnected})
		case session.StateDisconnected:
			c.emit(Event{Kind: EventDisconnected})
		case session.StateFailed:
			c.emit(Event{Kind: EventFailed, Err: fmt.Errorf("session %s failed", c.sessionID)})
		case session.StateClosed:
			c.emit(Event{Kind: EventClosed})
		}
	})

	if err := c.sup.Start(ctx); err != nil {
		return err
	}
	util.Stats.AddSession()
	return nil
}

// Close tears everything down in order: supervision stops, the server is
// told, then session and transport release their resources. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.sup.Stop()
		if err := c.tr.Send(signal.NewClose()); err != nil {
			util.LogDebug("close notice not sent: %v", err)
		}
		c.sess.Close()
		c.tr.Close()
		util.Stats.RemoveSession()
	})
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		util.LogDebug("event %s dropped: consumer not keeping up", ev.Kind)
	}
}

// buildURL attaches the identities to the server URL as query parameters
// and normalizes http(s) schemes to their WebSocket equivalents.
func buildURL(raw, clientID, sessionID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL: %q", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme: %q", u.Scheme)
	}
	q := u.Query()
	q.Set("client_id", clientID)
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
