// Package session implements the peer negotiation state machine and the
// server-side registry that routes signaling to concurrent sessions.
package session

import "github.com/voicewire/voicewire/internal/signal"

// Role is the negotiation role of a peer session.
type Role int

const (
	// RoleInitiator creates the offer; the client side of a call.
	RoleInitiator Role = iota
	// RoleResponder answers an inbound offer; the server side of a call.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Connectivity mirrors the low-level connection states reported by the
// real-time media stack.
type Connectivity int

const (
	ConnectivityConnecting Connectivity = iota
	ConnectivityConnected
	ConnectivityDisconnected
	ConnectivityFailed
	ConnectivityClosed
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MediaEngine is the collaborator interface to the real-time media stack.
// The session drives negotiation through it but never touches media capture,
// encoding, or transport itself. Callbacks are registered once, before the
// session starts processing messages.
type MediaEngine interface {
	// CreateLocalDescription produces the local SDP: an offer for the
	// initiator, an answer for the responder (which requires the remote
	// offer to have been applied first).
	CreateLocalDescription(role Role) (signal.Description, error)

	// ApplyLocalDescription commits the local SDP to the engine.
	ApplyLocalDescription(d signal.Description) error

	// ApplyRemoteDescription commits the peer's SDP to the engine.
	ApplyRemoteDescription(d signal.Description) error

	// AddRemoteCandidate feeds a peer ICE candidate to the engine. Calling
	// it before a remote description exists is invalid; the session's
	// buffering guarantees that never happens.
	AddRemoteCandidate(c signal.Candidate) error

	// NegotiatedCodec reports the audio codec selected by the completed
	// offer/answer exchange, or "" while unknown.
	NegotiatedCodec() string

	// OnLocalCandidate registers the callback for locally gathered ICE
	// candidates that must be forwarded to the peer.
	OnLocalCandidate(fn func(signal.Candidate))

	// OnConnectivityChange registers the callback for low-level
	// connectivity transitions.
	OnConnectivityChange(fn func(Connectivity))

	// OnRemoteTrack registers the callback for inbound media tracks. The
	// track is opaque to the session and forwarded upward only.
	OnRemoteTrack(fn func(track interface{}))

	// Close releases the engine's resources. Idempotent.
	Close() error
}
