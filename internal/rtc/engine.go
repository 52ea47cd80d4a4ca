// Package rtc backs the session.MediaEngine interface with pion/webrtc.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/signal"
	"github.com/voicewire/voicewire/internal/util"
)

// Engine wraps a single PeerConnection carrying one bidirectional audio
// transceiver. Negotiation is driven from outside through the
// session.MediaEngine methods; the engine only reports what the media
// stack does.
type Engine struct {
	pc *webrtc.PeerConnection

	mu             sync.RWMutex
	codec          string
	onConnectivity func(session.Connectivity)
	onCandidate    func(signal.Candidate)
	onTrack        func(interface{})
}

// NewEngine creates a PeerConnection configured with the given ICE server
// URLs and a sendrecv audio transceiver.
func NewEngine(iceServers []string) (*Engine, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	e := &Engine{pc: pc}

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", st.String())
		c, ok := mapConnectivity(st)
		if !ok {
			return
		}
		e.mu.RLock()
		fn := e.onConnectivity
		e.mu.RUnlock()
		if fn != nil {
			fn(c)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// A nil candidate signals the end of gathering.
		if c == nil {
			return
		}
		e.mu.RLock()
		fn := e.onCandidate
		e.mu.RUnlock()
		if fn == nil {
			return
		}
		init := c.ToJSON()
		cand := signal.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(cand)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogInfo("remote audio track received: %s", track.Codec().MimeType)
		e.mu.RLock()
		fn := e.onTrack
		e.mu.RUnlock()
		if fn != nil {
			fn(track)
		}
	})

	return e, nil
}

// CreateLocalDescription generates the local SDP for the given role.
func (e *Engine) CreateLocalDescription(role session.Role) (signal.Description, error) {
	var (
		d   webrtc.SessionDescription
		err error
	)
	if role == session.RoleInitiator {
		d, err = e.pc.CreateOffer(nil)
	} else {
		d, err = e.pc.CreateAnswer(nil)
	}
	if err != nil {
		return signal.Description{}, fmt.Errorf("create %s description: %w", role, err)
	}
	return signal.Description{Type: d.Type.String(), SDP: d.SDP}, nil
}

// ApplyLocalDescription commits the local SDP.
func (e *Engine) ApplyLocalDescription(d signal.Description) error {
	sd, err := toSessionDescription(d)
	if err != nil {
		return err
	}
	if err := e.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	e.maybeRecordCodec(d)
	return nil
}

// ApplyRemoteDescription commits the peer's SDP.
func (e *Engine) ApplyRemoteDescription(d signal.Description) error {
	sd, err := toSessionDescription(d)
	if err != nil {
		return err
	}
	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	e.maybeRecordCodec(d)
	return nil
}

// AddRemoteCandidate adds a peer ICE candidate received through signaling.
func (e *Engine) AddRemoteCandidate(c signal.Candidate) error {
	mid := c.SDPMid
	idx := c.SDPMLineIndex
	if err := e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// NegotiatedCodec returns the audio codec selected by the answered SDP,
// or "" while negotiation is incomplete.
func (e *Engine) NegotiatedCodec() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.codec
}

// OnLocalCandidate registers the local ICE candidate callback.
func (e *Engine) OnLocalCandidate(fn func(signal.Candidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

// OnConnectivityChange registers the connectivity callback.
func (e *Engine) OnConnectivityChange(fn func(session.Connectivity)) {
	e.mu.Lock()
	e.onConnectivity = fn
	e.mu.Unlock()
}

// OnRemoteTrack registers the inbound track callback. The track is passed
// through as a *webrtc.TrackRemote.
func (e *Engine) OnRemoteTrack(fn func(interface{})) {
	e.mu.Lock()
	e.onTrack = fn
	e.mu.Unlock()
}

// Close shuts down the PeerConnection.
func (e *Engine) Close() error {
	return e.pc.Close()
}

// maybeRecordCodec captures the negotiated audio codec once the answer SDP
// is known. The codec lives on the engine (and is surfaced per session),
// never in ambient global state.
func (e *Engine) maybeRecordCodec(d signal.Description) {
	if d.Type != "answer" {
		return
	}
	codec := extractAudioCodec(d.SDP)
	if codec == "" {
		return
	}
	e.mu.Lock()
	e.codec = codec
	e.mu.Unlock()
}

func toSessionDescription(d signal.Description) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown SDP type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func mapConnectivity(st webrtc.PeerConnectionState) (session.Connectivity, bool) {
	switch st {
	case webrtc.PeerConnectionStateConnecting:
		return session.ConnectivityConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return session.ConnectivityConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return session.ConnectivityDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return session.ConnectivityFailed, true
	case webrtc.PeerConnectionStateClosed:
		return session.ConnectivityClosed, true
	default:
		return 0, false
	}
}
