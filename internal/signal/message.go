// Package signal implements the control-plane channel between a client and
// the audio server: the JSON message codec, the WebSocket transport with
// heartbeat liveness, and the reconnect supervisor that keeps the channel
// alive across transient network loss.
package signal

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of signaling message.
type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "ice_candidate"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
	TypeConnected Type = "connected"
	TypeClose     Type = "close"
	TypeClosed    Type = "closed"
	TypeError     Type = "error"
)

// Message is the JSON envelope exchanged over the signaling WebSocket.
// Payload contents depend on Type; ClientID is set only on "connected",
// Text only on "error".
type Message struct {
	Type     Type            `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Text     string          `json:"message,omitempty"`
}

// Description is the SDP payload of an offer or answer message.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the payload of an ice_candidate message.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Heartbeat is the payload of ping and pong messages. The timestamp is
// milliseconds since the Unix epoch, echoed back verbatim in the pong.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Constructors
// ─────────────────────────────────────────────────────────────────────────────

// NewOffer builds an offer message carrying the given SDP.
func NewOffer(sdp string) Message {
	return withPayload(TypeOffer, Description{Type: "offer", SDP: sdp})
}

// NewAnswer builds an answer message carrying the given SDP.
func NewAnswer(sdp string) Message {
	return withPayload(TypeAnswer, Description{Type: "answer", SDP: sdp})
}

// NewCandidate builds an ice_candidate message.
func NewCandidate(c Candidate) Message {
	return withPayload(TypeCandidate, c)
}

// NewPing builds a ping message with the given millisecond timestamp.
func NewPing(ts int64) Message {
	return withPayload(TypePing, Heartbeat{Timestamp: ts})
}

// NewPong builds a pong message echoing the given millisecond timestamp.
func NewPong(ts int64) Message {
	return withPayload(TypePong, Heartbeat{Timestamp: ts})
}

// NewConnected builds the server→client acceptance acknowledgement.
func NewConnected(clientID string) Message {
	return Message{Type: TypeConnected, ClientID: clientID}
}

// NewClose builds a client-initiated teardown request.
func NewClose() Message {
	return Message{Type: TypeClose}
}

// NewClosed builds the server's teardown acknowledgement.
func NewClosed() Message {
	return Message{Type: TypeClosed}
}

// NewError builds an error notification with a human-readable reason.
func NewError(text string) Message {
	return Message{Type: TypeError, Text: text}
}

func withPayload(t Type, payload interface{}) Message {
	data, _ := json.Marshal(payload)
	return Message{Type: t, Payload: data}
}

// ─────────────────────────────────────────────────────────────────────────────
// Decoding
// ─────────────────────────────────────────────────────────────────────────────

// Decode parses raw bytes from the wire into a Message. The signaling
// channel is untrusted input: malformed JSON or a missing type tag is an
// error, but an unrecognized type is not — callers log and ignore those.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed signaling frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("signaling frame missing type tag")
	}
	return msg, nil
}

// Known reports whether t is part of the signaling message set.
func (t Type) Known() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypePing, TypePong,
		TypeConnected, TypeClose, TypeClosed, TypeError:
		return true
	}
	return false
}

// Description decodes the SDP payload of an offer or answer message.
func (m Message) Description() (Description, error) {
	var d Description
	if err := json.Unmarshal(m.Payload, &d); err != nil {
		return Description{}, fmt.Errorf("malformed %s payload: %w", m.Type, err)
	}
	if d.SDP == "" {
		return Description{}, fmt.Errorf("%s payload missing sdp", m.Type)
	}
	return d, nil
}

// IceCandidate decodes the payload of an ice_candidate message.
func (m Message) IceCandidate() (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return Candidate{}, fmt.Errorf("malformed ice_candidate payload: %w", err)
	}
	if c.Candidate == "" {
		return Candidate{}, fmt.Errorf("ice_candidate payload missing candidate")
	}
	return c, nil
}

// HeartbeatPayload decodes the timestamp payload of a ping or pong message.
// A missing payload yields a zero timestamp rather than an error — heartbeat
// handling must never be blocked by strictness.
func (m Message) HeartbeatPayload() Heartbeat {
	var h Heartbeat
	_ = json.Unmarshal(m.Payload, &h)
	return h
}
