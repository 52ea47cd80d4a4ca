package signal

import (
	"encoding/json"
	"testing"
)

// TestDecodeRejectsBadFrames verifies that untrusted input never produces a
// usable message without a valid envelope.
func TestDecodeRejectsBadFrames(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"not JSON", "hello"},
		{"empty object", "{}"},
		{"missing type", `{"payload":{"sdp":"v=0"}}`},
		{"truncated", `{"type":"off`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); err == nil {
				t.Fatalf("expected error for %q, got nil", tc.data)
			}
		})
	}
}

// TestDecodeUnknownTypePassesThrough verifies that an unrecognized type is
// decoded rather than rejected — the caller logs and ignores it.
func TestDecodeUnknownTypePassesThrough(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"renegotiate"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type.Known() {
		t.Errorf("expected %q to be unknown", msg.Type)
	}
}

func TestOfferRoundTrip(t *testing.T) {
	msg := NewOffer("v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\n")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Type != TypeOffer {
		t.Errorf("Type mismatch: got %q, want %q", decoded.Type, TypeOffer)
	}

	d, err := decoded.Description()
	if err != nil {
		t.Fatalf("Description failed: %v", err)
	}
	if d.Type != "offer" || d.SDP == "" {
		t.Errorf("unexpected description: %+v", d)
	}
}

func TestCandidateRoundTrip(t *testing.T) {
	want := Candidate{
		Candidate:     "candidate:1 1 UDP 2122252543 192.168.1.10 54321 typ host",
		SDPMid:        "0",
		SDPMLineIndex: 0,
	}

	data, err := json.Marshal(NewCandidate(want))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got, err := decoded.IceCandidate()
	if err != nil {
		t.Fatalf("IceCandidate failed: %v", err)
	}
	if got != want {
		t.Errorf("candidate mismatch: got %+v, want %+v", got, want)
	}
}

// TestPayloadValidation verifies that payload accessors reject messages
// whose envelope type is right but whose body is unusable.
func TestPayloadValidation(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
		call func(Message) error
	}{
		{
			name: "offer without sdp",
			msg:  Message{Type: TypeOffer, Payload: json.RawMessage(`{"type":"offer"}`)},
			call: func(m Message) error { _, err := m.Description(); return err },
		},
		{
			name: "offer with array payload",
			msg:  Message{Type: TypeOffer, Payload: json.RawMessage(`[1,2]`)},
			call: func(m Message) error { _, err := m.Description(); return err },
		},
		{
			name: "candidate without candidate line",
			msg:  Message{Type: TypeCandidate, Payload: json.RawMessage(`{"sdpMid":"0"}`)},
			call: func(m Message) error { _, err := m.IceCandidate(); return err },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(tc.msg); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

// TestHeartbeatTimestampEcho verifies ping/pong timestamps survive the trip
// and that a payload-less ping still yields a usable (zero) heartbeat.
func TestHeartbeatTimestampEcho(t *testing.T) {
	data, _ := json.Marshal(NewPing(1234567890))
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := msg.HeartbeatPayload().Timestamp; got != 1234567890 {
		t.Errorf("timestamp mismatch: got %d, want 1234567890", got)
	}

	bare := Message{Type: TypePing}
	if got := bare.HeartbeatPayload().Timestamp; got != 0 {
		t.Errorf("expected zero timestamp for bare ping, got %d", got)
	}
}

func TestConnectedCarriesClientID(t *testing.T) {
	data, _ := json.Marshal(NewConnected("device-42"))
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != TypeConnected || msg.ClientID != "device-42" {
		t.Errorf("unexpected message: %+v", msg)
	}
}
