package rtc

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// extractAudioCodec parses an SDP body and returns the encoding name of the
// first payload type in the audio media section, lowercased ("opus", "pcmu",
// ...). It returns "" when the SDP has no parseable audio section; callers
// treat that as codec-unknown rather than an error.
func extractAudioCodec(raw string) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return ""
	}

	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "audio" || len(m.MediaName.Formats) == 0 {
			continue
		}
		// The first format is the one the answerer selected.
		pt := m.MediaName.Formats[0]
		for _, a := range m.Attributes {
			if a.Key != "rtpmap" || !strings.HasPrefix(a.Value, pt+" ") {
				continue
			}
			enc := strings.TrimPrefix(a.Value, pt+" ")
			if i := strings.Index(enc, "/"); i > 0 {
				enc = enc[:i]
			}
			return strings.ToLower(enc)
		}
	}
	return ""
}
