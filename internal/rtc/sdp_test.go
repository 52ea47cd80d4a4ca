package rtc

import "testing"

const opusAnswer = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 0\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

const pcmuAnswer = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 0 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

const videoOnly = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestExtractAudioCodec(t *testing.T) {
	testCases := []struct {
		name string
		sdp  string
		want string
	}{
		{"opus preferred", opusAnswer, "opus"},
		{"pcmu preferred", pcmuAnswer, "pcmu"},
		{"video only", videoOnly, ""},
		{"empty", "", ""},
		{"garbage", "not an sdp body", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractAudioCodec(tc.sdp); got != tc.want {
				t.Errorf("extractAudioCodec() = %q, want %q", got, tc.want)
			}
		})
	}
}
