package sip

import (
	"strings"
	"testing"
)

const offerSDP = "v=0\r\n" +
	"o=carrier 1 1 IN IP4 10.0.0.1\r\n" +
	"s=call\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 4000 RTP/AVP 0 8\r\n" +
	"a=sendrecv\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func TestAnswerSDP_Default(t *testing.T) {
	for _, offer := range [][]byte{nil, {}, []byte("v=0\r\n")} {
		answer := string(AnswerSDP(offer))
		if !strings.Contains(answer, "a=inactive\r\n") {
			t.Errorf("default answer should be inactive: %q", answer)
		}
		if !strings.Contains(answer, "m=audio 0 RTP/AVP") {
			t.Errorf("default answer should carry an audio line: %q", answer)
		}
	}
}

func TestAnswerSDP_MirrorsOffer(t *testing.T) {
	answer := string(AnswerSDP([]byte(offerSDP)))

	if strings.Contains(answer, "a=sendrecv") {
		t.Error("answer should drop the offered direction")
	}
	if !strings.Contains(answer, "m=audio 4000 RTP/AVP 0 8\r\na=inactive\r\n") {
		t.Errorf("answer should mark audio inactive: %q", answer)
	}
	if !strings.Contains(answer, "a=rtpmap:0 PCMU/8000") {
		t.Error("answer should keep codec attributes")
	}
}

func TestModifySDPDirection_NoMediaLine(t *testing.T) {
	got := string(ModifySDPDirection([]byte("v=0\r\ns=x\r\n"), "recvonly"))
	if !strings.HasSuffix(got, "\r\na=recvonly\r\n") {
		t.Errorf("direction should be appended: %q", got)
	}
}

func TestNormalizeSDP(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare newlines", "v=0\ns=x\n", "v=0\r\ns=x\r\n"},
		{"already crlf", "v=0\r\ns=x\r\n", "v=0\r\ns=x\r\n"},
		{"mixed", "v=0\r\ns=x\n", "v=0\r\ns=x\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(NormalizeSDP([]byte(tt.input))); got != tt.want {
				t.Errorf("NormalizeSDP() = %q, want %q", got, tt.want)
			}
		})
	}
}
