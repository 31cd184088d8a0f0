package sip

import (
	"bytes"
	"regexp"
	"strings"
)

// defaultAnswerSDP is sent when the INVITE carried no offer. PRONTO has no
// media path of its own, so the stream is inactive.
const defaultAnswerSDP = `v=0
o=pronto 0 0 IN IP4 0.0.0.0
s=PRONTO Call
c=IN IP4 0.0.0.0
t=0 0
m=audio 0 RTP/AVP 0 8 101
a=inactive
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
a=rtpmap:101 telephone-event/8000
`

var (
	directionRegex = regexp.MustCompile(`a=(sendrecv|sendonly|recvonly|inactive)\r?\n`)
	mediaRegex     = regexp.MustCompile(`(m=audio[^\r\n]*\r?\n)`)
)

// AnswerSDP builds the answer for an offer
func AnswerSDP(offer []byte) []byte {
	if len(offer) == 0 || !mediaRegex.Match(NormalizeSDP(offer)) {
		return NormalizeSDP([]byte(defaultAnswerSDP))
	}
	return ModifySDPDirection(NormalizeSDP(offer), "inactive")
}

// ModifySDPDirection modifies the direction attribute in SDP
func ModifySDPDirection(sdp []byte, newDirection string) []byte {
	sdpStr := directionRegex.ReplaceAllString(string(sdp), "")

	if mediaRegex.MatchString(sdpStr) {
		sdpStr = mediaRegex.ReplaceAllString(sdpStr, "${1}a="+newDirection+"\r\n")
	} else {
		sdpStr = strings.TrimRight(sdpStr, "\r\n") + "\r\na=" + newDirection + "\r\n"
	}

	return []byte(sdpStr)
}

// NormalizeSDP ensures SDP has proper line endings
func NormalizeSDP(sdp []byte) []byte {
	result := bytes.ReplaceAll(sdp, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(result, []byte("\n"), []byte("\r\n"))
}
