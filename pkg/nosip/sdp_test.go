package nosip

import (
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// thirtyZeroBytesB64 is base64 of a 30-byte all-zero key/salt, a
// deliberately inert value used only to exercise decode/length checks.
const thirtyZeroBytesB64 = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func mustParseSDP(t *testing.T, text string) *sdp.SessionDescription {
	t.Helper()
	parsed := &sdp.SessionDescription{}
	require.NoError(t, parsed.Unmarshal([]byte(text)))
	return parsed
}

func TestManipulateRewritesPortProtoAndCrypto(t *testing.T) {
	offer := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 127.0.0.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 RTP/AVP 0\r\n"
	parsed := mustParseSDP(t, offer)

	session := &Session{}
	session.Media.RequireSRTP = true
	session.Media.HasSRTPLocal = true
	session.Media.Kinds[KindAudio].Negotiated = true
	session.Media.Kinds[KindAudio].LocalRTPPort = 40000

	rewriter := NewSDPRewriter("203.0.113.9")
	text, err := rewriter.Manipulate(session, parsed, false)
	require.NoError(t, err)

	assert.Contains(t, text, "RTP/SAVP")
	assert.Contains(t, text, "m=audio 40000")
	assert.Contains(t, text, "c=IN IP4 203.0.113.9")
	assert.Equal(t, 1, strings.Count(text, "a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:"))
}

func TestManipulatePlainRTPWhenSRTPNotRequired(t *testing.T) {
	offer := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 127.0.0.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 RTP/AVP 0\r\n"
	parsed := mustParseSDP(t, offer)

	session := &Session{}
	session.Media.Kinds[KindAudio].Negotiated = true
	session.Media.Kinds[KindAudio].LocalRTPPort = 40000

	rewriter := NewSDPRewriter("203.0.113.9")
	text, err := rewriter.Manipulate(session, parsed, false)
	require.NoError(t, err)

	assert.Contains(t, text, "RTP/AVP")
	assert.NotContains(t, text, "crypto")
}

func TestProcessIngestsRemoteEndpointAndCrypto(t *testing.T) {
	answer := "v=0\r\n" +
		"o=- 0 0 IN IP4 198.51.100.5\r\n" +
		"s=-\r\n" +
		"c=IN IP4 198.51.100.5\r\n" +
		"t=0 0\r\n" +
		"m=audio 40000 RTP/SAVP 0\r\n" +
		"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:" + thirtyZeroBytesB64 + "\r\n"
	parsed := mustParseSDP(t, answer)

	session := &Session{}
	changed, err := (&SDPRewriter{}).Process(session, parsed, true, false)
	require.NoError(t, err)
	assert.False(t, changed, "changed only applies to update processing")

	assert.Equal(t, "198.51.100.5", session.Media.RemoteIP)
	assert.True(t, session.Media.RequireSRTP)
	assert.True(t, session.Media.HasSRTPRemote)
	assert.Equal(t, 40000, session.Media.Kinds[KindAudio].RemoteRTPPort)
	assert.Equal(t, 40001, session.Media.Kinds[KindAudio].RemoteRTCPPort)
	assert.True(t, session.Media.Kinds[KindAudio].Send)
}

func TestProcessRejectsSDPWithoutMedia(t *testing.T) {
	offer := "v=0\r\n" +
		"o=- 0 0 IN IP4 198.51.100.5\r\n" +
		"s=-\r\n" +
		"c=IN IP4 198.51.100.5\r\n" +
		"t=0 0\r\n"
	parsed := mustParseSDP(t, offer)

	session := &Session{}
	_, err := (&SDPRewriter{}).Process(session, parsed, false, false)
	assert.Error(t, err)
	assert.Equal(t, ErrCodeInvalidSDP, errorCodeOf(err))
}

func TestProcessUpdateDetectsPortChangeAndSkipsAttributes(t *testing.T) {
	session := &Session{}
	session.Media.RemoteIP = "198.51.100.5"
	session.Media.Kinds[KindAudio].RemoteRTPPort = 40000
	session.Media.Kinds[KindAudio].RemoteRTCPPort = 40001

	reoffer := "v=0\r\n" +
		"o=- 0 0 IN IP4 198.51.100.5\r\n" +
		"s=-\r\n" +
		"c=IN IP4 198.51.100.5\r\n" +
		"t=0 0\r\n" +
		"m=audio 40100 RTP/AVP 0\r\n"
	parsed := mustParseSDP(t, reoffer)

	changed, err := (&SDPRewriter{}).Process(session, parsed, false, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 40100, session.Media.Kinds[KindAudio].RemoteRTPPort)
	assert.True(t, session.Media.IsUpdated())
}

func TestSendGateFromDirectionAttribute(t *testing.T) {
	assert.False(t, directionAllowsSend([]sdp.Attribute{{Key: "sendonly"}}))
	assert.False(t, directionAllowsSend([]sdp.Attribute{{Key: "inactive"}}))
	assert.True(t, directionAllowsSend([]sdp.Attribute{{Key: "sendrecv"}}))
	assert.True(t, directionAllowsSend(nil))
}

func TestParseCryptoAttr(t *testing.T) {
	c, ok := parseCryptoAttr("1 AES_CM_128_HMAC_SHA1_80 inline:" + thirtyZeroBytesB64)
	require.True(t, ok)
	assert.Equal(t, 1, c.tag)
	assert.Equal(t, 80, c.suite)
	assert.Equal(t, thirtyZeroBytesB64, c.inline)

	_, ok = parseCryptoAttr("garbage")
	assert.False(t, ok)
}
