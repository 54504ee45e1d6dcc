package nosip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	events []map[string]interface{}
	closed []string
}

func (f *fakeHost) NotifyEvent(handle string, payload map[string]interface{})   {}
func (f *fakeHost) RelayRTP(handle string, isVideo bool, buf []byte)            {}
func (f *fakeHost) RelayRTCP(handle string, isVideo bool, buf []byte)           {}
func (f *fakeHost) ClosePC(handle string)                                       { f.closed = append(f.closed, handle) }
func (f *fakeHost) EventsEnabled() bool                                         { return true }
func (f *fakeHost) PushEvent(handle, transaction string, event, jsep map[string]interface{}) {
	f.events = append(f.events, event)
}

type fakeSpawner struct {
	spawned []*Session
}

func (f *fakeSpawner) Spawn(session *Session) {
	f.spawned = append(f.spawned, session)
}

func newTestHandler(t *testing.T) (*Handler, *Store, *fakeHost, *fakeSpawner) {
	t.Helper()
	store := NewStore(testLogger())
	ports := NewPortAllocator(31000, 31100, "127.0.0.1", testLogger())
	rewriter := NewSDPRewriter("127.0.0.1")
	host := &fakeHost{}
	spawner := &fakeSpawner{}
	var relay RelaySpawner = spawner
	h := NewHandler(store, ports, rewriter, host, relay, testLogger(), 16)
	return h, store, host, spawner
}

func TestDispatchRepliesWrongStateForUnknownHandle(t *testing.T) {
	h, _, host, _ := newTestHandler(t)

	h.dispatch(Request{Handle: "missing", Body: map[string]interface{}{"request": "generate"}})

	require.Len(t, host.events, 1)
	assert.Equal(t, ErrCodeWrongState, host.events[0]["error_code"])
}

func TestDispatchRepliesNoMessageForEmptyRequestField(t *testing.T) {
	h, store, host, _ := newTestHandler(t)
	_, err := store.Create("h1")
	require.NoError(t, err)

	h.dispatch(Request{Handle: "h1", Body: map[string]interface{}{}})

	require.Len(t, host.events, 1)
	assert.Equal(t, ErrCodeNoMessage, host.events[0]["error_code"])
}

func TestDispatchRepliesInvalidRequestForUnknownKind(t *testing.T) {
	h, store, host, _ := newTestHandler(t)
	_, err := store.Create("h1")
	require.NoError(t, err)

	h.dispatch(Request{Handle: "h1", Body: map[string]interface{}{"request": "bogus"}})

	require.Len(t, host.events, 1)
	assert.Equal(t, ErrCodeInvalidRequest, host.events[0]["error_code"])
}

func TestHandleGenerateRejectsMissingSDP(t *testing.T) {
	h, store, host, _ := newTestHandler(t)
	session, err := store.Create("h1")
	require.NoError(t, err)

	h.dispatch(Request{
		Handle: "h1",
		Body:   map[string]interface{}{"request": "generate"},
		JSEP:   map[string]interface{}{"type": "offer"},
	})

	require.Len(t, host.events, 1)
	assert.Equal(t, ErrCodeMissingSDP, host.events[0]["error_code"])
	assert.False(t, session.Media.Ready)
}

func TestHandleGenerateOfferProducesPlainSDPAndNoRelaySpawn(t *testing.T) {
	h, store, host, spawner := newTestHandler(t)
	session, err := store.Create("h1")
	require.NoError(t, err)
	t.Cleanup(func() {
		for k := KindAudio; k < numKinds; k++ {
			h.ports.closeKind(&session.Media.Kinds[k])
		}
		if session.Media.PipeR != nil {
			session.Media.PipeR.Close()
			session.Media.PipeW.Close()
		}
	})

	offerSDP := "v=0\r\n" +
		"o=- 0 0 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"t=0 0\r\n" +
		"m=audio 5000 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n"

	h.dispatch(Request{
		Handle: "h1",
		Body:   map[string]interface{}{"request": "generate", "info": "call-1"},
		JSEP:   map[string]interface{}{"type": "offer", "sdp": offerSDP},
	})

	require.Len(t, host.events, 1)
	assert.Equal(t, "generated", host.events[0]["event"])
	assert.Equal(t, "call-1", host.events[0]["info"])
	assert.Empty(t, spawner.spawned, "relay must not spawn until the answer leg completes")
}

// TestHandleGenerateOfferWithOptionalSRTPEmitsOneCryptoLine covers
// spec.md's End-to-End Scenario 1: a generate offer with
// srtp:"sdes_optional" must come back with exactly one a=crypto line
// on the negotiated audio m-line, not just proto=RTP/AVP with no
// keying material.
func TestHandleGenerateOfferWithOptionalSRTPEmitsOneCryptoLine(t *testing.T) {
	h, store, host, _ := newTestHandler(t)
	session, err := store.Create("h1")
	require.NoError(t, err)
	t.Cleanup(func() {
		for k := KindAudio; k < numKinds; k++ {
			h.ports.closeKind(&session.Media.Kinds[k])
		}
		if session.Media.PipeR != nil {
			session.Media.PipeR.Close()
			session.Media.PipeW.Close()
		}
	})

	offerSDP := "v=0\r\n" +
		"o=- 0 0 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"t=0 0\r\n" +
		"m=audio 5000 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n"

	h.dispatch(Request{
		Handle: "h1",
		Body:   map[string]interface{}{"request": "generate", "srtp": "sdes_optional"},
		JSEP:   map[string]interface{}{"type": "offer", "sdp": offerSDP},
	})

	require.Len(t, host.events, 1)
	assert.Equal(t, "generated", host.events[0]["event"])
	assert.True(t, session.Media.HasSRTPLocal)

	text, ok := host.events[0]["sdp"].(string)
	require.True(t, ok)
	assert.Equal(t, 1, strings.Count(text, "m=audio"))
	assert.Equal(t, 1, strings.Count(text, "a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:"))
}

func TestHandleRecordingRejectsWhenNoTargetSelected(t *testing.T) {
	h, store, host, _ := newTestHandler(t)
	_, err := store.Create("h1")
	require.NoError(t, err)

	h.dispatch(Request{Handle: "h1", Body: map[string]interface{}{"request": "recording", "action": "start"}})

	require.Len(t, host.events, 1)
	assert.Equal(t, ErrCodeInvalidElement, host.events[0]["error_code"])
}

func TestHandleHangupNotifiesHostAndClosesPC(t *testing.T) {
	h, store, host, _ := newTestHandler(t)
	_, err := store.Create("h1")
	require.NoError(t, err)

	h.dispatch(Request{Handle: "h1", Body: map[string]interface{}{"request": "hangup"}})

	require.Len(t, host.events, 1)
	assert.Equal(t, "hangingup", host.events[0]["event"])
	assert.Equal(t, []string{"h1"}, host.closed)
}
