// Package nosip implements a media-bridging plugin that relays RTP and
// RTCP between a WebRTC endpoint, mediated by a host gateway, and a
// legacy peer speaking plain RTP/AVP or RTP/SAVP (SDES-SRTP).
//
// The plugin performs no signalling of its own: SDP blobs are shuttled
// across the package boundary by the application, which owns SIP,
// XMPP, or any other signalling protocol.
package nosip

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/srtp/v2"
)

// Kind identifies a negotiated media type.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
	numKinds
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// MediaState holds everything the relay loop and ingress shims need
// once a session has an accepted offer/answer pair.
type MediaState struct {
	RemoteIP string

	Kinds [numKinds]KindState

	RequireSRTP    bool
	HasSRTPLocal   bool
	HasSRTPRemote  bool
	Ready          bool
	Updated        int32 // atomic bool: remote endpoint changed, relay must reconnect

	// PipeR/PipeW form the self-pipe used to wake the relay loop's
	// poll from the request handler or from teardown.
	PipeR *os.File
	PipeW *os.File
}

// KindState is the per-kind (audio/video) slice of MediaState.
type KindState struct {
	Negotiated bool

	RTPConn  *net.UDPConn
	RTCPConn *net.UDPConn

	LocalRTPPort  int
	LocalRTCPPort int

	RemoteRTPPort  int
	RemoteRTCPPort int

	SSRCLocal uint32
	SSRCPeer  uint32

	PayloadType byte
	PayloadName string

	Send bool // false when the remote SDP said sendonly/inactive

	SRTPIn      *srtp.Context
	SRTPOut     *srtp.Context
	SRTPSuiteIn int // 32 or 80
	SRTPSuiteOut int

	Switch SwitchContext
}

// Session is the central per-call entity, keyed by an opaque handle
// supplied by the host gateway.
type Session struct {
	Handle string

	mu sync.Mutex

	SDP    *sdp.SessionDescription
	Media  MediaState

	Recorders   [4]Recorder // local-audio, local-video, peer-audio, peer-video
	RecMu       sync.Mutex

	destroyedAt int64 // unix nanos, atomic; 0 while live
	hangingUp   int32 // atomic bool

	relayWG   sync.WaitGroup
	relayOnce sync.Once
}

// Recorder is the minimal sink interface a `recording` request opens
// and closes; the wire format is out of scope for this plugin.
type Recorder interface {
	Write(payload []byte, seq uint16, ts uint32) error
	Close() error
}

// Lock/Unlock guard general session mutation (SDP, media state fields
// mutated by the request handler outside the setup-then-freeze window
// described in the concurrency model).
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// MarkDestroyed atomically records the destruction timestamp, once.
// Returns true if this call performed the transition.
func (s *Session) MarkDestroyed() bool {
	return atomic.CompareAndSwapInt64(&s.destroyedAt, 0, time.Now().UnixNano())
}

// DestroyedAt returns the destruction timestamp, or zero if live.
func (s *Session) DestroyedAt() int64 {
	return atomic.LoadInt64(&s.destroyedAt)
}

// IsDestroyed reports whether the session has been marked destroyed.
func (s *Session) IsDestroyed() bool {
	return atomic.LoadInt64(&s.destroyedAt) != 0
}

// MarkHangingUp is a one-shot gate ensuring teardown runs once.
// Returns true if this call won the race.
func (s *Session) MarkHangingUp() bool {
	return atomic.CompareAndSwapInt32(&s.hangingUp, 0, 1)
}

// SetUpdated / ConsumeUpdated implement the wake-pipe handoff for a
// changed remote endpoint (§4.3, §4.6).
func (m *MediaState) SetUpdated() {
	atomic.StoreInt32(&m.Updated, 1)
}

func (m *MediaState) ConsumeUpdated() bool {
	return atomic.CompareAndSwapInt32(&m.Updated, 1, 0)
}

// IsUpdated peeks at the flag without consuming it.
func (m *MediaState) IsUpdated() bool {
	return atomic.LoadInt32(&m.Updated) == 1
}
