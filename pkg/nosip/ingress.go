package nosip

import (
	"encoding/binary"

	"nosip-bridge/pkg/metrics"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
)

// Ingress services the WebRTC→peer direction: synchronous callbacks
// the host gateway invokes on its own ingress threads whenever a
// packet arrives from the WebRTC side.
//
// Grounded on the teacher's RTP forwarder send path in
// pkg/media/rtp.go (ConfigureForwarderFromSDP's sibling send helpers)
// and on flowpbx-flowpbx's relay.go packet-copy-then-send shape;
// adapted to read-mostly state since the fields these shims touch are
// frozen after session setup per the concurrency model.
type Ingress struct {
	logger *logrus.Logger
}

// NewIngress creates an ingress shim set sharing logger with the rest
// of the plugin.
func NewIngress(logger *logrus.Logger) *Ingress {
	return &Ingress{logger: logger}
}

// IncomingRTP handles a packet received from the WebRTC side destined
// for the legacy peer.
func (ig *Ingress) IncomingRTP(session *Session, isVideo bool, buf []byte) {
	kind := KindAudio
	if isVideo {
		kind = KindVideo
	}
	ks := &session.Media.Kinds[kind]

	if !ks.Send {
		return
	}
	if ks.RTPConn == nil {
		return
	}

	if ks.SSRCLocal == 0 && len(buf) >= 12 {
		ks.SSRCLocal = binary.BigEndian.Uint32(buf[8:12])
	}

	out := buf
	if session.Media.HasSRTPLocal {
		protected, err := ProtectRTP(ks, buf)
		if err != nil {
			ig.logger.WithError(err).WithField("kind", kind.String()).Debug("SRTP protect failed on egress")
			if metrics.IsMetricsEnabled() {
				metrics.SRTPProtectErrors.WithLabelValues(kind.String()).Inc()
			}
			return
		}
		out = protected
	}

	if _, err := ks.RTPConn.Write(out); err != nil {
		ig.logger.WithError(err).WithField("kind", kind.String()).Debug("send to legacy peer failed")
		if metrics.IsMetricsEnabled() {
			metrics.RTPPacketsDropped.WithLabelValues(kind.String(), "send_error").Inc()
		}
		return
	}
	if metrics.IsMetricsEnabled() {
		metrics.RTPPacketsRelayed.WithLabelValues(kind.String(), "egress").Inc()
		metrics.RTPBytesRelayed.WithLabelValues(kind.String(), "egress").Add(float64(len(out)))
	}
}

// IncomingRTCP handles an RTCP packet received from the WebRTC side,
// rewriting SSRC identifiers to the legacy-peer-facing values before
// forwarding.
func (ig *Ingress) IncomingRTCP(session *Session, isVideo bool, buf []byte, fixSSRC func([]byte, uint32, uint32) []byte) {
	kind := KindAudio
	if isVideo {
		kind = KindVideo
	}
	ks := &session.Media.Kinds[kind]
	if ks.RTCPConn == nil {
		return
	}

	fixed := buf
	if fixSSRC != nil {
		fixed = fixSSRC(buf, ks.SSRCLocal, ks.SSRCPeer)
	}

	out := fixed
	if session.Media.HasSRTPLocal {
		protected, err := ProtectRTCP(ks, fixed)
		if err != nil {
			ig.logger.WithError(err).WithField("kind", kind.String()).Debug("SRTP RTCP protect failed on egress")
			if metrics.IsMetricsEnabled() {
				metrics.SRTPProtectErrors.WithLabelValues(kind.String()).Inc()
			}
			return
		}
		out = protected
	}

	if _, err := ks.RTCPConn.Write(out); err != nil {
		ig.logger.WithError(err).WithField("kind", kind.String()).Debug("RTCP send to legacy peer failed")
	}
}

// buildPLI constructs a serialized RTCP Picture Loss Indication to
// kickstart a keyframe when video recording begins.
func buildPLI(mediaSSRC uint32) []byte {
	pli := &rtcp.PictureLossIndication{MediaSSRC: mediaSSRC}
	buf, err := pli.Marshal()
	if err != nil {
		return nil
	}
	return buf
}
