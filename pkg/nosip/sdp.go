package nosip

import (
	"fmt"
	"strconv"
	"strings"

	pkg_errors "nosip-bridge/pkg/errors"

	"github.com/pion/sdp/v3"
)

// cryptoAttr matches `a=crypto:<tag> AES_CM_128_HMAC_SHA1_<suite> inline:<b64>`.
type cryptoAttr struct {
	tag    int
	suite  int
	inline string
}

// SDPRewriter implements the generate (local→peer) and ingest
// (peer→local) halves of SDP handling.
//
// Grounded on the teacher's ConfigureForwarderFromSDP/parseSRTPAttributes
// in pkg/media/sdp_utils.go for crypto-line parsing idiom, and on
// pkg/sip/sdp.go for the session-description construction idiom;
// generalized from the teacher's one-directional "offer applies to
// forwarder" shape into the spec's two-directional manipulate/process
// pair.
type SDPRewriter struct {
	localIP string
	srtp    SRTPManager
}

// NewSDPRewriter creates a rewriter that advertises localIP on every
// generated media line.
func NewSDPRewriter(localIP string) *SDPRewriter {
	return &SDPRewriter{localIP: localIP}
}

// Manipulate rewrites parsed (a locally-generated JSEP SDP) into the
// plain-SDP text offered/answered to the legacy peer, allocating SRTP
// keying material as needed. session.Media's per-kind local ports must
// already be populated by the port allocator.
func (r *SDPRewriter) Manipulate(session *Session, parsed *sdp.SessionDescription, isAnswer bool) (string, error) {
	for i := range parsed.MediaDescriptions {
		md := parsed.MediaDescriptions[i]
		kind, ok := kindForMedia(md.MediaName.Media)
		if !ok {
			continue
		}
		ks := &session.Media.Kinds[kind]
		if !ks.Negotiated {
			continue
		}

		if session.Media.RequireSRTP {
			md.MediaName.Protos = []string{"RTP", "SAVP"}
		} else {
			md.MediaName.Protos = []string{"RTP", "AVP"}
		}

		md.MediaName.Port = sdp.RangedPort{Value: ks.LocalRTPPort}
		md.ConnectionInformation = &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: r.localIP},
		}

		if session.Media.HasSRTPLocal {
			cryptoB64, err := r.srtp.SetLocal(session, kind)
			if err != nil {
				return "", pkg_errors.Wrap(err, "failed to generate local SRTP keying material").
					WithField("kind", kind.String())
			}
			md.Attributes = appendOrReplaceCrypto(md.Attributes, cryptoAttr{tag: 1, suite: 80, inline: cryptoB64})
		}

		if isAnswer && len(md.MediaName.Formats) > 0 {
			if pt, err := strconv.Atoi(strings.TrimSpace(md.MediaName.Formats[0])); err == nil {
				ks.PayloadType = byte(pt)
			}
		}
	}

	text, err := parsed.Marshal()
	if err != nil {
		return "", pkg_errors.Wrap(err, "failed to marshal rewritten SDP")
	}
	return string(text), nil
}

// Process ingests a peer's plain-SDP offer or answer, updating
// session.Media in place. changed reports whether, during an update,
// the remote endpoint moved; attribute reprocessing is skipped on
// updates per the spec.
func (r *SDPRewriter) Process(session *Session, parsed *sdp.SessionDescription, isAnswer, isUpdate bool) (changed bool, err error) {
	oldIP := session.Media.RemoteIP
	oldPorts := [numKinds]int{
		session.Media.Kinds[KindAudio].RemoteRTPPort,
		session.Media.Kinds[KindVideo].RemoteRTPPort,
	}

	if parsed.ConnectionInformation != nil && parsed.ConnectionInformation.Address != nil {
		session.Media.RemoteIP = parsed.ConnectionInformation.Address.Address
	}

	anyNegotiated := false
	for i := range parsed.MediaDescriptions {
		md := parsed.MediaDescriptions[i]
		kind, ok := kindForMedia(md.MediaName.Media)
		if !ok {
			continue
		}
		ks := &session.Media.Kinds[kind]

		if md.MediaName.Port.Value != 0 {
			ks.Negotiated = true
			ks.RemoteRTPPort = md.MediaName.Port.Value
			ks.RemoteRTCPPort = md.MediaName.Port.Value + 1
			anyNegotiated = true
			ks.Send = directionAllowsSend(md.Attributes)
		} else {
			ks.Send = false
		}

		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			session.Media.RemoteIP = md.ConnectionInformation.Address.Address
		}

		for _, proto := range md.MediaName.Protos {
			if strings.EqualFold(proto, "SAVP") {
				session.Media.RequireSRTP = true
			}
		}

		if isUpdate {
			continue
		}

		if isAnswer && len(md.MediaName.Formats) > 0 {
			if pt, err := strconv.Atoi(strings.TrimSpace(md.MediaName.Formats[0])); err == nil {
				ks.PayloadType = byte(pt)
			}
		}

		for _, attr := range md.Attributes {
			if attr.Key != "crypto" {
				continue
			}
			c, ok := parseCryptoAttr(attr.Value)
			if !ok {
				continue
			}
			if ks.SRTPSuiteIn != 0 {
				continue // first acceptable line per kind wins
			}
			if err := r.srtp.SetRemote(session, kind, c.inline, c.suite); err != nil {
				return false, pkg_errors.Wrap(err, "failed to install remote SRTP keying material").
					WithField("kind", kind.String())
			}
			session.Media.HasSRTPRemote = true
		}
	}

	if !isUpdate && !anyNegotiated {
		return false, NewRequestError(ErrCodeInvalidSDP, "no audio or video media negotiated")
	}
	if !isUpdate && session.Media.RemoteIP == "" {
		return false, NewRequestError(ErrCodeInvalidSDP, "no remote address in SDP")
	}

	if isUpdate {
		newPorts := [numKinds]int{
			session.Media.Kinds[KindAudio].RemoteRTPPort,
			session.Media.Kinds[KindVideo].RemoteRTPPort,
		}
		if session.Media.RemoteIP != oldIP || newPorts != oldPorts {
			changed = true
			session.Media.SetUpdated()
			if session.Media.PipeW != nil {
				session.Media.PipeW.Write([]byte{0})
			}
		}
	}

	return changed, nil
}

func kindForMedia(media string) (Kind, bool) {
	switch media {
	case "audio":
		return KindAudio, true
	case "video":
		return KindVideo, true
	default:
		return 0, false
	}
}

func directionAllowsSend(attrs []sdp.Attribute) bool {
	for _, a := range attrs {
		switch a.Key {
		case "sendonly", "inactive":
			return false
		}
	}
	return true
}

func appendOrReplaceCrypto(attrs []sdp.Attribute, c cryptoAttr) []sdp.Attribute {
	value := fmt.Sprintf("%d AES_CM_128_HMAC_SHA1_%d inline:%s", c.tag, c.suite, c.inline)
	for i := range attrs {
		if attrs[i].Key == "crypto" {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, sdp.Attribute{Key: "crypto", Value: value})
}

func parseCryptoAttr(value string) (cryptoAttr, bool) {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return cryptoAttr{}, false
	}

	tag, err := strconv.Atoi(fields[0])
	if err != nil {
		return cryptoAttr{}, false
	}

	var suite int
	switch fields[1] {
	case "AES_CM_128_HMAC_SHA1_32":
		suite = 32
	case "AES_CM_128_HMAC_SHA1_80":
		suite = 80
	default:
		return cryptoAttr{}, false
	}

	var inline string
	for _, f := range fields[2:] {
		if strings.HasPrefix(f, "inline:") {
			inline = strings.TrimPrefix(f, "inline:")
			break
		}
	}
	if inline == "" {
		return cryptoAttr{}, false
	}
	if idx := strings.IndexByte(inline, '|'); idx >= 0 {
		inline = inline[:idx]
	}

	return cryptoAttr{tag: tag, suite: suite, inline: inline}, true
}
