package nosip

import (
	"crypto/rand"
	"encoding/base64"

	pkg_errors "nosip-bridge/pkg/errors"

	"github.com/pion/srtp/v2"
)

const srtpKeySaltLen = 30 // 16-byte master key + 14-byte master salt, AES_CM_128

// SRTPManager generates local keying material, installs remote keying
// material, and owns the inbound/outbound SRTP contexts for a
// session's media kinds.
//
// Grounded on the teacher's determineSRTPProfile/srtpProfileName
// helpers in pkg/media/rtp.go, adapted from pion/srtp/v2's
// SessionSRTP (which owns a net.Conn) to the lower-level Context API,
// since the relay loop already owns socket I/O via its poll loop and
// only needs buffer-level protect/unprotect.
type SRTPManager struct{}

// SetLocal generates fresh AES_CM_128_HMAC_SHA1_80 keying material for
// kind, installs the outbound context, and returns the base64 blob for
// the SDP `crypto` attribute.
func (SRTPManager) SetLocal(s *Session, kind Kind) (string, error) {
	keySalt := make([]byte, srtpKeySaltLen)
	if _, err := rand.Read(keySalt); err != nil {
		return "", pkg_errors.Wrap(err, "failed to generate SRTP keying material")
	}

	ctx, err := srtp.CreateContext(keySalt[:16], keySalt[16:], srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return "", pkg_errors.Wrap(err, "failed to create outbound SRTP context")
	}

	ks := &s.Media.Kinds[kind]
	ks.SRTPOut = ctx
	ks.SRTPSuiteOut = 80
	s.Media.HasSRTPLocal = true

	return base64.StdEncoding.EncodeToString(keySalt), nil
}

// SetRemote decodes cryptoB64 (must decode to at least the master key
// plus salt length) and installs the inbound context for kind at the
// given suite (32 or 80).
func (SRTPManager) SetRemote(s *Session, kind Kind, cryptoB64 string, suite int) error {
	keySalt, err := base64.StdEncoding.DecodeString(cryptoB64)
	if err != nil {
		return pkg_errors.Wrap(err, "invalid base64 SRTP keying material")
	}
	if len(keySalt) < srtpKeySaltLen {
		return pkg_errors.New("SRTP keying material shorter than expected").WithField("length", len(keySalt))
	}

	profile, err := profileForSuite(suite)
	if err != nil {
		return err
	}

	ctx, err := srtp.CreateContext(keySalt[:16], keySalt[16:30], profile)
	if err != nil {
		return pkg_errors.Wrap(err, "failed to create inbound SRTP context")
	}

	ks := &s.Media.Kinds[kind]
	ks.SRTPIn = ctx
	ks.SRTPSuiteIn = suite
	s.Media.HasSRTPRemote = true

	return nil
}

// Cleanup deallocates every context for the session and resets SRTP
// flags. Safe to call on partially-initialized or already-clean
// sessions.
func (SRTPManager) Cleanup(s *Session) {
	for k := KindAudio; k < numKinds; k++ {
		ks := &s.Media.Kinds[k]
		ks.SRTPIn = nil
		ks.SRTPOut = nil
		ks.SRTPSuiteIn = 0
		ks.SRTPSuiteOut = 0
	}
	s.Media.RequireSRTP = false
	s.Media.HasSRTPLocal = false
	s.Media.HasSRTPRemote = false
}

func profileForSuite(suite int) (srtp.ProtectionProfile, error) {
	switch suite {
	case 32:
		return srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	case 80:
		return srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	default:
		return 0, pkg_errors.New("unsupported SRTP suite").WithField("suite", suite)
	}
}

// ProtectRTP encrypts a marshaled RTP packet with kind's outbound
// context.
func ProtectRTP(ks *KindState, packet []byte) ([]byte, error) {
	if ks.SRTPOut == nil {
		return packet, nil
	}
	return ks.SRTPOut.EncryptRTP(nil, packet, nil)
}

// UnprotectRTP decrypts a received RTP packet with kind's inbound
// context.
func UnprotectRTP(ks *KindState, packet []byte) ([]byte, error) {
	if ks.SRTPIn == nil {
		return packet, nil
	}
	return ks.SRTPIn.DecryptRTP(nil, packet, nil)
}

// ProtectRTCP encrypts a marshaled RTCP compound packet.
func ProtectRTCP(ks *KindState, packet []byte) ([]byte, error) {
	if ks.SRTPOut == nil {
		return packet, nil
	}
	return ks.SRTPOut.EncryptRTCP(nil, packet, nil)
}

// UnprotectRTCP decrypts a received RTCP compound packet.
func UnprotectRTCP(ks *KindState, packet []byte) ([]byte, error) {
	if ks.SRTPIn == nil {
		return packet, nil
	}
	return ks.SRTPIn.DecryptRTCP(nil, packet, nil)
}
