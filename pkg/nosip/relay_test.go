//go:build unix

package nosip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConnectAllPreservesLocalPort guards against the connectAll bug
// where closing and redialing a freshly-bound socket hands the kernel
// a new ephemeral source port, abandoning the port already advertised
// in the generated SDP. connectAll must connect(2) the existing fd in
// place instead.
func TestConnectAllPreservesLocalPort(t *testing.T) {
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtpConn.Close()
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtcpConn.Close()

	rtpLocalPort := rtpConn.LocalAddr().(*net.UDPAddr).Port
	rtcpLocalPort := rtcpConn.LocalAddr().(*net.UDPAddr).Port

	remoteRTP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer remoteRTP.Close()
	remoteRTCP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer remoteRTCP.Close()

	session := &Session{}
	session.Media.RemoteIP = "127.0.0.1"
	ks := &session.Media.Kinds[KindAudio]
	ks.RTPConn = rtpConn
	ks.RTCPConn = rtcpConn
	ks.RemoteRTPPort = remoteRTP.LocalAddr().(*net.UDPAddr).Port
	ks.RemoteRTCPPort = remoteRTCP.LocalAddr().(*net.UDPAddr).Port

	rl := NewRelayLoop(nil, testLogger())
	require.NoError(t, rl.connectAll(session))

	require.Equal(t, rtpLocalPort, ks.RTPConn.LocalAddr().(*net.UDPAddr).Port,
		"connectAll must not reopen the already-bound RTP socket on a new ephemeral port")
	require.Equal(t, rtcpLocalPort, ks.RTCPConn.LocalAddr().(*net.UDPAddr).Port,
		"connectAll must not reopen the already-bound RTCP socket on a new ephemeral port")

	_, err = ks.RTPConn.Write([]byte("probe"))
	require.NoError(t, err, "socket must be connected to the remote RTP address after connectAll")
}

// TestConnectAllReconnectsToNewRemoteAddress covers the mid-call
// update path (spec.md End-to-End Scenario 3): a second connectAll
// call must repoint the sockets at the new remote ports without
// touching the local ports.
func TestConnectAllReconnectsToNewRemoteAddress(t *testing.T) {
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtpConn.Close()
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtcpConn.Close()

	firstRemoteRTP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer firstRemoteRTP.Close()
	firstRemoteRTCP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer firstRemoteRTCP.Close()
	secondRemoteRTP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer secondRemoteRTP.Close()
	secondRemoteRTCP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer secondRemoteRTCP.Close()

	session := &Session{}
	session.Media.RemoteIP = "127.0.0.1"
	ks := &session.Media.Kinds[KindAudio]
	ks.RTPConn = rtpConn
	ks.RTCPConn = rtcpConn
	ks.RemoteRTPPort = firstRemoteRTP.LocalAddr().(*net.UDPAddr).Port
	ks.RemoteRTCPPort = firstRemoteRTCP.LocalAddr().(*net.UDPAddr).Port

	rl := NewRelayLoop(nil, testLogger())
	require.NoError(t, rl.connectAll(session))

	localRTPPort := ks.RTPConn.LocalAddr().(*net.UDPAddr).Port

	ks.RemoteRTPPort = secondRemoteRTP.LocalAddr().(*net.UDPAddr).Port
	ks.RemoteRTCPPort = secondRemoteRTCP.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, rl.connectAll(session))

	require.Equal(t, localRTPPort, ks.RTPConn.LocalAddr().(*net.UDPAddr).Port)
	_, err = ks.RTPConn.Write([]byte("probe"))
	require.NoError(t, err, "socket must be connected to the new remote RTP address after reconnect")
}
