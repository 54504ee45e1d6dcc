package nosip

import (
	"fmt"
	"math/rand"
	"net"
	"os"

	pkg_errors "nosip-bridge/pkg/errors"
	"nosip-bridge/pkg/metrics"

	"github.com/sirupsen/logrus"
)

const maxAllocationAttempts = 100

// PortAllocator reserves an even-numbered RTP port plus the following
// odd RTCP port, per negotiated media kind, from a configured range.
//
// Grounded on the bind-probe technique in the teacher's
// pkg/media/port_manager.go (AllocatePort/isPortAvailable), generalized
// to allocate RTP/RTCP pairs instead of single ports, and to retry the
// whole pair rather than a single port on partial failure, per the
// spec's port allocator algorithm.
type PortAllocator struct {
	min, max int
	localIP  string
	logger   *logrus.Logger
}

// NewPortAllocator creates an allocator bound to localIP, drawing from
// [min, max].
func NewPortAllocator(min, max int, localIP string, logger *logrus.Logger) *PortAllocator {
	return &PortAllocator{min: min, max: max, localIP: localIP, logger: logger}
}

// Allocate reserves sockets for every kind marked Negotiated in
// session.Media, plus the session's self-pipe. Re-entry is idempotent:
// any sockets already open for this session are closed and their port
// fields reset before allocation begins.
func (pa *PortAllocator) Allocate(s *Session) error {
	for k := KindAudio; k < numKinds; k++ {
		ks := &s.Media.Kinds[k]
		pa.closeKind(ks)
		if !ks.Negotiated {
			continue
		}

		rtpConn, rtcpConn, rtpPort, err := pa.allocatePair()
		if err != nil {
			if metrics.IsMetricsEnabled() {
				metrics.PortAllocFailures.Inc()
			}
			return pkg_errors.Wrap(err, "could not allocate ports").WithField("kind", k.String())
		}

		ks.RTPConn = rtpConn
		ks.RTCPConn = rtcpConn
		ks.LocalRTPPort = rtpPort
		ks.LocalRTCPPort = rtpPort + 1
		if metrics.IsMetricsEnabled() {
			metrics.PortsInUse.Add(2)
		}
	}

	if s.Media.PipeR == nil && s.Media.PipeW == nil {
		r, w, err := os.Pipe()
		if err != nil {
			return pkg_errors.Wrap(err, "could not create wakeup pipe")
		}
		s.Media.PipeR, s.Media.PipeW = r, w
	}

	return nil
}

func (pa *PortAllocator) closeKind(ks *KindState) {
	wasOpen := false
	if ks.RTPConn != nil {
		ks.RTPConn.Close()
		ks.RTPConn = nil
		wasOpen = true
	}
	if ks.RTCPConn != nil {
		ks.RTCPConn.Close()
		ks.RTCPConn = nil
		wasOpen = true
	}
	if wasOpen && metrics.IsMetricsEnabled() {
		metrics.PortsInUse.Add(-2)
	}
	ks.LocalRTPPort = 0
	ks.LocalRTCPPort = 0
}

// allocatePair binds an even RTP port and the following odd RTCP
// port, retrying with a fresh random port on any failure until the
// attempt budget is exhausted.
func (pa *PortAllocator) allocatePair() (*net.UDPConn, *net.UDPConn, int, error) {
	attempts := maxAllocationAttempts
	for attempts > 0 {
		attempts--

		port := pa.randomEvenPort()
		rtpConn, err := pa.bind(port)
		if err != nil {
			continue
		}

		rtcpConn, err := pa.bind(port + 1)
		if err != nil {
			rtpConn.Close()
			continue
		}

		return rtpConn, rtcpConn, port, nil
	}
	return nil, nil, 0, fmt.Errorf("no free RTP/RTCP port pair in range %d-%d after %d attempts", pa.min, pa.max, maxAllocationAttempts)
}

func (pa *PortAllocator) randomEvenPort() int {
	span := pa.max - pa.min + 1
	if span <= 0 {
		return pa.min
	}
	port := pa.min + rand.Intn(span)
	if port%2 != 0 {
		port++
	}
	if port+1 > pa.max {
		port -= 2
	}
	if port < pa.min {
		port = pa.min + (pa.min % 2)
	}
	return port
}

func (pa *PortAllocator) bind(port int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(pa.localIP), Port: port}
	return net.ListenUDP("udp", addr)
}
