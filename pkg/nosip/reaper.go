package nosip

import (
	"time"

	"github.com/sirupsen/logrus"
)

const reaperInterval = 500 * time.Millisecond

// Reaper periodically frees sessions that have sat in the store's
// destroyed list for longer than the grace period, so that any
// in-flight reference (relay loop, ingress shim, request handler)
// observes the destruction before the underlying resources vanish.
//
// Grounded on the periodic-sweep idiom of cluster heartbeat loops
// (time.Ticker-driven, context-cancellable) common across the corpus's
// background workers.
type Reaper struct {
	store  *Store
	srtp   SRTPManager
	logger *logrus.Logger
}

// NewReaper creates a reaper that sweeps store on a fixed interval.
func NewReaper(store *Store, logger *logrus.Logger) *Reaper {
	return &Reaper{store: store, logger: logger}
}

// Run sweeps until stop is closed.
func (r *Reaper) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			freed := r.store.Sweep(r.free)
			if freed > 0 {
				r.logger.WithField("count", freed).Debug("reaper freed destroyed sessions")
			}
		case <-stop:
			return
		}
	}
}

func (r *Reaper) free(s *Session) {
	s.relayWG.Wait()
	for k := KindAudio; k < numKinds; k++ {
		ks := &s.Media.Kinds[k]
		if ks.RTPConn != nil {
			ks.RTPConn.Close()
			ks.RTPConn = nil
		}
		if ks.RTCPConn != nil {
			ks.RTCPConn.Close()
			ks.RTCPConn = nil
		}
	}
	if s.Media.PipeR != nil {
		s.Media.PipeR.Close()
		s.Media.PipeW.Close()
	}
	r.srtp.Cleanup(s)
	s.SDP = nil
	s.Media.RemoteIP = ""
}
