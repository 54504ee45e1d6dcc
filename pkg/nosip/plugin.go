package nosip

import (
	"nosip-bridge/pkg/config"
	pkg_errors "nosip-bridge/pkg/errors"
	"nosip-bridge/pkg/metrics"

	"github.com/sirupsen/logrus"
)

const requestQueueDepth = 256

// Plugin is the top-level object the host gateway's plugin-ABI
// adapter creates once and threads through every operation, replacing
// the process-global sessions/config state a first pass at this
// design would otherwise reach for.
type Plugin struct {
	cfg     *config.Config
	store   *Store
	ports   *PortAllocator
	sdp     *SDPRewriter
	ingress *Ingress
	relay   *RelayLoop
	reaper  *Reaper
	handler *Handler
	host    HostCallbacks
	logger  *logrus.Logger

	stop chan struct{}
}

// Init loads configuration from configPath, wires every subsystem
// together, and starts the request handler and reaper background
// goroutines.
func Init(host HostCallbacks, configPath string, logger *logrus.Logger) (*Plugin, error) {
	metrics.Init(logger)

	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return nil, pkg_errors.Wrap(err, "failed to load configuration")
	}

	store := NewStore(logger)
	ports := NewPortAllocator(cfg.General.RTPPortMin, cfg.General.RTPPortMax, cfg.General.LocalIP, logger)
	rewriter := NewSDPRewriter(cfg.General.LocalIP)
	relay := NewRelayLoop(host, logger)
	handler := NewHandler(store, ports, rewriter, host, relay, logger, requestQueueDepth)
	reaper := NewReaper(store, logger)

	p := &Plugin{
		cfg:     cfg,
		store:   store,
		ports:   ports,
		sdp:     rewriter,
		ingress: NewIngress(logger),
		relay:   relay,
		reaper:  reaper,
		handler: handler,
		host:    host,
		logger:  logger,
		stop:    make(chan struct{}),
	}

	go handler.Run(p.stop)
	go reaper.Run(p.stop)

	logger.WithFields(logrus.Fields{
		"local_ip":       cfg.General.LocalIP,
		"rtp_port_min":   cfg.General.RTPPortMin,
		"rtp_port_max":   cfg.General.RTPPortMax,
	}).Info("nosip plugin initialized")

	return p, nil
}

// Destroy stops the request handler and reaper goroutines. Sessions
// still in-flight are abandoned; the caller is expected to have
// already hung up every session.
func (p *Plugin) Destroy() {
	close(p.stop)
}

// CreateSession registers a new session under handle.
func (p *Plugin) CreateSession(handle string) error {
	_, err := p.store.Create(handle)
	if err != nil {
		return err
	}
	p.notify(handle, "created")
	return nil
}

// DestroySession moves handle's session to the destroyed list and
// wakes its relay loop, if any, so it observes teardown promptly.
func (p *Plugin) DestroySession(handle string) error {
	session, ok := p.store.Get(handle)
	if !ok {
		return pkg_errors.NewSessionNotFound(handle)
	}
	if !p.store.Destroy(handle) {
		return nil
	}
	if session.Media.PipeW != nil {
		session.Media.PipeW.Write([]byte{0})
	}
	p.notify(handle, "destroyed")
	return nil
}

// QuerySession returns a JSON-friendly snapshot of session state.
func (p *Plugin) QuerySession(handle string) (map[string]interface{}, error) {
	session, ok := p.store.Get(handle)
	if !ok {
		return nil, pkg_errors.NewSessionNotFound(handle)
	}

	session.Lock()
	defer session.Unlock()

	return map[string]interface{}{
		"handle":         session.Handle,
		"ready":          session.Media.Ready,
		"remote_ip":      session.Media.RemoteIP,
		"require_srtp":   session.Media.RequireSRTP,
		"has_srtp_local": session.Media.HasSRTPLocal,
		"has_srtp_peer":  session.Media.HasSRTPRemote,
		"audio":          kindSummary(&session.Media.Kinds[KindAudio]),
		"video":          kindSummary(&session.Media.Kinds[KindVideo]),
	}, nil
}

// HandleMessage enqueues a request for the handler worker and returns
// immediately: replies land asynchronously via HostCallbacks.PushEvent.
func (p *Plugin) HandleMessage(handle, transaction string, body, jsep map[string]interface{}) {
	p.handler.Submit(Request{Handle: handle, Transaction: transaction, Body: body, JSEP: jsep})
}

// SetupMedia is a no-op hook for symmetry with the host ABI: this
// plugin's media setup happens as a side effect of `generate`/`process`
// reaching the answer state, not on a separate lifecycle callback.
func (p *Plugin) SetupMedia(handle string) {}

// HangupMedia asks the host to close the WebRTC peer connection, at
// most once per session (guarded by the hanging-up flag). It does not
// close the session's sockets or stop its relay loop; those are torn
// down only when the session is destroyed.
func (p *Plugin) HangupMedia(handle string) {
	session, ok := p.store.Get(handle)
	if !ok {
		return
	}
	if !session.MarkHangingUp() {
		return
	}
	p.host.ClosePC(handle)
}

// IncomingRTP forwards a WebRTC-side RTP packet to the legacy peer.
func (p *Plugin) IncomingRTP(handle string, isVideo bool, buf []byte) {
	session, ok := p.store.Get(handle)
	if !ok {
		return
	}
	p.ingress.IncomingRTP(session, isVideo, buf)
}

// IncomingRTCP forwards a WebRTC-side RTCP packet to the legacy peer,
// rewriting SSRC identifiers with fixSSRC first.
func (p *Plugin) IncomingRTCP(handle string, isVideo bool, buf []byte, fixSSRC func([]byte, uint32, uint32) []byte) {
	session, ok := p.store.Get(handle)
	if !ok {
		return
	}
	p.ingress.IncomingRTCP(session, isVideo, buf, fixSSRC)
}

func (p *Plugin) notify(handle, event string) {
	if !p.host.EventsEnabled() {
		return
	}
	p.host.NotifyEvent(handle, map[string]interface{}{"event": event})
}

func kindSummary(ks *KindState) map[string]interface{} {
	return map[string]interface{}{
		"negotiated":  ks.Negotiated,
		"local_rtp":   ks.LocalRTPPort,
		"local_rtcp":  ks.LocalRTCPPort,
		"remote_rtp":  ks.RemoteRTPPort,
		"remote_rtcp": ks.RemoteRTCPPort,
		"payload":     ks.PayloadName,
	}
}
