package nosip

import (
	"fmt"
	"time"

	pkg_errors "nosip-bridge/pkg/errors"

	"nosip-bridge/pkg/metrics"

	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// Request is one FIFO entry drained by the request handler worker.
type Request struct {
	Handle      string
	Transaction string
	Body        map[string]interface{}
	JSEP        map[string]interface{}
}

// Handler is the single worker that drains the request FIFO,
// validates each request, and drives session state transitions.
//
// Grounded on the teacher's single-goroutine FIFO consumer shape (the
// SIP handler's recoverMiddleware-wrapped dispatch in pkg/sip/handler.go),
// generalized from SIP-method dispatch to the plugin's own
// generate/process/hangup/recording request kinds.
type Handler struct {
	store    *Store
	ports    *PortAllocator
	sdp      *SDPRewriter
	srtp     SRTPManager
	host     HostCallbacks
	logger   *logrus.Logger
	requests chan Request
	relay    RelaySpawner
}

// RelaySpawner starts the relay loop for a session once it reaches the
// ready state. Abstracted out of Handler so tests can substitute a
// no-op spawner.
type RelaySpawner interface {
	Spawn(session *Session)
}

// NewHandler creates a request handler wired to store/ports/sdp/host,
// with a FIFO of the given depth.
func NewHandler(store *Store, ports *PortAllocator, rewriter *SDPRewriter, host HostCallbacks, relay RelaySpawner, logger *logrus.Logger, queueDepth int) *Handler {
	return &Handler{
		store:    store,
		ports:    ports,
		sdp:      rewriter,
		host:     host,
		logger:   logger,
		requests: make(chan Request, queueDepth),
		relay:    relay,
	}
}

// Submit enqueues a request. Blocks if the FIFO is full.
func (h *Handler) Submit(req Request) {
	h.requests <- req
}

// Run drains the FIFO until stop is closed.
func (h *Handler) Run(stop <-chan struct{}) {
	for {
		select {
		case req := <-h.requests:
			h.dispatch(req)
		case <-stop:
			return
		}
	}
}

func (h *Handler) dispatch(req Request) {
	logger := h.logger.WithFields(logrus.Fields{"handle": req.Handle, "transaction": req.Transaction})

	session, ok := h.store.Get(req.Handle)
	if !ok {
		h.replyError(req, ErrCodeWrongState, pkg_errors.NewSessionNotFound(req.Handle))
		return
	}

	request, _ := req.Body["request"].(string)
	if metrics.IsMetricsEnabled() {
		metrics.RequestsHandled.WithLabelValues(request).Inc()
	}

	var err error
	switch {
	case request == "":
		err = NewRequestError(ErrCodeNoMessage, "request field is missing or empty")
	case request == "generate":
		err = h.handleGenerate(session, req)
	case request == "process":
		err = h.handleProcess(session, req)
	case request == "hangup":
		err = h.handleHangup(session, req)
	case request == "recording":
		err = h.handleRecording(session, req)
	default:
		err = NewRequestError(ErrCodeInvalidRequest, "unknown request: "+request)
	}

	if err != nil {
		logger.WithError(err).Warn("request failed")
		h.replyError(req, errorCodeOf(err), err)
	}
}

func (h *Handler) handleGenerate(session *Session, req Request) error {
	jsepType, _ := req.JSEP["type"].(string)
	jsepSDP, _ := req.JSEP["sdp"].(string)
	if jsepType != "offer" && jsepType != "answer" {
		return NewRequestError(ErrCodeInvalidElement, "jsep.type must be offer or answer")
	}
	if jsepSDP == "" {
		return NewRequestError(ErrCodeMissingSDP, "jsep.sdp is required")
	}

	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(jsepSDP)); err != nil {
		return WrapRequestError(ErrCodeInvalidSDP, err, "failed to parse JSEP SDP")
	}
	if hasApplicationMedia(parsed) {
		return NewRequestError(ErrCodeInvalidSDP, "m=application is not supported")
	}

	session.Lock()
	defer session.Unlock()

	srtpMode, _ := req.Body["srtp"].(string)
	switch srtpMode {
	case "", "sdes_optional":
		session.Media.RequireSRTP = false
	case "sdes_mandatory":
		session.Media.RequireSRTP = true
	default:
		return NewRequestError(ErrCodeInvalidElement, "srtp must be sdes_optional or sdes_mandatory")
	}
	wantsSRTP := srtpMode == "sdes_optional" || srtpMode == "sdes_mandatory"

	isAnswer := jsepType == "answer"
	if !isAnswer {
		h.srtp.Cleanup(session)
		session.Media.RequireSRTP = srtpMode == "sdes_mandatory"
		session.Media.HasSRTPLocal = wantsSRTP
	} else {
		session.Media.HasSRTPLocal = wantsSRTP || session.Media.HasSRTPLocal
		if session.Media.RequireSRTP && !session.Media.HasSRTPRemote {
			return NewRequestError(ErrCodeTooStrict, "SRTP required but remote did not offer compatible crypto")
		}
		session.Media.HasSRTPLocal = session.Media.HasSRTPLocal || session.Media.HasSRTPRemote
	}

	markNegotiatedKinds(session, parsed)

	if err := h.ports.Allocate(session); err != nil {
		return WrapRequestError(ErrCodeIOError, err, "port allocation failed")
	}

	text, err := h.sdp.Manipulate(session, parsed, isAnswer)
	if err != nil {
		return WrapRequestError(ErrCodeInvalidSDP, err, "failed to rewrite SDP")
	}
	session.SDP = parsed

	event := map[string]interface{}{
		"event": "generated",
		"type":  jsepType,
		"sdp":   text,
	}
	if info, ok := req.Body["info"]; ok {
		event["info"] = info
	}
	h.host.PushEvent(req.Handle, req.Transaction, event, nil)

	if isAnswer {
		session.Media.Ready = true
		h.relay.Spawn(session)
	}
	return nil
}

func (h *Handler) handleProcess(session *Session, req Request) error {
	reqType, _ := req.Body["type"].(string)
	reqSDP, _ := req.Body["sdp"].(string)
	if reqType != "offer" && reqType != "answer" {
		return NewRequestError(ErrCodeInvalidElement, "type must be offer or answer")
	}
	if reqSDP == "" {
		return NewRequestError(ErrCodeMissingSDP, "sdp is required")
	}

	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(reqSDP)); err != nil {
		return WrapRequestError(ErrCodeInvalidSDP, err, "failed to parse peer SDP")
	}

	session.Lock()
	defer session.Unlock()

	isAnswer := reqType == "answer"
	isUpdate := session.Media.Ready

	if !isAnswer && !isUpdate {
		h.srtp.Cleanup(session)
	}

	_, err := h.sdp.Process(session, parsed, isAnswer, isUpdate)
	if err != nil {
		return err
	}
	session.SDP = parsed

	result := map[string]interface{}{
		"event": "processed",
		"type":  reqType,
		"sdp":   reqSDP,
	}
	if info, ok := req.Body["info"]; ok {
		result["info"] = info
	}
	if session.Media.HasSRTPRemote {
		result["srtp"] = "sdes_optional"
		if session.Media.RequireSRTP {
			result["srtp"] = "sdes_mandatory"
		}
	}

	jsep := map[string]interface{}{"type": reqType, "sdp": reqSDP}
	h.host.PushEvent(req.Handle, req.Transaction, result, jsep)

	if isAnswer && !isUpdate {
		session.Media.Ready = true
		h.relay.Spawn(session)
	}
	return nil
}

func (h *Handler) handleHangup(session *Session, req Request) error {
	h.host.ClosePC(req.Handle)
	h.host.PushEvent(req.Handle, req.Transaction, map[string]interface{}{"event": "hangingup"}, nil)
	return nil
}

func (h *Handler) handleRecording(session *Session, req Request) error {
	action, _ := req.Body["action"].(string)
	if action != "start" && action != "stop" {
		return NewRequestError(ErrCodeInvalidElement, "action must be start or stop")
	}

	flags := map[string]bool{
		"audio":      boolField(req.Body, "audio"),
		"video":      boolField(req.Body, "video"),
		"peer_audio": boolField(req.Body, "peer_audio"),
		"peer_video": boolField(req.Body, "peer_video"),
	}
	if !flags["audio"] && !flags["video"] && !flags["peer_audio"] && !flags["peer_video"] {
		return NewRequestError(ErrCodeInvalidElement, "at least one recording target must be set")
	}

	filename, _ := req.Body["filename"].(string)
	if action == "start" && filename == "" {
		filename = fmt.Sprintf("nosip-%s-%d", session.Handle, time.Now().Unix())
	}

	session.RecMu.Lock()
	defer session.RecMu.Unlock()

	if action == "start" {
		if err := h.startRecorders(session, flags, filename); err != nil {
			return err
		}
		if flags["video"] || flags["peer_video"] {
			h.host.RelayRTCP(req.Handle, true, buildPLI(session.Media.Kinds[KindVideo].SSRCLocal))
		}
	} else {
		h.stopRecorders(session, flags)
	}

	h.host.PushEvent(req.Handle, req.Transaction, map[string]interface{}{"event": "recordingupdated"}, nil)
	return nil
}

func (h *Handler) startRecorders(session *Session, flags map[string]bool, filename string) error {
	slots := []struct {
		idx  int
		want bool
		role string
		kind Kind
	}{
		{0, flags["audio"], "local", KindAudio},
		{1, flags["video"], "local", KindVideo},
		{2, flags["peer_audio"], "peer", KindAudio},
		{3, flags["peer_video"], "peer", KindVideo},
	}

	for _, slot := range slots {
		if !slot.want {
			continue
		}
		rec, err := newFileRecorder(recorderPath(session.Handle, filename, slot.role, slot.kind))
		if err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"handle": session.Handle, "role": slot.role, "kind": slot.kind.String(),
			}).Warn("failed to open recorder")
			continue
		}
		session.Recorders[slot.idx] = rec
	}
	return nil
}

func (h *Handler) stopRecorders(session *Session, flags map[string]bool) {
	slots := []struct {
		idx  int
		want bool
	}{
		{0, flags["audio"]}, {1, flags["video"]}, {2, flags["peer_audio"]}, {3, flags["peer_video"]},
	}
	for _, slot := range slots {
		if !slot.want || session.Recorders[slot.idx] == nil {
			continue
		}
		session.Recorders[slot.idx].Close()
		session.Recorders[slot.idx] = nil
	}
}

func (h *Handler) replyError(req Request, code int, err error) {
	if metrics.IsMetricsEnabled() {
		metrics.RequestErrors.WithLabelValues(codeName(code)).Inc()
	}
	h.host.PushEvent(req.Handle, req.Transaction, map[string]interface{}{
		"error_code": code,
		"error":      err.Error(),
	}, nil)
}

func errorCodeOf(err error) int {
	var serr *pkg_errors.Error
	if e, ok := err.(*pkg_errors.Error); ok {
		serr = e
	}
	if serr == nil {
		return ErrCodeUnknown
	}
	if v, ok := serr.GetFields()["error_code"].(int); ok {
		return v
	}
	return ErrCodeUnknown
}

func markNegotiatedKinds(session *Session, parsed *sdp.SessionDescription) {
	for i := range parsed.MediaDescriptions {
		md := parsed.MediaDescriptions[i]
		if kind, ok := kindForMedia(md.MediaName.Media); ok {
			session.Media.Kinds[kind].Negotiated = true
		}
	}
}

func hasApplicationMedia(parsed *sdp.SessionDescription) bool {
	for i := range parsed.MediaDescriptions {
		if parsed.MediaDescriptions[i].MediaName.Media == "application" {
			return true
		}
	}
	return false
}

func boolField(body map[string]interface{}, key string) bool {
	v, _ := body[key].(bool)
	return v
}

func recorderPath(handle, filename, role string, kind Kind) string {
	return filename + "-" + role + "-" + kind.String()
}

