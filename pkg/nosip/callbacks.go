package nosip

// HostCallbacks is the subset of the host gateway's plugin ABI this
// package consumes. The host gateway implements it; the plugin never
// implements signalling, transport, or peer-connection management
// itself.
type HostCallbacks interface {
	// NotifyEvent reports an out-of-band event for observability.
	NotifyEvent(handle string, payload map[string]interface{})

	// PushEvent replies to a request, keyed by the caller-supplied
	// transaction identifier. jsep may be nil.
	PushEvent(handle, transaction string, event map[string]interface{}, jsep map[string]interface{})

	// RelayRTP/RelayRTCP forward a packet received from the legacy
	// peer up to the WebRTC side.
	RelayRTP(handle string, isVideo bool, buf []byte)
	RelayRTCP(handle string, isVideo bool, buf []byte)

	// ClosePC terminates the WebRTC peer connection for handle.
	ClosePC(handle string)

	// EventsEnabled gates whether NotifyEvent calls are worth building
	// a payload for.
	EventsEnabled() bool
}
