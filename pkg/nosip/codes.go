package nosip

import pkg_errors "nosip-bridge/pkg/errors"

// Numbered error codes returned to the host gateway in request error
// responses. The numbering follows the plugin's own error space and
// has no relation to SIP status codes.
const (
	ErrCodeNoMessage      = 440
	ErrCodeInvalidJSON    = 441
	ErrCodeInvalidRequest = 442
	ErrCodeMissingElement = 443
	ErrCodeInvalidElement = 444
	ErrCodeWrongState     = 445
	ErrCodeMissingSDP     = 446
	ErrCodeInvalidSDP     = 447
	ErrCodeIOError        = 448
	ErrCodeRecordingError = 449
	ErrCodeTooStrict      = 450
	ErrCodeUnknown        = 499
)

// NewRequestError builds a structured error carrying one of the
// numbered codes above, for the request handler to translate directly
// into an error event back to the host gateway.
func NewRequestError(code int, message string) *pkg_errors.Error {
	return pkg_errors.New(message).WithCode(codeName(code)).WithField("error_code", code)
}

// WrapRequestError is NewRequestError's Wrap counterpart, for failures
// that originate from a lower layer (SDP parsing, port allocation).
func WrapRequestError(code int, err error, message string) *pkg_errors.Error {
	return pkg_errors.Wrap(err, message).WithCode(codeName(code)).WithField("error_code", code)
}

func codeName(code int) string {
	switch code {
	case ErrCodeNoMessage:
		return "NO_MESSAGE"
	case ErrCodeInvalidJSON:
		return "INVALID_JSON"
	case ErrCodeInvalidRequest:
		return "INVALID_REQUEST"
	case ErrCodeMissingElement:
		return "MISSING_ELEMENT"
	case ErrCodeInvalidElement:
		return "INVALID_ELEMENT"
	case ErrCodeWrongState:
		return "WRONG_STATE"
	case ErrCodeMissingSDP:
		return "MISSING_SDP"
	case ErrCodeInvalidSDP:
		return "INVALID_SDP"
	case ErrCodeIOError:
		return "IO_ERROR"
	case ErrCodeRecordingError:
		return "RECORDING_ERROR"
	case ErrCodeTooStrict:
		return "TOO_STRICT"
	default:
		return "UNKNOWN_ERROR"
	}
}
