package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error sentinel values used throughout the plugin.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrNotImplemented     = errors.New("not implemented")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnavailable        = errors.New("service unavailable")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrFailedPrecondition = errors.New("failed precondition")

	// Domain-specific sentinel values.
	ErrInvalidSDP      = errors.New("invalid SDP message")
	ErrSessionNotFound = errors.New("session not found")
	ErrMediaFailure    = errors.New("media processing failure")
)

// Error represents a structured error with stack trace and additional context.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	stackPC  uintptr
	file     string
	line     int

	// Code is an optional error code for categorization.
	Code string
}

// New creates a new structured error with the given message.
func New(message string, fields ...map[string]interface{}) *Error {
	pc, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   fieldMap,
		stackPC:  pc,
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	pc, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: err,
		message:  message,
		fields:   fieldMap,
		stackPC:  pc,
		file:     file,
		line:     line,
	}
}

// WithField adds a single field to the error context.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+1),
		stackPC:  e.stackPC,
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	result.fields[key] = value
	return result
}

// WithFields adds multiple fields to the error context.
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}

	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+len(fields)),
		stackPC:  e.stackPC,
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode adds an error code to the error.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	result := *e
	result.Code = code
	return &result
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created.
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	filename := parts[len(parts)-1]
	return fmt.Sprintf("%s:%d", filename, e.line)
}

// GetFields returns the error's context fields.
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code.
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// Is reports whether any error in err's tree matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// AsJSON returns the error in JSON-friendly map format.
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}
	result := map[string]interface{}{
		"message":  e.Error(),
		"location": e.Location(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["context"] = e.fields
	}
	return result
}

// NewSessionNotFound creates a new ErrSessionNotFound with additional context.
func NewSessionNotFound(handle string, fields ...map[string]interface{}) *Error {
	fieldMap := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	}
	fieldMap["handle"] = handle

	pc, file, line, _ := runtime.Caller(1)
	return &Error{
		original: ErrSessionNotFound,
		message:  fmt.Sprintf("session not found: %s", handle),
		fields:   fieldMap,
		stackPC:  pc,
		file:     file,
		line:     line,
		Code:     "SESSION_NOT_FOUND",
	}
}

// IsErrorType checks if an error is of a specific error type.
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error.
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}

// GetErrorFields extracts fields from an error if it's a structured error.
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}
