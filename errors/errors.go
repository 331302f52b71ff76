package errors

import (
	"fmt"
	"net/http"
)

// Kind is the closed set of failure categories an extraction can end in.
type Kind string

const (
	NoCaptionsAvailable  Kind = "NoCaptionsAvailable"
	BlockedOrUnavailable Kind = "BlockedOrUnavailable"
	ParseError           Kind = "ParseError"
	RateLimited          Kind = "RateLimited"
	InsufficientCredits  Kind = "InsufficientCredits"
	Unauthorized         Kind = "Unauthorized"
	ValidationError      Kind = "ValidationError"
	Timeout              Kind = "Timeout"
	NetworkError         Kind = "NetworkError"
	ConfigurationError   Kind = "ConfigurationError"
	SubmissionRejected   Kind = "SubmissionRejected"
	UnknownFailure       Kind = "UnknownFailure"
)

// Kinds lists every member of the taxonomy in a stable order.
var Kinds = []Kind{
	NoCaptionsAvailable,
	BlockedOrUnavailable,
	ParseError,
	RateLimited,
	InsufficientCredits,
	Unauthorized,
	ValidationError,
	Timeout,
	NetworkError,
	ConfigurationError,
	SubmissionRejected,
	UnknownFailure,
}

func (k Kind) String() string { return string(k) }

type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"error"`
	Op         string `json:"-"`
	Status     int    `json:"status,omitempty"`
	Diagnostic string `json:"-"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDiagnostic attaches the raw upstream payload and returns the same error.
func (e *Error) WithDiagnostic(payload string) *Error {
	e.Diagnostic = truncate(payload, MaxDiagnostic)
	return e
}

// WithStatus records the HTTP status that produced the error.
func (e *Error) WithStatus(code int) *Error {
	e.Status = code
	return e
}

func New(kind Kind, op string, err error, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func NoCaptions(op string, err error, message string) *Error {
	return New(NoCaptionsAvailable, op, err, message)
}

func Blocked(op string, err error, message string) *Error {
	return New(BlockedOrUnavailable, op, err, message)
}

func Parse(op string, err error, message string) *Error {
	return New(ParseError, op, err, message)
}

func Validation(op string, err error, message string) *Error {
	return New(ValidationError, op, err, message)
}

func Config(op string, err error, message string) *Error {
	return New(ConfigurationError, op, err, message)
}

func Rejected(op string, message string) *Error {
	return New(SubmissionRejected, op, nil, message)
}

func Unknown(op string, err error, message string) *Error {
	return New(UnknownFailure, op, err, message)
}

// FromStatus maps an unexpected HTTP response to the taxonomy. body is kept
// as the diagnostic payload.
func FromStatus(op string, code int, body string) *Error {
	kind := KindForStatus(code)
	msg := fmt.Sprintf("unexpected status %d %s", code, http.StatusText(code))
	return New(kind, op, nil, msg).WithStatus(code).WithDiagnostic(body)
}

// KindForStatus returns the taxonomy member for an HTTP status code.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized:
		return Unauthorized
	case code == http.StatusPaymentRequired:
		return InsufficientCredits
	case code == http.StatusForbidden, code == http.StatusNotFound, code == http.StatusGone:
		return BlockedOrUnavailable
	case code == http.StatusUnprocessableEntity, code == http.StatusBadRequest:
		return ValidationError
	case code == http.StatusTooManyRequests:
		return RateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return Timeout
	case code >= 500:
		return NetworkError
	}
	return UnknownFailure
}

// MaxDiagnostic bounds the raw payload kept on an error.
const MaxDiagnostic = 4096

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
