package errors

import (
	"context"
	"net"
	"net/url"
	"strings"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// messageRule maps a lowercase phrase found in an error message to a kind.
// Used for errors raised by third-party code that only carry text.
type messageRule struct {
	phrase string
	kind   Kind
}

var messageRules = []messageRule{
	{"too many requests", RateLimited},
	{"status code 429", RateLimited},
	{"rate limit", RateLimited},
	{"transcript is disabled", NoCaptionsAvailable},
	{"no captions", NoCaptionsAvailable},
	{"no caption tracks", NoCaptionsAvailable},
	{"sign in to confirm", BlockedOrUnavailable},
	{"unusual traffic", BlockedOrUnavailable},
	{"login required", BlockedOrUnavailable},
	{"video unavailable", BlockedOrUnavailable},
	{"private video", BlockedOrUnavailable},
	{"status code 403", BlockedOrUnavailable},
	{"cannot playback", BlockedOrUnavailable},
	{"invalid character", ParseError},
	{"unexpected end of json", ParseError},
	{"xml syntax error", ParseError},
	{"connection refused", NetworkError},
	{"connection reset", NetworkError},
	{"no such host", NetworkError},
	{"proxyconnect", NetworkError},
	{"eof", NetworkError},
}

// Classify maps any error to a Kind. Unrecognized failures are reported as
// UnknownFailure rather than guessed.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *Error
	if pkgerrors.As(err, &appErr) {
		return appErr.Kind
	}

	if pkgerrors.Is(err, context.DeadlineExceeded) || pkgerrors.Is(err, context.Canceled) {
		return Timeout
	}

	var netErr net.Error
	if pkgerrors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}

	if pkgerrors.Is(err, syscall.ECONNRESET) || pkgerrors.Is(err, syscall.ECONNREFUSED) {
		return NetworkError
	}

	var dnsErr *net.DNSError
	if pkgerrors.As(err, &dnsErr) {
		return NetworkError
	}

	var opErr *net.OpError
	if pkgerrors.As(err, &opErr) {
		return NetworkError
	}

	if kind := classifyMessage(err.Error()); kind != "" {
		return kind
	}

	var urlErr *url.Error
	if pkgerrors.As(err, &urlErr) {
		return NetworkError
	}

	return UnknownFailure
}

func classifyMessage(msg string) Kind {
	msg = strings.ToLower(msg)
	for _, r := range messageRules {
		if strings.Contains(msg, r.phrase) {
			return r.kind
		}
	}
	return ""
}

// Wrap converts err into an *Error, classifying it when it is not one
// already. A nil err stays nil.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if pkgerrors.As(err, &appErr) {
		return appErr
	}
	return New(Classify(err), op, err, "")
}

// Retryable reports whether a failure of this kind is worth retrying locally.
func Retryable(kind Kind) bool {
	switch kind {
	case RateLimited, NetworkError, Timeout, BlockedOrUnavailable:
		return true
	}
	return false
}

// Permanent reports whether a failure must surface immediately.
func Permanent(kind Kind) bool {
	switch kind {
	case ValidationError, Unauthorized, InsufficientCredits, ConfigurationError:
		return true
	}
	return false
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return err != nil && Classify(err) == kind
}

// Diagnostic returns the raw payload attached to err, or the full error text
// when none was recorded.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if pkgerrors.As(err, &appErr) && appErr.Diagnostic != "" {
		return appErr.Diagnostic
	}
	return truncate(err.Error(), MaxDiagnostic)
}
