package youtube

import (
	"errors"
	"fmt"
)

// Session resolution reasons.
var (
	ErrReplayNotSupported   = errors.New("video is a replay, live chat is unavailable")
	ErrMissingAPIKey        = errors.New("api key not found in page")
	ErrMissingContinuation  = errors.New("neither continuation nor scheduled start found in page")
	ErrMissingClientVersion = errors.New("client version not found in page")
	ErrMissingVideoID       = errors.New("canonical video id not found in page")
)

// Chat retrieval protocol reasons.
var (
	ErrMissingContinuationList  = errors.New("response has no continuations")
	ErrUnknownContinuationShape = errors.New("continuation is neither timed nor invalidation")
	ErrMalformedResponse        = errors.New("response body is not valid JSON")
)

// ErrTooManyFailures stops a loop whose soft-failure ceiling was reached.
var ErrTooManyFailures = errors.New("too many consecutive poll failures")

// SessionResolutionError is returned by Resolver when the page cannot back a
// live chat session. It is fatal to the session.
type SessionResolutionError struct {
	VideoID string
	Err     error
}

func (e *SessionResolutionError) Error() string {
	return fmt.Sprintf("resolve session %s: %v", e.VideoID, e.Err)
}

func (e *SessionResolutionError) Unwrap() error { return e.Err }

// NetworkError is a transport failure or a non-2xx response.
type NetworkError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError means a chat response could not yield a next cursor.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "chat protocol: " + e.Err.Error() }

func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrorClass says whether a polling loop may keep its session after an error.
type ErrorClass int

const (
	// ErrorClassSoft errors are retried on the next tick with the same cursor.
	ErrorClassSoft ErrorClass = iota
	// ErrorClassFatal errors stop the session.
	ErrorClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassSoft:
		return "soft"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by Resolver or ChatClient to its class.
// Only network errors are soft; everything else leaves no way to advance.
func Classify(err error) ErrorClass {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return ErrorClassSoft
	}
	return ErrorClassFatal
}

// Reason returns a short stable label for err, used in metrics and the
// session status report.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReplayNotSupported):
		return "replay_not_supported"
	case errors.Is(err, ErrMissingAPIKey):
		return "missing_api_key"
	case errors.Is(err, ErrMissingContinuation):
		return "missing_continuation"
	case errors.Is(err, ErrMissingClientVersion):
		return "missing_client_version"
	case errors.Is(err, ErrMissingVideoID):
		return "missing_video_id"
	case errors.Is(err, ErrMissingContinuationList):
		return "missing_continuation_list"
	case errors.Is(err, ErrUnknownContinuationShape):
		return "unknown_continuation_shape"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrTooManyFailures):
		return "too_many_failures"
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "network"
	}
	return "unknown"
}
