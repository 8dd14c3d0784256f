package compression

import (
	"errors"
	"net/http"
)

// Kind classifies why a job failed.
type Kind string

const (
	// KindMissingInput means the request carried no file. It is detected
	// before any resource is acquired.
	KindMissingInput Kind = "MissingInput"
	// KindInvalidParameter is part of the taxonomy but never produced:
	// option normalisation substitutes defaults instead of rejecting.
	KindInvalidParameter Kind = "InvalidParameter"
	// KindInputTooLarge means the upload exceeded the size limit.
	KindInputTooLarge Kind = "InputTooLarge"
	// KindEngineError means the codec engine failed.
	KindEngineError Kind = "EngineError"
	// KindResourceError means scratch storage could not be prepared.
	// Release failures are logged only and never become the job's error.
	KindResourceError Kind = "ResourceError"
	// KindUnexpectedFault covers everything else, including panics.
	KindUnexpectedFault Kind = "UnexpectedFault"
)

// HTTPStatus maps the kind to a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindMissingInput, KindInvalidParameter:
		return http.StatusBadRequest
	case KindInputTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// MetricLabel is the jobs_total status label for a failure of this kind.
func (k Kind) MetricLabel() string {
	switch k {
	case KindMissingInput:
		return "missing_input"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindInputTooLarge:
		return "input_too_large"
	case KindEngineError:
		return "engine_error"
	case KindResourceError:
		return "resource_error"
	default:
		return "unexpected_fault"
	}
}

// Generic messages shown to clients.
const (
	MessageMissingInput = "No file uploaded"
	MessageTooLarge     = "File too large"
	MessageFailed       = "Compression failed"
	MessageVideoFailed  = "Video compression failed"
)

// Error is a failed job.
type Error struct {
	Kind Kind
	// Op is the controller step that failed, e.g. "write input".
	Op string
	// Message is safe to show to clients.
	Message string
	Err     error
	// Detailed appends Err to the client message.
	Detailed bool
}

func (e *Error) Error() string {
	msg := "compression"
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is the text returned to the client.
func (e *Error) UserMessage() string {
	if e.Detailed && e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// KindOf returns the kind of err, or KindUnexpectedFault for errors that
// did not come from the controller.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpectedFault
}

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}
