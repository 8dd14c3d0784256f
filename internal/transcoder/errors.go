package transcoder

import (
	"context"
	"errors"
	"fmt"
)

// EngineError reports a failed codec invocation. Message is the engine's
// own account of the failure; Diagnostic is the last line the engine wrote
// to its diagnostic stream, which is usually more specific.
type EngineError struct {
	Engine     string
	Message    string
	Diagnostic string
	Err        error
}

func (e *EngineError) Error() string {
	msg := e.Engine + ": " + e.Message
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// TimedOut reports whether the engine was stopped by its deadline.
func (e *EngineError) TimedOut() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// wrapEngineError converts err into an *EngineError for engine. Existing
// engine errors and nil pass through.
func wrapEngineError(engine string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Engine: engine, Message: err.Error(), Err: err}
}

func errorf(engine string, err error, format string, args ...any) *EngineError {
	return &EngineError{Engine: engine, Message: fmt.Sprintf(format, args...), Err: err}
}
