package transcoder

import (
	"context"
	"errors"
	"testing"
)

func TestEngineError(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{"message only", &EngineError{Engine: "vips", Message: "unsupported image format"}, "vips: unsupported image format"},
		{"with diagnostic", &EngineError{Engine: "ffmpeg", Message: "exited with code 1", Diagnostic: "Invalid data"}, "ffmpeg: exited with code 1: Invalid data"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("%s: Error() = %q, want %q", tt.name, got, tt.want)
		}
	}

	wrapped := wrapEngineError("imaging", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error must unwrap to its cause")
	}
	if again := wrapEngineError("other", wrapped); again != wrapped {
		t.Error("existing engine errors must pass through unchanged")
	}
	if wrapEngineError("x", nil) != nil {
		t.Error("nil must stay nil")
	}

	timeout := &EngineError{Engine: "ffmpeg", Err: context.DeadlineExceeded}
	if !timeout.TimedOut() {
		t.Error("expected TimedOut()")
	}
}
