package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ServeSSE writes ch to w as server-sent events, one "data: {json}" record
// per event, and returns once the terminal event is written, the client
// goes away, or a write fails.
func ServeSSE(ctx context.Context, w http.ResponseWriter, ch *Channel) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for ev := range ch.Subscribe(ctx) {
		if err := WriteEvent(w, ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return ctx.Err()
}

// WriteEvent writes a single SSE data record.
func WriteEvent(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
