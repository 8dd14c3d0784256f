package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"media-compressor/internal/progress"
)

const (
	barWidth    = 30
	minBarWidth = 10
	// barOverhead is the room taken by brackets, percentage and status.
	barOverhead = 32
)

// renderer draws progress events. On a terminal one line is redrawn in
// place; anywhere else each event gets its own line.
type renderer struct {
	w     io.Writer
	tty   bool
	width int
	last  int
}

func newRenderer(w io.Writer) *renderer {
	r := &renderer{w: w, width: barWidth}

	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.tty = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			r.width = max(min(cols-barOverhead, barWidth), minBarWidth)
		}
	}
	return r
}

// Run draws events until the stream closes and returns the last one.
func (r *renderer) Run(events <-chan progress.Event) progress.Event {
	var last progress.Event
	drawn := false
	for ev := range events {
		r.draw(ev)
		last = ev
		drawn = true
	}
	if r.tty && drawn {
		fmt.Fprintln(r.w)
	}
	return last
}

func (r *renderer) draw(ev progress.Event) {
	line := formatEvent(ev, r.width)
	if !r.tty {
		fmt.Fprintln(r.w, line)
		return
	}

	// Pad over whatever the previous, longer line left behind.
	pad := max(r.last-len(line), 0)
	fmt.Fprintf(r.w, "\r%s%s", line, strings.Repeat(" ", pad))
	r.last = len(line)
}

// formatEvent renders "[#####.....]  50% Encoding…".
func formatEvent(ev progress.Event, width int) string {
	pct := max(min(ev.Progress, 100), 0)
	filled := pct * width / 100

	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(strings.Repeat("#", filled))
	b.WriteString(strings.Repeat(".", width-filled))
	fmt.Fprintf(&b, "] %3d%% %s", pct, ev.Status)
	if ev.Error != "" {
		b.WriteString(": ")
		b.WriteString(ev.Error)
	}
	return b.String()
}
