package transcoder

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"sync"

	"media-compressor/internal/progress"
)

// readProgress consumes ffmpeg's -progress stream and reports the encoded
// position against duration (seconds). Without a duration nothing is
// reported. The reader is always drained so ffmpeg never blocks on it.
func readProgress(r io.Reader, duration float64, reporter progress.Reporter) {
	defer func() { _, _ = io.Copy(io.Discard, r) }()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}

		switch key {
		// out_time_ms is also in microseconds.
		case "out_time_us", "out_time_ms":
			if duration <= 0 {
				continue
			}
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				continue
			}
			pct := int(float64(us) / 1e6 / duration * 100)
			reporter.Report(min(pct, 100), progress.StatusEncoding)
		case "progress":
			if value == "end" {
				reporter.Report(100, progress.StatusEncoding)
			}
		}
	}
}

// diagnosticTail keeps the last lines an engine wrote to stderr.
type diagnosticTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newDiagnosticTail(max int) *diagnosticTail {
	return &diagnosticTail{max: max}
}

func (d *diagnosticTail) consume(r io.Reader) {
	defer func() { _, _ = io.Copy(io.Discard, r) }()

	scanner := bufio.NewScanner(r)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		d.add(scanner.Text())
	}
}

func (d *diagnosticTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, line)
	if len(d.lines) > d.max {
		d.lines = d.lines[len(d.lines)-d.max:]
	}
}

// Last returns the most recent line, or "".
func (d *diagnosticTail) Last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.lines) == 0 {
		return ""
	}
	return d.lines[len(d.lines)-1]
}

// Lines returns the retained lines, oldest first.
func (d *diagnosticTail) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

// scanLinesOrCR splits on \n or \r; ffmpeg redraws status lines with \r.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
