package progress

import (
	"sync"
	"time"
)

// StatusDelivering labels events produced while a result is being sent.
const StatusDelivering = "Delivering…"

// completer is implemented by reporters that own a terminal event.
type completer interface {
	Complete() bool
}

// TransferDriver turns delivered byte counts into progress. With an
// unknown total (<= 0) nothing is reported until Finish.
type TransferDriver struct {
	reporter Reporter
	total    int64

	mu        sync.Mutex
	delivered int64
	last      int
}

// NewTransferDriver reports delivery of total bytes to r.
func NewTransferDriver(r Reporter, total int64) *TransferDriver {
	if r == nil {
		r = Discard
	}
	return &TransferDriver{reporter: r, total: total, last: -1}
}

// Add records n more bytes delivered.
func (d *TransferDriver) Add(n int64) {
	d.mu.Lock()
	d.delivered += n
	delivered := d.delivered
	d.mu.Unlock()
	d.report(delivered)
}

// OnProgress matches the streaming writer callback, which passes the
// running total.
func (d *TransferDriver) OnProgress(written int64, _ time.Duration) {
	d.mu.Lock()
	if written > d.delivered {
		d.delivered = written
	}
	delivered := d.delivered
	d.mu.Unlock()
	d.report(delivered)
}

// Write implements io.Writer so the driver can sit behind an
// io.MultiWriter or io.TeeReader.
func (d *TransferDriver) Write(p []byte) (int, error) {
	d.Add(int64(len(p)))
	return len(p), nil
}

// Delivered returns the number of bytes seen so far.
func (d *TransferDriver) Delivered() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered
}

func (d *TransferDriver) report(delivered int64) {
	if d.total <= 0 {
		return
	}
	pct := int(min(delivered, d.total) * 100 / d.total)

	d.mu.Lock()
	if pct <= d.last {
		d.mu.Unlock()
		return
	}
	d.last = pct
	d.mu.Unlock()

	d.reporter.Report(pct, StatusDelivering)
}

// Finish marks delivery complete. A reporter that owns a terminal event is
// completed; any other reporter receives a final 100.
func (d *TransferDriver) Finish() {
	if c, ok := d.reporter.(completer); ok {
		c.Complete()
		return
	}
	d.reporter.Report(100, StatusDelivering)
}
