package progress

import (
	"context"
	"strconv"
	"sync"

	"media-compressor/internal/metrics"
)

// Status labels shared by every driver.
const (
	StatusStarting   = "Starting…"
	StatusProcessing = "Processing…"
	StatusEncoding   = "Encoding…"
	StatusComplete   = "Complete"
	StatusFailed     = "Failed"
)

// Event is one record on a progress stream.
type Event struct {
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Terminal bool   `json:"terminal,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Reporter receives non-terminal progress updates.
type Reporter interface {
	Report(progress int, status string)
}

// Discard is a Reporter that drops every update.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(int, string) {}

// Channel is the ordered event stream for one job. Progress never
// decreases, and exactly one terminal event is ever published; the
// channel is closed right after it.
type Channel struct {
	id string

	mu     sync.Mutex
	events []Event
	last   int
	closed bool
	notify chan struct{}
}

// NewChannel returns an open channel with no events.
func NewChannel(id string) *Channel {
	metrics.ProgressChannelsActive.Inc()
	return &Channel{
		id:     id,
		last:   -1,
		notify: make(chan struct{}),
	}
}

// ID returns the job ID the channel belongs to.
func (c *Channel) ID() string {
	return c.id
}

// Report publishes a non-terminal event. The value is clamped to [0,99]
// and to the last published value, so the stream stays non-decreasing and
// 100 is reserved for the terminal event. Repeats of the last event are
// dropped. Reports after the terminal event are ignored.
func (c *Channel) Report(progress int, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	progress = max(0, min(progress, 99))
	if progress < c.last {
		progress = c.last
	}
	if n := len(c.events); n > 0 && c.events[n-1].Progress == progress && c.events[n-1].Status == status {
		return
	}

	c.publishLocked(Event{Progress: progress, Status: status})
}

// Complete publishes the terminal success event and closes the channel.
// It reports whether this call produced the terminal event.
func (c *Channel) Complete() bool {
	return c.finish(Event{Progress: 100, Status: StatusComplete, Terminal: true})
}

// Fail publishes the terminal failure event and closes the channel.
// It reports whether this call produced the terminal event.
func (c *Channel) Fail(err error) bool {
	ev := Event{Progress: 100, Status: StatusFailed, Terminal: true}
	if err != nil {
		ev.Error = err.Error()
	}
	return c.finish(ev)
}

func (c *Channel) finish(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.publishLocked(ev)
	c.closed = true
	metrics.ProgressChannelsActive.Dec()
	return true
}

func (c *Channel) publishLocked(ev Event) {
	c.events = append(c.events, ev)
	c.last = ev.Progress
	metrics.ProgressEventsTotal.WithLabelValues(strconv.FormatBool(ev.Terminal)).Inc()

	close(c.notify)
	c.notify = make(chan struct{})
}

// Closed reports whether the terminal event has been published.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a snapshot of everything published so far.
func (c *Channel) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Subscribe streams the channel from its first event. The returned Go
// channel is closed after the terminal event is delivered or when ctx is
// done, whichever comes first.
func (c *Channel) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		next := 0
		for {
			c.mu.Lock()
			pending := append([]Event(nil), c.events[next:]...)
			closed := c.closed
			wait := c.notify
			c.mu.Unlock()

			for _, ev := range pending {
				select {
				case out <- ev:
					next++
				case <-ctx.Done():
					return
				}
			}
			if closed {
				return
			}

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Span maps a driver's 0-100 range onto [From, To] of another reporter,
// so one job channel can carry several phases.
type Span struct {
	Reporter Reporter
	From, To int
}

// Report scales progress into the span.
func (s Span) Report(progress int, status string) {
	progress = max(0, min(progress, 100))
	s.Reporter.Report(s.From+progress*(s.To-s.From)/100, status)
}
