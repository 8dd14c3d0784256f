package progress

import (
	"errors"
	"sync"
	"time"

	"media-compressor/internal/logging"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrInvalidJobID is returned for job IDs that are not UUIDs.
var ErrInvalidJobID = errors.New("job id must be a UUID")

// ErrJobIDInUse is returned by Claim when the ID belongs to a running or
// finished job.
var ErrJobIDInUse = errors.New("job id already used")

// errExpired fails channels evicted before reaching their terminal event.
var errExpired = errors.New("progress channel expired")

// Default Hub sizing.
const (
	DefaultHubSize = 1024
	DefaultHubTTL  = 15 * time.Minute
)

// Hub indexes job channels by job ID so a subscriber can attach before,
// during or shortly after the job runs.
//
// Channels claimed by a running job are held outside the cache and are
// never evicted. The cache holds subscriber reservations and finished
// jobs; entries expire after ttl and the oldest are evicted once size is
// exceeded. An evicted reservation is failed so its subscribers stop
// waiting.
type Hub struct {
	// claimMu serializes Channel, Claim and release so check-then-add is
	// atomic. It is never held by the eviction callback.
	claimMu sync.Mutex

	mu   sync.Mutex
	live map[string]*Channel

	cache *expirable.LRU[string, *Channel]
}

// NewHub creates a hub caching at most size channels for ttl each.
func NewHub(size int, ttl time.Duration) *Hub {
	if size <= 0 {
		size = DefaultHubSize
	}
	if ttl <= 0 {
		ttl = DefaultHubTTL
	}

	h := &Hub{live: make(map[string]*Channel)}
	h.cache = expirable.NewLRU[string, *Channel](size, h.onEvict, ttl)
	return h
}

func (h *Hub) onEvict(id string, ch *Channel) {
	if h.owned(id) {
		return
	}
	if ch.Fail(errExpired) {
		logging.Debug("Progress channel %s evicted before completion", id)
	}
}

func (h *Hub) owned(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[id]
	return ok
}

// Channel returns the channel for id, reserving a new one if needed.
// Subscribers use it to attach before the upload arrives.
func (h *Hub) Channel(id string) (*Channel, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidJobID
	}

	h.claimMu.Lock()
	defer h.claimMu.Unlock()

	if ch, ok := h.Lookup(id); ok {
		return ch, nil
	}
	ch := NewChannel(id)
	h.cache.Add(id, ch)
	return ch, nil
}

// Claim hands the channel for id to a job. It fails with ErrJobIDInUse
// when another job holds the ID or already finished under it. release must
// be called once the job's channel is closed; the channel then stays
// available to late subscribers until it expires.
func (h *Hub) Claim(id string) (ch *Channel, release func(), err error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil, ErrInvalidJobID
	}

	h.claimMu.Lock()
	defer h.claimMu.Unlock()

	if h.owned(id) {
		return nil, nil, ErrJobIDInUse
	}
	ch, ok := h.cache.Get(id)
	if ok && ch.Closed() {
		return nil, nil, ErrJobIDInUse
	}
	if !ok {
		ch = NewChannel(id)
	}

	h.mu.Lock()
	h.live[id] = ch
	h.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() { h.release(id, ch) })
	}
	return ch, release, nil
}

func (h *Hub) release(id string, ch *Channel) {
	h.claimMu.Lock()
	defer h.claimMu.Unlock()

	// Re-adding an existing key refreshes its expiry without eviction.
	h.cache.Add(id, ch)

	h.mu.Lock()
	delete(h.live, id)
	h.mu.Unlock()
}

// Lookup returns an existing channel without creating one.
func (h *Hub) Lookup(id string) (*Channel, bool) {
	h.mu.Lock()
	ch, ok := h.live[id]
	h.mu.Unlock()
	if ok {
		return ch, true
	}
	return h.cache.Get(id)
}

// Remove drops a cached channel, failing it if it is still open. Channels
// claimed by a running job are not affected.
func (h *Hub) Remove(id string) {
	h.cache.Remove(id)
}

// Len returns the number of tracked channels.
func (h *Hub) Len() int {
	h.mu.Lock()
	live := make([]string, 0, len(h.live))
	for id := range h.live {
		live = append(live, id)
	}
	h.mu.Unlock()

	// The eviction callback takes mu under the cache lock, so the cache is
	// only queried with mu released.
	n := h.cache.Len()
	for _, id := range live {
		if !h.cache.Contains(id) {
			n++
		}
	}
	return n
}
