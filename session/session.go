// Package session correlates in-flight upstream queries with the clients
// that asked them. Every forwarded query gets a locally generated outbound
// transaction ID; the entry keyed by that ID is removed either by the
// matching upstream response or by the timeout sweep, whichever comes first.
package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// DefaultTimeout is how long an unanswered entry stays alive. Client-side
// resolvers retry on their own schedule, so a few seconds is plenty.
const DefaultTimeout = 5 * time.Second

// ErrTableFull means no free outbound transaction ID could be found.
var ErrTableFull = errors.New("session: no free outbound id")

// maxIDAttempts bounds collision regeneration. The ID space is 16 bits;
// hitting this many collisions means the table is effectively saturated.
const maxIDAttempts = 1024

// Entry records one forwarded query.
type Entry struct {
	Client     net.Addr
	OrigID     uint16
	OutboundID uint16
	Created    time.Time
}

// Tracker is a mutex-guarded table of live entries keyed by outbound ID.
// It is written by the forward path, consumed by the response path and swept
// by a background timer, all concurrently.
type Tracker struct {
	mu      sync.Mutex
	entries map[uint16]Entry
	timeout time.Duration
}

// NewTracker returns a tracker with the given entry timeout. Zero or
// negative means DefaultTimeout.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Tracker{
		entries: make(map[uint16]Entry),
		timeout: timeout,
	}
}

// Register stores a new entry for a client query and returns the fresh
// outbound transaction ID to put on the wire. Colliding IDs are regenerated;
// an entry is never replaced while live.
func (t *Tracker) Register(client net.Addr, origID uint16) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var id uint16
	for i := 0; ; i++ {
		if i == maxIDAttempts {
			return 0, ErrTableFull
		}
		id = dns.Id()
		if _, live := t.entries[id]; !live {
			break
		}
	}

	t.entries[id] = Entry{
		Client:     client,
		OrigID:     origID,
		OutboundID: id,
		Created:    time.Now(),
	}

	return id, nil
}

// Resolve removes and returns the entry for an outbound ID. The lookup and
// the removal are atomic, so a duplicate or late response for the same ID
// reports false and gets dropped by the caller.
func (t *Tracker) Resolve(id uint16) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// Unregister drops an entry without delivering, for forward-path failures.
func (t *Tracker) Unregister(id uint16) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Sweep evicts entries older than the timeout as of now and returns them so
// the caller can log each abandonment. No response is ever sent for a swept
// entry.
func (t *Tracker) Sweep(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var swept []Entry
	for id, e := range t.entries {
		if now.Sub(e.Created) > t.timeout {
			swept = append(swept, e)
			delete(t.entries, id)
		}
	}
	return swept
}

// Len returns the number of live entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
