// Package dedup guarantees at-most-once downstream processing of events
// delivered by multiple relay connections.
package dedup

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Deduplicator records event ids per logical stream. Multiple relays are
// expected to deliver the same event for the same subscription; the first
// delivery wins, every later one is reported as already seen.
//
// Entries live for the owning session's lifetime; no eviction.
type Deduplicator struct {
	seen *xsync.MapOf[string, struct{}]
}

// New creates an empty deduplicator
func New() *Deduplicator {
	return &Deduplicator{
		seen: xsync.NewMapOf[string, struct{}](),
	}
}

// Seen atomically records (streamKey, eventID) and reports whether the id was
// already observed for that stream. Safe under concurrent delivery.
func (d *Deduplicator) Seen(streamKey, eventID string) bool {
	_, loaded := d.seen.LoadOrStore(streamKey+"\x00"+eventID, struct{}{})
	return loaded
}

// Size returns the number of recorded (stream, event) pairs
func (d *Deduplicator) Size() int {
	return d.seen.Size()
}
