package ops

import (
	"runtime"
	"sync/atomic"
	"time"
)

// SessionStats contains live session ingestion statistics
type SessionStats struct {
	Uptime    time.Duration
	StartTime time.Time

	EventsSeen     int64
	EventsDeduped  int64
	ChatMessages   int64
	ZapsApplied    int64
	DecodeFailures int64
	NoiseFiltered  int64

	// Verifier snapshot
	TargetsPassed int
	TargetsFailed int

	// Runtime stats
	GoVersion     string
	NumGoroutines int
	MemAllocMB    float64
}

// Counters tracks ingestion counts with atomic increments.
// Shared between the session's concurrent delivery paths and Snapshot readers.
type Counters struct {
	start time.Time

	eventsSeen     atomic.Int64
	eventsDeduped  atomic.Int64
	chatMessages   atomic.Int64
	zapsApplied    atomic.Int64
	decodeFailures atomic.Int64
	noiseFiltered  atomic.Int64
}

// NewCounters creates a counter set anchored at the current time
func NewCounters() *Counters {
	return &Counters{start: time.Now()}
}

func (c *Counters) EventSeen()     { c.eventsSeen.Add(1) }
func (c *Counters) EventDeduped()  { c.eventsDeduped.Add(1) }
func (c *Counters) ChatMessage()   { c.chatMessages.Add(1) }
func (c *Counters) ZapApplied()    { c.zapsApplied.Add(1) }
func (c *Counters) DecodeFailure() { c.decodeFailures.Add(1) }
func (c *Counters) NoiseFiltered() { c.noiseFiltered.Add(1) }

// Snapshot produces a point-in-time view of the session, merging in the
// verifier's current pass/fail counts.
func (c *Counters) Snapshot(targetsPassed, targetsFailed int) SessionStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return SessionStats{
		Uptime:    time.Since(c.start),
		StartTime: c.start,

		EventsSeen:     c.eventsSeen.Load(),
		EventsDeduped:  c.eventsDeduped.Load(),
		ChatMessages:   c.chatMessages.Load(),
		ZapsApplied:    c.zapsApplied.Load(),
		DecodeFailures: c.decodeFailures.Load(),
		NoiseFiltered:  c.noiseFiltered.Load(),

		TargetsPassed: targetsPassed,
		TargetsFailed: targetsFailed,

		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAllocMB:    float64(mem.Alloc) / 1024 / 1024,
	}
}
