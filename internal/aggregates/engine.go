// Package aggregates maintains incrementally-updated zap statistics: running
// totals, per-payer aggregates, per-target breakdowns, and ranked views.
package aggregates

import (
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/sandwichfarm/zaptally/internal/profiles"
	"github.com/sandwichfarm/zaptally/internal/zaps"
)

// ZapperAggregate holds a payer's cross-target totals
type ZapperAggregate struct {
	Payer     string
	TotalMsat int64
	ZapCount  int
	Profile   *profiles.Profile // Optional display metadata, backfilled asynchronously

	firstSeen int // Arrival sequence, breaks ranking ties
}

// ZapperStat is a payer's sub-aggregate scoped to one target
type ZapperStat struct {
	TotalMsat int64
	ZapCount  int
}

// TargetBreakdown holds the per-target receipt list and running totals
type TargetBreakdown struct {
	TargetID  string
	Receipts  []*zaps.Receipt
	TotalMsat int64                  // Running sum of Receipts
	Zappers   map[string]*ZapperStat // payer pubkey -> sub-aggregate
}

// clone returns a consumer-safe copy. Receipts are immutable so sharing the
// pointed-to values is fine; the slice and map themselves are copied.
func (tb *TargetBreakdown) clone() *TargetBreakdown {
	receipts := make([]*zaps.Receipt, len(tb.Receipts))
	copy(receipts, tb.Receipts)

	zappers := make(map[string]*ZapperStat, len(tb.Zappers))
	for pk, zs := range tb.Zappers {
		c := *zs
		zappers[pk] = &c
	}

	return &TargetBreakdown{
		TargetID:  tb.TargetID,
		Receipts:  receipts,
		TotalMsat: tb.TotalMsat,
		Zappers:   zappers,
	}
}

// UpdateHandler is notified after each successful apply
type UpdateHandler func(targetID string, breakdown *TargetBreakdown)

// RankingHandler is notified when the ranked top zapper list changes
type RankingHandler func(ranked []ZapperAggregate)

// Engine is the session's single shared mutable aggregate store. All writes
// are serialized by one mutex; read accessors return copies.
type Engine struct {
	mu sync.Mutex

	targets map[string]*TargetBreakdown
	zappers map[string]*ZapperAggregate

	grandTotalMsat int64
	zapCount       int
	nextSeen       int

	// Cached ranked views, recomputed lazily after invalidation
	topZappers []ZapperAggregate
	topTargets []*TargetBreakdown
	dirty      bool

	onUpdate  UpdateHandler
	onRanking RankingHandler

	// Ranking notifications are debounced: bursts of receipts produce one
	// notification once the burst settles, and the notified list is always
	// computed from current state, so it converges to the correct ranking.
	notifyDebounced func(func())
}

// NewEngine creates an empty aggregation engine. Lifetime is tied to the
// owning session or batch computation.
func NewEngine() *Engine {
	return &Engine{
		targets:         make(map[string]*TargetBreakdown),
		zappers:         make(map[string]*ZapperAggregate),
		notifyDebounced: debounce.New(2 * time.Second),
	}
}

// SetRankingDebounce overrides the ranking notification debounce interval.
// An interval <= 0 makes notifications synchronous.
func (e *Engine) SetRankingDebounce(interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if interval <= 0 {
		e.notifyDebounced = nil
		return
	}
	e.notifyDebounced = debounce.New(interval)
}

// OnAggregateUpdate registers the per-apply update handler
func (e *Engine) OnAggregateUpdate(fn UpdateHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUpdate = fn
}

// OnTopZappersChanged registers the ranked-list change handler
func (e *Engine) OnTopZappersChanged(fn RankingHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRanking = fn
}

// Apply folds a decoded receipt into the aggregates. Callers gate applies
// through the deduplicator, which makes Apply effectively idempotent per
// receipt id.
func (e *Engine) Apply(receipt *zaps.Receipt) {
	e.mu.Lock()

	tb := e.targets[receipt.TargetID]
	if tb == nil {
		tb = &TargetBreakdown{
			TargetID: receipt.TargetID,
			Zappers:  make(map[string]*ZapperStat),
		}
		e.targets[receipt.TargetID] = tb
	}

	tb.Receipts = append(tb.Receipts, receipt)
	tb.TotalMsat += receipt.AmountMsat

	zs := tb.Zappers[receipt.Payer]
	if zs == nil {
		zs = &ZapperStat{}
		tb.Zappers[receipt.Payer] = zs
	}
	zs.TotalMsat += receipt.AmountMsat
	zs.ZapCount++

	za := e.zappers[receipt.Payer]
	if za == nil {
		za = &ZapperAggregate{
			Payer:     receipt.Payer,
			firstSeen: e.nextSeen,
		}
		e.nextSeen++
		e.zappers[receipt.Payer] = za
	}
	za.TotalMsat += receipt.AmountMsat
	za.ZapCount++

	e.grandTotalMsat += receipt.AmountMsat
	e.zapCount++
	e.dirty = true

	onUpdate := e.onUpdate
	snapshot := tb.clone()
	notify := e.notifyDebounced
	onRanking := e.onRanking

	e.mu.Unlock()

	if onUpdate != nil {
		onUpdate(receipt.TargetID, snapshot)
	}

	if onRanking != nil {
		if notify != nil {
			notify(e.notifyRanking)
		} else {
			e.notifyRanking()
		}
	}
}

func (e *Engine) notifyRanking() {
	e.mu.Lock()
	fn := e.onRanking
	e.mu.Unlock()
	if fn == nil {
		return
	}
	fn(e.TopZappers(0))
}

// SetProfile backfills display metadata for a payer
func (e *Engine) SetProfile(payer string, profile *profiles.Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if za := e.zappers[payer]; za != nil {
		za.Profile = profile
	}
}

// recomputeLocked rebuilds the cached ranked views. Caller must hold the lock.
func (e *Engine) recomputeLocked() {
	if !e.dirty && e.topZappers != nil {
		return
	}

	zappers := make([]ZapperAggregate, 0, len(e.zappers))
	for _, za := range e.zappers {
		zappers = append(zappers, *za)
	}
	// Descending by total, ties broken by earliest first-seen payer
	sort.Slice(zappers, func(i, j int) bool {
		if zappers[i].TotalMsat != zappers[j].TotalMsat {
			return zappers[i].TotalMsat > zappers[j].TotalMsat
		}
		return zappers[i].firstSeen < zappers[j].firstSeen
	})
	e.topZappers = zappers

	targets := make([]*TargetBreakdown, 0, len(e.targets))
	for _, tb := range e.targets {
		targets = append(targets, tb)
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].TotalMsat > targets[j].TotalMsat
	})
	e.topTargets = targets

	e.dirty = false
}

// TopZappers returns the ranked payer list, highest total first.
// n <= 0 returns the full list.
func (e *Engine) TopZappers(n int) []ZapperAggregate {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recomputeLocked()

	ranked := e.topZappers
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}

	out := make([]ZapperAggregate, len(ranked))
	copy(out, ranked)
	return out
}

// TopTargets returns target breakdowns ranked by total amount.
// n <= 0 returns all targets.
func (e *Engine) TopTargets(n int) []*TargetBreakdown {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recomputeLocked()

	ranked := e.topTargets
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}

	out := make([]*TargetBreakdown, 0, len(ranked))
	for _, tb := range ranked {
		out = append(out, tb.clone())
	}
	return out
}

// TargetBreakdown returns a copy of the breakdown for a target, or nil if the
// target has received no zaps.
func (e *Engine) TargetBreakdown(targetID string) *TargetBreakdown {
	e.mu.Lock()
	defer e.mu.Unlock()

	tb := e.targets[targetID]
	if tb == nil {
		return nil
	}
	return tb.clone()
}

// TargetIDs returns the ids of all tracked targets
func (e *Engine) TargetIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.targets))
	for id := range e.targets {
		ids = append(ids, id)
	}
	return ids
}

// GrandTotal returns the total amount in millisats across all targets
func (e *Engine) GrandTotal() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grandTotalMsat
}

// ZapCount returns the number of receipts applied
func (e *Engine) ZapCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.zapCount
}

// UniqueZappers returns the number of distinct payers seen
func (e *Engine) UniqueZappers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.zappers)
}
