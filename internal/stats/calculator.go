package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zaptally/internal/aggregates"
	"github.com/sandwichfarm/zaptally/internal/config"
	"github.com/sandwichfarm/zaptally/internal/entities"
	znostr "github.com/sandwichfarm/zaptally/internal/nostr"
	"github.com/sandwichfarm/zaptally/internal/ops"
	"github.com/sandwichfarm/zaptally/internal/profiles"
	"github.com/sandwichfarm/zaptally/internal/zaps"
)

// EventFetcher is the relay query surface the calculator depends on
type EventFetcher interface {
	Fetch(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// StageReport records the outcome of one pipeline stage
type StageReport struct {
	Name     string
	OK       int
	Failed   int
	Duration time.Duration
	Err      error
}

// Stats is the result of one batch computation across a set of targets
type Stats struct {
	GrandTotalMsat int64
	ZapCount       int
	UniquePayers   int

	// Date range over all applied receipts, unix seconds. Zero when no
	// receipts were found.
	EarliestZap int64
	LatestZap   int64

	TopZappers    []aggregates.ZapperAggregate
	RankedTargets []aggregates.TargetScore
	Breakdowns    map[string]*aggregates.TargetBreakdown

	Verification aggregates.Report
	StageReports []StageReport
	DroppedRefs  int
}

// Calculator computes one-shot zap statistics for a batch of target
// references. Network fetches are bulked per stage; per-target aggregation
// fans out over a bounded worker pool and reduces single-threaded.
type Calculator struct {
	fetcher  EventFetcher
	profiles *profiles.Cache
	cfg      *config.Config
	logger   *ops.Logger
}

// NewCalculator creates a calculator over the given fetcher
func NewCalculator(cfg *config.Config, fetcher EventFetcher, logger *ops.Logger) *Calculator {
	if logger == nil {
		logger = ops.Default()
	}
	return &Calculator{
		fetcher:  fetcher,
		profiles: profiles.NewCache(fetcher, logger),
		cfg:      cfg,
		logger:   logger.WithComponent("stats"),
	}
}

func (c *Calculator) report(stats *Stats, name string, started time.Time, ok, failed int, err error) {
	duration := time.Since(started)
	c.logger.LogBatchStage(name, ok, failed, duration, err)
	stats.StageReports = append(stats.StageReports, StageReport{
		Name:     name,
		OK:       ok,
		Failed:   failed,
		Duration: duration,
		Err:      err,
	})
}

// ComputeStats runs the staged pipeline over the given references. Profile
// stages are best-effort; zero resolvable references is the only fatal
// input condition.
func (c *Calculator) ComputeStats(ctx context.Context, refs []string) (*Stats, error) {
	stats := &Stats{Breakdowns: make(map[string]*aggregates.TargetBreakdown)}

	// Stage 1: resolve references. Bad references drop, they never abort.
	started := time.Now()
	targets, dropped := entities.ResolveTargets(refs)
	stats.DroppedRefs = dropped
	if max := c.cfg.Stats.MaxTargets; max > 0 && len(targets) > max {
		targets = targets[:max]
	}
	c.report(stats, "resolve_targets", started, len(targets), dropped, nil)
	if len(targets) == 0 {
		return stats, errors.New("no resolvable target references")
	}

	fb := znostr.NewFilterBuilder(&c.cfg.Ingest)

	// Stage 2: bulk-fetch the target content entities
	started = time.Now()
	var eventIDs []string
	for _, t := range targets {
		if !t.Addressable {
			eventIDs = append(eventIDs, t.ID)
		}
	}
	contentByID := make(map[string]*nostr.Event)
	var contentErr error
	if len(eventIDs) > 0 {
		events, err := c.fetcher.Fetch(ctx, fb.BuildContentFilter(eventIDs))
		if err != nil {
			contentErr = fmt.Errorf("content fetch failed: %w", err)
		}
		for _, ev := range events {
			contentByID[ev.ID] = ev
		}
	}
	c.report(stats, "fetch_content", started, len(contentByID), len(eventIDs)-len(contentByID), contentErr)

	// Stage 3: author profiles, best effort
	started = time.Now()
	authorSet := make(map[string]struct{})
	for _, ev := range contentByID {
		authorSet[ev.PubKey] = struct{}{}
	}
	for _, t := range targets {
		if t.Author != "" {
			authorSet[t.Author] = struct{}{}
		}
	}
	authors := setToSlice(authorSet)
	authorProfiles := c.profiles.Ensure(ctx, authors)
	c.report(stats, "author_profiles", started, len(authorProfiles), len(authors)-len(authorProfiles), nil)

	// Stage 4: bulk-fetch zap receipts for all targets
	started = time.Now()
	var zapEvents []*nostr.Event
	var zapErr error
	for _, filter := range fb.BuildZapFilters(targets, 0) {
		events, err := c.fetcher.Fetch(ctx, filter)
		if err != nil {
			zapErr = fmt.Errorf("zap receipt fetch failed: %w", err)
			continue
		}
		zapEvents = append(zapEvents, events...)
	}
	c.report(stats, "fetch_zaps", started, len(zapEvents), 0, zapErr)
	if zapErr != nil && len(zapEvents) == 0 {
		return stats, zapErr
	}

	// Stage 5: decode receipts, grouped by target. Relays may return the
	// same receipt more than once; the id set keeps applies at most once.
	started = time.Now()
	seen := make(map[string]struct{}, len(zapEvents))
	byTarget := make(map[string][]*zaps.Receipt)
	decodeFailures := 0
	for _, ev := range zapEvents {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}

		receipt, err := zaps.DecodeReceipt(ev)
		if err != nil {
			decodeFailures++
			c.logger.LogDecodeFailure(ev.ID, err)
			continue
		}
		byTarget[receipt.TargetID] = append(byTarget[receipt.TargetID], receipt)
	}
	decoded := len(seen) - decodeFailures
	c.report(stats, "decode_receipts", started, decoded, decodeFailures, nil)

	// Stage 6: payer profiles, best effort
	started = time.Now()
	payerSet := make(map[string]struct{})
	for _, receipts := range byTarget {
		for _, r := range receipts {
			if r.Payer != zaps.AnonymousPayer {
				payerSet[r.Payer] = struct{}{}
			}
		}
	}
	payers := setToSlice(payerSet)
	payerProfiles := c.profiles.Ensure(ctx, payers)
	c.report(stats, "payer_profiles", started, len(payerProfiles), len(payers)-len(payerProfiles), nil)

	// Stage 7: per-target aggregation over a bounded pool. Apply is
	// commutative and internally locked, so targets fan out freely; all
	// reads below happen after Wait.
	started = time.Now()
	engine := aggregates.NewEngine()
	engine.SetRankingDebounce(0)

	workers := c.cfg.Stats.Workers
	if workers <= 0 {
		workers = 4
	}
	pool := pond.NewPool(workers)
	group := pool.NewGroupContext(ctx)
	for _, receipts := range byTarget {
		receipts := receipts
		group.Submit(func() {
			for _, r := range receipts {
				engine.Apply(r)
			}
		})
	}
	aggErr := group.Wait()
	pool.StopAndWait()
	if aggErr != nil && !errors.Is(aggErr, context.Canceled) && !errors.Is(aggErr, pond.ErrGroupStopped) {
		c.report(stats, "aggregate", started, 0, len(byTarget), aggErr)
		return stats, fmt.Errorf("aggregation failed: %w", aggErr)
	}
	c.report(stats, "aggregate", started, len(byTarget), 0, nil)

	// Stage 8: single-threaded reduction and ranking
	started = time.Now()
	for payer, p := range payerProfiles {
		engine.SetProfile(payer, p)
	}
	stats.GrandTotalMsat = engine.GrandTotal()
	stats.ZapCount = engine.ZapCount()
	stats.UniquePayers = engine.UniqueZappers()

	topN := c.cfg.Stats.TopN
	if topN <= 0 {
		topN = 10
	}
	stats.TopZappers = engine.TopZappers(topN)

	var breakdowns []*aggregates.TargetBreakdown
	for _, id := range engine.TargetIDs() {
		tb := engine.TargetBreakdown(id)
		stats.Breakdowns[id] = tb
		breakdowns = append(breakdowns, tb)
		for _, r := range tb.Receipts {
			ts := r.CreatedAt
			if stats.EarliestZap == 0 || ts < stats.EarliestZap {
				stats.EarliestZap = ts
			}
			if ts > stats.LatestZap {
				stats.LatestZap = ts
			}
		}
	}
	stats.RankedTargets = aggregates.CompositeScores(breakdowns)
	if len(stats.RankedTargets) > topN {
		stats.RankedTargets = stats.RankedTargets[:topN]
	}
	c.report(stats, "rank_targets", started, len(stats.RankedTargets), 0, nil)

	// Stage 9: accounting verification over everything just aggregated
	started = time.Now()
	verifier := aggregates.NewVerifier(engine)
	stats.Verification = verifier.VerifyAll()
	c.report(stats, "verify", started, stats.Verification.Passed, stats.Verification.Failed, nil)

	return stats, nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
