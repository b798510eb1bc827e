package aggregates

import (
	"testing"

	"github.com/sandwichfarm/zaptally/internal/profiles"
	"github.com/sandwichfarm/zaptally/internal/zaps"
)

func receipt(id, target, payer string, msat int64) *zaps.Receipt {
	return &zaps.Receipt{
		ID:         id,
		TargetID:   target,
		Payer:      payer,
		AmountMsat: msat,
		CreatedAt:  1700000000,
	}
}

func TestEngineApply(t *testing.T) {
	e := NewEngine()

	e.Apply(receipt("r1", "t1", "alice", 1000_000))
	e.Apply(receipt("r2", "t1", "bob", 500_000))
	e.Apply(receipt("r3", "t2", "alice", 250_000))

	if got := e.GrandTotal(); got != 1750_000 {
		t.Errorf("GrandTotal = %d, want 1750000", got)
	}
	if got := e.ZapCount(); got != 3 {
		t.Errorf("ZapCount = %d, want 3", got)
	}
	if got := e.UniqueZappers(); got != 2 {
		t.Errorf("UniqueZappers = %d, want 2", got)
	}

	tb := e.TargetBreakdown("t1")
	if tb == nil {
		t.Fatal("TargetBreakdown(t1) = nil")
	}
	if tb.TotalMsat != 1500_000 {
		t.Errorf("t1 TotalMsat = %d, want 1500000", tb.TotalMsat)
	}
	if len(tb.Receipts) != 2 {
		t.Errorf("t1 receipts = %d, want 2", len(tb.Receipts))
	}
	if tb.Zappers["alice"].TotalMsat != 1000_000 || tb.Zappers["alice"].ZapCount != 1 {
		t.Errorf("t1 alice stat = %+v, want 1000000/1", tb.Zappers["alice"])
	}

	if e.TargetBreakdown("unknown") != nil {
		t.Error("expected nil breakdown for untracked target")
	}
}

func TestEngineOrderIndependence(t *testing.T) {
	receipts := []*zaps.Receipt{
		receipt("r1", "t1", "alice", 1000_000),
		receipt("r2", "t1", "bob", 2000_000),
		receipt("r3", "t1", "alice", 3000_000),
		receipt("r4", "t2", "carol", 500_000),
	}

	forward := NewEngine()
	for _, r := range receipts {
		forward.Apply(r)
	}

	reverse := NewEngine()
	for i := len(receipts) - 1; i >= 0; i-- {
		reverse.Apply(receipts[i])
	}

	if forward.GrandTotal() != reverse.GrandTotal() {
		t.Errorf("grand totals differ: %d vs %d", forward.GrandTotal(), reverse.GrandTotal())
	}
	if forward.ZapCount() != reverse.ZapCount() {
		t.Errorf("zap counts differ: %d vs %d", forward.ZapCount(), reverse.ZapCount())
	}

	ftb := forward.TargetBreakdown("t1")
	rtb := reverse.TargetBreakdown("t1")
	if ftb.TotalMsat != rtb.TotalMsat {
		t.Errorf("t1 totals differ: %d vs %d", ftb.TotalMsat, rtb.TotalMsat)
	}
	for payer, fs := range ftb.Zappers {
		rs := rtb.Zappers[payer]
		if rs == nil || fs.TotalMsat != rs.TotalMsat || fs.ZapCount != rs.ZapCount {
			t.Errorf("t1 zapper %s differs: %+v vs %+v", payer, fs, rs)
		}
	}
}

func TestEngineTopZappers(t *testing.T) {
	e := NewEngine()

	e.Apply(receipt("r1", "t1", "alice", 1000_000))
	e.Apply(receipt("r2", "t1", "bob", 3000_000))
	e.Apply(receipt("r3", "t1", "carol", 2000_000))
	e.Apply(receipt("r4", "t2", "alice", 1500_000))

	ranked := e.TopZappers(0)
	if len(ranked) != 3 {
		t.Fatalf("len = %d, want 3", len(ranked))
	}

	wantOrder := []string{"bob", "alice", "carol"}
	for i, want := range wantOrder {
		if ranked[i].Payer != want {
			t.Errorf("rank %d = %s, want %s", i, ranked[i].Payer, want)
		}
	}
	if ranked[1].TotalMsat != 2500_000 {
		t.Errorf("alice cross-target total = %d, want 2500000", ranked[1].TotalMsat)
	}

	top2 := e.TopZappers(2)
	if len(top2) != 2 || top2[0].Payer != "bob" || top2[1].Payer != "alice" {
		t.Errorf("TopZappers(2) = %v", top2)
	}
}

func TestEngineTopZappersReorders(t *testing.T) {
	e := NewEngine()

	e.Apply(receipt("r1", "t1", "alice", 1000_000))
	e.Apply(receipt("r2", "t1", "bob", 2000_000))

	// Reading caches the ranked view
	if ranked := e.TopZappers(0); ranked[0].Payer != "bob" {
		t.Fatalf("head = %s, want bob", ranked[0].Payer)
	}

	// A new receipt that lifts alice above bob must invalidate the cache
	e.Apply(receipt("r3", "t1", "alice", 1500_000))
	ranked := e.TopZappers(0)
	if ranked[0].Payer != "alice" || ranked[0].TotalMsat != 2500_000 {
		t.Errorf("head = %s (%d), want alice (2500000)", ranked[0].Payer, ranked[0].TotalMsat)
	}
}

func TestEngineTopZappersTieBreak(t *testing.T) {
	e := NewEngine()

	// Equal totals: the payer seen first ranks first
	e.Apply(receipt("r1", "t1", "bob", 1000_000))
	e.Apply(receipt("r2", "t1", "alice", 1000_000))

	ranked := e.TopZappers(0)
	if ranked[0].Payer != "bob" || ranked[1].Payer != "alice" {
		t.Errorf("tie order = [%s, %s], want [bob, alice]", ranked[0].Payer, ranked[1].Payer)
	}
}

func TestEngineTopTargets(t *testing.T) {
	e := NewEngine()

	e.Apply(receipt("r1", "t1", "alice", 1000_000))
	e.Apply(receipt("r2", "t2", "bob", 3000_000))
	e.Apply(receipt("r3", "t3", "carol", 2000_000))

	ranked := e.TopTargets(2)
	if len(ranked) != 2 {
		t.Fatalf("len = %d, want 2", len(ranked))
	}
	if ranked[0].TargetID != "t2" || ranked[1].TargetID != "t3" {
		t.Errorf("order = [%s, %s], want [t2, t3]", ranked[0].TargetID, ranked[1].TargetID)
	}
}

func TestEngineUpdateHandler(t *testing.T) {
	e := NewEngine()

	var gotTarget string
	var gotTotal int64
	e.OnAggregateUpdate(func(targetID string, tb *TargetBreakdown) {
		gotTarget = targetID
		gotTotal = tb.TotalMsat
	})

	e.Apply(receipt("r1", "t1", "alice", 1000_000))
	if gotTarget != "t1" || gotTotal != 1000_000 {
		t.Errorf("handler saw (%s, %d), want (t1, 1000000)", gotTarget, gotTotal)
	}

	e.Apply(receipt("r2", "t1", "bob", 500_000))
	if gotTotal != 1500_000 {
		t.Errorf("handler saw total %d, want 1500000", gotTotal)
	}
}

func TestEngineRankingNotification(t *testing.T) {
	e := NewEngine()
	e.SetRankingDebounce(0) // synchronous

	var notified [][]ZapperAggregate
	e.OnTopZappersChanged(func(ranked []ZapperAggregate) {
		notified = append(notified, ranked)
	})

	e.Apply(receipt("r1", "t1", "alice", 1000_000))
	e.Apply(receipt("r2", "t1", "bob", 2000_000))

	if len(notified) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notified))
	}
	last := notified[len(notified)-1]
	if last[0].Payer != "bob" {
		t.Errorf("final ranking head = %s, want bob", last[0].Payer)
	}
}

func TestEngineSetProfile(t *testing.T) {
	e := NewEngine()
	e.Apply(receipt("r1", "t1", "alice", 1000_000))

	e.SetProfile("alice", &profiles.Profile{Pubkey: "alice", Name: "Alice"})
	e.SetProfile("stranger", &profiles.Profile{Pubkey: "stranger"}) // no-op

	ranked := e.TopZappers(0)
	if ranked[0].Profile == nil || ranked[0].Profile.Name != "Alice" {
		t.Errorf("profile not attached: %+v", ranked[0].Profile)
	}
	if e.UniqueZappers() != 1 {
		t.Errorf("SetProfile for unseen payer must not create an aggregate")
	}
}

func TestEngineSnapshotIsolation(t *testing.T) {
	e := NewEngine()
	e.Apply(receipt("r1", "t1", "alice", 1000_000))

	tb := e.TargetBreakdown("t1")
	tb.TotalMsat = 0
	tb.Zappers["alice"].TotalMsat = 0
	tb.Receipts = nil

	fresh := e.TargetBreakdown("t1")
	if fresh.TotalMsat != 1000_000 || len(fresh.Receipts) != 1 {
		t.Error("mutating a returned breakdown leaked into engine state")
	}
	if fresh.Zappers["alice"].TotalMsat != 1000_000 {
		t.Error("mutating a returned zapper stat leaked into engine state")
	}
}
