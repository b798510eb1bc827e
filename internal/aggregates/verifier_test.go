package aggregates

import "testing"

func TestVerifierMatches(t *testing.T) {
	e := NewEngine()
	v := NewVerifier(e)

	e.Apply(receipt("r1", "t1", "alice", 1000_000))
	e.Apply(receipt("r2", "t1", "bob", 2000_000))

	got := v.Verify("t1")
	if !got.Matches {
		t.Errorf("Verify(t1) = %+v, want match", got)
	}
	if got.ItemizedMsat != 3000_000 || got.AggregateMsat != 3000_000 {
		t.Errorf("sums = %d/%d, want 3000000/3000000", got.ItemizedMsat, got.AggregateMsat)
	}
}

func TestVerifierUntrackedTarget(t *testing.T) {
	e := NewEngine()
	v := NewVerifier(e)

	got := v.Verify("nothing")
	if !got.Matches {
		t.Errorf("untracked target must verify trivially, got %+v", got)
	}
}

func TestVerifierDetectsMismatch(t *testing.T) {
	e := NewEngine()
	v := NewVerifier(e)

	e.Apply(receipt("r1", "t1", "alice", 1000_000))

	// Corrupt the running total behind the verifier's back
	e.mu.Lock()
	e.targets["t1"].TotalMsat += 500
	e.mu.Unlock()

	got := v.Verify("t1")
	if got.Matches {
		t.Fatal("expected mismatch")
	}
	if got.ItemizedMsat != 1000_000 || got.AggregateMsat != 1000_500 {
		t.Errorf("sums = %d/%d, want 1000000/1000500", got.ItemizedMsat, got.AggregateMsat)
	}

	// Verification reports, it never repairs
	if tb := e.TargetBreakdown("t1"); tb.TotalMsat != 1000_500 {
		t.Errorf("verifier modified aggregate state: %d", tb.TotalMsat)
	}
}

func TestVerifyAll(t *testing.T) {
	e := NewEngine()
	v := NewVerifier(e)

	e.Apply(receipt("r1", "t1", "alice", 1000_000))
	e.Apply(receipt("r2", "t2", "bob", 2000_000))
	e.Apply(receipt("r3", "t3", "carol", 3000_000))

	e.mu.Lock()
	e.targets["t2"].TotalMsat -= 100
	e.mu.Unlock()

	report := v.VerifyAll()
	if report.Passed != 2 || report.Failed != 1 {
		t.Errorf("report = %d passed / %d failed, want 2/1", report.Passed, report.Failed)
	}
	if len(report.Mismatched) != 1 || report.Mismatched[0].TargetID != "t2" {
		t.Errorf("mismatched = %+v, want [t2]", report.Mismatched)
	}
}
