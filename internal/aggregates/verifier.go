package aggregates

// Verification is the result of cross-checking one target's accounting
type Verification struct {
	TargetID      string
	Matches       bool
	ItemizedMsat  int64 // Recomputed sum over the receipt list
	AggregateMsat int64 // Maintained running total
}

// Report summarizes a session-wide accounting check
type Report struct {
	Passed     int
	Failed     int
	Mismatched []Verification
}

// Verifier cross-checks itemized receipt sums against the engine's maintained
// running totals. A mismatch indicates an aggregation bug and is reported as
// a diagnostic signal, never silently corrected.
type Verifier struct {
	engine *Engine
}

// NewVerifier creates a verifier over the given engine
func NewVerifier(e *Engine) *Verifier {
	return &Verifier{engine: e}
}

// Verify recomputes the itemized sum for one target and compares it to the
// maintained total. An untracked target trivially matches with zero sums.
func (v *Verifier) Verify(targetID string) Verification {
	e := v.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	return verifyLocked(targetID, e.targets[targetID])
}

// VerifyAll checks every tracked target and returns pass/fail counts plus the
// mismatched verifications.
func (v *Verifier) VerifyAll() Report {
	e := v.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	var report Report
	for id, tb := range e.targets {
		result := verifyLocked(id, tb)
		if result.Matches {
			report.Passed++
		} else {
			report.Failed++
			report.Mismatched = append(report.Mismatched, result)
		}
	}

	return report
}

func verifyLocked(targetID string, tb *TargetBreakdown) Verification {
	if tb == nil {
		return Verification{TargetID: targetID, Matches: true}
	}

	var itemized int64
	for _, r := range tb.Receipts {
		itemized += r.AmountMsat
	}

	return Verification{
		TargetID:      targetID,
		Matches:       itemized == tb.TotalMsat,
		ItemizedMsat:  itemized,
		AggregateMsat: tb.TotalMsat,
	}
}
