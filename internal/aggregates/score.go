package aggregates

import "sort"

// Composite score weights. Amount dominates; raw zap count and breadth of
// distinct payers contribute the rest of the 0-100 scale.
const (
	amountWeight        = 70.0
	countWeight         = 20.0
	uniqueZappersWeight = 10.0
)

// TargetScore is a target's composite ranking value
type TargetScore struct {
	TargetID      string
	Rank          int // 1 = highest score
	Score         float64
	TotalMsat     int64
	ZapCount      int
	UniqueZappers int
}

// CompositeScores ranks targets by a weighted 0-100 score. Each signal is
// normalized against the maximum observed across the batch:
//
//	score = total/maxTotal*70 + count/maxCount*20 + unique/maxUnique*10
//
// Zero maxima are treated as 1 to avoid division by zero. The sort is stable,
// so equal scores keep their input order.
func CompositeScores(breakdowns []*TargetBreakdown) []TargetScore {
	if len(breakdowns) == 0 {
		return nil
	}

	var maxTotal, maxCount, maxUnique float64
	for _, tb := range breakdowns {
		if t := float64(tb.TotalMsat); t > maxTotal {
			maxTotal = t
		}
		if c := float64(len(tb.Receipts)); c > maxCount {
			maxCount = c
		}
		if u := float64(len(tb.Zappers)); u > maxUnique {
			maxUnique = u
		}
	}
	if maxTotal == 0 {
		maxTotal = 1
	}
	if maxCount == 0 {
		maxCount = 1
	}
	if maxUnique == 0 {
		maxUnique = 1
	}

	scores := make([]TargetScore, 0, len(breakdowns))
	for _, tb := range breakdowns {
		amountScore := float64(tb.TotalMsat) / maxTotal * amountWeight
		countScore := float64(len(tb.Receipts)) / maxCount * countWeight
		uniqueScore := float64(len(tb.Zappers)) / maxUnique * uniqueZappersWeight

		scores = append(scores, TargetScore{
			TargetID:      tb.TargetID,
			Score:         amountScore + countScore + uniqueScore,
			TotalMsat:     tb.TotalMsat,
			ZapCount:      len(tb.Receipts),
			UniqueZappers: len(tb.Zappers),
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}

	return scores
}
