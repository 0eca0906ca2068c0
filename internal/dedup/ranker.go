package dedup

import (
	"fmt"
	"time"
)

// Record is what the ranker needs to know about a knowledge item.
type Record struct {
	ID         string
	IsVerified bool
	Confidence float64
	Content    string
	CreatedAt  time.Time
}

// PickSurvivor returns the best record of a cluster.
func PickSurvivor(records []Record) (Record, error) {
	if len(records) == 0 {
		return Record{}, fmt.Errorf("empty cluster")
	}
	best := records[0]
	for _, r := range records[1:] {
		if isRecordBetter(r, best) {
			best = r
		}
	}
	return best, nil
}

// isRecordBetter prefers verified items, then higher confidence, then the
// more detailed content, then the older item.
func isRecordBetter(a, b Record) bool {
	if a.IsVerified != b.IsVerified {
		return a.IsVerified
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if len(a.Content) != len(b.Content) {
		return len(a.Content) > len(b.Content)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return false
}
