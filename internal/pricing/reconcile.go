package pricing

import "math"

// Epsilon is the largest stored-vs-recomputed gap still treated as equal.
// Rupiah has no minor unit, so anything below half a rupiah is float noise.
const Epsilon = 0.5

// ReconcileStatus classifies a stored total against a recomputed one.
type ReconcileStatus string

const (
	// Equal means the stored total matches the recomputation.
	Equal ReconcileStatus = "equal"
	// Drifted means the stored total no longer matches its lines.
	Drifted ReconcileStatus = "drifted"
)

// Reconciliation is the outcome of comparing a stored total with a recomputed one.
type Reconciliation struct {
	Status     ReconcileStatus `json:"status"`
	Stored     float64         `json:"stored"`
	Recomputed float64         `json:"recomputed"`
	Delta      float64         `json:"delta"`
}

// Reconcile compares a persisted total with a total recomputed from persisted lines.
// Delta is recomputed minus stored.
func Reconcile(stored, recomputed float64) Reconciliation {
	return ReconcileWithin(stored, recomputed, Epsilon)
}

// ReconcileWithin is Reconcile with an explicit tolerance.
func ReconcileWithin(stored, recomputed, epsilon float64) Reconciliation {
	if epsilon <= 0 || epsilon > Epsilon {
		epsilon = Epsilon
	}
	delta := recomputed - stored
	status := Equal
	if math.IsNaN(delta) || math.Abs(delta) >= epsilon {
		status = Drifted
	}
	return Reconciliation{Status: status, Stored: stored, Recomputed: recomputed, Delta: delta}
}

// Drifted reports whether the stored total disagrees with the recomputation.
func (r Reconciliation) Drifted() bool {
	return r.Status == Drifted
}

// Authoritative returns the total callers must persist or print: the
// recomputed value on drift, the stored value otherwise.
func (r Reconciliation) Authoritative() float64 {
	if r.Drifted() {
		return r.Recomputed
	}
	return r.Stored
}
