package capacity

// Evaluation is the Capacity Evaluator's verdict for a unit set.
type Evaluation struct {
	TotalMinutes         Minutes
	MaxSingleDayCapacity Minutes
	RequiresSplit        bool
}

// Evaluate decides whether units fit on one day of the snapshot.
//
// Units of a category missing from the snapshot need no manufacturing time.
// MaxSingleDayCapacity is never negative, and an empty or zero-minute unit
// set never requires a split.
func Evaluate(units []Unit, snap *Snapshot) Evaluation {
	total := TotalMinutes(units, snap.MinutesByCategory)

	var best Minutes
	for _, m := range snap.AvailableByDate {
		best = best.Max(m)
	}

	return Evaluation{
		TotalMinutes:         total,
		MaxSingleDayCapacity: best,
		RequiresSplit:        total.GreaterThan(best),
	}
}

// TotalMinutes sums the manufacturing minutes of units.
func TotalMinutes(units []Unit, times CategoryTimes) Minutes {
	var total Minutes
	for _, u := range units {
		total = total.Add(times.Of(u.Category))
	}
	return total
}
