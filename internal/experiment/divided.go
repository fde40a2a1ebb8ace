package experiment

import "time"

// DualTracker follows one divided-attention pair. The two sides are
// independent: each keeps its own run, reaction time and sustained flag.
type DualTracker struct {
	Attempt   *TargetAttempt
	primary   *focusRun
	secondary *focusRun
}

func newDualTracker(a *TargetAttempt, pair RegionPair) *DualTracker {
	return &DualTracker{
		Attempt:   a,
		primary:   newFocusRun(pair.Primary, a.StartedAt),
		secondary: newFocusRun(pair.Secondary, a.StartedAt),
	}
}

func (d *DualTracker) side(s Side) *focusRun {
	if s == SidePrimary {
		return d.primary
	}
	return d.secondary
}

// markSustained sets the sustained flag of every side whose current run has
// lasted long enough. It returns the sides that just became sustained.
func (d *DualTracker) markSustained(now time.Time, need time.Duration) []Side {
	var out []Side
	for _, s := range []Side{SidePrimary, SideSecondary} {
		r := d.side(s)
		if !r.sustained && r.inside && r.heldFor(now) >= need {
			r.sustained = true
			out = append(out, s)
		}
	}
	return out
}

// Complete reports whether both sides reached sustained focus. The two runs
// need not overlap in time.
func (d *DualTracker) Complete() bool {
	return d.primary.sustained && d.secondary.sustained
}
