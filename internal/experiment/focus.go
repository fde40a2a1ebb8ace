package experiment

import "time"

// transition is the edge produced by one sample.
type transition int

const (
	noChange transition = iota
	entered
	left
)

// focusRun tracks continuous focus on one region. It is the building block of
// both the sustained tracker and each side of the divided tracker.
type focusRun struct {
	region Region
	opened time.Time

	inside    bool
	since     time.Time
	reaction  ReactionTime
	sustained bool
}

func newFocusRun(region Region, opened time.Time) *focusRun {
	return &focusRun{region: region, opened: opened}
}

// observe feeds one sample and reports the edge, if any. Leaving before the
// run was sustained resets it.
func (r *focusRun) observe(x, y float64, now time.Time) transition {
	inside := r.region.Contains(x, y)
	if inside == r.inside {
		return noChange
	}
	r.inside = inside
	if inside {
		r.since = now
		if !r.reaction.Valid {
			r.reaction = ReactionTimeOf(now.Sub(r.opened))
		}
		return entered
	}
	if !r.sustained {
		r.since = time.Time{}
	}
	return left
}

// heldFor is the length of the current focus run, zero when outside.
func (r *focusRun) heldFor(now time.Time) time.Duration {
	if !r.inside {
		return 0
	}
	return now.Sub(r.since)
}

// FocusTracker follows one sustained-phase attempt.
type FocusTracker struct {
	Attempt *TargetAttempt
	run     *focusRun
}

func newFocusTracker(a *TargetAttempt, region Region) *FocusTracker {
	return &FocusTracker{Attempt: a, run: newFocusRun(region, a.StartedAt)}
}

func (t *FocusTracker) ReactionTime() ReactionTime { return t.run.reaction }
