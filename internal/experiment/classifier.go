package experiment

import (
	"sort"
	"time"
)

// commissionEventThreshold is the number of focus events above which an
// engaged attempt counts as a commission.
const commissionEventThreshold = 2

// Classify turns one closed attempt and its focus-event sub-log into a
// verdict. It has no side effects.
//
// The time before the first entry is the reaction time, not a deviation run.
// Whatever run is open when the log ends is closed against attempt.EndedAt.
// Verdict priority is OMISSION, then COMMISSION, then HIT.
func Classify(attempt TargetAttempt, side Side, events []FocusEvent, window time.Duration) TargetOutcome {
	log := make([]FocusEvent, len(events))
	copy(log, events)
	sort.SliceStable(log, func(i, j int) bool { return log[i].At.Before(log[j].At) })

	var (
		focused    bool
		engaged    bool
		firstEnter time.Time
		runStart   time.Time
		total      time.Duration
		maxFocus   time.Duration
		maxDev     time.Duration
	)

	closeRun := func(end time.Time) {
		d := end.Sub(runStart)
		if d < 0 {
			d = 0
		}
		if focused {
			total += d
			if d > maxFocus {
				maxFocus = d
			}
		} else if engaged && d > maxDev {
			maxDev = d
		}
	}

	for _, ev := range log {
		inside := ev.State == 1
		if inside == focused {
			continue
		}
		if inside && !engaged {
			engaged = true
			firstEnter = ev.At
		} else {
			closeRun(ev.At)
		}
		focused = inside
		runStart = ev.At
	}
	if engaged {
		closeRun(attempt.EndedAt)
	}

	out := TargetOutcome{
		Phase:          attempt.Phase,
		Index:          attempt.Index,
		Side:           side,
		Reason:         attempt.Reason,
		MaxFocusMs:     maxFocus.Milliseconds(),
		MaxDeviationMs: maxDev.Milliseconds(),
		TotalFocusedMs: total.Milliseconds(),
		DurationMs:     attempt.EndedAt.Sub(attempt.StartedAt).Milliseconds(),
	}
	if engaged {
		out.ReactionTime = ReactionTimeOf(firstEnter.Sub(attempt.StartedAt))
	}

	switch {
	case !out.ReactionTime.Valid,
		out.ReactionTime.Ms > window.Milliseconds(),
		maxDev > window:
		out.Verdict = VerdictOmission
	case len(log) > commissionEventThreshold:
		out.Verdict = VerdictCommission
	default:
		out.Verdict = VerdictHit
	}
	return out
}

// SubLog returns the events of log that belong to the given attempt side, in
// log order.
func SubLog(log []FocusEvent, attempt TargetAttempt, side Side) []FocusEvent {
	var out []FocusEvent
	for _, ev := range log {
		if ev.belongsTo(attempt, side) {
			out = append(out, ev)
		}
	}
	return out
}

// Tally counts verdicts over a set of outcomes and aggregates their reaction
// times.
func Tally(outcomes []TargetOutcome) Metrics {
	var m Metrics
	var agg Aggregator
	for _, o := range outcomes {
		switch o.Verdict {
		case VerdictHit:
			m.Hits++
		case VerdictCommission:
			m.Commissions++
		case VerdictOmission:
			m.Omissions++
		}
		agg.Add(o.ReactionTime)
	}
	m.ReactionTime = agg.Stats()
	return m
}
