package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig  = errors.New("invalid experiment configuration")
	ErrAlreadyStarted = errors.New("experiment already started")
)

// Phase is one stage of the experiment.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSustained
	PhaseSelective
	PhaseDivided
	PhaseDone
)

var phaseNames = map[Phase]string{
	PhaseIdle:      "idle",
	PhaseSustained: "sustained",
	PhaseSelective: "selective",
	PhaseDivided:   "divided",
	PhaseDone:      "done",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for k, v := range phaseNames {
		if v == string(b) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}

// Side identifies one half of a divided-attention pair. Sustained targets use
// SideNone.
type Side string

const (
	SideNone      Side = ""
	SidePrimary   Side = "primary"
	SideSecondary Side = "secondary"
)

// Reason is why a target attempt closed.
type Reason string

const (
	ReasonFocusComplete     Reason = "FOCUS_COMPLETE"
	ReasonOmission          Reason = "OMISSION"
	ReasonPhaseTimeExceeded Reason = "PHASE_TIME_EXCEEDED"
)

// Verdict is the post-hoc classification of an attempt.
type Verdict string

const (
	VerdictHit        Verdict = "HIT"
	VerdictCommission Verdict = "COMMISSION"
	VerdictOmission   Verdict = "OMISSION"
)

// ReactionTime is a duration in milliseconds that may be absent. It encodes
// to a number, or to "n/a" when focus was never entered, in both JSON and BSON.
type ReactionTime struct {
	Ms    int64
	Valid bool
}

const notAvailable = "n/a"

func ReactionTimeOf(d time.Duration) ReactionTime {
	return ReactionTime{Ms: d.Milliseconds(), Valid: true}
}

func (r ReactionTime) String() string {
	if !r.Valid {
		return notAvailable
	}
	return fmt.Sprintf("%dms", r.Ms)
}

func (r ReactionTime) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return json.Marshal(notAvailable)
	}
	return json.Marshal(r.Ms)
}

func (r *ReactionTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != notAvailable {
			return fmt.Errorf("invalid reaction time %q", s)
		}
		*r = ReactionTime{}
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("invalid reaction time: %w", err)
	}
	*r = ReactionTime{Ms: ms, Valid: true}
	return nil
}

// FocusEvent is one edge transition into (State 1) or out of (State 0) a
// target region. Entries are immutable once appended.
type FocusEvent struct {
	Phase  Phase     `json:"phase" bson:"phase"`
	Target int       `json:"target" bson:"target"`
	Side   Side      `json:"side,omitempty" bson:"side,omitempty"`
	State  int       `json:"state" bson:"state"`
	At     time.Time `json:"timestamp" bson:"timestamp"`
}

func (e FocusEvent) belongsTo(a TargetAttempt, side Side) bool {
	return e.Phase == a.Phase && e.Target == a.Index && e.Side == side
}

// AttemptID identifies one attempt within a session. It keys the omission
// deadline.
type AttemptID uint64

// TargetAttempt is the lifecycle of one sustained target or divided pair.
type TargetAttempt struct {
	ID        AttemptID `json:"-" bson:"-"`
	Phase     Phase     `json:"phase" bson:"phase"`
	Index     int       `json:"index" bson:"index"`
	StartedAt time.Time `json:"started_at" bson:"started_at"`
	EndedAt   time.Time `json:"ended_at" bson:"ended_at"`
	Reason    Reason    `json:"reason" bson:"reason"`

	closed bool
}

func (a *TargetAttempt) Closed() bool { return a.closed }

// TargetOutcome is the classifier verdict for one attempt (or one side of a
// divided pair).
type TargetOutcome struct {
	Phase          Phase        `json:"phase" bson:"phase"`
	Index          int          `json:"index" bson:"index"`
	Side           Side         `json:"side,omitempty" bson:"side,omitempty"`
	Reason         Reason       `json:"server_reason" bson:"server_reason"`
	Verdict        Verdict      `json:"verdict" bson:"verdict"`
	ReactionTime   ReactionTime `json:"reaction_time_ms" bson:"reaction_time_ms"`
	MaxFocusMs     int64        `json:"max_focus_ms" bson:"max_focus_ms"`
	MaxDeviationMs int64        `json:"max_deviation_ms" bson:"max_deviation_ms"`
	TotalFocusedMs int64        `json:"total_focused_ms" bson:"total_focused_ms"`
	DurationMs     int64        `json:"duration_ms" bson:"duration_ms"`
}

// SelectionResult is the scored echo of one selection.
type SelectionResult struct {
	Round          int  `json:"round" bson:"round"`
	Answer         int  `json:"answer" bson:"answer"`
	Correct        bool `json:"correct" bson:"correct"`
	CorrectCount   int  `json:"correct_count" bson:"correct_count"`
	IncorrectCount int  `json:"incorrect_count" bson:"incorrect_count"`
	Received       int  `json:"received" bson:"received"`
	Expected       int  `json:"expected" bson:"expected"`
	RoundClosed    bool `json:"round_closed" bson:"round_closed"`
}

// RoundResult summarizes one closed selection round.
type RoundResult struct {
	Round          int   `json:"round" bson:"round"`
	Expected       []int `json:"expected" bson:"expected"`
	Received       []int `json:"received" bson:"received"`
	CorrectCount   int   `json:"correct_count" bson:"correct_count"`
	IncorrectCount int   `json:"incorrect_count" bson:"incorrect_count"`
}

// Metrics is the aggregated statistics snapshot of a session.
type Metrics struct {
	ReactionTime      RTStats `json:"reaction_time" bson:"reaction_time"`
	Hits              int     `json:"hits" bson:"hits"`
	Commissions       int     `json:"commissions" bson:"commissions"`
	Omissions         int     `json:"omissions" bson:"omissions"`
	OmissionErrors    int     `json:"omission_errors" bson:"omission_errors"`
	DeviationErrors   int     `json:"deviation_errors" bson:"deviation_errors"`
	SelectionsCorrect int     `json:"selections_correct" bson:"selections_correct"`
	SelectionsWrong   int     `json:"selections_incorrect" bson:"selections_incorrect"`
}

// PhaseRecord is the raw history of one completed phase.
type PhaseRecord struct {
	SessionID   string            `json:"session_id" bson:"session_id"`
	Phase       Phase             `json:"phase" bson:"phase"`
	RecordedAt  time.Time         `json:"recorded_at" bson:"recorded_at"`
	FocusEvents []FocusEvent      `json:"focus_events" bson:"focus_events"`
	Attempts    []TargetAttempt   `json:"attempts" bson:"attempts"`
	Selections  []SelectionResult `json:"selections,omitempty" bson:"selections,omitempty"`
}

// Analysis is the post-hoc result of a session. It is stored with upsert
// semantics keyed by SessionID.
type Analysis struct {
	SessionID  string          `json:"session_id" bson:"session_id"`
	AnalyzedAt time.Time       `json:"analyzed_at" bson:"analyzed_at"`
	Summary    Metrics         `json:"summary" bson:"summary"`
	Outcomes   []TargetOutcome `json:"outcomes" bson:"outcomes"`
	Rounds     []RoundResult   `json:"rounds,omitempty" bson:"rounds,omitempty"`
}

// Status is a point-in-time view of a running session.
type Status struct {
	Phase           Phase `json:"phase"`
	Target          int   `json:"target"`
	Round           int   `json:"round,omitempty"`
	OmissionErrors  int   `json:"omission_errors"`
	DeviationErrors int   `json:"deviation_errors"`
}
