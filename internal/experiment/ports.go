package experiment

import (
	"context"
	"time"

	"attentrack/internal/event"
)

// Emitter delivers outbound notifications to the participant's client.
type Emitter interface {
	Emit(name event.Name, payload any)
}

// Scheduler arms and cancels omission deadlines. A fired deadline must be
// delivered back through Controller.DeadlineFired on the session's own
// goroutine.
type Scheduler interface {
	Arm(id AttemptID, after time.Duration)
	Cancel(id AttemptID)
}

// Recorder is the durable store for raw history and analysis.
type Recorder interface {
	PersistPhaseRecord(ctx context.Context, rec PhaseRecord) error
	PersistAnalysis(ctx context.Context, a Analysis) error
}

// Indicator switches the external indicator light. Calls never block.
type Indicator interface {
	Set(on bool)
}

type nopIndicator struct{}

func (nopIndicator) Set(bool) {}

type nopRecorder struct{}

func (nopRecorder) PersistPhaseRecord(context.Context, PhaseRecord) error { return nil }
func (nopRecorder) PersistAnalysis(context.Context, Analysis) error       { return nil }

// --- Outbound payloads ---

type PhaseStartedPayload struct {
	Phase Phase `json:"phase"`
	Total int   `json:"total"`
}

type TargetStartedPayload struct {
	Phase      Phase       `json:"phase"`
	Index      int         `json:"index"`
	Total      int         `json:"total"`
	Region     *Region     `json:"region,omitempty"`
	Pair       *RegionPair `json:"pair,omitempty"`
	SuccessMs  int64       `json:"success_ms"`
	OmissionMs int64       `json:"omission_ms"`
}

type FocusStatusPayload struct {
	Phase           Phase         `json:"phase"`
	Index           int           `json:"index"`
	Side            Side          `json:"side,omitempty"`
	Status          string        `json:"status"`
	ReactionTime    *ReactionTime `json:"reaction_time_ms,omitempty"`
	DeviationError  bool          `json:"deviation_error,omitempty"`
	DeviationErrors int           `json:"deviation_errors"`
}

type TargetClosedPayload struct {
	Phase           Phase         `json:"phase"`
	Index           int           `json:"index"`
	Reason          Reason        `json:"reason"`
	Success         bool          `json:"success"`
	ReactionTime    *ReactionTime `json:"reaction_time_ms,omitempty"`
	Primary         *ReactionTime `json:"primary_reaction_time_ms,omitempty"`
	Secondary       *ReactionTime `json:"secondary_reaction_time_ms,omitempty"`
	MeanReactionMs  float64       `json:"mean_reaction_ms"`
	OmissionErrors  int           `json:"omission_errors"`
	DeviationErrors int           `json:"deviation_errors"`
}

type RoundStartedPayload struct {
	Round    int `json:"round"`
	Expected int `json:"expected"`
}

type RoundClosedPayload struct {
	Round          int `json:"round"`
	CorrectCount   int `json:"correct_count"`
	IncorrectCount int `json:"incorrect_count"`
}

type PhaseCompletedPayload struct {
	Phase     Phase   `json:"phase"`
	Metrics   Metrics `json:"metrics"`
	Persisted bool    `json:"persisted"`
	Error     string  `json:"error,omitempty"`
}

type ExperimentCompletedPayload struct {
	Summary Analysis `json:"summary"`
}

type ConfigRejectedPayload struct {
	Reason string `json:"reason"`
}
