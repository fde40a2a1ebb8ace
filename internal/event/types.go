package event

import "encoding/json"

// Name identifies a message exchanged with a participant client.
type Name string

// Inbound names (client to server).
const (
	StartWithConfig Name = "start_with_config"
	GazeSample      Name = "gaze_sample"
	GazeData        Name = "gaze_data" // legacy alias of gaze_sample
	Selection       Name = "selection"
	PhaseTimeout    Name = "phase_timeout"
	SendToIndicator Name = "send_to_indicator"
	SessionClosed   Name = "session_closed"
)

// Outbound names (server to client).
const (
	SessionOpened       Name = "session_opened"
	ConfigRejected      Name = "config_rejected"
	PhaseStarted        Name = "phase_started"
	TargetStarted       Name = "target_started"
	FocusStatus         Name = "focus_status"
	TargetClosed        Name = "target_closed"
	SelectionScored     Name = "selection_result"
	RoundStarted        Name = "round_started"
	RoundClosed         Name = "round_closed"
	PhaseCompleted      Name = "phase_completed"
	ExperimentCompleted Name = "experiment_completed"
	IndicatorEvent      Name = "indicator_event"
	IndicatorWrite      Name = "indicator_write"
)

// Focus status values carried by FocusStatus.
const (
	StatusFocusStarted = "started"
	StatusFocusLost    = "lost"
	StatusSustained    = "sustained"
)

// Envelope is the wire frame of every message in both directions.
type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a message queued for delivery to a client.
type Outbound struct {
	Event Name `json:"event"`
	Data  any  `json:"data,omitempty"`
}

// --- Inbound payloads ---

// GazePayload coordinates are nil when the tracker lost the eye.
type GazePayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type SelectionPayload struct {
	Answer int `json:"answer"`
}

type IndicatorPayload struct {
	On   *bool  `json:"on,omitempty"`
	Text string `json:"text,omitempty"`
}
