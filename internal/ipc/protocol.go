package ipc

import "attentrack/internal/session"

const SocketPath = "/tmp/attentrack.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// --- Command Argument Structs ---

type GetAnalysisArgs struct {
	SessionID string `json:"session_id"`
}

type ListAnalysesArgs struct {
	Limit int `json:"limit"` // <= 0 means no limit
}

// SetIndicatorArgs either switches the indicator or, when Text is set, writes
// a raw line to it.
type SetIndicatorArgs struct {
	On   bool   `json:"on"`
	Text string `json:"text,omitempty"`
}

// --- Command Names (Constants) ---

const (
	CmdPing         = "ping"
	CmdGetStatus    = "get_status"
	CmdGetAnalysis  = "get_analysis"
	CmdListAnalyses = "list_analyses"
	CmdSetIndicator = "set_indicator"
)

// --- Status Response Data ---
type StatusData struct {
	Sessions []session.Info `json:"sessions"`
	Clients  int            `json:"clients"`
	Driver   string         `json:"driver"`
}
