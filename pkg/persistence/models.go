package persistence

import "time"

// RunRecord is one agent run as stored in the runs table.
type RunRecord struct {
	ID               string
	SessionID        string
	ThreadID         string
	RunID            string
	Status           string
	Response         string
	ToolCalls        int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Duration         time.Duration
	Error            string
	CreatedAt        time.Time
}

// ToolCallRecord is one tool dispatch made during a run. RunRowID points
// at the owning runs row, not the platform's run ID.
type ToolCallRecord struct {
	ID        string
	RunRowID  string
	Tool      string
	Outcome   string
	Duration  time.Duration
	CreatedAt time.Time
}

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	ID        string
	SessionID string
	Actor     string
	Action    string
	Detail    string
	CreatedAt time.Time
}
