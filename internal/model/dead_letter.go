package model

import (
	"encoding/json"
	"time"
)

// Dead letter statuses.
const (
	DeadLetterFailed   = "failed"
	DeadLetterReplayed = "replayed"
)

// DeadLetterJob is a queue job that exhausted its attempts.
type DeadLetterJob struct {
	ID         int64           `json:"id"`
	Queue      string          `json:"queue"`
	JobID      string          `json:"job_id"`
	JobName    string          `json:"job_name"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error"`
	TraceID    string          `json:"trace_id"`
	Status     string          `json:"status"`
	FailedAt   time.Time       `json:"failed_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
}
