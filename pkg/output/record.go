// Package output writes the JSONL run report.
//
// Every line is a Record envelope carrying a typed payload: one project
// record per processed project, one quarantine record per moved pair,
// error records for project failures and a final summary. Lines are
// self-contained JSON objects that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: seqorch.<type>.v<version>
const (
	// TypeProject identifies per-project outcome records.
	TypeProject = "seqorch.project.v1"

	// TypeQuarantine identifies quarantined pair records.
	TypeQuarantine = "seqorch.quarantine.v1"

	// TypeError identifies error records.
	TypeError = "seqorch.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "seqorch.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "seqorch.project.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates every record of one invocation.
	RunID string `json:"run_id"`

	// QiitaJobID is the upstream job that requested the run, if any.
	QiitaJobID string `json:"qiita_job_id,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// Project outcome values.
const (
	ProjectCompleted = "completed"
	ProjectSkipped   = "skipped"
	ProjectFailed    = "failed"
	ProjectDryRun    = "dry_run"
)

// ProjectRecord is the data payload for one project's outcome.
type ProjectRecord struct {
	Project string `json:"project"`

	// Status is one of the Project* outcome values.
	Status string `json:"status"`

	// Reason explains a skipped or failed project.
	Reason string `json:"reason,omitempty"`

	Samples     int    `json:"samples"`
	Files       int    `json:"files"`
	Tasks       int    `json:"tasks,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	TablePath   string `json:"table_path,omitempty"`
	ScriptPath  string `json:"script_path,omitempty"`

	SchedulerJobID string `json:"scheduler_job_id,omitempty"`
	JobState       string `json:"job_state,omitempty"`
	FailedTasks    []int  `json:"failed_tasks,omitempty"`

	Quarantined int `json:"quarantined"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// QuarantineRecord is the data payload for a moved mate pair.
type QuarantineRecord struct {
	Project     string `json:"project"`
	Mate1       string `json:"mate1"`
	Mate2       string `json:"mate2"`
	Mate1Size   int64  `json:"mate1_size"`
	Mate2Size   int64  `json:"mate2_size"`
	Mate2Found  bool   `json:"mate2_found"`
	Destination string `json:"destination"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Project is the project being processed when the error occurred.
	Project string `json:"project,omitempty"`

	// JobID is the scheduler job id, if one was assigned.
	JobID string `json:"job_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeJobFailed indicates the array job ended unsuccessfully.
	ErrCodeJobFailed = "JOB_FAILED"

	// ErrCodeEmptyProject indicates a project with no read files.
	ErrCodeEmptyProject = "EMPTY_PROJECT"

	// ErrCodeProvider indicates the command list provider failed.
	ErrCodeProvider = "PROVIDER"

	// ErrCodeQuarantine indicates a quarantine move failed.
	ErrCodeQuarantine = "QUARANTINE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	Projects    int `json:"projects"`
	Completed   int `json:"completed"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Quarantined int `json:"quarantined"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Errors is the count of error records emitted.
	Errors int64 `json:"errors"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
