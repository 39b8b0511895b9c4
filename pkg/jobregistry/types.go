package jobregistry

import "time"

// JobState is the lifecycle state of a submitted array job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type JobState string

const (
	JobStateSubmitted JobState = "submitted"
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSuccess   JobState = "success"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
	JobStateUnknown   JobState = "unknown"
)

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// JobRecord is the persistent record written to job.json for one project's
// array job.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID          string   `json:"job_id"`
	Project        string   `json:"project"`
	QiitaJobID     string   `json:"qiita_job_id,omitempty"`
	Scheduler      string   `json:"scheduler"`
	SchedulerJobID string   `json:"scheduler_job_id,omitempty"`
	State          JobState `json:"state"`
	ManifestPath   string   `json:"manifest_path,omitempty"`
	ScriptPath     string   `json:"script_path"`
	TablePath      string   `json:"table_path"`
	Tasks          int      `json:"tasks"`
	Concurrency    int      `json:"concurrency"`

	// FailedTasks lists 1-based array indexes that did not succeed.
	FailedTasks []int  `json:"failed_tasks,omitempty"`
	Message     string `json:"message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	LastPolled  *time.Time `json:"last_polled,omitempty"`
	OutputLog   string     `json:"output_log,omitempty"`
	ErrorLog    string     `json:"error_log,omitempty"`
}
