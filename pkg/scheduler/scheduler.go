// Package scheduler submits generated array-job scripts to a batch scheduler
// and waits for them to reach a terminal state.
//
// Three schedulers are provided: Torque (qsub/qstat), Slurm (sbatch/sacct)
// and Local, which runs the array tasks on the current host. Executor wraps
// any of them with status polling, job registry bookkeeping and failure
// reporting.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/jobscript"
)

// Scheduler kinds accepted by New.
const (
	KindTorque = "torque"
	KindSlurm  = "slurm"
	KindLocal  = "local"
)

// Scheduler submits scripts and reports job status.
type Scheduler interface {
	// Name identifies the scheduler kind.
	Name() string

	// Submit hands script to the scheduler and returns its job id.
	Submit(ctx context.Context, script *jobscript.Script) (string, error)

	// Status reports the current state of jobID.
	Status(ctx context.Context, jobID string) (*Status, error)
}

// TaskStatus is the state of one array task.
type TaskStatus struct {
	// Index is the 1-based array index, or 0 when the scheduler reports a
	// row that covers several tasks.
	Index    int
	State    jobregistry.JobState
	ExitCode int
}

// Status is the aggregated state of an array job.
type Status struct {
	JobID       string
	State       jobregistry.JobState
	Tasks       []TaskStatus
	FailedTasks []int
	Message     string
}

// Summarize folds per-task states into a job status. The job is running
// while any task is running, queued while tasks wait and none run, and
// otherwise succeeds only when every task succeeded.
func Summarize(jobID string, tasks []TaskStatus) *Status {
	st := &Status{JobID: jobID, Tasks: tasks}
	if len(tasks) == 0 {
		st.State = jobregistry.JobStateQueued
		return st
	}

	var queued, running, failed bool
	for _, t := range tasks {
		switch t.State {
		case jobregistry.JobStateRunning:
			running = true
		case jobregistry.JobStateSuccess:
		case jobregistry.JobStateFailed, jobregistry.JobStateCancelled:
			failed = true
			if t.Index > 0 {
				st.FailedTasks = append(st.FailedTasks, t.Index)
			}
		default:
			queued = true
		}
	}
	sort.Ints(st.FailedTasks)

	switch {
	case running:
		st.State = jobregistry.JobStateRunning
	case queued:
		st.State = jobregistry.JobStateQueued
	case failed:
		st.State = jobregistry.JobStateFailed
	default:
		st.State = jobregistry.JobStateSuccess
	}
	return st
}

// Options configures New.
type Options struct {
	// Runner executes scheduler CLIs. Defaults to os/exec.
	Runner Runner

	// Dialect supplies the array index variable for the local scheduler.
	Dialect jobscript.Dialect

	// Shell runs scripts for the local scheduler. Defaults to bash.
	Shell string

	Logger *zap.Logger
}

// New returns the scheduler registered under kind.
func New(kind string, opts Options) (Scheduler, error) {
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindTorque, "pbs", "":
		return &Torque{run: opts.Runner}, nil
	case KindSlurm:
		return &Slurm{run: opts.Runner}, nil
	case KindLocal:
		return NewLocal(opts.Dialect, opts.Shell, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported scheduler: %s", kind)
	}
}
