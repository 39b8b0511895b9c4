package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/jobscript"
)

// DefaultPollInterval spaces scheduler status queries.
const DefaultPollInterval = 30 * time.Second

// ErrJobFailed is the default cause carried by JobFailedError.
var ErrJobFailed = errors.New("array job failed")

// JobFailedError reports an array job that ended in a non-success state.
type JobFailedError struct {
	Project     string
	JobID       string
	State       jobregistry.JobState
	FailedTasks []int

	// Details holds root-cause lines extracted by a LogParser.
	Details []string
	Err     error
}

func (e *JobFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "project %s: job %s ended %s", e.Project, e.JobID, e.State)
	if len(e.FailedTasks) > 0 {
		fmt.Fprintf(&b, " (failed tasks %v)", e.FailedTasks)
	}
	if e.Err != nil && e.Err != ErrJobFailed {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Details, "; "))
	}
	return b.String()
}

func (e *JobFailedError) Unwrap() error {
	if e.Err == nil {
		return ErrJobFailed
	}
	return e.Err
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	PollInterval time.Duration
	ManifestPath string
	QiitaJobID   string

	// LogParser extracts failure details. Defaults to NopLogParser.
	LogParser LogParser
}

// Executor submits scripts and blocks until they finish.
type Executor struct {
	sched  Scheduler
	store  *jobregistry.Store
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates an Executor. store may be nil to skip job records.
func NewExecutor(sched Scheduler, store *jobregistry.Store, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.LogParser == nil {
		cfg.LogParser = NopLogParser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{sched: sched, store: store, cfg: cfg, logger: logger}
}

// Run submits script and polls until the job reaches a terminal state. It
// returns the final job record, plus a *JobFailedError when the job did not
// succeed. Cancelling ctx stops the wait but leaves the job with the
// scheduler.
func (e *Executor) Run(ctx context.Context, script *jobscript.Script) (*jobregistry.JobRecord, error) {
	now := time.Now().UTC()
	rec := &jobregistry.JobRecord{
		JobID:        uuid.NewString(),
		Project:      script.Project,
		QiitaJobID:   e.cfg.QiitaJobID,
		Scheduler:    e.sched.Name(),
		State:        jobregistry.JobStateSubmitted,
		ManifestPath: e.cfg.ManifestPath,
		ScriptPath:   script.Path,
		TablePath:    script.TablePath,
		Tasks:        script.Tasks,
		Concurrency:  script.Concurrency,
		CreatedAt:    now,
		OutputLog:    script.OutputLog,
		ErrorLog:     script.ErrorLog,
	}

	schedID, err := e.sched.Submit(ctx, script)
	if err != nil {
		rec.State = jobregistry.JobStateFailed
		rec.Message = err.Error()
		rec.EndedAt = &now
		e.record(rec)
		return rec, &JobFailedError{Project: script.Project, State: rec.State, Err: fmt.Errorf("submit: %w", err)}
	}
	submitted := time.Now().UTC()
	rec.SchedulerJobID = schedID
	rec.SubmittedAt = &submitted
	e.record(rec)

	log := e.logger.With(
		zap.String("project", script.Project),
		zap.String("scheduler", e.sched.Name()),
		zap.String("job_id", schedID))
	log.Info("Submitted array job",
		zap.String("script", script.Path),
		zap.Int("tasks", script.Tasks),
		zap.Int("concurrency", script.Concurrency))

	limiter := rate.NewLimiter(rate.Every(e.cfg.PollInterval), 1)
	var st *Status
	seen := false
	for {
		if err := limiter.Wait(ctx); err != nil {
			return rec, fmt.Errorf("wait for job %s (project %s): %w", schedID, script.Project, err)
		}
		st, err = e.sched.Status(ctx, schedID)
		if err != nil {
			return rec, fmt.Errorf("poll job %s (project %s): %w", schedID, script.Project, err)
		}

		polled := time.Now().UTC()
		rec.LastPolled = &polled
		if st.State == jobregistry.JobStateUnknown && seen {
			// The scheduler listed the job earlier and has no failure on
			// record for it now.
			log.Warn("Job no longer known to scheduler; assuming it completed",
				zap.String("message", st.Message))
			st = &Status{JobID: schedID, State: jobregistry.JobStateSuccess, Message: st.Message}
		}
		if st.State != rec.State {
			log.Debug("Job state changed",
				zap.String("from", string(rec.State)),
				zap.String("to", string(st.State)))
			rec.State = st.State
			e.record(rec)
		}
		if st.State.Terminal() || st.State == jobregistry.JobStateUnknown {
			break
		}
		seen = true
	}

	ended := time.Now().UTC()
	rec.EndedAt = &ended
	rec.FailedTasks = st.FailedTasks

	if rec.State == jobregistry.JobStateSuccess {
		e.record(rec)
		log.Info("Array job finished", zap.Duration("elapsed", ended.Sub(submitted)))
		return rec, nil
	}

	ferr := &JobFailedError{
		Project:     script.Project,
		JobID:       schedID,
		State:       rec.State,
		FailedTasks: st.FailedTasks,
	}
	if st.Message != "" {
		ferr.Err = fmt.Errorf("%w: %s", ErrJobFailed, st.Message)
	}
	details, perr := e.cfg.LogParser.Parse(ctx, rec)
	if perr != nil {
		log.Warn("Failed to parse job logs", zap.Error(perr))
	}
	ferr.Details = details

	rec.Message = ferr.Error()
	e.record(rec)
	log.Error("Array job failed", zap.Ints("failed_tasks", st.FailedTasks))
	return rec, ferr
}

func (e *Executor) record(rec *jobregistry.JobRecord) {
	if e.store == nil {
		return
	}
	if err := e.store.Write(rec); err != nil {
		e.logger.Warn("Failed to write job record", zap.String("job_id", rec.JobID), zap.Error(err))
	}
}
