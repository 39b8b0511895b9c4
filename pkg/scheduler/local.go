package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/jobscript"
)

// Local runs array tasks on the current host, at most Concurrency at a time.
// Each task runs the script with the dialect's array and job id variables set,
// writing to the script's log paths suffixed with the task index.
type Local struct {
	dialect jobscript.Dialect
	shell   string
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[string][]TaskStatus
}

// NewLocal creates a local scheduler. A nil dialect means Torque; an empty
// shell means bash.
func NewLocal(dialect jobscript.Dialect, shell string, logger *zap.Logger) *Local {
	if dialect == nil {
		dialect = jobscript.Torque{}
	}
	if shell == "" {
		shell = "bash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{dialect: dialect, shell: shell, logger: logger, jobs: make(map[string][]TaskStatus)}
}

func (l *Local) Name() string { return KindLocal }

// Submit starts the tasks in the background and returns immediately. The
// tasks outlive ctx cancellation, as a cluster job would.
func (l *Local) Submit(ctx context.Context, script *jobscript.Script) (string, error) {
	if script.Tasks < 1 {
		return "", fmt.Errorf("script %s has no tasks", script.Path)
	}
	if _, err := os.Stat(script.Path); err != nil {
		return "", fmt.Errorf("script %s: %w", script.Path, err)
	}

	id := uuid.NewString()
	tasks := make([]TaskStatus, script.Tasks)
	for i := range tasks {
		tasks[i] = TaskStatus{Index: i + 1, State: jobregistry.JobStateQueued}
	}
	l.mu.Lock()
	l.jobs[id] = tasks
	l.mu.Unlock()

	go l.run(context.WithoutCancel(ctx), id, script)
	return id, nil
}

// Status summarizes the job's tasks. A job is forgotten once Status has
// reported it terminal; later calls see it as unknown.
func (l *Local) Status(_ context.Context, jobID string) (*Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tasks, ok := l.jobs[jobID]
	if !ok {
		return &Status{JobID: jobID, State: jobregistry.JobStateUnknown, Message: "job not known to local scheduler"}, nil
	}
	st := Summarize(jobID, append([]TaskStatus(nil), tasks...))
	if st.State.Terminal() {
		delete(l.jobs, jobID)
	}
	return st, nil
}

func (l *Local) run(ctx context.Context, jobID string, script *jobscript.Script) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(script.Concurrency, 1))
	for i := 1; i <= script.Tasks; i++ {
		task := i
		g.Go(func() error {
			l.setTask(jobID, task, jobregistry.JobStateRunning, 0)
			code := l.runTask(ctx, jobID, script, task)
			state := jobregistry.JobStateSuccess
			if code != 0 {
				state = jobregistry.JobStateFailed
			}
			l.setTask(jobID, task, state, code)
			return nil
		})
	}
	_ = g.Wait()
}

func (l *Local) runTask(ctx context.Context, jobID string, script *jobscript.Script, task int) int {
	index := strconv.Itoa(task)
	stdout, err := os.Create(script.OutputLog + "." + index)
	if err != nil {
		l.logger.Warn("Failed to create task log", zap.Int("task", task), zap.Error(err))
		return -1
	}
	defer func() { _ = stdout.Close() }()
	stderr, err := os.Create(script.ErrorLog + "." + index)
	if err != nil {
		l.logger.Warn("Failed to create task log", zap.Int("task", task), zap.Error(err))
		return -1
	}
	defer func() { _ = stderr.Close() }()

	cmd := exec.CommandContext(ctx, l.shell, script.Path)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(),
		l.dialect.ArrayVar()+"="+index,
		l.dialect.JobIDVar()+"="+jobID,
	)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		l.logger.Warn("Task did not start", zap.Int("task", task), zap.Error(err))
		return -1
	}
	return 0
}

func (l *Local) setTask(jobID string, task int, state jobregistry.JobState, code int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tasks := l.jobs[jobID]
	tasks[task-1].State = state
	tasks[task-1].ExitCode = code
}
