package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/jobscript"
)

// Torque submits with qsub and polls with qstat.
type Torque struct {
	run Runner
}

func (t *Torque) Name() string { return KindTorque }

func (t *Torque) Submit(ctx context.Context, script *jobscript.Script) (string, error) {
	out, err := t.run(ctx, "qsub", script.Path)
	if err != nil {
		return "", fmt.Errorf("qsub %s: %w", script.Path, err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("qsub %s: empty job id", script.Path)
	}
	return id, nil
}

// Status runs `qstat -f -t` and aggregates the array subjobs. Servers with
// keep_completed=0 drop finished jobs from qstat at once, so a job qstat no
// longer knows is looked up in the job history (`qstat -x`, PBS Pro) and then
// in the server logs (tracejob). Only when neither reports exit statuses is
// the job unknown.
func (t *Torque) Status(ctx context.Context, jobID string) (*Status, error) {
	out, err := t.run(ctx, "qstat", "-f", "-t", jobID)
	if err == nil {
		return Summarize(jobID, parseQstat(out)), nil
	}
	var ce *CommandError
	if !errors.As(err, &ce) || !strings.Contains(ce.Stderr, "Unknown Job Id") {
		return nil, fmt.Errorf("qstat %s: %w", jobID, err)
	}

	if hist, herr := t.run(ctx, "qstat", "-x", "-f", "-t", jobID); herr == nil {
		if tasks := parseQstat(hist); len(tasks) > 0 {
			return Summarize(jobID, tasks), nil
		}
	}
	if trace, terr := t.run(ctx, "tracejob", "-q", "-n", "2", jobID); terr == nil {
		if tasks := parseTracejob(trace); len(tasks) > 0 {
			return Summarize(jobID, tasks), nil
		}
	}
	return &Status{JobID: jobID, State: jobregistry.JobStateUnknown, Message: strings.TrimSpace(ce.Stderr)}, nil
}

// parseTracejob reads the Exit_status of each job block in tracejob output.
// Blocks start with "Job: <id>"; blocks without an exit status are skipped,
// and the array parent is ignored when subjobs are listed.
func parseTracejob(out []byte) []TaskStatus {
	type block struct {
		index  int
		parent bool
		code   int
		exited bool
	}
	var blocks []*block
	var cur *block

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if id, ok := strings.CutPrefix(line, "Job:"); ok {
			idx, parent := arrayIndex(strings.TrimSpace(id))
			cur = &block{index: idx, parent: parent}
			blocks = append(blocks, cur)
			continue
		}
		if cur == nil || cur.exited {
			continue
		}
		_, rest, ok := strings.Cut(line, "Exit_status=")
		if !ok {
			continue
		}
		field, _, _ := strings.Cut(rest, " ")
		if n, err := strconv.Atoi(field); err == nil {
			cur.code, cur.exited = n, true
		}
	}

	hasSubjobs := false
	for _, b := range blocks {
		if b.exited && !b.parent {
			hasSubjobs = true
		}
	}
	var tasks []TaskStatus
	for _, b := range blocks {
		if !b.exited || (b.parent && hasSubjobs) {
			continue
		}
		state := jobregistry.JobStateSuccess
		if b.code != 0 {
			state = jobregistry.JobStateFailed
		}
		tasks = append(tasks, TaskStatus{Index: b.index, State: state, ExitCode: b.code})
	}
	return tasks
}

// parseQstat reads `qstat -f -t` output. The array parent (id with empty
// brackets) is ignored when subjobs are listed.
func parseQstat(out []byte) []TaskStatus {
	type block struct {
		index    int
		parent   bool
		state    string
		exitCode int
	}
	var blocks []*block
	var cur *block

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if id, ok := strings.CutPrefix(line, "Job Id:"); ok {
			idx, parent := arrayIndex(strings.TrimSpace(id))
			cur = &block{index: idx, parent: parent, exitCode: -1}
			blocks = append(blocks, cur)
			continue
		}
		if cur == nil {
			continue
		}
		key, value, ok := strings.Cut(line, " = ")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "job_state":
			cur.state = strings.TrimSpace(value)
		case "exit_status":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				cur.exitCode = n
			}
		}
	}

	hasSubjobs := false
	for _, b := range blocks {
		if !b.parent {
			hasSubjobs = true
			break
		}
	}

	var tasks []TaskStatus
	for _, b := range blocks {
		if b.parent && hasSubjobs {
			continue
		}
		tasks = append(tasks, TaskStatus{Index: b.index, State: torqueState(b.state, b.exitCode), ExitCode: b.exitCode})
	}
	return tasks
}

// arrayIndex extracts N from ids like 123[N].host. parent is true for 123[].host.
func arrayIndex(id string) (int, bool) {
	open := strings.IndexByte(id, '[')
	end := strings.IndexByte(id, ']')
	if open < 0 || end < open {
		return 0, false
	}
	inner := id[open+1 : end]
	if inner == "" {
		return 0, true
	}
	n, err := strconv.Atoi(inner)
	if err != nil {
		return 0, false
	}
	return n, false
}

func torqueState(code string, exitCode int) jobregistry.JobState {
	switch code {
	case "R", "E":
		return jobregistry.JobStateRunning
	case "C", "F":
		if exitCode == 0 {
			return jobregistry.JobStateSuccess
		}
		return jobregistry.JobStateFailed
	default:
		// Q, H, W, T, S
		return jobregistry.JobStateQueued
	}
}
