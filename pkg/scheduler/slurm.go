package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/jobscript"
)

// Slurm submits with `sbatch --parsable` and polls with sacct.
type Slurm struct {
	run Runner
}

func (s *Slurm) Name() string { return KindSlurm }

func (s *Slurm) Submit(ctx context.Context, script *jobscript.Script) (string, error) {
	out, err := s.run(ctx, "sbatch", "--parsable", script.Path)
	if err != nil {
		return "", fmt.Errorf("sbatch %s: %w", script.Path, err)
	}
	// --parsable prints "<id>" or "<id>;<cluster>".
	id, _, _ := strings.Cut(strings.TrimSpace(string(out)), ";")
	if id == "" {
		return "", fmt.Errorf("sbatch %s: empty job id", script.Path)
	}
	return id, nil
}

func (s *Slurm) Status(ctx context.Context, jobID string) (*Status, error) {
	out, err := s.run(ctx, "sacct", "-j", jobID, "-n", "-P", "-X", "-o", "JobID,State,ExitCode")
	if err != nil {
		return nil, fmt.Errorf("sacct %s: %w", jobID, err)
	}
	return Summarize(jobID, parseSacct(out)), nil
}

// parseSacct reads pipe-separated JobID|State|ExitCode rows. Pending ranges
// such as 123_[4-10%2] are reported with index 0.
func parseSacct(out []byte) []TaskStatus {
	var tasks []TaskStatus
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(strings.TrimSpace(sc.Text()), "|")
		if len(fields) < 2 {
			continue
		}
		idx := 0
		if _, suffix, ok := strings.Cut(fields[0], "_"); ok {
			if n, err := strconv.Atoi(suffix); err == nil {
				idx = n
			}
		}
		exitCode := 0
		if len(fields) > 2 {
			code, _, _ := strings.Cut(fields[2], ":")
			if n, err := strconv.Atoi(code); err == nil {
				exitCode = n
			}
		}
		// "CANCELLED by 1234"
		state := strings.Fields(fields[1])
		if len(state) == 0 {
			continue
		}
		tasks = append(tasks, TaskStatus{Index: idx, State: slurmState(state[0]), ExitCode: exitCode})
	}
	return tasks
}

func slurmState(s string) jobregistry.JobState {
	switch strings.TrimSuffix(s, "+") {
	case "RUNNING", "COMPLETING", "CONFIGURING", "STAGE_OUT":
		return jobregistry.JobStateRunning
	case "COMPLETED":
		return jobregistry.JobStateSuccess
	case "CANCELLED":
		return jobregistry.JobStateCancelled
	case "FAILED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "PREEMPTED", "BOOT_FAIL", "DEADLINE":
		return jobregistry.JobStateFailed
	default:
		return jobregistry.JobStateQueued
	}
}
