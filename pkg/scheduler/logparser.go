package scheduler

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/3leaps/seqorch/pkg/jobregistry"
)

// LogParser extracts root-cause lines from a failed job's logs.
type LogParser interface {
	Parse(ctx context.Context, rec *jobregistry.JobRecord) ([]string, error)
}

// NopLogParser extracts nothing, leaving the failure as reported.
type NopLogParser struct{}

func (NopLogParser) Parse(context.Context, *jobregistry.JobRecord) ([]string, error) {
	return nil, nil
}

// TailLogParser returns the last Lines non-empty lines of each failed task's
// stderr log (<error_log>.<task>).
type TailLogParser struct {
	Lines int
}

func (p TailLogParser) Parse(ctx context.Context, rec *jobregistry.JobRecord) ([]string, error) {
	n := p.Lines
	if n <= 0 {
		n = 5
	}
	var out []string
	for _, task := range rec.FailedTasks {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		path := rec.ErrorLog + "." + strconv.Itoa(task)
		lines, err := tail(path, n)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return out, err
		}
		for _, l := range lines {
			out = append(out, "task "+strconv.Itoa(task)+": "+l)
		}
	}
	return out, nil
}

func tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var ring []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ring = append(ring, line)
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring, sc.Err()
}
