// Package jobscript generates batch-array job scripts that fan a project's
// command table out across scheduler array tasks.
//
// Each generated script declares one array task per command-table line and a
// throttle equal to the configured pool size. A task looks up its own command
// by reading the table line at its array index and evaluates it, so a single
// script serves every sample of the project.
package jobscript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/seqorch/pkg/commandtable"
)

// DefaultJobName prefixes script, log and scheduler job names.
const DefaultJobName = "QCJob"

// ErrEmptyCommandTable is returned when asked to generate a zero-task job.
var ErrEmptyCommandTable = errors.New("command table is empty")

// Config holds the scheduler resources and locations used for every script.
type Config struct {
	// RunDir is the directory tasks cd into before running their command.
	RunDir string

	// OutputDir receives scripts and scheduler logs. Defaults to RunDir.
	OutputDir string

	// JobName prefixes script and log names. Defaults to DefaultJobName.
	JobName string

	// QiitaJobID tags scheduler job names so jobs can be traced back to the
	// request that started them.
	QiitaJobID string

	Queue         string
	NodeCount     int
	NProcs        int
	WallTimeHours int
	Memory        string

	// PoolSize caps concurrently running array tasks. Zero or negative
	// means no cap beyond the task count.
	PoolSize int

	// ModulesToLoad are passed to `module load` in the script preamble.
	ModulesToLoad []string

	Dialect Dialect
}

// Validate checks required resources.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.RunDir) == "" {
		problems = append(problems, "run dir is required")
	}
	if strings.TrimSpace(c.Queue) == "" {
		problems = append(problems, "queue is required")
	}
	if c.NodeCount < 1 {
		problems = append(problems, "node count must be >= 1")
	}
	if c.NProcs < 1 {
		problems = append(problems, "nprocs must be >= 1")
	}
	if c.WallTimeHours < 1 {
		problems = append(problems, "wall time must be >= 1 hour")
	}
	if strings.TrimSpace(c.Memory) == "" {
		problems = append(problems, "memory is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("job script config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Script describes a generated job script.
type Script struct {
	Path        string
	Project     string
	TablePath   string
	OutputLog   string
	ErrorLog    string
	Tasks       int
	Concurrency int
	Dialect     string
}

// Generator writes job scripts. It is safe for concurrent use; script
// numbering is serialized.
type Generator struct {
	cfg    Config
	logger *zap.Logger

	mu sync.Mutex
}

// NewGenerator validates cfg and applies defaults.
func NewGenerator(cfg Config, logger *zap.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.RunDir
	}
	if cfg.JobName == "" {
		cfg.JobName = DefaultJobName
	}
	if cfg.Dialect == nil {
		cfg.Dialect = Torque{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, logger: logger}, nil
}

// Concurrency returns the array throttle for tasks given a pool size. The
// result never exceeds tasks; a non-positive pool means tasks.
func Concurrency(poolSize, tasks int) int {
	if poolSize <= 0 || poolSize > tasks {
		return tasks
	}
	return poolSize
}

// Generate writes the array-job script for project. The table must already
// be on disk; a zero-length table fails with ErrEmptyCommandTable and no
// file is written.
func (g *Generator) Generate(project string, table *commandtable.Table) (*Script, error) {
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("project %s: %w: refusing to submit a zero-task array job", project, ErrEmptyCommandTable)
	}
	if table.Path() == "" {
		return nil, fmt.Errorf("project %s: command table has no backing file", project)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.MkdirAll(g.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create script dir: %w", err)
	}
	scriptPath, outLog, errLog, err := g.nextPaths()
	if err != nil {
		return nil, err
	}

	s := &Script{
		Path:        scriptPath,
		Project:     project,
		TablePath:   table.Path(),
		OutputLog:   outLog,
		ErrorLog:    errLog,
		Tasks:       table.Len(),
		Concurrency: Concurrency(g.cfg.PoolSize, table.Len()),
		Dialect:     g.cfg.Dialect.Name(),
	}

	if err := writeFile(scriptPath, g.Render(s)); err != nil {
		return nil, err
	}

	g.logger.Info("Generated job script",
		zap.String("project", project),
		zap.String("script", scriptPath),
		zap.String("dialect", s.Dialect),
		zap.Int("tasks", s.Tasks),
		zap.Int("concurrency", s.Concurrency))

	return s, nil
}

// Render returns the script text for s.
func (g *Generator) Render(s *Script) string {
	d := g.cfg.Dialect
	jobName := fmt.Sprintf("%s_%s", g.cfg.JobName, s.Project)
	if g.cfg.QiitaJobID != "" {
		jobName = g.cfg.QiitaJobID + "_" + jobName
	}

	lines := []string{"#!/bin/bash"}
	lines = append(lines, d.Directives(Resources{
		JobName:       jobName,
		Queue:         g.cfg.Queue,
		NodeCount:     g.cfg.NodeCount,
		NProcs:        g.cfg.NProcs,
		WallTimeHours: g.cfg.WallTimeHours,
		Memory:        g.cfg.Memory,
		OutputLog:     s.OutputLog,
		ErrorLog:      s.ErrorLog,
		Tasks:         s.Tasks,
		Concurrency:   s.Concurrency,
	})...)

	lines = append(lines,
		"set -x",
		"date",
		"hostname",
		fmt.Sprintf("echo ${%s} ${%s}", d.JobIDVar(), d.ArrayVar()),
		"cd "+commandtable.ShellQuote(g.cfg.RunDir),
	)
	if len(g.cfg.ModulesToLoad) > 0 {
		lines = append(lines, "module load "+strings.Join(g.cfg.ModulesToLoad, " "))
	}
	lines = append(lines,
		fmt.Sprintf("offset=${%s}", d.ArrayVar()),
		"step=$(( $offset - 0 ))",
		fmt.Sprintf("cmd0=$(head -n $step %s | tail -n 1)", commandtable.ShellQuote(s.TablePath)),
		"eval $cmd0",
	)

	return strings.Join(lines, "\n") + "\n"
}

// nextPaths returns <OutputDir>/<JobName>_<n>.sh and its log paths, with n
// one past the highest existing script number so earlier scripts are kept.
func (g *Generator) nextPaths() (string, string, string, error) {
	entries, err := os.ReadDir(g.cfg.OutputDir)
	if err != nil {
		return "", "", "", fmt.Errorf("read script dir: %w", err)
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(g.cfg.JobName) + `_(\d+)\.sh$`)
	highest := 0
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	base := filepath.Join(g.cfg.OutputDir, fmt.Sprintf("%s_%d", g.cfg.JobName, highest+1))
	return base + ".sh", base + ".out.log", base + ".err.log", nil
}

func writeFile(path, text string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp script: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp script: %w", err)
	}
	if err := tmp.Chmod(0755); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp script: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename script: %w", err)
	}
	return nil
}
