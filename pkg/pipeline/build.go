package pipeline

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/seqorch/pkg/commandtable"
	"github.com/3leaps/seqorch/pkg/fastq"
	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/jobscript"
	"github.com/3leaps/seqorch/pkg/manifest"
	"github.com/3leaps/seqorch/pkg/output"
	"github.com/3leaps/seqorch/pkg/qccmd"
	"github.com/3leaps/seqorch/pkg/quarantine"
	"github.com/3leaps/seqorch/pkg/samplesheet"
	"github.com/3leaps/seqorch/pkg/scheduler"
)

// Options carries the runtime choices a manifest does not hold.
type Options struct {
	ManifestPath string
	DryRun       bool

	// Strict is OR'd with the manifest's pipeline.strict.
	Strict bool

	// Projects, when set, replaces the manifest's pipeline.projects.
	Projects []string

	// Scheduler replaces the one named by scheduler.kind. Tests inject
	// fakes here.
	Scheduler scheduler.Scheduler

	// Runner executes scheduler CLIs when Scheduler is nil.
	Runner scheduler.Runner

	// Shell is used by the local scheduler when the manifest names none.
	Shell string

	// PollInterval, when positive, replaces scheduler.poll_interval.
	PollInterval time.Duration

	Writer output.Writer
	Logger *zap.Logger
}

// FromManifest wires every stage from a loaded manifest.
func FromManifest(m *manifest.Manifest, opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialect, err := DialectFor(m.Scheduler.Kind)
	if err != nil {
		return nil, err
	}

	minBytes, err := quarantine.ParseThreshold(string(m.Quarantine.MinBytes))
	if err != nil {
		return nil, err
	}

	cmds, err := qccmd.New(m.Tools.CommandTemplate)
	if err != nil {
		return nil, err
	}

	resolver, err := fastq.NewResolver(fastq.Config{
		RunDir:        m.Run.RunDir,
		Excludes:      m.Fastq.Excludes,
		IncludeHidden: m.Fastq.IncludeHidden,
	}, logger)
	if err != nil {
		return nil, err
	}

	gen, err := jobscript.NewGenerator(jobscript.Config{
		RunDir:        m.Run.RunDir,
		OutputDir:     m.Run.OutputDir,
		QiitaJobID:    m.Run.QiitaJobID,
		Queue:         m.Scheduler.Queue,
		NodeCount:     m.Scheduler.NodeCount,
		NProcs:        m.Scheduler.NProcs,
		WallTimeHours: m.Scheduler.WallTimeHours,
		Memory:        m.Scheduler.Memory,
		PoolSize:      m.Scheduler.PoolSize,
		ModulesToLoad: m.Scheduler.ModulesToLoad,
		Dialect:       dialect,
	}, logger)
	if err != nil {
		return nil, err
	}

	var exec *scheduler.Executor
	if !opts.DryRun {
		sched := opts.Scheduler
		if sched == nil {
			shell := m.Scheduler.Shell
			if shell == "" {
				shell = opts.Shell
			}
			sched, err = scheduler.New(m.Scheduler.Kind, scheduler.Options{
				Runner:  opts.Runner,
				Dialect: dialect,
				Shell:   shell,
				Logger:  logger,
			})
			if err != nil {
				return nil, err
			}
		}

		poll := opts.PollInterval
		if poll <= 0 {
			if poll, err = m.Scheduler.PollIntervalDuration(); err != nil {
				return nil, err
			}
		}

		var parser scheduler.LogParser = scheduler.NopLogParser{}
		if m.Scheduler.FailureLogLines > 0 {
			parser = scheduler.TailLogParser{Lines: m.Scheduler.FailureLogLines}
		}

		var store *jobregistry.Store
		if m.Run.JobsDir != "" {
			store = jobregistry.NewStore(m.Run.JobsDir)
		}

		exec = scheduler.NewExecutor(sched, store, scheduler.ExecutorConfig{
			PollInterval: poll,
			ManifestPath: opts.ManifestPath,
			QiitaJobID:   m.Run.QiitaJobID,
			LogParser:    parser,
		}, logger)
	}

	projects := m.Pipeline.Projects
	if len(opts.Projects) > 0 {
		projects = opts.Projects
	}

	return New(Config{
		RunDir:         m.Run.RunDir,
		ProductsDir:    m.Run.ProductsDir,
		SampleSheet:    m.Run.SampleSheet,
		TablePrefix:    m.Run.TablePrefix,
		Projects:       projects,
		ProjectWorkers: m.Pipeline.ProjectWorkers,
		Strict:         m.Pipeline.Strict || opts.Strict,
		DryRun:         opts.DryRun,
		NProcs:         m.Scheduler.NProcs,
		Tools: commandtable.Tools{
			Fastp:    m.Tools.Fastp,
			Minimap2: m.Tools.Minimap2,
			Samtools: m.Tools.Samtools,
			MMIDB:    m.Tools.MMIDB,
		},
	}, Deps{
		Sheets:      &samplesheet.CSVProvider{},
		Resolver:    resolver,
		Builder:     commandtable.NewBuilder(m.Run.RunDir, m.Run.TablePrefix, cmds, logger),
		Generator:   gen,
		Executor:    exec,
		Quarantiner: quarantine.New(minBytes, logger),
		Writer:      opts.Writer,
		Logger:      logger,
	})
}

// DialectFor maps a scheduler kind onto the script dialect it runs. The
// local scheduler executes Torque-style scripts.
func DialectFor(kind string) (jobscript.Dialect, error) {
	if strings.EqualFold(strings.TrimSpace(kind), scheduler.KindLocal) {
		return jobscript.Torque{}, nil
	}
	d, err := jobscript.DialectFor(kind)
	if err != nil {
		return nil, fmt.Errorf("scheduler.kind: %w", err)
	}
	return d, nil
}
