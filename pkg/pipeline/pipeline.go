// Package pipeline runs the per-project QC stages of one sequencing run:
// resolve read files, build the command table, generate the array-job
// script, submit and await it, then quarantine undersized output pairs.
//
// Projects are processed one at a time unless Config.ProjectWorkers is
// greater than one. A fatal error in any project stops the projects that
// have not started yet; projects already finished keep their outputs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/seqorch/pkg/commandtable"
	"github.com/3leaps/seqorch/pkg/fastq"
	"github.com/3leaps/seqorch/pkg/jobscript"
	"github.com/3leaps/seqorch/pkg/output"
	"github.com/3leaps/seqorch/pkg/qccmd"
	"github.com/3leaps/seqorch/pkg/quarantine"
	"github.com/3leaps/seqorch/pkg/samplesheet"
	"github.com/3leaps/seqorch/pkg/scheduler"
)

// Errors returned by Run.
var (
	// ErrNoReadFiles is returned in strict mode for a project whose sample
	// ids match no read files.
	ErrNoReadFiles = errors.New("project has no read files")

	// ErrUnknownProject is returned when a selected project is not in the
	// sample sheet.
	ErrUnknownProject = errors.New("project not found in sample sheet")
)

// Config holds run-level settings.
type Config struct {
	RunDir      string
	ProductsDir string
	SampleSheet string
	TablePrefix string

	// Projects restricts the run to these projects. Empty runs all.
	Projects []string

	// ProjectWorkers bounds concurrently processed projects. Values below
	// one mean one.
	ProjectWorkers int

	// Strict turns a project with no read files into a fatal error.
	Strict bool

	// DryRun stops each project after its script is generated.
	DryRun bool

	// NProcs is handed to the command provider for per-task threading.
	NProcs int
	Tools  commandtable.Tools
}

// Deps are the stage implementations a Pipeline drives.
type Deps struct {
	Sheets      samplesheet.Provider
	Resolver    *fastq.Resolver
	Builder     *commandtable.Builder
	Generator   *jobscript.Generator
	Executor    *scheduler.Executor
	Quarantiner *quarantine.Quarantiner
	Writer      output.Writer
	Logger      *zap.Logger
}

// Result is the outcome of Run.
type Result struct {
	Projects []output.ProjectRecord
	Summary  output.SummaryRecord
}

// Pipeline drives the project loop.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	records []output.ProjectRecord
	errors  int64
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.RunDir == "" {
		return nil, errors.New("run dir is required")
	}
	if cfg.ProductsDir == "" {
		return nil, errors.New("products dir is required")
	}
	if cfg.SampleSheet == "" {
		return nil, errors.New("sample sheet is required")
	}
	if deps.Sheets == nil || deps.Resolver == nil || deps.Builder == nil || deps.Generator == nil || deps.Quarantiner == nil {
		return nil, errors.New("pipeline: missing stage dependency")
	}
	if deps.Executor == nil && !cfg.DryRun {
		return nil, errors.New("pipeline: executor is required unless dry run")
	}
	if cfg.ProjectWorkers < 1 {
		cfg.ProjectWorkers = 1
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: deps.Logger}, nil
}

// Run processes every selected project. Configuration problems (unreadable
// sheet, missing run directory, unknown project) fail before anything is
// written. The summary record is emitted even when a project fails.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	sheet, err := p.deps.Sheets.Parse(p.cfg.SampleSheet)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p.cfg.RunDir)
	if err != nil {
		return nil, fmt.Errorf("run dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run dir %s is not a directory", p.cfg.RunDir)
	}
	projects, err := p.selectProjects(sheet)
	if err != nil {
		return nil, err
	}

	removed, err := commandtable.Purge(p.cfg.RunDir, p.cfg.TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("purge stale command tables: %w", err)
	}
	if len(removed) > 0 {
		p.logger.Info("Removed stale command tables", zap.Int("count", len(removed)))
	}

	p.logger.Info("Starting QC run",
		zap.String("run_dir", p.cfg.RunDir),
		zap.String("assay", sheet.Assay),
		zap.Int("projects", len(projects)),
		zap.Int("project_workers", p.cfg.ProjectWorkers),
		zap.Bool("dry_run", p.cfg.DryRun))

	var runErr error
	if p.cfg.ProjectWorkers == 1 {
		for _, proj := range projects {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
			if err := p.processProject(ctx, sheet, proj); err != nil {
				runErr = err
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.ProjectWorkers)
		for _, proj := range projects {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return p.processProject(gctx, sheet, proj)
			})
		}
		runErr = g.Wait()
	}

	res := p.result(time.Since(start))
	if p.deps.Writer != nil {
		if err := p.deps.Writer.WriteSummary(ctx, &res.Summary); err != nil {
			p.logger.Warn("Failed to write summary record", zap.Error(err))
		}
	}

	p.logger.Info("QC run finished",
		zap.Int("completed", res.Summary.Completed),
		zap.Int("skipped", res.Summary.Skipped),
		zap.Int("failed", res.Summary.Failed),
		zap.Int("quarantined", res.Summary.Quarantined),
		zap.String("duration", res.Summary.DurationHuman))

	return res, runErr
}

func (p *Pipeline) selectProjects(sheet *samplesheet.Sheet) ([]samplesheet.Project, error) {
	if len(p.cfg.Projects) == 0 {
		return sheet.Projects, nil
	}
	out := make([]samplesheet.Project, 0, len(p.cfg.Projects))
	for _, name := range p.cfg.Projects {
		proj, ok := sheet.Project(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProject, name)
		}
		out = append(out, proj)
	}
	return out, nil
}

func (p *Pipeline) processProject(ctx context.Context, sheet *samplesheet.Sheet, proj samplesheet.Project) error {
	start := time.Now()
	log := p.logger.With(zap.String("project", proj.Name))
	rec := output.ProjectRecord{
		Project: proj.Name,
		Samples: len(sheet.SampleIDs(proj.Name)),
	}
	finish := func(status, reason string) {
		rec.Status = status
		rec.Reason = reason
		rec.Duration = time.Since(start)
		rec.DurationHuman = rec.Duration.Round(time.Millisecond).String()
		p.addRecord(ctx, rec)
	}

	files, err := p.deps.Resolver.Resolve(ctx, proj.Name, sheet.Samples)
	if err != nil {
		finish(output.ProjectFailed, err.Error())
		p.writeError(ctx, output.ErrCodeInternal, proj.Name, "", err, nil)
		return fmt.Errorf("resolve project %s: %w", proj.Name, err)
	}
	rec.Files = len(files)

	if len(files) == 0 {
		reason := fmt.Sprintf("no read files under %s", p.deps.Resolver.ProjectDir(proj.Name))
		if p.cfg.Strict {
			finish(output.ProjectFailed, reason)
			p.writeError(ctx, output.ErrCodeEmptyProject, proj.Name, "", errors.New(reason), nil)
			return fmt.Errorf("project %s: %w", proj.Name, ErrNoReadFiles)
		}
		log.Warn("Skipping project with no read files", zap.String("dir", p.deps.Resolver.ProjectDir(proj.Name)))
		finish(output.ProjectSkipped, reason)
		return nil
	}

	productsDir := filepath.Join(p.cfg.ProductsDir, proj.Name)
	table, err := p.deps.Builder.Build(ctx, commandtable.Request{
		Project:              proj.Name,
		ProductsDir:          productsDir,
		Files:                files,
		ForwardAdapter:       proj.ForwardAdapter,
		ReverseAdapter:       proj.ReverseAdapter,
		HumanFiltering:       proj.HumanFiltering,
		NeedsAdapterTrimming: sheet.NeedsAdapterTrimming,
		Chemistry:            sheet.Chemistry,
		NProcs:               p.cfg.NProcs,
		Tools:                p.cfg.Tools,
	})
	if err != nil {
		finish(output.ProjectFailed, err.Error())
		p.writeError(ctx, output.ErrCodeProvider, proj.Name, "", err, nil)
		return err
	}
	rec.TablePath = table.Path()

	script, err := p.deps.Generator.Generate(proj.Name, table)
	if err != nil {
		finish(output.ProjectFailed, err.Error())
		p.writeError(ctx, output.ErrCodeInternal, proj.Name, "", err, nil)
		return err
	}
	rec.ScriptPath = script.Path
	rec.Tasks = script.Tasks
	rec.Concurrency = script.Concurrency

	if p.cfg.DryRun {
		log.Info("Dry run: script generated, not submitted", zap.String("script", script.Path))
		finish(output.ProjectDryRun, "")
		return nil
	}

	job, runErr := p.deps.Executor.Run(ctx, script)
	if job != nil {
		rec.SchedulerJobID = job.SchedulerJobID
		rec.JobState = string(job.State)
		rec.FailedTasks = job.FailedTasks
	}

	var failed *scheduler.JobFailedError
	if runErr != nil && !errors.As(runErr, &failed) {
		// Cancelled or lost track of the job; outputs may still be in flight.
		finish(output.ProjectFailed, runErr.Error())
		p.writeError(ctx, output.ErrCodeInternal, proj.Name, rec.SchedulerJobID, runErr, nil)
		return runErr
	}

	// Whatever tasks did finish may have left undersized pairs behind.
	qerr := p.quarantine(ctx, proj.Name, productsDir, &rec)

	if failed != nil {
		finish(output.ProjectFailed, failed.Error())
		p.writeError(ctx, output.ErrCodeJobFailed, proj.Name, failed.JobID, failed, jobDetails(failed))
		return runErr
	}
	if qerr != nil {
		finish(output.ProjectFailed, qerr.Error())
		p.writeError(ctx, output.ErrCodeQuarantine, proj.Name, rec.SchedulerJobID, qerr, nil)
		return fmt.Errorf("quarantine project %s: %w", proj.Name, qerr)
	}

	finish(output.ProjectCompleted, "")
	return nil
}

func (p *Pipeline) quarantine(ctx context.Context, project, productsDir string, rec *output.ProjectRecord) error {
	dir := filepath.Join(productsDir, qccmd.FilteredDir)
	qdir := filepath.Join(productsDir, quarantine.DirName)
	res, err := p.deps.Quarantiner.Run(ctx, dir, qdir)
	if res == nil {
		return err
	}
	moved := make(map[string]struct{}, len(res.Moved))
	for _, m := range res.Moved {
		moved[m] = struct{}{}
	}
	// A failed move leaves earlier pairs moved; report those.
	for _, e := range res.Entries {
		if _, ok := moved[filepath.Join(qdir, filepath.Base(e.Mate1))]; !ok {
			continue
		}
		rec.Quarantined++
		if p.deps.Writer == nil {
			continue
		}
		qr := &output.QuarantineRecord{
			Project:     project,
			Mate1:       e.Mate1,
			Mate2:       e.Mate2,
			Mate1Size:   e.Mate1Size,
			Mate2Size:   e.Mate2Size,
			Mate2Found:  e.Mate2Found,
			Destination: qdir,
		}
		if werr := p.deps.Writer.WriteQuarantine(ctx, qr); werr != nil {
			p.logger.Warn("Failed to write quarantine record", zap.Error(werr))
		}
	}
	if rec.Quarantined > 0 {
		p.logger.Info("Quarantined project outputs",
			zap.String("project", project),
			zap.Int("pairs", rec.Quarantined),
			zap.String("threshold", humanize.IBytes(uint64(p.deps.Quarantiner.MinBytes()))))
	}
	return err
}

func (p *Pipeline) addRecord(ctx context.Context, rec output.ProjectRecord) {
	p.mu.Lock()
	p.records = append(p.records, rec)
	p.mu.Unlock()
	if p.deps.Writer == nil {
		return
	}
	if err := p.deps.Writer.WriteProject(ctx, &rec); err != nil {
		p.logger.Warn("Failed to write project record", zap.String("project", rec.Project), zap.Error(err))
	}
}

func (p *Pipeline) writeError(ctx context.Context, code, project, jobID string, err error, details any) {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
	if p.deps.Writer == nil {
		return
	}
	rec := &output.ErrorRecord{Code: code, Message: err.Error(), Project: project, JobID: jobID, Details: details}
	if werr := p.deps.Writer.WriteError(ctx, rec); werr != nil {
		p.logger.Warn("Failed to write error record", zap.Error(werr))
	}
}

func (p *Pipeline) result(elapsed time.Duration) *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := &Result{Projects: append([]output.ProjectRecord(nil), p.records...)}
	s := &res.Summary
	s.Projects = len(p.records)
	for _, r := range p.records {
		switch r.Status {
		case output.ProjectCompleted, output.ProjectDryRun:
			s.Completed++
		case output.ProjectSkipped:
			s.Skipped++
		case output.ProjectFailed:
			s.Failed++
		}
		s.Quarantined += r.Quarantined
	}
	s.Duration = elapsed
	s.DurationHuman = elapsed.Round(time.Millisecond).String()
	s.Errors = p.errors
	return res
}

func jobDetails(e *scheduler.JobFailedError) map[string]any {
	d := map[string]any{"state": string(e.State)}
	if len(e.FailedTasks) > 0 {
		d["failed_tasks"] = e.FailedTasks
	}
	if len(e.Details) > 0 {
		d["log_excerpt"] = e.Details
	}
	return d
}

