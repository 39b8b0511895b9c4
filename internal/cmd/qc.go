package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/seqorch/internal/observability"
	"github.com/3leaps/seqorch/pkg/commandtable"
	"github.com/3leaps/seqorch/pkg/jobscript"
	"github.com/3leaps/seqorch/pkg/manifest"
	"github.com/3leaps/seqorch/pkg/pipeline"
	"github.com/3leaps/seqorch/pkg/provider"
	"github.com/3leaps/seqorch/pkg/samplesheet"
	"github.com/3leaps/seqorch/pkg/scheduler"
)

var qcCmd = &cobra.Command{
	Use:   "qc",
	Short: "Run QC for every project of a sequencing run",
	Long: `Run QC as defined in a YAML or JSON run manifest.

For each selected project: resolve FASTQ files, write the command table,
generate the array-job script, submit it, wait for it and quarantine
undersized output pairs. Projects without read files are skipped unless
--strict is set.

Example:
  seqorch qc --manifest run.yaml
  seqorch qc --manifest run.yaml --dry-run
  seqorch qc --manifest run.yaml --project ProjectA_1 --strict
  seqorch qc --manifest run.yaml --output s3://reports/run.jsonl`,
	RunE: runQC,
}

var (
	qcManifestPath string
	qcOutput       string
	qcDryRun       bool
	qcStrict       bool
	qcProjects     []string
)

func init() {
	rootCmd.AddCommand(qcCmd)

	qcCmd.Flags().StringVarP(&qcManifestPath, "manifest", "m", "", "Path to run manifest (required)")
	qcCmd.Flags().StringVarP(&qcOutput, "output", "o", "", "Override report destination (stdout, path or s3://bucket/key)")
	qcCmd.Flags().BoolVar(&qcDryRun, "dry-run", false, "Write command tables and scripts without submitting")
	qcCmd.Flags().BoolVar(&qcStrict, "strict", false, "Fail on projects with no read files")
	qcCmd.Flags().StringSliceVarP(&qcProjects, "project", "p", nil, "Only run these projects (repeatable)")

	_ = qcCmd.MarkFlagRequired("manifest")
}

func runQC(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger
	cfg := currentConfig()

	m, err := manifest.Load(qcManifestPath)
	if err != nil {
		logger.Error("Failed to load manifest",
			zap.String("path", qcManifestPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	if qcOutput != "" {
		m.Report.Destination = qcOutput
	}
	if m.Report.Region == "" {
		m.Report.Region = cfg.AWS.Region
	}
	if m.Report.Profile == "" {
		m.Report.Profile = cfg.AWS.Profile
	}

	runID := uuid.New().String()
	report, err := pipeline.OpenReport(m.Report, cmd.OutOrStdout(), runID, m.Run.QiitaJobID)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid report destination", err)
	}

	p, err := pipeline.FromManifest(m, pipeline.Options{
		ManifestPath: qcManifestPath,
		DryRun:       qcDryRun,
		Strict:       qcStrict,
		Projects:     qcProjects,
		Shell:        cfg.Scheduler.Shell,
		PollInterval: cfg.Scheduler.PollInterval,
		Writer:       report,
		Logger:       logger,
	})
	if err != nil {
		_ = report.Close()
		return exitError(foundry.ExitInvalidArgument, "Invalid run configuration", err)
	}

	logger.Info("Starting QC",
		zap.String("run_id", runID),
		zap.String("manifest", qcManifestPath),
		zap.String("scheduler", m.Scheduler.Kind),
		zap.String("report", report.Destination()))

	res, runErr := p.Run(ctx)

	// Publish whatever was recorded, including after a failure.
	if perr := report.Publish(context.WithoutCancel(ctx)); perr != nil {
		logger.Error("Failed to publish report", zap.String("destination", report.Destination()), zap.Error(perr))
		if runErr == nil {
			return publishExitError(perr)
		}
	}

	if runErr != nil {
		return qcExitError(ctx, runErr)
	}

	logger.Info("QC completed",
		zap.String("run_id", runID),
		zap.Int("projects", res.Summary.Projects),
		zap.Int("completed", res.Summary.Completed),
		zap.Int("skipped", res.Summary.Skipped),
		zap.Int("quarantined", res.Summary.Quarantined))
	return nil
}

// publishExitError maps a report publish failure to an exit code.
func publishExitError(err error) error {
	switch {
	case provider.IsTransient(err):
		return exitError(foundry.ExitExternalServiceUnavailable, "Report destination unavailable", err)
	case provider.IsNotFound(err):
		return exitError(foundry.ExitFileNotFound, "Report destination not found", err)
	case provider.IsAccessDenied(err):
		return exitError(foundry.ExitFileWriteError, "Report destination denied access", err)
	default:
		return exitError(foundry.ExitFileWriteError, "Failed to publish report", err)
	}
}

func qcExitError(ctx context.Context, err error) error {
	var jobErr *scheduler.JobFailedError
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return exitError(foundry.ExitSignalInt, "QC cancelled", err)
	case errors.As(err, &jobErr):
		return exitError(foundry.ExitExternalServiceUnavailable, "Array job failed", err)
	case errors.Is(err, os.ErrNotExist):
		return exitError(foundry.ExitFileNotFound, "QC input not found", err)
	case errors.Is(err, samplesheet.ErrInvalidSheet),
		errors.Is(err, pipeline.ErrUnknownProject),
		errors.Is(err, pipeline.ErrNoReadFiles),
		errors.Is(err, jobscript.ErrEmptyCommandTable),
		errors.Is(err, commandtable.ErrNoCommands):
		return exitError(foundry.ExitInvalidArgument, "QC configuration error", err)
	default:
		return exitError(foundry.ExitFileWriteError, "QC failed", err)
	}
}
