// Package cmd implements the seqorch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/seqorch/internal/config"
	"github.com/3leaps/seqorch/internal/observability"
)

// ServiceName identifies seqorch in logs.
const ServiceName = "seqorch"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile    string
	logLevel   string
	logProfile string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "seqorch",
	Short: "Orchestrate QC array jobs for sequencing runs",
	Long: `seqorch drives per-project quality control for a sequencing run.

For every project in the sample sheet it finds the project's FASTQ files,
writes a command table with one QC command per read pair, generates a
throttled batch-array job script, submits it to Torque or Slurm, waits for
the job to finish and quarantines undersized output pairs.

Diagnostics are logged to stderr. The JSONL run report goes to stdout
unless the manifest names another destination.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $SEQORCH_CONFIG or <user config dir>/seqorch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logProfile, "log-profile", "", "Log profile: console or structured")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logging := map[string]any{}
	if logLevel != "" {
		logging["level"] = logLevel
	}
	if logProfile != "" {
		logging["profile"] = logProfile
	}

	cfg, err := config.LoadFile(ctx, cfgFile, map[string]any{"logging": logging})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := observability.Configure(ServiceName, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	appConfig = cfg

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("log_level", cfg.Logging.Level),
		zap.String("log_profile", cfg.Logging.Profile),
		zap.String("version", versionInfo.Version))
	return nil
}

// currentConfig returns the loaded config, or defaults when a command runs
// without the root pre-run (tests).
func currentConfig() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	return &config.Config{}
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code carried by err, 1 for other errors and 0
// for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
