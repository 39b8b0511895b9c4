package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/seqorch/internal/observability"
	"github.com/3leaps/seqorch/pkg/manifest"
	"github.com/3leaps/seqorch/pkg/provider"
	"github.com/3leaps/seqorch/pkg/samplesheet"
	"github.com/3leaps/seqorch/pkg/scheduler"
)

var (
	doctorManifest  string
	doctorScheduler string
	doctorProvider  string
)

// lookPath finds scheduler CLIs; tests replace it.
var lookPath = exec.LookPath

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the host and, optionally, a run manifest.

Checks that the scheduler CLIs are on PATH, that the manifest validates,
that the run directory and sample sheet are readable and, when the report
goes to S3, that AWS credentials resolve.

Examples:
  seqorch doctor                        # Environment and torque CLIs
  seqorch doctor --scheduler slurm      # Slurm CLIs
  seqorch doctor --manifest run.yaml    # Everything the manifest needs
  seqorch doctor --provider s3          # AWS credential checks`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVarP(&doctorManifest, "manifest", "m", "", "Check a run manifest and its inputs")
	doctorCmd.Flags().StringVar(&doctorScheduler, "scheduler", "", "Scheduler to check (torque, slurm, local); default from manifest or torque")
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

// doctorCheck is one line of the report.
type doctorCheck struct {
	name   string
	detail string
	err    error
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger
	out := cmd.OutOrStdout()

	var checks []doctorCheck
	add := func(name, detail string, err error) {
		checks = append(checks, doctorCheck{name: name, detail: detail, err: err})
	}

	add("Go runtime", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil)

	configDir, err := os.UserConfigDir()
	add("Config directory", configDir, err)

	var m *manifest.Manifest
	if doctorManifest != "" {
		m, err = manifest.Load(doctorManifest)
		add("Manifest", doctorManifest, err)
		if err == nil {
			checks = append(checks, manifestChecks(m)...)
		}
	}

	kind := doctorScheduler
	if kind == "" && m != nil {
		kind = m.Scheduler.Kind
	}
	checks = append(checks, schedulerChecks(kind, m)...)

	wantS3 := strings.EqualFold(doctorProvider, "s3")
	region, profile := currentConfig().AWS.Region, currentConfig().AWS.Profile
	if m != nil && strings.HasPrefix(m.Report.Destination, "s3://") {
		wantS3 = true
		if m.Report.Region != "" {
			region = m.Report.Region
		}
		if m.Report.Profile != "" {
			profile = m.Report.Profile
		}
	}
	if wantS3 {
		checks = append(checks, awsChecks(ctx, region, profile)...)
	}

	failed := 0
	for i, c := range checks {
		if c.err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "[%d/%d] %s... FAIL %v\n", i+1, len(checks), c.name, c.err)
			logger.Debug("Check failed", zap.String("check", c.name), zap.Error(c.err))
			continue
		}
		_, _ = fmt.Fprintf(out, "[%d/%d] %s... ok %s\n", i+1, len(checks), c.name, c.detail)
	}

	if failed > 0 {
		if wantS3 {
			printAWSCredentialsHelp(out)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed",
			fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	_, _ = fmt.Fprintln(out, "All checks passed.")
	return nil
}

func manifestChecks(m *manifest.Manifest) []doctorCheck {
	var checks []doctorCheck

	info, err := os.Stat(m.Run.RunDir)
	if err == nil && !info.IsDir() {
		err = errors.New("not a directory")
	}
	checks = append(checks, doctorCheck{name: "Run directory", detail: m.Run.RunDir, err: err})

	sheet, err := (&samplesheet.CSVProvider{}).Parse(m.Run.SampleSheet)
	detail := m.Run.SampleSheet
	if err == nil {
		detail = fmt.Sprintf("%s (%d projects)", m.Run.SampleSheet, len(sheet.Projects))
	}
	checks = append(checks, doctorCheck{name: "Sample sheet", detail: detail, err: err})

	if dest := m.Report.Destination; dest != "" && dest != "stdout" && dest != "-" {
		_, err := provider.ParseDestination(dest)
		checks = append(checks, doctorCheck{name: "Report destination", detail: m.Report.Destination, err: err})
	}
	return checks
}

// schedulerChecks verifies the CLIs the scheduler kind shells out to.
func schedulerChecks(kind string, m *manifest.Manifest) []doctorCheck {
	var tools []string
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case scheduler.KindTorque, "pbs", "":
		tools = []string{"qsub", "qstat"}
	case scheduler.KindSlurm:
		tools = []string{"sbatch", "sacct"}
	case scheduler.KindLocal:
		shell := "bash"
		if m != nil && m.Scheduler.Shell != "" {
			shell = m.Scheduler.Shell
		} else if cfg := currentConfig(); cfg.Scheduler.Shell != "" {
			shell = cfg.Scheduler.Shell
		}
		tools = []string{shell}
	default:
		return []doctorCheck{{name: "Scheduler", detail: kind, err: fmt.Errorf("unsupported scheduler kind %q", kind)}}
	}

	checks := make([]doctorCheck, 0, len(tools))
	for _, tool := range tools {
		path, err := lookPath(tool)
		checks = append(checks, doctorCheck{name: "Scheduler CLI " + tool, detail: path, err: err})
	}
	return checks
}

func awsChecks(ctx context.Context, region, profile string) []doctorCheck {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return []doctorCheck{{name: "AWS config", err: err}}
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return []doctorCheck{{name: "AWS credentials", err: err}}
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return []doctorCheck{
		{name: "AWS credentials", detail: maskAccessKey(creds.AccessKeyID)},
		{name: "Credential source", detail: source},
	}
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp(out io.Writer) {
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "To configure AWS credentials:")
	_, _ = fmt.Fprintln(out, "  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	_, _ = fmt.Fprintln(out, "  2. Run 'aws configure' to set up a profile, or")
	_, _ = fmt.Fprintln(out, "  3. Use an IAM role when running on AWS infrastructure")
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "For S3-compatible storage (MinIO, Wasabi, etc.), also set report.endpoint in the manifest.")
}
