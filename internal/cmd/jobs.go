package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/seqorch/internal/observability"
	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/manifest"
	"github.com/3leaps/seqorch/pkg/pipeline"
	"github.com/3leaps/seqorch/pkg/scheduler"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect submitted array jobs",
	Long: `Inspect the job records qc writes for every submitted array job.

Records live under the manifest's run.jobs_dir (default
<output_dir>/.seqorch/jobs), one job.json per submission.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List array jobs, newest first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id|scheduler_job_id>",
	Short: "Show status for a job",
	Long: `Show the recorded status of a job. The id may be a record id, a unique
record id prefix or the scheduler's job id. --refresh asks the scheduler
for the current state and updates the record.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsStatus,
}

var (
	jobsDir      string
	jobsManifest string
	jobsJSON     bool
	jobsRefresh  bool
)

// jobsRunner lets tests stub scheduler CLIs for --refresh.
var jobsRunner scheduler.Runner = scheduler.ExecRunner

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)

	jobsCmd.PersistentFlags().StringVar(&jobsDir, "jobs-dir", "", "Job record directory")
	jobsCmd.PersistentFlags().StringVarP(&jobsManifest, "manifest", "m", "", "Take the job directory from a run manifest")
	jobsCmd.PersistentFlags().BoolVar(&jobsJSON, "json", false, "Output as JSON")
	jobsStatusCmd.Flags().BoolVar(&jobsRefresh, "refresh", false, "Query the scheduler and update the record")
}

func jobsStore() (*jobregistry.Store, *manifest.Manifest, error) {
	var m *manifest.Manifest
	dir := jobsDir
	if jobsManifest != "" {
		loaded, err := manifest.Load(jobsManifest)
		if err != nil {
			return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		m = loaded
		if dir == "" {
			dir = m.Run.JobsDir
		}
	}
	if strings.TrimSpace(dir) == "" {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Missing job directory", fmt.Errorf("pass --jobs-dir or --manifest"))
	}
	return jobregistry.NewStore(dir), m, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	store, _, err := jobsStore()
	if err != nil {
		return err
	}
	jobs, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list jobs", err)
	}

	out := cmd.OutOrStdout()
	if jobsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tPROJECT\tSCHEDULER\tSCHED ID\tSTATE\tTASKS\tSUBMITTED\tENDED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d%%%d\t%s\t%s\n",
			shortJobID(j.JobID),
			j.Project,
			j.Scheduler,
			dash(j.SchedulerJobID),
			j.State,
			j.Tasks, j.Concurrency,
			formatOptionalTime(j.SubmittedAt),
			formatOptionalTime(j.EndedAt),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	store, m, err := jobsStore()
	if err != nil {
		return err
	}
	rec, err := findJob(store, args[0])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}

	if jobsRefresh && !rec.State.Terminal() {
		rec, err = refreshJob(cmd, store, rec, m)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to query scheduler", err)
		}
	}

	out := cmd.OutOrStdout()
	if jobsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	writeJobStatus(out, rec)
	return nil
}

func refreshJob(cmd *cobra.Command, store *jobregistry.Store, rec *jobregistry.JobRecord, m *manifest.Manifest) (*jobregistry.JobRecord, error) {
	if rec.SchedulerJobID == "" {
		return rec, nil
	}
	if rec.Scheduler == scheduler.KindLocal {
		return nil, errors.New("local jobs can only be tracked by the process that ran them")
	}
	kind := rec.Scheduler
	if m != nil && kind == "" {
		kind = m.Scheduler.Kind
	}
	dialect, err := pipeline.DialectFor(kind)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(kind, scheduler.Options{
		Runner:  jobsRunner,
		Dialect: dialect,
		Logger:  observability.CLILogger,
	})
	if err != nil {
		return nil, err
	}
	st, err := sched.Status(cmd.Context(), rec.SchedulerJobID)
	if err != nil {
		return nil, err
	}

	updated, err := store.Update(rec.JobID, func(r *jobregistry.JobRecord) {
		now := time.Now().UTC()
		r.LastPolled = &now
		r.State = st.State
		r.FailedTasks = st.FailedTasks
		if st.State.Terminal() && r.EndedAt == nil {
			r.EndedAt = &now
		}
	})
	if err != nil {
		return nil, err
	}
	observability.CLILogger.Debug("Refreshed job state",
		zap.String("job_id", updated.JobID),
		zap.String("state", string(updated.State)))
	return updated, nil
}

func writeJobStatus(out io.Writer, rec *jobregistry.JobRecord) {
	_, _ = fmt.Fprintf(out, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(out, "project=%s\n", rec.Project)
	_, _ = fmt.Fprintf(out, "scheduler=%s\n", rec.Scheduler)
	if rec.SchedulerJobID != "" {
		_, _ = fmt.Fprintf(out, "scheduler_job_id=%s\n", rec.SchedulerJobID)
	}
	_, _ = fmt.Fprintf(out, "state=%s\n", rec.State)
	_, _ = fmt.Fprintf(out, "tasks=%d\n", rec.Tasks)
	_, _ = fmt.Fprintf(out, "concurrency=%d\n", rec.Concurrency)
	if len(rec.FailedTasks) > 0 {
		_, _ = fmt.Fprintf(out, "failed_tasks=%v\n", rec.FailedTasks)
	}
	_, _ = fmt.Fprintf(out, "script_path=%s\n", rec.ScriptPath)
	_, _ = fmt.Fprintf(out, "table_path=%s\n", rec.TablePath)
	if rec.SubmittedAt != nil {
		_, _ = fmt.Fprintf(out, "submitted_at=%s\n", rec.SubmittedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if rec.Message != "" {
		_, _ = fmt.Fprintf(out, "message=%s\n", rec.Message)
	}
}

// findJob resolves an exact record id, a unique prefix or a scheduler id.
func findJob(store *jobregistry.Store, input string) (*jobregistry.JobRecord, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	if rec, err := store.Get(input); err == nil {
		return rec, nil
	}
	if rec, err := store.FindBySchedulerID(input); err == nil {
		return rec, nil
	}

	jobs, err := store.List()
	if err != nil {
		return nil, err
	}
	var matches []jobregistry.JobRecord
	for _, j := range jobs {
		if strings.HasPrefix(j.JobID, input) {
			matches = append(matches, j)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("job not found: %s: %w", input, os.ErrNotExist)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("job id prefix %q is ambiguous (%d matches)", input, len(matches))
	}
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
