package cmd

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/scheduler"
)

func seedJobs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store := jobregistry.NewStore(dir)

	older := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	ended := newer.Add(10 * time.Minute)
	require.NoError(t, store.Write(&jobregistry.JobRecord{
		JobID:          "aaaa1111-0000-0000-0000-000000000000",
		Project:        "ProjectA",
		Scheduler:      scheduler.KindSlurm,
		SchedulerJobID: "4242",
		State:          jobregistry.JobStateRunning,
		ScriptPath:     "/out/QCJob_1.sh",
		TablePath:      "/run/split_file_ProjectA.array-details",
		Tasks:          2,
		Concurrency:    1,
		CreatedAt:      older,
		SubmittedAt:    &older,
	}))
	require.NoError(t, store.Write(&jobregistry.JobRecord{
		JobID:          "bbbb2222-0000-0000-0000-000000000000",
		Project:        "ProjectB",
		Scheduler:      scheduler.KindTorque,
		SchedulerJobID: "77.pbs",
		State:          jobregistry.JobStateFailed,
		FailedTasks:    []int{3},
		ScriptPath:     "/out/QCJob_2.sh",
		TablePath:      "/run/split_file_ProjectB.array-details",
		Tasks:          4,
		Concurrency:    2,
		CreatedAt:      newer,
		SubmittedAt:    &newer,
		EndedAt:        &ended,
	}))
	return dir
}

func TestJobsList(t *testing.T) {
	dir := seedJobs(t)

	out, err := runCLI(t, "jobs", "list", "--jobs-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "JOB ID")
	assert.Contains(t, out, "bbbb2222-000")
	assert.Contains(t, out, "4%2")
	assert.Less(t, strings.Index(out, "ProjectB"), strings.Index(out, "ProjectA"))

	out, err = runCLI(t, "jobs", "list", "--jobs-dir", dir, "--json")
	require.NoError(t, err)
	var jobs []jobregistry.JobRecord
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "ProjectB", jobs[0].Project)
}

func TestJobsList_Empty(t *testing.T) {
	out, err := runCLI(t, "jobs", "list", "--jobs-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found")
}

func TestJobsList_NoDir(t *testing.T) {
	_, err := runCLI(t, "jobs", "list")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestJobsStatus(t *testing.T) {
	dir := seedJobs(t)

	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "full id", id: "bbbb2222-0000-0000-0000-000000000000", want: "project=ProjectB"},
		{name: "prefix", id: "aaaa", want: "project=ProjectA"},
		{name: "scheduler id", id: "77.pbs", want: "failed_tasks=[3]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, "jobs", "status", tt.id, "--jobs-dir", dir)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}

	_, err := runCLI(t, "jobs", "status", "zzzz", "--jobs-dir", dir)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
}

func TestJobsStatus_Refresh(t *testing.T) {
	dir := seedJobs(t)

	var calls []string
	orig := jobsRunner
	jobsRunner = func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name)
		return []byte("4242_1|COMPLETED|0:0\n4242_2|COMPLETED|0:0\n"), nil
	}
	defer func() { jobsRunner = orig }()

	out, err := runCLI(t, "jobs", "status", "4242", "--jobs-dir", dir, "--refresh")
	require.NoError(t, err)
	assert.Equal(t, []string{"sacct"}, calls)
	assert.Contains(t, out, "state=success")

	rec, err := jobregistry.NewStore(dir).Get("aaaa1111-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateSuccess, rec.State)
	assert.NotNil(t, rec.EndedAt)
	assert.NotNil(t, rec.LastPolled)
}
