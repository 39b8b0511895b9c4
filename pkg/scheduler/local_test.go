package scheduler

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/jobscript"
)

func TestLocal_RunsEveryTask(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "QCJob_1.sh")
	body := "#!/bin/bash\n" +
		"echo task ${PBS_ARRAYID} > " + dir + "/out.${PBS_ARRAYID}\n" +
		"if [ \"${PBS_ARRAYID}\" = \"3\" ]; then echo boom >&2; exit 4; fi\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	s := &jobscript.Script{
		Path:        script,
		Project:     "P",
		Tasks:       3,
		Concurrency: 2,
		OutputLog:   filepath.Join(dir, "QCJob_1.out.log"),
		ErrorLog:    filepath.Join(dir, "QCJob_1.err.log"),
	}
	local := NewLocal(jobscript.Torque{}, "", nil)
	ex := NewExecutor(local, nil, ExecutorConfig{PollInterval: 5 * time.Millisecond, LogParser: TailLogParser{}}, nil)

	rec, err := ex.Run(context.Background(), s)
	require.Error(t, err)
	assert.Equal(t, jobregistry.JobStateFailed, rec.State)
	assert.Equal(t, []int{3}, rec.FailedTasks)
	assert.Contains(t, err.Error(), "task 3: boom")

	assert.Empty(t, local.jobs)

	for _, n := range []string{"1", "2", "3"} {
		raw, err := os.ReadFile(filepath.Join(dir, "out."+n))
		require.NoError(t, err)
		assert.Equal(t, "task "+n+"\n", string(raw))
	}
}

func TestLocal_UnknownJob(t *testing.T) {
	st, err := NewLocal(nil, "", nil).Status(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateUnknown, st.State)
}

func TestLocal_ForgetsJobReportedTerminal(t *testing.T) {
	local := NewLocal(nil, "", nil)
	local.jobs["j1"] = []TaskStatus{
		{Index: 1, State: jobregistry.JobStateSuccess},
		{Index: 2, State: jobregistry.JobStateRunning},
	}

	st, err := local.Status(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateRunning, st.State)
	assert.Contains(t, local.jobs, "j1")

	local.setTask("j1", 2, jobregistry.JobStateSuccess, 0)
	st, err = local.Status(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateSuccess, st.State)
	assert.Len(t, st.Tasks, 2)
	assert.Empty(t, local.jobs)

	st, err = local.Status(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateUnknown, st.State)
}
