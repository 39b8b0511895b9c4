package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/seqorch/pkg/jobregistry"
	"github.com/3leaps/seqorch/pkg/jobscript"
)

type call struct {
	name string
	args []string
}

func fakeRunner(out string, err error, calls *[]call) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		return []byte(out), err
	}
}

func TestSummarize(t *testing.T) {
	s := jobregistry.JobStateSuccess
	f := jobregistry.JobStateFailed
	r := jobregistry.JobStateRunning
	q := jobregistry.JobStateQueued

	cases := []struct {
		name   string
		tasks  []TaskStatus
		want   jobregistry.JobState
		failed []int
	}{
		{"empty", nil, q, nil},
		{"all done", []TaskStatus{{1, s, 0}, {2, s, 0}}, s, nil},
		{"one running", []TaskStatus{{1, s, 0}, {2, r, 0}}, r, nil},
		{"queued rest", []TaskStatus{{1, s, 0}, {0, q, 0}}, q, nil},
		{"failures", []TaskStatus{{3, f, 1}, {1, s, 0}, {2, jobregistry.JobStateCancelled, 0}}, f, []int{2, 3}},
		{"failure still running", []TaskStatus{{1, f, 1}, {2, r, 0}}, r, []int{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := Summarize("j", tc.tasks)
			assert.Equal(t, tc.want, st.State)
			assert.Equal(t, tc.failed, st.FailedTasks)
		})
	}
}

func TestTorque_Submit(t *testing.T) {
	var calls []call
	sched := &Torque{run: fakeRunner("12345[].cluster\n", nil, &calls)}
	id, err := sched.Submit(context.Background(), &jobscript.Script{Path: "/run/QCJob_1.sh"})
	require.NoError(t, err)
	assert.Equal(t, "12345[].cluster", id)
	assert.Equal(t, []call{{name: "qsub", args: []string{"/run/QCJob_1.sh"}}}, calls)
}

const qstatOut = `Job Id: 12345[].cluster
    Job_Name = abc_QCJob_ProjectA
    job_state = C
Job Id: 12345[1].cluster
    Job_Name = abc_QCJob_ProjectA-1
    job_state = C
    exit_status = 0
Job Id: 12345[2].cluster
    Job_Name = abc_QCJob_ProjectA-2
    job_state = C
    exit_status = 1
Job Id: 12345[3].cluster
    job_state = C
    exit_status = 0
`

func TestTorque_Status(t *testing.T) {
	var calls []call
	sched := &Torque{run: fakeRunner(qstatOut, nil, &calls)}
	st, err := sched.Status(context.Background(), "12345[].cluster")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateFailed, st.State)
	assert.Equal(t, []int{2}, st.FailedTasks)
	assert.Len(t, st.Tasks, 3)
	assert.Equal(t, []string{"-f", "-t", "12345[].cluster"}, calls[0].args)
}

func TestTorque_StatusRunning(t *testing.T) {
	out := "Job Id: 9[1].h\n    job_state = R\nJob Id: 9[2].h\n    job_state = Q\n"
	var calls []call
	st, err := (&Torque{run: fakeRunner(out, nil, &calls)}).Status(context.Background(), "9[].h")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateRunning, st.State)
}

// reply is one scripted scheduler CLI result.
type reply struct {
	out string
	err error
}

// scriptedRunner answers each command name from its queue; the last reply
// repeats once the queue is drained.
func scriptedRunner(replies map[string][]reply, calls *[]call) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		q := replies[name]
		if len(q) == 0 {
			return nil, &CommandError{Command: name, Stderr: name + ": command not found", Err: errors.New("exit status 127")}
		}
		r := q[0]
		if len(q) > 1 {
			replies[name] = q[1:]
		}
		return []byte(r.out), r.err
	}
}

func unknownJob(id string) error {
	return &CommandError{Command: "qstat", Stderr: "qstat: Unknown Job Id " + id, Err: errors.New("exit status 153")}
}

func TestTorque_StatusUnknownJob(t *testing.T) {
	var calls []call
	runner := scriptedRunner(map[string][]reply{"qstat": {{err: unknownJob("9[].h")}}}, &calls)
	st, err := (&Torque{run: runner}).Status(context.Background(), "9[].h")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateUnknown, st.State)
	assert.Equal(t, "qstat: Unknown Job Id 9[].h", st.Message)
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"-x", "-f", "-t", "9[].h"}, calls[1].args)
	assert.Equal(t, "tracejob", calls[2].name)

	other := &CommandError{Command: "qstat", Stderr: "cannot connect to server", Err: errors.New("exit status 1")}
	_, err = (&Torque{run: fakeRunner("", other, &calls)}).Status(context.Background(), "9[].h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot connect to server")
}

func TestTorque_StatusFromHistory(t *testing.T) {
	var calls []call
	runner := scriptedRunner(map[string][]reply{"qstat": {
		{err: unknownJob("12345[].cluster")},
		{out: qstatOut},
	}}, &calls)
	st, err := (&Torque{run: runner}).Status(context.Background(), "12345[].cluster")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateFailed, st.State)
	assert.Equal(t, []int{2}, st.FailedTasks)
}

const tracejobOut = `
Job: 77[1].host

06/01/2026 10:00:00  S    enqueuing into batch, state 1 hop 1
06/01/2026 10:05:00  S    Exit_status=0 resources_used.cput=00:01:00

Job: 77[2].host

06/01/2026 10:00:00  S    enqueuing into batch, state 1 hop 1
06/01/2026 10:06:00  S    Exit_status=%s resources_used.cput=00:01:00
`

func TestTorque_StatusFromTracejob(t *testing.T) {
	cases := []struct {
		name   string
		exit   string
		want   jobregistry.JobState
		failed []int
	}{
		{"all succeeded", "0", jobregistry.JobStateSuccess, nil},
		{"one failed", "137", jobregistry.JobStateFailed, []int{2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls []call
			runner := scriptedRunner(map[string][]reply{
				// qstat -x on Torque prints XML, which carries no Job Id lines.
				"qstat":    {{err: unknownJob("77[].host")}, {out: "<Data></Data>"}},
				"tracejob": {{out: strings.Replace(tracejobOut, "%s", tc.exit, 1)}},
			}, &calls)
			st, err := (&Torque{run: runner}).Status(context.Background(), "77[].host")
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.State)
			assert.Equal(t, tc.failed, st.FailedTasks)
			assert.Len(t, st.Tasks, 2)
		})
	}
}

func TestParseTracejob_ParentOnly(t *testing.T) {
	tasks := parseTracejob([]byte("Job: 5.host\n01/01/2026 00:00:00  S    Exit_status=1\n"))
	require.Len(t, tasks, 1)
	assert.Equal(t, jobregistry.JobStateFailed, tasks[0].State)
}

func TestSlurm_SubmitParsable(t *testing.T) {
	var calls []call
	sched := &Slurm{run: fakeRunner("4242;cluster1\n", nil, &calls)}
	id, err := sched.Submit(context.Background(), &jobscript.Script{Path: "/run/QCJob_1.sh"})
	require.NoError(t, err)
	assert.Equal(t, "4242", id)
	assert.Equal(t, []string{"--parsable", "/run/QCJob_1.sh"}, calls[0].args)
}

func TestSlurm_Status(t *testing.T) {
	out := strings.Join([]string{
		"4242_1|COMPLETED|0:0",
		"4242_2|FAILED|2:0",
		"4242_3|CANCELLED by 1001|0:15",
		"4242_4|TIMEOUT|0:0",
	}, "\n")
	var calls []call
	st, err := (&Slurm{run: fakeRunner(out, nil, &calls)}).Status(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateFailed, st.State)
	assert.Equal(t, []int{2, 3, 4}, st.FailedTasks)
	assert.Equal(t, 2, st.Tasks[1].ExitCode)
}

func TestSlurm_StatusPendingRange(t *testing.T) {
	out := "4242_1|RUNNING|0:0\n4242_[2-10%2]|PENDING|0:0\n"
	var calls []call
	st, err := (&Slurm{run: fakeRunner(out, nil, &calls)}).Status(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateRunning, st.State)
	assert.Equal(t, 0, st.Tasks[1].Index)
}

func TestNew(t *testing.T) {
	for kind, want := range map[string]string{"": KindTorque, "pbs": KindTorque, "slurm": KindSlurm, "local": KindLocal} {
		s, err := New(kind, Options{})
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}
	_, err := New("lsf", Options{})
	assert.Error(t, err)
}
