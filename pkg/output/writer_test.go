package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, line []byte, payload any) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	if payload != nil {
		require.NoError(t, json.Unmarshal(record.Data, payload))
	}
	return record
}

func TestJSONLWriter_WriteProject(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "abc123")

	err := w.WriteProject(context.Background(), &ProjectRecord{
		Project:        "ProjectA",
		Status:         ProjectCompleted,
		Samples:        2,
		Files:          4,
		Tasks:          2,
		Concurrency:    2,
		SchedulerJobID: "12345[]",
		Quarantined:    1,
		Duration:       90 * time.Second,
		DurationHuman:  "1m30s",
	})
	require.NoError(t, err)

	var p ProjectRecord
	record := decode(t, buf.Bytes(), &p)
	assert.Equal(t, TypeProject, record.Type)
	assert.Equal(t, "run-1", record.RunID)
	assert.Equal(t, "abc123", record.QiitaJobID)
	assert.False(t, record.TS.IsZero())

	assert.Equal(t, "ProjectA", p.Project)
	assert.Equal(t, ProjectCompleted, p.Status)
	assert.Equal(t, 2, p.Tasks)
	assert.Equal(t, 1, p.Quarantined)
	assert.Equal(t, 90*time.Second, p.Duration)
}

func TestJSONLWriter_WriteQuarantine(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "")

	require.NoError(t, w.WriteQuarantine(context.Background(), &QuarantineRecord{
		Project:     "ProjectA",
		Mate1:       "/p/filtered_sequences/s1_R1_001.trimmed.fastq.gz",
		Mate2:       "/p/filtered_sequences/s1_R2_001.trimmed.fastq.gz",
		Mate1Size:   300,
		Mate2Size:   5000,
		Mate2Found:  true,
		Destination: "/p/zero_files",
	}))

	var q QuarantineRecord
	record := decode(t, buf.Bytes(), &q)
	assert.Equal(t, TypeQuarantine, record.Type)
	assert.NotContains(t, buf.String(), "qiita_job_id")
	assert.Equal(t, int64(300), q.Mate1Size)
	assert.True(t, q.Mate2Found)
}

func TestJSONLWriter_WriteErrorAndSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "")
	ctx := context.Background()

	require.NoError(t, w.WriteError(ctx, &ErrorRecord{
		Code:    ErrCodeJobFailed,
		Message: "project ProjectB: job 9 ended failed",
		Project: "ProjectB",
		JobID:   "9",
		Details: map[string]any{"failed_tasks": []int{2}},
	}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{
		Projects:      3,
		Completed:     1,
		Skipped:       1,
		Failed:        1,
		Quarantined:   2,
		Duration:      time.Minute,
		DurationHuman: "1m0s",
		Errors:        1,
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var e ErrorRecord
	assert.Equal(t, TypeError, decode(t, []byte(lines[0]), &e).Type)
	assert.Equal(t, "ProjectB", e.Project)
	assert.Equal(t, ErrCodeJobFailed, e.Code)

	var sum SummaryRecord
	assert.Equal(t, TypeSummary, decode(t, []byte(lines[1]), &sum).Type)
	assert.Equal(t, 3, sum.Projects)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, int64(1), sum.Errors)
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "")
	require.NoError(t, w.Close())

	err := w.WriteProject(context.Background(), &ProjectRecord{Project: "P"})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "")

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = w.WriteQuarantine(context.Background(), &QuarantineRecord{Project: "P", Mate1Size: int64(id*perWriter + j)})
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, writers*perWriter)
	for i, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record), "line %d", i)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteProject(ctx, &ProjectRecord{Project: "P"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

type failingWriter struct{ err error }

func (f *failingWriter) Write([]byte) (int, error) { return 0, f.err }

type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (int, error) {
	return sw.buf.Write(p[:min(len(p), sw.bytesPerWrite)])
}

type zeroWriteWriter struct{}

func (zeroWriteWriter) Write([]byte) (int, error) { return 0, nil }

func TestJSONLWriter_WriteFailures(t *testing.T) {
	ctx := context.Background()

	err := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "r", "").WriteProject(ctx, &ProjectRecord{})
	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)

	err = NewJSONLWriter(zeroWriteWriter{}, "r", "").WriteProject(ctx, &ProjectRecord{})
	assert.ErrorIs(t, err, io.ErrShortWrite)

	sw := &shortWriteWriter{bytesPerWrite: 7}
	require.NoError(t, NewJSONLWriter(sw, "r", "").WriteProject(ctx, &ProjectRecord{Project: "ProjectA"}))
	var p ProjectRecord
	decode(t, bytes.TrimSpace(sw.buf.Bytes()), &p)
	assert.Equal(t, "ProjectA", p.Project)
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}
	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}
