package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/seqorch/pkg/manifest"
	"github.com/3leaps/seqorch/pkg/output"
	"github.com/3leaps/seqorch/pkg/provider"
)

func TestOpenReport_Stdout(t *testing.T) {
	var stdout bytes.Buffer
	r, err := OpenReport(manifest.ReportConfig{Destination: "stdout"}, &stdout, "run-1", "")
	require.NoError(t, err)
	assert.Equal(t, "stdout", r.Destination())

	require.NoError(t, r.WriteSummary(context.Background(), &output.SummaryRecord{Projects: 1}))
	assert.Contains(t, stdout.String(), output.TypeSummary)
	require.NoError(t, r.Publish(context.Background()))
}

func TestOpenReport_FilePublishedOnlyOnPublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.jsonl")
	var stdout bytes.Buffer
	r, err := OpenReport(manifest.ReportConfig{Destination: path}, &stdout, "run-1", "q1")
	require.NoError(t, err)
	assert.Equal(t, path, r.Destination())

	require.NoError(t, r.WriteProject(context.Background(), &output.ProjectRecord{Project: "ProjectA", Status: output.ProjectCompleted}))
	assert.NoFileExists(t, path)

	require.NoError(t, r.Publish(context.Background()))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "\n"))
	assert.Contains(t, string(raw), `"qiita_job_id":"q1"`)
	assert.Empty(t, stdout.String())

	err = r.WriteSummary(context.Background(), &output.SummaryRecord{})
	assert.ErrorIs(t, err, output.ErrWriterClosed)
}

type memProvider struct {
	key  string
	body []byte
	err  error
}

func (m *memProvider) Put(_ context.Context, key string, body io.Reader, size int64) error {
	if m.err != nil {
		return m.err
	}
	m.key = key
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return errors.New("size mismatch")
	}
	m.body = b
	return nil
}

func (m *memProvider) Close() error { return nil }

func TestReport_PublishS3(t *testing.T) {
	mem := &memProvider{}
	orig := openProvider
	defer func() { openProvider = orig }()
	var gotCfg manifest.ReportConfig
	openProvider = func(_ context.Context, dest *provider.Destination, cfg manifest.ReportConfig) (provider.Provider, error) {
		assert.Equal(t, provider.ProviderS3, dest.Provider)
		assert.Equal(t, "reports", dest.Bucket)
		gotCfg = cfg
		return mem, nil
	}

	cfg := manifest.ReportConfig{Destination: "s3://reports/runs/r1.jsonl", Region: "us-west-2"}
	r, err := OpenReport(cfg, io.Discard, "run-1", "")
	require.NoError(t, err)
	require.NoError(t, r.WriteSummary(context.Background(), &output.SummaryRecord{Projects: 2}))
	require.NoError(t, r.Publish(context.Background()))

	assert.Equal(t, "runs/r1.jsonl", mem.key)
	assert.Contains(t, string(mem.body), `"projects":2`)
	assert.Equal(t, "us-west-2", gotCfg.Region)
}

func TestReport_PublishError(t *testing.T) {
	orig := openProvider
	defer func() { openProvider = orig }()
	openProvider = func(context.Context, *provider.Destination, manifest.ReportConfig) (provider.Provider, error) {
		return &memProvider{err: provider.ErrAccessDenied}, nil
	}

	r, err := OpenReport(manifest.ReportConfig{Destination: "s3://b/k.jsonl"}, io.Discard, "run-1", "")
	require.NoError(t, err)
	err = r.Publish(context.Background())
	assert.ErrorIs(t, err, provider.ErrAccessDenied)
}

func TestOpenReport_BadDestination(t *testing.T) {
	_, err := OpenReport(manifest.ReportConfig{Destination: "gs://bucket/key"}, io.Discard, "run-1", "")
	assert.ErrorIs(t, err, provider.ErrUnsupportedProvider)
}
