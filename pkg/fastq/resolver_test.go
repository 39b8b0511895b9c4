package fastq

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/seqorch/pkg/samplesheet"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in   string
		want Name
		ok   bool
	}{
		{"S1_R1_001.fastq.gz", Name{SampleID: "S1", Mate: 1, Index: "001"}, true},
		{"S1_R2_001.fastq.gz", Name{SampleID: "S1", Mate: 2, Index: "001"}, true},
		{"Sample_1_S12_L003_R2_001.fastq.gz", Name{SampleID: "Sample_1_S12_L003", Mate: 2, Index: "001"}, true},
		{"X_R1_Y_R1_123.fastq.gz", Name{SampleID: "X_R1_Y", Mate: 1, Index: "123"}, true},
		{"S1_R1_01.fastq.gz", Name{}, false},
		{"S1_R1_0001.fastq.gz", Name{}, false},
		{"S1_I1_001.fastq.gz", Name{}, false},
		{"S1_R12_001.fastq.gz", Name{}, false},
		{"S1_R1_001.fastq", Name{}, false},
		{"_R1_001.fastq.gz", Name{}, false},
		{"R1_001.fastq.gz", Name{}, false},
		{"S1_R1_abc.fastq.gz", Name{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseName(tt.in)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNotReadFile))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("@r\nACGT\n+\nIIII\n"), 0o644))
}

func TestResolver_Resolve(t *testing.T) {
	runDir := t.TempDir()
	projDir := filepath.Join(runDir, "Data", "Fastq", "ProjectA")

	want := []string{
		filepath.Join(projDir, "S1_R1_001.fastq.gz"),
		filepath.Join(projDir, "S1_R2_001.fastq.gz"),
		filepath.Join(projDir, "lane2", "S2_R1_001.fastq.gz"),
		filepath.Join(projDir, "lane2", "S2_R2_001.fastq.gz"),
	}
	for _, p := range want {
		touch(t, p)
	}
	// Unknown sample, wrong suffix, index read, report, hidden dir, other project.
	touch(t, filepath.Join(projDir, "S3_R1_001.fastq.gz"))
	touch(t, filepath.Join(projDir, "S1_R1_001.fastq"))
	touch(t, filepath.Join(projDir, "S1_I1_001.fastq.gz"))
	touch(t, filepath.Join(projDir, "Reports", "summary.html"))
	touch(t, filepath.Join(projDir, ".tmp", "S1_R1_001.fastq.gz"))
	touch(t, filepath.Join(runDir, "Data", "Fastq", "ProjectB", "S1_R1_001.fastq.gz"))

	ids := []samplesheet.SampleIdentity{
		{SampleID: "S1", Project: "ProjectA"},
		{SampleID: "S2", Project: "ProjectA"},
		{SampleID: "S3", Project: "ProjectB"},
	}

	r, err := NewResolver(Config{RunDir: runDir}, nil)
	require.NoError(t, err)

	files, err := r.Resolve(context.Background(), "ProjectA", ids)
	require.NoError(t, err)

	assert.ElementsMatch(t, want, Paths(files))
	for _, f := range files {
		assert.Contains(t, []string{"S1", "S2"}, f.SampleID)
	}
}

func TestResolver_Excludes(t *testing.T) {
	runDir := t.TempDir()
	projDir := filepath.Join(runDir, "Data", "Fastq", "P")
	touch(t, filepath.Join(projDir, "S1_R1_001.fastq.gz"))
	touch(t, filepath.Join(projDir, "old", "S1_R1_002.fastq.gz"))

	r, err := NewResolver(Config{RunDir: runDir, Excludes: []string{"old/**"}}, nil)
	require.NoError(t, err)

	files, err := r.Resolve(context.Background(), "P", []samplesheet.SampleIdentity{{SampleID: "S1", Project: "P"}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "001", files[0].Index)
}

func TestResolver_EmptyCases(t *testing.T) {
	runDir := t.TempDir()
	touch(t, filepath.Join(runDir, "Data", "Fastq", "P", "S1_R1_001.fastq.gz"))

	r, err := NewResolver(Config{RunDir: runDir}, nil)
	require.NoError(t, err)

	t.Run("no sample ids", func(t *testing.T) {
		files, err := r.Resolve(context.Background(), "P", nil)
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("no matching files", func(t *testing.T) {
		files, err := r.Resolve(context.Background(), "P", []samplesheet.SampleIdentity{{SampleID: "Z9", Project: "P"}})
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("missing project dir", func(t *testing.T) {
		files, err := r.Resolve(context.Background(), "Q", []samplesheet.SampleIdentity{{SampleID: "S1", Project: "Q"}})
		require.NoError(t, err)
		assert.Empty(t, files)
	})
}

func TestNewResolver_RequiresRunDir(t *testing.T) {
	_, err := NewResolver(Config{}, nil)
	require.Error(t, err)
}
