package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTablesPurge(t *testing.T) {
	runDir := t.TempDir()
	nested := filepath.Join(runDir, "sub")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	a := filepath.Join(runDir, "split_file_ProjectA.array-details")
	b := filepath.Join(nested, "split_file_ProjectB.array-details")
	keep := filepath.Join(runDir, "sheet.csv")
	for _, p := range []string{a, b, keep} {
		require.NoError(t, os.WriteFile(p, []byte("x\n"), 0o644))
	}

	out, err := runCLI(t, "tables", "purge", "--run-dir", runDir)
	require.NoError(t, err)
	assert.Contains(t, out, a)
	assert.Contains(t, out, b)
	assert.NoFileExists(t, a)
	assert.NoFileExists(t, b)
	assert.FileExists(t, keep)
}

func TestTablesPurge_FromManifest(t *testing.T) {
	r := newQCRun(t, torqueScheduler, "")
	stale := filepath.Join(r.runDir, "split_file_Old.array-details")
	require.NoError(t, os.WriteFile(stale, []byte("x\n"), 0o644))

	_, err := runCLI(t, "tables", "purge", "--manifest", r.manifest)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestTablesPurge_NoRunDir(t *testing.T) {
	_, err := runCLI(t, "tables", "purge")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestTablesShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split_file_P.array-details")
	require.NoError(t, os.WriteFile(path, []byte("echo one\necho two\n"), 0o644))

	out, err := runCLI(t, "tables", "show", path)
	require.NoError(t, err)
	assert.Equal(t, "1\techo one\n2\techo two\n", out)

	out, err = runCLI(t, "tables", "show", path, "--task", "2")
	require.NoError(t, err)
	assert.Equal(t, "echo two\n", out)

	_, err = runCLI(t, "tables", "show", path, "--task", "3")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}
