// Package commandtable persists the per-project list of shell commands that
// array-job tasks execute.
//
// A command table is a plain text file with one command per line. Line N
// (1-based) is the command run by array task N, so a task can recover its
// work item with nothing more than `head -n N <table> | tail -n 1`.
//
// Tables live in the run directory and are named <prefix><project>.array-details.
// Tables from earlier invocations must be purged before a project is
// regenerated so no task ever reads a stale line.
package commandtable

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultPrefix is the file name prefix shared by every command table.
	DefaultPrefix = "split_file_"

	// Extension is the command table file extension.
	Extension = ".array-details"
)

var (
	// ErrMultilineCommand indicates a command contains a line break and
	// would shift every following task onto the wrong line.
	ErrMultilineCommand = errors.New("command spans multiple lines")

	// ErrIndexOutOfRange indicates a task index outside 1..Len().
	ErrIndexOutOfRange = errors.New("task index out of range")
)

// FileName returns the table file name for project.
func FileName(prefix, project string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + project + Extension
}

// Table is an immutable, ordered list of commands backed by a file.
type Table struct {
	path     string
	commands []string
}

// Path returns the file the table was written to or read from.
func (t *Table) Path() string { return t.path }

// Len returns the number of commands, which equals the array-job task count.
func (t *Table) Len() int { return len(t.commands) }

// Commands returns a copy of the commands in task order.
func (t *Table) Commands() []string {
	return append([]string(nil), t.commands...)
}

// Line returns the command for the 1-based task index.
func (t *Table) Line(task int) (string, error) {
	if task < 1 || task > len(t.commands) {
		return "", fmt.Errorf("%w: %d (table has %d)", ErrIndexOutOfRange, task, len(t.commands))
	}
	return t.commands[task-1], nil
}

// Write atomically writes commands to path, one per line.
//
// The table is written to a temp file in the same directory and renamed into
// place, so readers see either the previous file or the complete new one.
func Write(path string, commands []string) (*Table, error) {
	for i, c := range commands {
		if strings.ContainsAny(c, "\r\n") {
			return nil, fmt.Errorf("%w: command %d", ErrMultilineCommand, i+1)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create table dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp table: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(strings.Join(commands, "\n")); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write temp table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp table: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("rename table: %w", err)
	}

	return &Table{path: path, commands: append([]string(nil), commands...)}, nil
}

// Read loads a table from disk.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var commands []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		commands = append(commands, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	return &Table{path: path, commands: commands}, nil
}

// Purge removes every command table under dir whose file name starts with
// prefix and returns the removed paths. A missing dir is not an error.
func Purge(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	var removed []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), prefix) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale table: %w", err)
		}
		removed = append(removed, path)
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}
