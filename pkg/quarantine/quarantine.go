// Package quarantine moves undersized QC output pairs out of a project's
// filtered-output directory.
//
// Downstream ingestion cannot handle empty or near-empty read files, and it
// needs complete pairs. A pair is therefore moved as a unit when either mate
// is at or below the threshold. Moves are renames and are not reversed.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	// DefaultMinBytes is the size at or below which a mate is undersized.
	DefaultMinBytes int64 = 500

	// DirName is the per-project quarantine directory name.
	DirName = "zero_files"

	// Mate1Marker and Mate2Marker identify mates in output file names.
	Mate1Marker = "_R1_"
	Mate2Marker = "_R2_"
)

// Entry is one mate pair selected for quarantine.
type Entry struct {
	Mate1     string
	Mate2     string
	Mate1Size int64
	Mate2Size int64

	// Mate2Found is false when the mate-2 file does not exist. A missing
	// mate counts as undersized.
	Mate2Found bool
}

// Result describes a quarantine pass.
type Result struct {
	Entries []Entry

	// Moved lists the destination path of every moved file.
	Moved []string

	// Destination is the quarantine directory. It exists only if Moved is
	// non-empty.
	Destination string
}

// ParseThreshold accepts plain byte counts and humanized sizes ("500",
// "1KB", "1KiB"). An empty string yields DefaultMinBytes.
func ParseThreshold(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultMinBytes, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid quarantine threshold %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("invalid quarantine threshold %q: too large", s)
	}
	return int64(n), nil
}

// Quarantiner selects and moves undersized pairs.
type Quarantiner struct {
	minBytes int64
	logger   *zap.Logger
}

// New creates a Quarantiner. A negative minBytes means DefaultMinBytes.
func New(minBytes int64, logger *zap.Logger) *Quarantiner {
	if minBytes < 0 {
		minBytes = DefaultMinBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Quarantiner{minBytes: minBytes, logger: logger}
}

// MinBytes returns the configured threshold.
func (q *Quarantiner) MinBytes() int64 { return q.minBytes }

// Scan lists the pairs in dir that qualify for quarantine without moving
// anything. Only regular files directly in dir are considered. A missing dir
// yields no entries.
func (q *Quarantiner) Scan(dir string) ([]Entry, error) {
	names, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	// A name with the marker twice (A_R1_B_R1_001) has a mate-2
	// (A_R2_B_R1_001) that still carries the mate-1 marker; such a file is
	// claimed by its partner and is not a pair of its own.
	present := make(map[string]bool, len(names))
	for _, d := range names {
		if !d.IsDir() {
			present[d.Name()] = true
		}
	}
	claimed := make(map[string]bool)
	for name := range present {
		if strings.Contains(name, Mate1Marker) {
			if m2 := mate2Name(name); present[m2] {
				claimed[m2] = true
			}
		}
	}

	var entries []Entry
	for _, d := range names {
		name := d.Name()
		if d.IsDir() || !strings.Contains(name, Mate1Marker) || claimed[name] {
			continue
		}
		mate1 := filepath.Join(dir, name)
		mate2 := filepath.Join(dir, mate2Name(name))

		info1, err := os.Stat(mate1)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", mate1, err)
		}
		e := Entry{Mate1: mate1, Mate2: mate2, Mate1Size: info1.Size()}

		info2, err := os.Stat(mate2)
		switch {
		case err == nil:
			e.Mate2Found = true
			e.Mate2Size = info2.Size()
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("stat %s: %w", mate2, err)
		}

		if e.Mate1Size <= q.minBytes || !e.Mate2Found || e.Mate2Size <= q.minBytes {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func mate2Name(mate1 string) string {
	return strings.Replace(mate1, Mate1Marker, Mate2Marker, 1)
}

// Run scans dir and moves every qualifying pair into quarantineDir, creating
// it only when something qualifies. Running it again over the same tree
// moves nothing.
func (q *Quarantiner) Run(ctx context.Context, dir, quarantineDir string) (*Result, error) {
	entries, err := q.Scan(dir)
	if err != nil {
		return nil, err
	}
	res := &Result{Entries: entries, Destination: quarantineDir}
	if len(entries) == 0 {
		return res, nil
	}

	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return res, fmt.Errorf("create quarantine dir: %w", err)
	}

	moved := make(map[string]bool)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		q.logger.Debug("Quarantining pair",
			zap.String("mate1", e.Mate1),
			zap.String("mate1_size", humanize.IBytes(uint64(e.Mate1Size))),
			zap.String("mate2", e.Mate2),
			zap.String("mate2_size", humanize.IBytes(uint64(e.Mate2Size))),
			zap.Bool("mate2_found", e.Mate2Found))

		paths := []string{e.Mate1}
		if e.Mate2Found {
			paths = append(paths, e.Mate2)
		}
		for _, src := range paths {
			if moved[src] {
				continue
			}
			moved[src] = true
			dst := filepath.Join(quarantineDir, filepath.Base(src))
			if err := os.Rename(src, dst); err != nil {
				return res, fmt.Errorf("move %s: %w", src, err)
			}
			res.Moved = append(res.Moved, dst)
		}
	}

	q.logger.Info("Quarantined undersized pairs",
		zap.String("dir", dir),
		zap.String("destination", quarantineDir),
		zap.Int("pairs", len(entries)),
		zap.Int("files", len(res.Moved)),
		zap.Int64("min_bytes", q.minBytes))

	return res, nil
}

// Quarantine moves undersized pairs from dir into quarantineDir and returns
// the moved paths.
func Quarantine(dir, quarantineDir string, minBytes int64) ([]string, error) {
	res, err := New(minBytes, nil).Run(context.Background(), dir, quarantineDir)
	if res == nil {
		return nil, err
	}
	return res.Moved, err
}
