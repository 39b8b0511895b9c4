// Package fastq finds the sequencing read files that belong to a project.
//
// Files are discovered under <run_dir>/Data/Fastq/<project>/ and kept only
// when their name encodes a sample id listed for that project in the sample
// sheet. Everything else is skipped without error.
package fastq

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/3leaps/seqorch/pkg/match"
	"github.com/3leaps/seqorch/pkg/samplesheet"
)

// DefaultInclude matches read files at any depth below the project directory.
const DefaultInclude = "**/*" + Suffix

// File is a discovered read file that matched a known sample.
type File struct {
	Path     string
	SampleID string
	Mate     int
	Index    string
}

// Config configures a Resolver.
type Config struct {
	// RunDir is the sequencing run directory.
	RunDir string

	// Excludes are optional glob patterns (relative to the project
	// directory) for files that must never be processed.
	Excludes []string

	// IncludeHidden also scans dot-prefixed files and directories.
	IncludeHidden bool
}

// Resolver maps sample-sheet identities onto files in a run directory.
type Resolver struct {
	runDir  string
	matcher *match.Matcher
	logger  *zap.Logger
}

// NewResolver creates a Resolver. A nil logger discards log output.
func NewResolver(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if cfg.RunDir == "" {
		return nil, errors.New("run dir is required")
	}
	m, err := match.New(match.Config{
		Includes:      []string{DefaultInclude},
		Excludes:      cfg.Excludes,
		IncludeHidden: cfg.IncludeHidden,
	})
	if err != nil {
		return nil, fmt.Errorf("fastq matcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{runDir: filepath.Clean(cfg.RunDir), matcher: m, logger: logger}, nil
}

// ProjectDir returns the directory scanned for project.
func (r *Resolver) ProjectDir(project string) string {
	return filepath.Join(r.runDir, "Data", "Fastq", project)
}

// Resolve returns the read files of project whose sample id appears among
// identities. Identities of other projects are ignored. The result is sorted
// by path; an empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, project string, identities []samplesheet.SampleIdentity) ([]File, error) {
	ids := samplesheet.SampleIDsFor(identities, project)
	if len(ids) == 0 {
		r.logger.Debug("No sample ids for project", zap.String("project", project))
		return nil, nil
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	root := r.ProjectDir(project)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("Project fastq directory not found", zap.String("project", project), zap.String("dir", root))
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	var out []File
	skipped := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !r.matcher.Match(filepath.ToSlash(rel)) {
			return nil
		}
		name, err := ParseName(d.Name())
		if err != nil {
			skipped++
			return nil
		}
		if _, ok := known[name.SampleID]; !ok {
			skipped++
			return nil
		}
		out = append(out, File{Path: path, SampleID: name.SampleID, Mate: name.Mate, Index: name.Index})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	r.logger.Debug("Resolved fastq files",
		zap.String("project", project),
		zap.Int("samples", len(ids)),
		zap.Int("files", len(out)),
		zap.Int("skipped", skipped))

	return out, nil
}

// Paths returns the file paths in order.
func Paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
