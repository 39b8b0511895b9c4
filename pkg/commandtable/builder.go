package commandtable

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/3leaps/seqorch/pkg/fastq"
)

// ErrNoCommands indicates the provider returned nothing for a project that
// has read files.
var ErrNoCommands = errors.New("command list provider returned no commands")

// Tools holds the executable paths handed to the command list provider.
type Tools struct {
	Fastp    string
	Minimap2 string
	Samtools string

	// MMIDB is the minimap2 index of the host genome.
	MMIDB string
}

// Request describes one project's unit of work for a CommandListProvider.
type Request struct {
	Project string

	// ProductsDir is the per-project output root, <products_dir>/<project>.
	ProductsDir string

	Files []fastq.File

	ForwardAdapter       string
	ReverseAdapter       string
	HumanFiltering       bool
	NeedsAdapterTrimming bool
	Chemistry            string

	// NProcs is the processor count each task may use.
	NProcs int

	Tools Tools
}

// CommandListProvider turns a project's read files into shell commands,
// typically one per mate pair.
type CommandListProvider interface {
	Commands(ctx context.Context, req Request) ([]string, error)
}

// Builder asks a CommandListProvider for a project's commands and writes
// them to the project's table file.
type Builder struct {
	runDir   string
	prefix   string
	provider CommandListProvider
	logger   *zap.Logger
}

// NewBuilder creates a Builder writing tables into runDir.
func NewBuilder(runDir, prefix string, provider CommandListProvider, logger *zap.Logger) *Builder {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{runDir: runDir, prefix: prefix, provider: provider, logger: logger}
}

// TablePath returns where the table for project is written.
func (b *Builder) TablePath(project string) string {
	return filepath.Join(b.runDir, FileName(b.prefix, project))
}

// Build obtains the commands for req and writes them to disk. Provider
// errors are returned unchanged.
func (b *Builder) Build(ctx context.Context, req Request) (*Table, error) {
	if b.provider == nil {
		return nil, errors.New("command list provider is not configured")
	}

	cmds, err := b.provider.Commands(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 && len(req.Files) > 0 {
		return nil, fmt.Errorf("%w: project %s has %d read files", ErrNoCommands, req.Project, len(req.Files))
	}

	t, err := Write(b.TablePath(req.Project), cmds)
	if err != nil {
		return nil, fmt.Errorf("write command table for %s: %w", req.Project, err)
	}

	b.logger.Debug("Wrote command table",
		zap.String("project", req.Project),
		zap.String("path", t.Path()),
		zap.Int("commands", t.Len()))

	return t, nil
}
