// Package qccmd renders the per-pair QC command lines (fastp trimming,
// optional minimap2 host filtering, samtools fastq split) that array tasks
// execute.
//
// Commands are produced from a text/template, one per mate pair. The template
// is configurable so sites can adjust tool flags without code changes.
package qccmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/3leaps/seqorch/pkg/commandtable"
	"github.com/3leaps/seqorch/pkg/fastq"
)

// FilteredDir is the per-project directory that receives QC output.
const FilteredDir = "filtered_sequences"

// DefaultTemplate trims with fastp and, when human filtering is requested,
// streams the interleaved output through minimap2 and samtools to keep only
// unmapped pairs.
const DefaultTemplate = `{{ .Tools.Fastp }} -l 100 -i {{ q .R1 }} -I {{ q .R2 }} -w {{ .NProcs }}` +
	`{{ if .NeedsAdapterTrimming }}{{ if .ForwardAdapter }} --adapter_sequence {{ .ForwardAdapter }}{{ end }}` +
	`{{ if .ReverseAdapter }} --adapter_sequence_r2 {{ .ReverseAdapter }}{{ end }}{{ end }}` +
	` --html {{ q .Report }}.html --json {{ q .Report }}.json` +
	`{{ if .HumanFiltering }} --stdout | {{ .Tools.Minimap2 }} -ax sr -t {{ .NProcs }} {{ q .Tools.MMIDB }} - -a` +
	` | {{ .Tools.Samtools }} fastq -@ {{ .NProcs }} -f 12 -F 256 -1 {{ q .Out1 }} -2 {{ q .Out2 }}` +
	`{{ else }} -o {{ q .Out1 }} -O {{ q .Out2 }}{{ end }}`

// ErrUnpairedRead indicates a mate-1 file with no mate-2 partner, or the
// reverse.
var ErrUnpairedRead = errors.New("read file has no mate")

// ErrDuplicateRead indicates two read files that would write the same
// output file.
var ErrDuplicateRead = errors.New("duplicate read file")

// Pair is one sample's mate-1/mate-2 files for a single index.
type Pair struct {
	SampleID string
	Index    string
	R1       string
	R2       string
}

// templateData is what the command template sees.
type templateData struct {
	commandtable.Request
	Pair
	Out1   string
	Out2   string
	Report string
}

// Provider implements commandtable.CommandListProvider.
type Provider struct {
	tmpl *template.Template
}

var _ commandtable.CommandListProvider = (*Provider)(nil)

// New compiles text (DefaultTemplate when empty).
func New(text string) (*Provider, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	t, err := template.New("qc").Option("missingkey=error").Funcs(template.FuncMap{"q": commandtable.ShellQuote}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse command template: %w", err)
	}
	return &Provider{tmpl: t}, nil
}

// Commands renders one command per mate pair, ordered by sample id then index.
func (p *Provider) Commands(_ context.Context, req commandtable.Request) ([]string, error) {
	pairs, err := Pairs(req.Files)
	if err != nil {
		return nil, err
	}

	outDir := filepath.Join(req.ProductsDir, FilteredDir)
	cmds := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		data := templateData{
			Request: req,
			Pair:    pair,
			Out1:    filepath.Join(outDir, outputName(pair.R1)),
			Out2:    filepath.Join(outDir, outputName(pair.R2)),
			Report:  filepath.Join(outDir, pair.SampleID+"_"+pair.Index),
		}
		var b strings.Builder
		if err := p.tmpl.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("render command for %s: %w", pair.SampleID, err)
		}
		cmd := strings.TrimSpace(b.String())
		if strings.ContainsAny(cmd, "\r\n") {
			return nil, fmt.Errorf("%w: template output for %s", commandtable.ErrMultilineCommand, pair.SampleID)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Pairs groups read files into mate pairs. Mates pair within one directory:
// every mate-1 file must have a mate-2 partner with the same sample id and
// index beside it, and vice versa. QC output lands in a single directory, so
// two pairs whose files share a base name are rejected rather than
// overwriting each other.
func Pairs(files []fastq.File) ([]Pair, error) {
	type key struct{ dir, sample, index string }
	byKey := make(map[key]*Pair)
	for _, f := range files {
		k := key{filepath.Dir(f.Path), f.SampleID, f.Index}
		p, ok := byKey[k]
		if !ok {
			p = &Pair{SampleID: f.SampleID, Index: f.Index}
			byKey[k] = p
		}
		var slot *string
		switch f.Mate {
		case 1:
			slot = &p.R1
		case 2:
			slot = &p.R2
		default:
			return nil, fmt.Errorf("%s: unsupported mate R%d", f.Path, f.Mate)
		}
		if *slot != "" && *slot != f.Path {
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateRead, *slot, f.Path)
		}
		*slot = f.Path
	}

	out := make([]Pair, 0, len(byKey))
	for _, p := range byKey {
		if p.R1 == "" || p.R2 == "" {
			have := p.R1 + p.R2
			return nil, fmt.Errorf("%w: %s", ErrUnpairedRead, have)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SampleID != out[j].SampleID {
			return out[i].SampleID < out[j].SampleID
		}
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].R1 < out[j].R1
	})

	owner := make(map[string]string, 2*len(out))
	for _, p := range out {
		for _, path := range []string{p.R1, p.R2} {
			name := outputName(path)
			if prev, ok := owner[name]; ok {
				return nil, fmt.Errorf("%w: %s and %s both write %s", ErrDuplicateRead, prev, path, name)
			}
			owner[name] = path
		}
	}
	return out, nil
}

// outputName maps S1_R1_001.fastq.gz to S1_R1_001.trimmed.fastq.gz, keeping
// the _R1_/_R2_ marker the quarantine scan pairs on.
func outputName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, fastq.Suffix) + ".trimmed" + fastq.Suffix
}
