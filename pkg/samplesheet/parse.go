package samplesheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

const (
	sectionHeader         = "Header"
	sectionData           = "Data"
	sectionBioinformatics = "Bioinformatics"

	colSampleID       = "Sample_ID"
	colSampleProject  = "Sample_Project"
	colLane           = "Lane"
	colForwardAdapter = "ForwardAdapter"
	colReverseAdapter = "ReverseAdapter"
	colHumanFiltering = "HumanFiltering"
)

// CSVProvider reads sectioned CSV sample sheets.
type CSVProvider struct {
	// AssayTypes overrides the accepted assay names. Empty uses AssayTypes.
	AssayTypes []string
}

var _ Provider = (*CSVProvider)(nil)

// Parse reads and checks the sheet at path.
func (p *CSVProvider) Parse(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &SheetError{Path: path, Reason: "file does not exist", Err: err}
		}
		return nil, fmt.Errorf("open sample sheet: %w", err)
	}
	defer func() { _ = f.Close() }()

	return p.ParseReader(f, path)
}

type row struct {
	line   int
	fields []string
}

// ParseReader reads a sheet from r; path is used in error messages.
func (p *CSVProvider) ParseReader(r io.Reader, path string) (*Sheet, error) {
	sections, err := readSections(r, path)
	if err != nil {
		return nil, err
	}

	sheet := &Sheet{Path: path, Header: make(map[string]string)}

	for _, rw := range sections[sectionHeader] {
		if len(rw.fields) == 0 || rw.fields[0] == "" {
			continue
		}
		val := ""
		if len(rw.fields) > 1 {
			val = rw.fields[1]
		}
		sheet.Header[rw.fields[0]] = val
	}

	sheet.Chemistry = sheet.Header["chemistry"]
	sheet.Assay = sheet.Header["Assay"]
	if sheet.Assay == "" {
		return nil, &SheetError{Path: path, Reason: "[Header] has no Assay value"}
	}
	assays := p.AssayTypes
	if len(assays) == 0 {
		assays = AssayTypes
	}
	if !slices.Contains(assays, sheet.Assay) {
		return nil, &SheetError{Path: path, Reason: fmt.Sprintf("assay value '%s' is not recognized", sheet.Assay), Err: ErrUnknownAssay}
	}
	sheet.NeedsAdapterTrimming = sheet.Assay == AssayMetagenomics

	if sheet.Samples, err = readSamples(sections[sectionData], path); err != nil {
		return nil, err
	}
	if sheet.Projects, err = readProjects(sections[sectionBioinformatics], path); err != nil {
		return nil, err
	}

	for _, s := range sheet.Samples {
		if _, ok := sheet.Project(s.Project); !ok {
			return nil, &SheetError{Path: path, Reason: fmt.Sprintf("project %q has samples but no [Bioinformatics] row", s.Project)}
		}
	}

	return sheet, nil
}

// readSections splits the CSV stream into named sections. Blank rows are
// dropped; rows outside any section are rejected.
func readSections(r io.Reader, path string) (map[string][]row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	sections := make(map[string][]row)
	current := ""
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &SheetError{Path: path, Reason: err.Error()}
		}
		line, _ := cr.FieldPos(0)
		fields := trimTrailingEmpty(rec)
		if len(fields) == 0 {
			continue
		}
		first := strings.TrimSpace(fields[0])
		if strings.HasPrefix(first, "[") && strings.HasSuffix(first, "]") {
			current = strings.Trim(first, "[]")
			if _, ok := sections[current]; !ok {
				sections[current] = nil
			}
			continue
		}
		if current == "" {
			return nil, &SheetError{Path: path, Line: line, Reason: "content before first section"}
		}
		sections[current] = append(sections[current], row{line: line, fields: fields})
	}

	for _, name := range []string{sectionHeader, sectionData, sectionBioinformatics} {
		if _, ok := sections[name]; !ok {
			return nil, &SheetError{Path: path, Reason: fmt.Sprintf("missing [%s] section", name)}
		}
	}
	return sections, nil
}

func readSamples(rows []row, path string) ([]SampleIdentity, error) {
	if len(rows) == 0 {
		return nil, &SheetError{Path: path, Reason: "[Data] section is empty"}
	}
	cols := columnIndex(rows[0].fields)
	idCol, ok := cols[colSampleID]
	if !ok {
		return nil, &SheetError{Path: path, Line: rows[0].line, Reason: "[Data] has no Sample_ID column"}
	}
	projCol, ok := cols[colSampleProject]
	if !ok {
		return nil, &SheetError{Path: path, Line: rows[0].line, Reason: "[Data] has no Sample_Project column"}
	}
	laneCol, hasLane := cols[colLane]

	type key struct{ id, project string }
	seen := make(map[key]struct{})
	var out []SampleIdentity
	for _, rw := range rows[1:] {
		id := field(rw.fields, idCol)
		project := field(rw.fields, projCol)
		if id == "" || project == "" {
			return nil, &SheetError{Path: path, Line: rw.line, Reason: "sample row requires Sample_ID and Sample_Project"}
		}
		if hasLane {
			if err := checkLane(field(rw.fields, laneCol)); err != nil {
				return nil, &SheetError{Path: path, Line: rw.line, Reason: err.Error(), Err: ErrInvalidLane}
			}
		}
		// The same sample may appear once per lane.
		k := key{id, project}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, SampleIdentity{SampleID: id, Project: project})
	}
	return out, nil
}

func readProjects(rows []row, path string) ([]Project, error) {
	if len(rows) == 0 {
		return nil, &SheetError{Path: path, Reason: "[Bioinformatics] section is empty"}
	}
	header := rows[0].fields
	cols := columnIndex(header)
	projCol, ok := cols[colSampleProject]
	if !ok {
		return nil, &SheetError{Path: path, Line: rows[0].line, Reason: "[Bioinformatics] has no Sample_Project column"}
	}

	var out []Project
	for _, rw := range rows[1:] {
		p := Project{
			Name:   field(rw.fields, projCol),
			Flags:  make(map[string]bool),
			Fields: make(map[string]string),
		}
		if p.Name == "" {
			return nil, &SheetError{Path: path, Line: rw.line, Reason: "[Bioinformatics] row has no Sample_Project"}
		}
		if _, dup := findProject(out, p.Name); dup {
			return nil, &SheetError{Path: path, Line: rw.line, Reason: fmt.Sprintf("duplicate [Bioinformatics] row for %q", p.Name)}
		}
		for i, name := range header {
			if i == projCol {
				continue
			}
			name = strings.TrimSpace(name)
			val := field(rw.fields, i)
			if b, ok := parseBool(val); ok {
				p.Flags[name] = b
				continue
			}
			p.Fields[name] = val
		}
		p.ForwardAdapter = p.Fields[colForwardAdapter]
		p.ReverseAdapter = p.Fields[colReverseAdapter]
		p.HumanFiltering = p.Flags[colHumanFiltering]
		out = append(out, p)
	}
	return out, nil
}

func findProject(ps []Project, name string) (Project, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}

// parseBool converts true/yes and false/no (any case) to booleans.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	}
	return false, false
}

func checkLane(s string) error {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("'%s' is not a valid lane number", s)
	}
	if n < 1 || n > 8 {
		return fmt.Errorf("'%d' is not a valid lane number", n)
	}
	return nil
}

func columnIndex(header []string) map[string]int {
	out := make(map[string]int, len(header))
	for i, h := range header {
		out[strings.TrimSpace(h)] = i
	}
	return out
}

func field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func trimTrailingEmpty(rec []string) []string {
	end := len(rec)
	for end > 0 && strings.TrimSpace(rec[end-1]) == "" {
		end--
	}
	return rec[:end]
}
