// Package samplesheet reads sequencing-run sample sheets into the per-project
// metadata the QC orchestrator consumes.
//
// A sample sheet is a sectioned CSV file:
//
//	[Header]
//	Assay,Metagenomics
//	chemistry,Default
//	[Data]
//	Sample_ID,Sample_Name,Sample_Project,Lane
//	S1,S1,ProjectA_1,1
//	[Bioinformatics]
//	Sample_Project,ForwardAdapter,ReverseAdapter,HumanFiltering
//	ProjectA_1,AACC,GGTT,TRUE
//
// Only the structure needed by the orchestrator is checked here. Column-level
// validation of sheet content belongs to the tooling that authors the sheet.
package samplesheet

import (
	"errors"
	"fmt"
	"sort"
)

// Assay names recognised in the [Header] section.
const (
	AssayMetagenomics        = "Metagenomics"
	AssayMetatranscriptomics = "Metatranscriptomics"
	AssayAmplicon            = "TruSeq HT"
)

// AssayTypes lists the assays a sheet may declare.
var AssayTypes = []string{AssayMetagenomics, AssayMetatranscriptomics, AssayAmplicon}

// Errors returned while reading a sheet.
var (
	// ErrInvalidSheet indicates the sheet is structurally unusable.
	ErrInvalidSheet = errors.New("sample sheet is not valid")

	// ErrUnknownAssay indicates the [Header] Assay value is not recognised.
	ErrUnknownAssay = errors.New("assay value is not recognized")

	// ErrInvalidLane indicates a lane number outside 1..8.
	ErrInvalidLane = errors.New("invalid lane number")
)

// SheetError describes why a sheet was rejected.
type SheetError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *SheetError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("sample sheet %s: line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("sample sheet %s: %s", e.Path, e.Reason)
}

func (e *SheetError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidSheet
}

// SampleIdentity pairs a sample id with the project it belongs to.
type SampleIdentity struct {
	SampleID string
	Project  string
}

// Project holds the [Bioinformatics] row for one project.
type Project struct {
	Name           string
	ForwardAdapter string
	ReverseAdapter string
	HumanFiltering bool

	// Flags holds every boolean-valued column (true/yes/false/no), keyed by
	// column name, including HumanFiltering.
	Flags map[string]bool

	// Fields holds the remaining columns verbatim.
	Fields map[string]string
}

// Sheet is the parsed content of a sample sheet.
type Sheet struct {
	Path                 string
	Header               map[string]string
	Chemistry            string
	Assay                string
	NeedsAdapterTrimming bool
	Projects             []Project
	Samples              []SampleIdentity
}

// Provider parses a sample sheet from disk.
type Provider interface {
	Parse(path string) (*Sheet, error)
}

// Project returns the project record with the given name.
func (s *Sheet) Project(name string) (Project, bool) {
	for _, p := range s.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}

// SampleIDs returns the sorted sample ids belonging to project.
func (s *Sheet) SampleIDs(project string) []string {
	return SampleIDsFor(s.Samples, project)
}

// SampleIDsFor filters identities to one project and returns the sorted,
// de-duplicated sample ids.
func SampleIDsFor(identities []SampleIdentity, project string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range identities {
		if id.Project != project {
			continue
		}
		if _, ok := seen[id.SampleID]; ok {
			continue
		}
		seen[id.SampleID] = struct{}{}
		out = append(out, id.SampleID)
	}
	sort.Strings(out)
	return out
}
