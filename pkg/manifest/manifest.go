// Package manifest provides loading and validation of seqorch run manifests.
//
// A run manifest is a YAML or JSON file describing one QC orchestration run:
// where the run and its sample sheet live, where products go, which scheduler
// and resources to use, tool paths, the quarantine threshold and where the
// run report is published.
//
// Manifests are validated against an embedded JSON Schema before use. The
// schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	run:
//	  run_dir: /sequencing/runs/230101_A00953_0001
//	  products_dir: /sequencing/products/230101_A00953_0001/QCJob
//	  sample_sheet: /sequencing/runs/230101_A00953_0001/sheet.csv
//	  qiita_job_id: abc123
//	scheduler:
//	  kind: torque
//	  queue: qiita
//	  node_count: 1
//	  nprocs: 16
//	  wall_time_hours: 24
//	  memory: 8gb
//	  pool_size: 30
//	  modules_to_load: [fastp_0.20.1, samtools_1.12, minimap2_2.18]
//	tools:
//	  mmi_db: /databases/human-phix-db.mmi
//	quarantine:
//	  min_bytes: 500
package manifest

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest represents a validated run manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	Run        RunConfig        `json:"run" yaml:"run"`
	Fastq      FastqConfig      `json:"fastq,omitempty" yaml:"fastq,omitempty"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Tools      ToolsConfig      `json:"tools,omitempty" yaml:"tools,omitempty"`
	Quarantine QuarantineConfig `json:"quarantine,omitempty" yaml:"quarantine,omitempty"`
	Pipeline   PipelineConfig   `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Report     ReportConfig     `json:"report,omitempty" yaml:"report,omitempty"`
}

// RunConfig locates the run's inputs and outputs.
type RunConfig struct {
	// RunDir is the sequencing run root. FASTQ files are read from
	// <run_dir>/Data/Fastq/<project>/ and command tables are written here.
	RunDir string `json:"run_dir" yaml:"run_dir"`

	// ProductsDir receives <project>/filtered_sequences and
	// <project>/zero_files.
	ProductsDir string `json:"products_dir" yaml:"products_dir"`

	// OutputDir receives job scripts and scheduler logs. Default: ProductsDir.
	OutputDir string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`

	SampleSheet string `json:"sample_sheet" yaml:"sample_sheet"`
	QiitaJobID  string `json:"qiita_job_id,omitempty" yaml:"qiita_job_id,omitempty"`

	// TablePrefix names command tables. Default: "split_file_".
	TablePrefix string `json:"table_prefix,omitempty" yaml:"table_prefix,omitempty"`

	// JobsDir holds job registry records. Default: <output_dir>/.seqorch/jobs.
	JobsDir string `json:"jobs_dir,omitempty" yaml:"jobs_dir,omitempty"`
}

// FastqConfig tunes FASTQ discovery.
type FastqConfig struct {
	// Excludes are glob patterns, relative to the project directory, of
	// files to ignore.
	Excludes      []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	IncludeHidden bool     `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`
}

// SchedulerConfig selects the scheduler and the resources every array task
// requests.
type SchedulerConfig struct {
	// Kind is torque (default), slurm or local.
	Kind          string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Queue         string `json:"queue" yaml:"queue"`
	NodeCount     int    `json:"node_count" yaml:"node_count"`
	NProcs        int    `json:"nprocs" yaml:"nprocs"`
	WallTimeHours int    `json:"wall_time_hours" yaml:"wall_time_hours"`
	Memory        string `json:"memory" yaml:"memory"`

	// PoolSize caps concurrently running array tasks. 0 means no cap.
	PoolSize      int      `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	ModulesToLoad []string `json:"modules_to_load,omitempty" yaml:"modules_to_load,omitempty"`

	// PollInterval is a Go duration string. Default: "30s".
	PollInterval string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`

	// Shell runs scripts for the local scheduler. Default: bash.
	Shell string `json:"shell,omitempty" yaml:"shell,omitempty"`

	// FailureLogLines, when positive, attaches that many trailing stderr
	// lines of each failed task to the job failure.
	FailureLogLines int `json:"failure_log_lines,omitempty" yaml:"failure_log_lines,omitempty"`
}

// ToolsConfig holds executable paths used in QC commands.
type ToolsConfig struct {
	Fastp    string `json:"fastp,omitempty" yaml:"fastp,omitempty"`
	Minimap2 string `json:"minimap2,omitempty" yaml:"minimap2,omitempty"`
	Samtools string `json:"samtools,omitempty" yaml:"samtools,omitempty"`
	MMIDB    string `json:"mmi_db,omitempty" yaml:"mmi_db,omitempty"`

	// CommandTemplate overrides the per-pair command template.
	CommandTemplate string `json:"command_template,omitempty" yaml:"command_template,omitempty"`
}

// QuarantineConfig configures output quarantine.
type QuarantineConfig struct {
	// MinBytes accepts raw byte counts or humanized sizes ("1KB", "1KiB").
	// Default: 500.
	MinBytes Threshold `json:"min_bytes,omitempty" yaml:"min_bytes,omitempty"`
}

// PipelineConfig configures the project loop.
type PipelineConfig struct {
	// ProjectWorkers bounds how many projects run at once. Default: 1.
	ProjectWorkers int `json:"project_workers,omitempty" yaml:"project_workers,omitempty"`

	// Strict makes a project with no read files a fatal error.
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty"`

	// Projects restricts the run to these sample-sheet projects.
	Projects []string `json:"projects,omitempty" yaml:"projects,omitempty"`
}

// ReportConfig configures where the JSONL run report goes.
type ReportConfig struct {
	// Destination is "stdout", a local path or an s3://bucket/key URI.
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Profile  string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// Threshold is a byte size written either as a number or a string.
type Threshold string

// UnmarshalJSON accepts 500 or "500".
func (t *Threshold) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Threshold(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("min_bytes must be a number or size string: %w", err)
	}
	*t = Threshold(n.String())
	return nil
}

// UnmarshalYAML accepts any scalar.
func (t *Threshold) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("min_bytes must be a scalar")
	}
	*t = Threshold(node.Value)
	return nil
}

// MarshalJSON emits plain integers as numbers so the value round-trips
// through schema validation.
func (t Threshold) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(t), 10, 64); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(t))
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultSchedulerKind is used when scheduler.kind is empty.
	DefaultSchedulerKind = "torque"

	// DefaultPollInterval is the default scheduler status poll interval.
	DefaultPollInterval = "30s"

	// DefaultMinBytes is the default quarantine threshold.
	DefaultMinBytes = "500"

	// DefaultProjectWorkers processes projects one at a time.
	DefaultProjectWorkers = 1

	// DefaultDestination is the default report destination.
	DefaultDestination = "stdout"

	// DefaultTool* are the executables looked up on PATH.
	DefaultToolFastp    = "fastp"
	DefaultToolMinimap2 = "minimap2"
	DefaultToolSamtools = "samtools"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest.
func (m *Manifest) ApplyDefaults() {
	if m.Run.OutputDir == "" {
		m.Run.OutputDir = m.Run.ProductsDir
	}
	if m.Run.JobsDir == "" && m.Run.OutputDir != "" {
		m.Run.JobsDir = filepath.Join(m.Run.OutputDir, ".seqorch", "jobs")
	}

	if m.Scheduler.Kind == "" {
		m.Scheduler.Kind = DefaultSchedulerKind
	}
	if m.Scheduler.PollInterval == "" {
		m.Scheduler.PollInterval = DefaultPollInterval
	}

	if m.Tools.Fastp == "" {
		m.Tools.Fastp = DefaultToolFastp
	}
	if m.Tools.Minimap2 == "" {
		m.Tools.Minimap2 = DefaultToolMinimap2
	}
	if m.Tools.Samtools == "" {
		m.Tools.Samtools = DefaultToolSamtools
	}

	if strings.TrimSpace(string(m.Quarantine.MinBytes)) == "" {
		m.Quarantine.MinBytes = DefaultMinBytes
	}
	if m.Pipeline.ProjectWorkers == 0 {
		m.Pipeline.ProjectWorkers = DefaultProjectWorkers
	}
	if m.Report.Destination == "" {
		m.Report.Destination = DefaultDestination
	}
}

// PollIntervalDuration parses Scheduler.PollInterval.
func (s SchedulerConfig) PollIntervalDuration() (time.Duration, error) {
	if s.PollInterval == "" {
		s.PollInterval = DefaultPollInterval
	}
	d, err := time.ParseDuration(s.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("scheduler.poll_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("scheduler.poll_interval must be positive")
	}
	return d, nil
}

// Wants reports whether project is selected by Pipeline.Projects. An empty
// list selects every project.
func (p PipelineConfig) Wants(project string) bool {
	if len(p.Projects) == 0 {
		return true
	}
	for _, name := range p.Projects {
		if name == project {
			return true
		}
	}
	return false
}
