package jobscript

import (
	"fmt"
	"strings"
)

// Dialect renders scheduler-specific directives.
type Dialect interface {
	// Name identifies the dialect ("torque", "slurm").
	Name() string

	// ArrayVar is the shell variable holding the task's array index.
	ArrayVar() string

	// JobIDVar is the shell variable holding the scheduler job id.
	JobIDVar() string

	// Directives returns the header lines for the given resources.
	Directives(r Resources) []string
}

// Resources are the values a dialect turns into directives.
type Resources struct {
	JobName       string
	Queue         string
	NodeCount     int
	NProcs        int
	WallTimeHours int
	Memory        string
	OutputLog     string
	ErrorLog      string
	Tasks         int
	Concurrency   int
}

// Supported dialect names.
const (
	DialectTorque = "torque"
	DialectSlurm  = "slurm"
)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DialectTorque, "pbs", "":
		return Torque{}, nil
	case DialectSlurm:
		return Slurm{}, nil
	default:
		return nil, fmt.Errorf("unsupported scheduler dialect: %s", name)
	}
}

// Torque renders #PBS directives.
type Torque struct{}

func (Torque) Name() string     { return DialectTorque }
func (Torque) ArrayVar() string { return "PBS_ARRAYID" }
func (Torque) JobIDVar() string { return "PBS_JOBID" }

func (Torque) Directives(r Resources) []string {
	return []string{
		fmt.Sprintf("#PBS -N %s", r.JobName),
		// what torque calls a queue, slurm calls a partition
		fmt.Sprintf("#PBS -q %s", r.Queue),
		fmt.Sprintf("#PBS -l nodes=%d:ppn=%d", r.NodeCount, r.NProcs),
		"#PBS -V",
		fmt.Sprintf("#PBS -l walltime=%d:00:00", r.WallTimeHours),
		fmt.Sprintf("#PBS -l mem=%s", r.Memory),
		fmt.Sprintf("#PBS -o localhost:%s.${PBS_ARRAYID}", r.OutputLog),
		fmt.Sprintf("#PBS -e localhost:%s.${PBS_ARRAYID}", r.ErrorLog),
		fmt.Sprintf("#PBS -t 1-%d%%%d", r.Tasks, r.Concurrency),
	}
}

// Slurm renders #SBATCH directives.
type Slurm struct{}

func (Slurm) Name() string     { return DialectSlurm }
func (Slurm) ArrayVar() string { return "SLURM_ARRAY_TASK_ID" }
func (Slurm) JobIDVar() string { return "SLURM_ARRAY_JOB_ID" }

func (Slurm) Directives(r Resources) []string {
	return []string{
		fmt.Sprintf("#SBATCH --job-name %s", r.JobName),
		fmt.Sprintf("#SBATCH --partition %s", r.Queue),
		fmt.Sprintf("#SBATCH -N %d", r.NodeCount),
		fmt.Sprintf("#SBATCH -n %d", r.NProcs),
		"#SBATCH --export=ALL",
		fmt.Sprintf("#SBATCH --time %d:00:00", r.WallTimeHours),
		fmt.Sprintf("#SBATCH --mem %s", r.Memory),
		fmt.Sprintf("#SBATCH --output %s.%%a", r.OutputLog),
		fmt.Sprintf("#SBATCH --error %s.%%a", r.ErrorLog),
		fmt.Sprintf("#SBATCH --array 1-%d%%%d", r.Tasks, r.Concurrency),
	}
}
