package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/seqorch/internal/observability"
	"github.com/3leaps/seqorch/pkg/commandtable"
	"github.com/3leaps/seqorch/pkg/manifest"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Inspect and clean command tables",
	Long: `Command tables (<prefix><project>.array-details) map array task ids to
the command each task runs. Line N is the command for task N.`,
}

var tablesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove stale command tables from a run directory",
	Long: `Remove every command table under the run directory, recursively.

qc purges automatically before generating new tables; use this to clean up
after an aborted run.

Example:
  seqorch tables purge --run-dir /runs/230101_A00953
  seqorch tables purge --manifest run.yaml`,
	RunE: runTablesPurge,
}

var tablesShowCmd = &cobra.Command{
	Use:   "show <table>",
	Short: "Print a command table, or the command for one task",
	Long: `Print every line of a command table with its task id, or with --task
print only the command that array task would run.

Example:
  seqorch tables show /runs/r1/split_file_ProjectA_1.array-details
  seqorch tables show /runs/r1/split_file_ProjectA_1.array-details --task 3`,
	Args: cobra.ExactArgs(1),
	RunE: runTablesShow,
}

var (
	tablesRunDir   string
	tablesManifest string
	tablesPrefix   string
	tablesTask     int
)

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.AddCommand(tablesPurgeCmd)
	tablesCmd.AddCommand(tablesShowCmd)

	tablesPurgeCmd.Flags().StringVar(&tablesRunDir, "run-dir", "", "Run directory to clean")
	tablesPurgeCmd.Flags().StringVarP(&tablesManifest, "manifest", "m", "", "Take run dir and prefix from a run manifest")
	tablesPurgeCmd.Flags().StringVar(&tablesPrefix, "prefix", commandtable.DefaultPrefix, "Table file name prefix")

	tablesShowCmd.Flags().IntVar(&tablesTask, "task", 0, "Print only this task's command (1-based)")
}

func runTablesPurge(cmd *cobra.Command, _ []string) error {
	runDir, prefix := tablesRunDir, tablesPrefix
	if tablesManifest != "" {
		m, err := manifest.Load(tablesManifest)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		runDir = m.Run.RunDir
		if m.Run.TablePrefix != "" {
			prefix = m.Run.TablePrefix
		}
	}
	if strings.TrimSpace(runDir) == "" {
		return exitError(foundry.ExitInvalidArgument, "Missing run directory", fmt.Errorf("pass --run-dir or --manifest"))
	}

	removed, err := commandtable.Purge(runDir, prefix)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to purge command tables", err)
	}
	for _, p := range removed {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	observability.CLILogger.Info("Purged command tables",
		zap.String("run_dir", runDir),
		zap.String("prefix", prefix),
		zap.Int("removed", len(removed)))
	return nil
}

func runTablesShow(cmd *cobra.Command, args []string) error {
	t, err := commandtable.Read(args[0])
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read command table", err)
	}
	out := cmd.OutOrStdout()
	if tablesTask != 0 {
		line, err := t.Line(tablesTask)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --task value", err)
		}
		_, _ = fmt.Fprintln(out, line)
		return nil
	}
	for i, c := range t.Commands() {
		_, _ = fmt.Fprintf(out, "%d\t%s\n", i+1, c)
	}
	return nil
}
