package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/seqorch/internal/observability"
	"github.com/3leaps/seqorch/pkg/output"
	"github.com/3leaps/seqorch/pkg/quarantine"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine <filtered_dir>",
	Short: "Move undersized output pairs out of a filtered-output directory",
	Long: `Move read pairs whose mate-1 or mate-2 file is at or below the size
threshold into a quarantine directory. Pairs are found by replacing _R1_
with _R2_ in each mate-1 name; a missing mate-2 counts as undersized.

The quarantine directory defaults to zero_files next to <filtered_dir> and
is created only when something qualifies. Running the command again moves
nothing. One JSONL quarantine record is written per moved pair.

Example:
  seqorch quarantine /products/ProjectA_1/filtered_sequences
  seqorch quarantine ./filtered_sequences --min-bytes 1KiB --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runQuarantine,
}

var (
	quarantineTo       string
	quarantineMinBytes string
	quarantineDryRun   bool
)

func init() {
	rootCmd.AddCommand(quarantineCmd)

	quarantineCmd.Flags().StringVar(&quarantineTo, "to", "", "Quarantine directory (default: <filtered_dir>/../zero_files)")
	quarantineCmd.Flags().StringVar(&quarantineMinBytes, "min-bytes", "500", "Size threshold, e.g. 500, 1KB, 1KiB")
	quarantineCmd.Flags().BoolVar(&quarantineDryRun, "dry-run", false, "List qualifying pairs without moving them")
}

func runQuarantine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := filepath.Clean(args[0])

	minBytes, err := quarantine.ParseThreshold(quarantineMinBytes)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --min-bytes value", err)
	}
	dest := quarantineTo
	if dest == "" {
		dest = filepath.Join(filepath.Dir(dir), quarantine.DirName)
	}
	project := filepath.Base(filepath.Dir(dir))

	q := quarantine.New(minBytes, observability.CLILogger)
	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), "")
	defer func() { _ = w.Close() }()

	var entries []quarantine.Entry
	if quarantineDryRun {
		entries, err = q.Scan(dir)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to scan output directory", err)
		}
		for _, e := range entries {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\t%s (%s)\n",
				e.Mate1, humanize.IBytes(uint64(e.Mate1Size)),
				e.Mate2, mate2Size(e))
		}
		observability.CLILogger.Info("Dry run: nothing moved",
			zap.String("dir", dir),
			zap.Int("pairs", len(entries)),
			zap.Int64("min_bytes", minBytes))
		return nil
	}

	res, err := q.Run(ctx, dir, dest)
	if res != nil {
		moved := make(map[string]bool, len(res.Moved))
		for _, m := range res.Moved {
			moved[m] = true
		}
		for _, e := range res.Entries {
			if !moved[filepath.Join(dest, filepath.Base(e.Mate1))] {
				continue
			}
			if werr := w.WriteQuarantine(ctx, &output.QuarantineRecord{
				Project:     project,
				Mate1:       e.Mate1,
				Mate2:       e.Mate2,
				Mate1Size:   e.Mate1Size,
				Mate2Size:   e.Mate2Size,
				Mate2Found:  e.Mate2Found,
				Destination: dest,
			}); werr != nil {
				observability.CLILogger.Warn("Failed to write quarantine record", zap.Error(werr))
			}
		}
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Quarantine failed", err)
	}

	observability.CLILogger.Info("Quarantine complete",
		zap.String("dir", dir),
		zap.String("destination", dest),
		zap.Int("files_moved", len(res.Moved)))
	return nil
}

func mate2Size(e quarantine.Entry) string {
	if !e.Mate2Found {
		return "missing"
	}
	return humanize.IBytes(uint64(e.Mate2Size))
}
