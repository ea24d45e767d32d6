package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/bxes/internal/logging"
	"github.com/logflow/bxes/pkg/export"
	"github.com/logflow/bxes/pkg/telemetry"
	"github.com/logflow/bxes/pkg/tui"
	"github.com/logflow/bxes/pkg/watch"
)

// Export and watch flags
var (
	compressionFlag string
	batchSize       int
	watchOutput     string
	watchDebounce   time.Duration
)

var exportCmd = &cobra.Command{
	Use:   "export <input> <output.parquet>",
	Short: "Export a bxes log to Parquet, one row per event",
	Long: `Export a bxes log to Apache Parquet with one row per event: variant index,
trace count, trace name, event index, name, timestamp and the attributes as
JSON text.

Examples:
  bxes export log.bxes events.parquet
  bxes export --compression zstd --expand log.bxes events.parquet`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Encode XES files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	exportCmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")
	exportCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per record batch")
	exportCmd.Flags().BoolVar(&expandFlag, "expand", false, "Write each event once per trace instead of once per variant")

	watchCmd.Flags().StringVarP(&watchOutput, "output-dir", "o", "", "Output directory (default: next to each input)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Wait this long after the last write before converting")

	rootCmd.AddCommand(exportCmd, watchCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]

	ec := cfg.ExportOptions()
	if compressionFlag != "" {
		ec.Compression = export.ParseCompression(compressionFlag)
	}
	if batchSize > 0 {
		ec.BatchSize = batchSize
	}
	if expandFlag {
		ec.ExpandVariants = true
	}

	start := time.Now()
	var rows int64
	report := &tui.Report{Operation: "EXPORT"}

	err := telemetry.Run(cmd.Context(), "bxes.export", func(ctx context.Context) error {
		res, err := readBxes(in)
		if err != nil {
			return err
		}
		telemetry.AddLog(ctx, res.Log)
		report.Variants, report.Traces = len(res.Log.Variants), res.Log.TraceCount()

		rows, err = export.ExportFile(ctx, out, res.Log, ec)
		return err
	}, telemetry.KeyPath.String(in))
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	report.Events = rows
	report.InputSize, report.OutputSize, report.Duration = sizeOf(in), sizeOf(out), time.Since(start)
	tui.PrintReport(cmd.OutOrStdout(), report)
	logging.Log().V(1).Info("exported", "output", out, "compression", ec.Compression.String(), "rows", rows)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	output := watchOutput
	if output == "" {
		output = cfg.Watch.Output
	}
	debounce := watchDebounce
	if debounce == 0 {
		debounce = cfg.Watch.Debounce
	}

	if output != "" {
		if err := os.MkdirAll(output, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	log := logging.Log()
	w, err := watch.NewWatcher(args[0], ".xes", debounce, log)
	if err != nil {
		return err
	}

	conv := &watch.Converter{OutputDir: output, Version: cfg.Codec.Version, Collapse: true, Log: log}
	log.Info("watching", "dir", args[0], "output", output)

	return w.Run(cmd.Context(), func(ctx context.Context, path string) error {
		return telemetry.Run(ctx, "bxes.watch.file", func(ctx context.Context) error {
			return conv.Handle(ctx, path)
		}, telemetry.KeyPath.String(path))
	})
}
