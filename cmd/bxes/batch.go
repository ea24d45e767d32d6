package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/bxes/internal/logging"
	"github.com/logflow/bxes/pkg/telemetry"
	"github.com/logflow/bxes/pkg/tui"
	"github.com/logflow/bxes/pkg/watch"
)

// Batch command flags
var (
	batchOutputDir  string
	parallelWorkers int
	failFast        bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <input>...",
	Short: "Encode many XES files in parallel",
	Long: `Encode XES files to single-file bxes archives concurrently. Inputs may be
files, directories (searched for *.xes) or glob patterns.

Examples:
  bxes batch logs/ --output-dir out/
  bxes batch "data/*.xes" --workers 8 --fail-fast`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchOutputDir, "output-dir", "o", "", "Output directory (default: next to each input)")
	batchCmd.Flags().IntVarP(&parallelWorkers, "workers", "w", 0, "Parallel workers (default from config, then CPU count)")
	batchCmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop on the first failure")

	rootCmd.AddCommand(batchCmd)
}

// collectInputs expands files, directories and glob patterns into a sorted
// list of XES files.
func collectInputs(args []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	add := func(p string) {
		if strings.EqualFold(filepath.Ext(p), ".xes") && !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err == nil && info.IsDir():
			entries, err := os.ReadDir(arg)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if !e.IsDir() {
					add(filepath.Join(arg, e.Name()))
				}
			}
		case err == nil:
			add(arg)
		default:
			matches, gerr := filepath.Glob(arg)
			if gerr != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", arg, gerr)
			}
			for _, m := range matches {
				add(m)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

type batchFailure struct {
	path string
	err  error
}

func runBatch(cmd *cobra.Command, args []string) error {
	inputFiles, err := collectInputs(args)
	if err != nil {
		return err
	}
	if len(inputFiles) == 0 {
		return fmt.Errorf("no input files found")
	}

	if batchOutputDir != "" {
		if err := os.MkdirAll(batchOutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	workers := parallelWorkers
	if workers == 0 {
		workers = cfg.Codec.Workers
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Converting %d files with %d workers...\n\n", len(inputFiles), workers)

	conv := &watch.Converter{
		OutputDir: batchOutputDir,
		Version:   cfg.Codec.Version,
		Collapse:  true,
		Log:       logging.Log().V(1),
	}

	bar := tui.ShowProgress(cmd.ErrOrStderr(), int64(len(inputFiles)), "encoding")

	var (
		mu        sync.Mutex
		failures  []batchFailure
		succeeded atomic.Int64
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(workers)
	startTime := time.Now()

	for _, inputPath := range inputFiles {
		inputPath := inputPath
		g.Go(func() error {
			err := telemetry.Run(ctx, "bxes.batch.file", func(ctx context.Context) error {
				return conv.Handle(ctx, inputPath)
			}, telemetry.KeyPath.String(inputPath))
			bar.Add(1)

			if err != nil {
				mu.Lock()
				failures = append(failures, batchFailure{inputPath, err})
				mu.Unlock()
				if failFast {
					return fmt.Errorf("%s: %w", inputPath, err)
				}
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}

	err = g.Wait()
	bar.Finish()
	totalDuration := time.Since(startTime)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "=== Batch Conversion Complete ===\n\n")
	fmt.Fprintf(out, "  Total files: %d\n", len(inputFiles))
	fmt.Fprintf(out, "  Succeeded:   %d\n", succeeded.Load())
	fmt.Fprintf(out, "  Failed:      %d\n", len(failures))
	fmt.Fprintf(out, "  Duration:    %s\n", tui.FormatDuration(totalDuration))

	if len(failures) > 0 {
		fmt.Fprintln(out, "\nErrors:")
		for _, f := range failures {
			tui.PrintFailure(out, filepath.Base(f.path), f.err)
		}
	}

	if err != nil {
		return fmt.Errorf("batch conversion failed: %w", err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d files failed to convert", len(failures))
	}
	return nil
}
