package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/bxes/internal/logging"
	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/config"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/stream"
	"github.com/logflow/bxes/pkg/telemetry"
	"github.com/logflow/bxes/pkg/testing/roundtrip"
	"github.com/logflow/bxes/pkg/transform"
	"github.com/logflow/bxes/pkg/tui"
	"github.com/logflow/bxes/pkg/xes"
)

// Codec command flags
var (
	layoutFlag     string
	streamingFlag  bool
	collapseFlag   bool
	expandFlag     bool
	valueAttrFlags []string
	verifySeed     int64
	verifyVariants int
	anonymizeKeys  []string
	saltFlag       string
	sampleFlag     int
)

var encodeCmd = &cobra.Command{
	Use:   "encode <input.xes> <output>",
	Short: "Encode an XES log as bxes",
	Long: `Encode an XES log as a single-file archive or, with --layout multi, as a
directory of five section files.

Examples:
  bxes encode log.xes log.bxes
  bxes encode --layout multi log.xes out/
  bxes encode --stream --value-attr org:resource=string log.xes log.bxes`,
	Args: cobra.ExactArgs(2),
	RunE: runEncode,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <input> <output.xes>",
	Short: "Decode a bxes log to XES",
	Args:  cobra.ExactArgs(2),
	RunE:  runDecode,
}

var infoCmd = &cobra.Command{
	Use:   "info <input>",
	Short: "Display section statistics of a bxes log",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [input]",
	Short: "Round-trip a log through every layout",
	Long: `Encode and decode a log through every layout and compare the result with
the original. Without an input a random log is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

var splitCmd = &cobra.Command{
	Use:   "split <archive> <dir>",
	Short: "Convert a single-file archive to the multi-file layout",
	Args:  cobra.ExactArgs(2),
	RunE:  runSplit,
}

var mergeCmd = &cobra.Command{
	Use:   "merge <dir> <archive>",
	Short: "Convert a multi-file directory to a single-file archive",
	Args:  cobra.ExactArgs(2),
	RunE:  runMerge,
}

func init() {
	encodeCmd.Flags().StringVar(&layoutFlag, "layout", "", "Output layout: single or multi (default from config)")
	encodeCmd.Flags().BoolVar(&streamingFlag, "stream", false, "Encode trace by trace without loading the whole log")
	encodeCmd.Flags().BoolVar(&collapseFlag, "collapse", true, "Merge identical traces into variants (ignored with --stream)")
	encodeCmd.Flags().StringArrayVar(&valueAttrFlags, "value-attr", nil, "Store an attribute inline with every event (format: key=type)")
	encodeCmd.Flags().StringArrayVar(&anonymizeKeys, "anonymize", nil, "Hash the string values of this attribute (repeatable)")
	encodeCmd.Flags().StringVar(&saltFlag, "salt", "", "Salt for --anonymize")
	encodeCmd.Flags().IntVar(&sampleFlag, "sample", 0, "Keep a random sample of this many variants")

	decodeCmd.Flags().BoolVar(&expandFlag, "expand", false, "Write one trace per variant occurrence")

	verifyCmd.Flags().Int64Var(&verifySeed, "seed", 1, "Seed for the generated log")
	verifyCmd.Flags().IntVar(&verifyVariants, "variants", 50, "Variants in the generated log")
	verifyCmd.Flags().StringArrayVar(&valueAttrFlags, "value-attr", nil, "Inline attribute descriptors (format: key=type)")

	rootCmd.AddCommand(encodeCmd, decodeCmd, infoCmd, verifyCmd, splitCmd, mergeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	layout := layoutFlag
	if layout == "" {
		layout = cfg.Codec.Layout
	}
	if layout != config.LayoutSingle && layout != config.LayoutMulti {
		return fmt.Errorf("unknown layout %q", layout)
	}
	sys, err := parseValueAttrs(valueAttrFlags)
	if err != nil {
		return err
	}

	if sampleFlag > 0 && (streamingFlag || cfg.Codec.Streaming) {
		return fmt.Errorf("--sample needs the whole log and cannot be used with --stream")
	}
	var anon *transform.Anonymizer
	if len(anonymizeKeys) > 0 {
		anon = transform.NewAnonymizer(saltFlag, anonymizeKeys...)
	}

	start := time.Now()
	report := &tui.Report{Operation: "ENCODE"}

	err = telemetry.Run(cmd.Context(), "bxes.encode", func(ctx context.Context) error {
		if streamingFlag || cfg.Codec.Streaming {
			return encodeStreaming(ctx, in, out, layout, sys, anon, report)
		}

		log, err := xes.ReadFile(ctx, in, xes.ReadOptions{CollapseVariants: collapseFlag, Version: cfg.Codec.Version})
		if err != nil {
			return err
		}
		if sampleFlag > 0 {
			transform.SampleLog(log, sampleFlag, time.Now().UnixNano())
		}
		if anon != nil {
			n := anon.Log(log)
			logging.Log().V(1).Info("anonymized", "attributes", n)
		}
		telemetry.AddLog(ctx, log)
		report.Variants, report.Events, report.Traces = len(log.Variants), int64(log.EventCount()), log.TraceCount()

		if layout == config.LayoutMulti {
			if err := os.MkdirAll(out, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			return codec.WriteMultipleFiles(out, log, sys)
		}
		return codec.WriteSingleFile(out, log, sys)
	}, telemetry.KeyPath.String(in), telemetry.KeyLayout.String(layout))
	if err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}

	report.InputSize, report.OutputSize, report.Duration = sizeOf(in), sizeOf(out), time.Since(start)
	tui.PrintReport(cmd.OutOrStdout(), report)
	return nil
}

// streamWriter is implemented by the incremental file writers.
type streamWriter interface {
	Handle(ctx context.Context, ev stream.Event) error
	Close() error
}

func encodeStreaming(ctx context.Context, in, out, layout string, sys *model.SystemMetadata, anon *transform.Anonymizer, report *tui.Report) error {
	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("input does not exist: %s", in)
	}
	defer f.Close()

	var w streamWriter
	if layout == config.LayoutMulti {
		if err := os.MkdirAll(out, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		w, err = stream.NewFileWriter(out, cfg.Codec.Version, sys)
	} else {
		w, err = stream.NewSingleFileWriter(out, cfg.Codec.Version, sys)
	}
	if err != nil {
		return err
	}

	err = xes.Scan(ctx, f, func(ev stream.Event) error {
		switch ev := ev.(type) {
		case stream.TraceVariantStart:
			report.Variants++
			report.Traces += uint64(ev.Count)
			if anon != nil {
				anon.Attributes(ev.Metadata)
			}
		case stream.TraceEvent:
			report.Events++
			if anon != nil {
				anon.Attributes(ev.Event.Attributes)
			}
		}
		return w.Handle(ctx, ev)
	})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		removeOutput(out, layout)
		return err
	}
	logging.Log().V(1).Info("streamed", "input", in, "variants", report.Variants, "events", report.Events)
	return nil
}

func removeOutput(out, layout string) {
	if layout == config.LayoutSingle {
		os.Remove(out)
		return
	}
	for _, name := range codec.MultiFileNames {
		os.Remove(filepath.Join(out, name))
	}
}

func runDecode(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	start := time.Now()

	var log *model.EventLog
	err := telemetry.Run(cmd.Context(), "bxes.decode", func(ctx context.Context) error {
		res, err := readBxes(in)
		if err != nil {
			return err
		}
		log = res.Log
		telemetry.AddLog(ctx, log)
		return xes.WriteFile(out, log, xes.WriteOptions{ExpandVariants: expandFlag})
	}, telemetry.KeyPath.String(in))
	if err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}

	tui.PrintReport(cmd.OutOrStdout(), &tui.Report{
		Operation:  "DECODE",
		Variants:   len(log.Variants),
		Events:     int64(log.EventCount()),
		Traces:     log.TraceCount(),
		InputSize:  sizeOf(in),
		OutputSize: sizeOf(out),
		Duration:   time.Since(start),
	})
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	var stats *codec.Stats
	err := telemetry.Run(cmd.Context(), "bxes.inspect", func(ctx context.Context) error {
		var err error
		stats, err = codec.Inspect(args[0])
		if err == nil {
			telemetry.AddStats(ctx, stats)
		}
		return err
	}, telemetry.KeyPath.String(args[0]))
	if err != nil {
		return err
	}
	tui.PrintStats(cmd.OutOrStdout(), args[0], stats)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	sys, err := parseValueAttrs(valueAttrFlags)
	if err != nil {
		return err
	}

	tc := roundtrip.TestCase{SystemMetadata: sys, Seed: verifySeed, Variants: verifyVariants}
	if len(args) == 1 {
		res, err := readBxes(args[0])
		if err != nil {
			return err
		}
		tc.Log = res.Log
		if len(sys.ValueAttributes) == 0 {
			tc.SystemMetadata = &res.SystemMetadata
		}
	}

	failed := 0
	w := cmd.OutOrStdout()
	for _, layout := range roundtrip.Layouts() {
		tc.Name, tc.Layout = string(layout), layout
		var r *roundtrip.Result
		telemetry.Run(cmd.Context(), "bxes.verify", func(ctx context.Context) error {
			r = roundtrip.Run(ctx, tc)
			return r.Error
		}, telemetry.KeyLayout.String(string(layout)))

		if !r.Success {
			failed++
			tui.PrintFailure(w, string(layout), r.Error)
			continue
		}
		fmt.Fprintf(w, "  ✓ %-16s %d variants, %d events, %s\n", layout, r.Variants, r.Events, tui.FormatBytes(r.BytesWritten))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d layouts failed", failed, len(roundtrip.Layouts()))
	}
	return nil
}

func runSplit(cmd *cobra.Command, args []string) error {
	return telemetry.Run(cmd.Context(), "bxes.split", func(ctx context.Context) error {
		res, err := codec.ReadSingleFile(args[0])
		if err != nil {
			return err
		}
		telemetry.AddLog(ctx, res.Log)
		if err := os.MkdirAll(args[1], 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		return codec.WriteMultipleFiles(args[1], res.Log, &res.SystemMetadata)
	}, telemetry.KeyPath.String(args[0]))
}

func runMerge(cmd *cobra.Command, args []string) error {
	return telemetry.Run(cmd.Context(), "bxes.merge", func(ctx context.Context) error {
		res, err := codec.ReadMultipleFiles(args[0])
		if err != nil {
			return err
		}
		telemetry.AddLog(ctx, res.Log)
		return codec.WriteSingleFile(args[1], res.Log, &res.SystemMetadata)
	}, telemetry.KeyPath.String(args[0]))
}
