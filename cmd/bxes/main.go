// bxes converts process-mining event logs between XES and the bxes binary
// format, and moves bxes logs through Redis streams and S3.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logflow/bxes/internal/logging"
	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/config"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	verbosity   int
	configFile  string
	versionFlag uint32
)

var (
	cfg      *config.Config
	shutdown telemetry.ShutdownFunc
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bxes",
	Short: "bxes - binary event logs",
	Long: `bxes encodes process-mining event logs in a compact binary format.

Logs are read from and written to XES, stored as a single zip archive or as
five section files, streamed record by record over Redis, kept in S3 and
exported to Parquet.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdown == nil {
			return nil
		}
		return shutdown(context.Background())
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: system, user and project locations)")
	rootCmd.PersistentFlags().Uint32Var(&versionFlag, "format-version", 0, "bxes format version (default from config)")
}

func setup(cmd *cobra.Command, args []string) error {
	logging.Init(verbosity)

	var m *config.Manager
	if configFile != "" {
		m = config.NewManager(configFile)
	} else {
		m = config.NewManager()
	}
	if err := m.Load(); err != nil {
		return err
	}
	cfg = m.Get()
	if versionFlag != 0 {
		cfg.Codec.Version = versionFlag
	}
	logging.Log().V(1).Info("config loaded", "paths", m.GetPaths(), "version", cfg.Codec.Version)

	var err error
	shutdown, err = telemetry.Init(cmd.Context(), cfg.TelemetryOptions())
	return err
}

// parseValueAttrs parses key=type descriptors, e.g. org:resource=string.
func parseValueAttrs(specs []string) (*model.SystemMetadata, error) {
	sys := &model.SystemMetadata{}
	for _, s := range specs {
		name, typ, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid value attribute %q, want key=type", s)
		}
		id, ok := model.ParseTypeID(typ)
		if !ok {
			return nil, fmt.Errorf("unknown type %q in value attribute %q", typ, s)
		}
		sys.ValueAttributes = append(sys.ValueAttributes, model.ValueAttributeDescriptor{TypeID: id, Name: name})
	}
	return sys, nil
}

// readBxes reads a single-file archive or a multi-file directory.
func readBxes(path string) (*codec.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input does not exist: %s", path)
	}
	if info.IsDir() {
		return codec.ReadMultipleFiles(path)
	}
	return codec.ReadSingleFile(path)
}

// sizeOf returns the size of a file, or the summed size of the section files
// in a directory.
func sizeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var n int64
	for _, name := range codec.MultiFileNames {
		if fi, err := os.Stat(filepath.Join(path, name)); err == nil {
			n += fi.Size()
		}
	}
	return n
}
