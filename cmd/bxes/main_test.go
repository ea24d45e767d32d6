package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/testing/generators"
	"github.com/logflow/bxes/pkg/xes"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("codec:\n  version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores every flag to its default between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func writeSampleXES(t *testing.T, dir string) string {
	t.Helper()
	log := generators.NewLogGenerator(11).Generate(1)
	path := filepath.Join(dir, "sample.xes")
	if err := xes.WriteFile(path, log, xes.WriteOptions{ExpandVariants: true}); err != nil {
		t.Fatalf("xes.WriteFile() error: %v", err)
	}
	return path
}

func TestCLI_EncodeDecode(t *testing.T) {
	dir := t.TempDir()
	in := writeSampleXES(t, dir)
	archive := filepath.Join(dir, "sample.bxes")
	streamed := filepath.Join(dir, "streamed.bxes")
	multi := filepath.Join(dir, "multi")
	merged := filepath.Join(dir, "merged.bxes")
	back := filepath.Join(dir, "back.xes")

	steps := [][]string{
		{"encode", in, archive},
		{"encode", "--stream", "--value-attr", "org:resource=string", in, streamed},
		{"split", archive, multi},
		{"merge", multi, merged},
		{"decode", "--expand=false", merged, back},
	}
	for _, args := range steps {
		if out, err := execute(t, args...); err != nil {
			t.Fatalf("%v error: %v\n%s", args, err, out)
		}
	}

	want, err := codec.ReadSingleFile(archive)
	if err != nil {
		t.Fatalf("ReadSingleFile() error: %v", err)
	}
	got, err := codec.ReadSingleFile(merged)
	if err != nil {
		t.Fatalf("ReadSingleFile(merged) error: %v", err)
	}
	if !got.Log.Equal(want.Log) {
		t.Error("merged log differs from the encoded archive")
	}

	s, err := codec.ReadSingleFile(streamed)
	if err != nil {
		t.Fatalf("ReadSingleFile(streamed) error: %v", err)
	}
	if s.Log.TraceCount() != want.Log.TraceCount() {
		t.Errorf("streamed TraceCount() = %d, want %d", s.Log.TraceCount(), want.Log.TraceCount())
	}
	if len(s.SystemMetadata.ValueAttributes) != 1 {
		t.Errorf("streamed descriptors = %v", s.SystemMetadata.ValueAttributes)
	}

	decoded, err := xes.ReadFile(context.Background(), back, xes.ReadOptions{Version: 1})
	if err != nil {
		t.Fatalf("xes.ReadFile() error: %v", err)
	}
	if len(decoded.Variants) != len(want.Log.Variants) {
		t.Errorf("decoded %d traces, want %d", len(decoded.Variants), len(want.Log.Variants))
	}
}

func TestCLI_EncodeSampleAnonymize(t *testing.T) {
	dir := t.TempDir()
	in := writeSampleXES(t, dir)
	out := filepath.Join(dir, "sampled.bxes")

	if o, err := execute(t, "encode", "--sample", "3", "--anonymize", "org:resource", "--salt", "x", in, out); err != nil {
		t.Fatalf("encode error: %v\n%s", err, o)
	}
	res, err := codec.ReadSingleFile(out)
	if err != nil {
		t.Fatalf("ReadSingleFile() error: %v", err)
	}
	if len(res.Log.Variants) > 3 {
		t.Errorf("len(Variants) = %d, want at most 3", len(res.Log.Variants))
	}
	for _, v := range res.Log.Variants {
		for _, e := range v.Events {
			r, ok := e.Attribute("org:resource")
			if ok && len(r.String()) != 16 {
				t.Errorf("org:resource %q not anonymized", r.String())
			}
		}
	}

	if _, err := execute(t, "encode", "--stream", "--sample", "3", in, out); err == nil {
		t.Error("encode --stream --sample error = nil")
	}
}

func TestCLI_InfoVerifyExport(t *testing.T) {
	dir := t.TempDir()
	in := writeSampleXES(t, dir)
	archive := filepath.Join(dir, "sample.bxes")
	if out, err := execute(t, "encode", in, archive); err != nil {
		t.Fatalf("encode error: %v\n%s", err, out)
	}

	out, err := execute(t, "info", archive)
	if err != nil {
		t.Fatalf("info error: %v", err)
	}
	if !strings.Contains(out, "single-file") {
		t.Errorf("info output missing layout:\n%s", out)
	}

	out, err = execute(t, "verify", "--variants", "5")
	if err != nil {
		t.Fatalf("verify error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "message-stream") {
		t.Errorf("verify output missing layouts:\n%s", out)
	}

	parquetPath := filepath.Join(dir, "events.parquet")
	if out, err := execute(t, "export", "--compression", "zstd", archive, parquetPath); err != nil {
		t.Fatalf("export error: %v\n%s", err, out)
	}
	if info, err := os.Stat(parquetPath); err != nil || info.Size() == 0 {
		t.Errorf("parquet output missing: %v", err)
	}
}

func TestCLI_Batch(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeSampleXES(t, in)
	if err := os.WriteFile(filepath.Join(in, "broken.xes"), []byte("<log><trace>"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "batch", in, "--output-dir", out, "--workers", "2")
	if err == nil || !strings.Contains(err.Error(), "1 files failed") {
		t.Fatalf("batch error = %v, want one failure", err)
	}
	if _, err := codec.ReadSingleFile(filepath.Join(out, "sample.bxes")); err != nil {
		t.Errorf("sample.bxes not converted: %v", err)
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"missing input", []string{"decode", filepath.Join(dir, "none.bxes"), filepath.Join(dir, "out.xes")}},
		{"bad layout", []string{"encode", "--layout", "tar", filepath.Join(dir, "a.xes"), filepath.Join(dir, "a.bxes")}},
		{"bad value attr", []string{"verify", "--value-attr", "org:resource"}},
		{"unknown type", []string{"verify", "--value-attr", "org:resource=text"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("%v error = nil", tt.args)
			}
		})
	}
}
