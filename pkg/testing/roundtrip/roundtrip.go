// Package roundtrip provides round-trip testing utilities.
package roundtrip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/stream"
	"github.com/logflow/bxes/pkg/testing/generators"
)

// Layout selects the encode/decode path exercised by a test case.
type Layout string

const (
	LayoutSingleFile    Layout = "single-file"
	LayoutMultiFile     Layout = "multi-file"
	LayoutStreamFile    Layout = "stream-file"
	LayoutStreamArchive Layout = "stream-archive"
	LayoutRecordScope   Layout = "message-record"
	LayoutStreamScope   Layout = "message-stream"
)

// Layouts returns every supported layout.
func Layouts() []Layout {
	return []Layout{
		LayoutSingleFile, LayoutMultiFile, LayoutStreamFile,
		LayoutStreamArchive, LayoutRecordScope, LayoutStreamScope,
	}
}

// TestCase represents a round-trip test case.
type TestCase struct {
	Name           string
	Layout         Layout
	Log            *model.EventLog
	SystemMetadata *model.SystemMetadata

	// Used when Log is nil.
	Seed     int64
	Variants int
}

// Result contains test results.
type Result struct {
	Success      bool
	Error        error
	BytesWritten int64
	Variants     int
	Events       int
	LogMatches   bool
	Messages     []string
}

func (r *Result) fail(err error) *Result {
	r.Success = false
	r.Error = err
	return r
}

// Run executes a round-trip test.
func Run(ctx context.Context, tc TestCase) *Result {
	result := &Result{Success: true}

	log := tc.Log
	if log == nil {
		gen := generators.NewLogGenerator(tc.Seed)
		gen.AllTypes = true
		if tc.Variants > 0 {
			gen.Variants = tc.Variants
		}
		log = gen.Generate(1)
	}
	result.Variants = len(log.Variants)
	result.Events = log.EventCount()

	tmpDir, err := os.MkdirTemp("", "roundtrip-*")
	if err != nil {
		return result.fail(fmt.Errorf("failed to create temp dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	var got *model.EventLog
	switch tc.Layout {
	case LayoutSingleFile, "":
		got, err = singleFile(tmpDir, log, tc.SystemMetadata, result)
	case LayoutMultiFile:
		got, err = multiFile(tmpDir, log, tc.SystemMetadata, result)
	case LayoutStreamFile:
		got, err = streamFile(ctx, tmpDir, log, tc.SystemMetadata, result)
	case LayoutStreamArchive:
		got, err = streamArchive(ctx, tmpDir, log, tc.SystemMetadata, result)
	case LayoutRecordScope:
		got, err = messages(ctx, stream.ScopeRecord, log, tc.SystemMetadata, result)
	case LayoutStreamScope:
		got, err = messages(ctx, stream.ScopeStream, log, tc.SystemMetadata, result)
	default:
		err = fmt.Errorf("unknown layout %q", tc.Layout)
	}
	if err != nil {
		return result.fail(err)
	}

	result.LogMatches = got.Equal(log)
	if !result.LogMatches {
		result.Success = false
		result.Messages = append(result.Messages, "Decoded log differs from the original")
	}
	return result
}

func singleFile(dir string, log *model.EventLog, sys *model.SystemMetadata, r *Result) (*model.EventLog, error) {
	path := filepath.Join(dir, "log.bxes")
	if err := codec.WriteSingleFile(path, log, sys); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}
	r.BytesWritten = fileSize(path)
	r.Messages = append(r.Messages, fmt.Sprintf("Wrote %d bytes to %s", r.BytesWritten, path))

	res, err := codec.ReadSingleFile(path)
	if err != nil {
		return nil, fmt.Errorf("read back failed: %w", err)
	}
	return res.Log, nil
}

func multiFile(dir string, log *model.EventLog, sys *model.SystemMetadata, r *Result) (*model.EventLog, error) {
	if err := codec.WriteMultipleFiles(dir, log, sys); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}
	r.BytesWritten = dirSize(dir)

	res, err := codec.ReadMultipleFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("read back failed: %w", err)
	}
	return res.Log, nil
}

func streamFile(ctx context.Context, dir string, log *model.EventLog, sys *model.SystemMetadata, r *Result) (*model.EventLog, error) {
	w, err := stream.NewFileWriter(dir, log.Version, sys)
	if err != nil {
		return nil, fmt.Errorf("writer open failed: %w", err)
	}
	if err := feed(ctx, w, log); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("writer close failed: %w", err)
	}
	r.BytesWritten = dirSize(dir)

	res, err := codec.ReadMultipleFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("read back failed: %w", err)
	}
	return res.Log, nil
}

func streamArchive(ctx context.Context, dir string, log *model.EventLog, sys *model.SystemMetadata, r *Result) (*model.EventLog, error) {
	path := filepath.Join(dir, "log.bxes")
	w, err := stream.NewSingleFileWriter(path, log.Version, sys)
	if err != nil {
		return nil, fmt.Errorf("writer open failed: %w", err)
	}
	if err := feed(ctx, w, log); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("writer close failed: %w", err)
	}
	r.BytesWritten = fileSize(path)

	res, err := codec.ReadSingleFile(path)
	if err != nil {
		return nil, fmt.Errorf("read back failed: %w", err)
	}
	return res.Log, nil
}

type handler interface {
	Handle(ctx context.Context, ev stream.Event) error
}

func feed(ctx context.Context, h handler, log *model.EventLog) error {
	for i, ev := range stream.FromLog(log) {
		if err := h.Handle(ctx, ev); err != nil {
			return fmt.Errorf("stream event %d: %w", i, err)
		}
	}
	return nil
}

// messages sends every variant as a record and decodes the records in order.
// Log metadata does not travel in records and is carried over unchanged.
func messages(ctx context.Context, scope stream.PoolScope, log *model.EventLog, sys *model.SystemMetadata, r *Result) (*model.EventLog, error) {
	reader := stream.NewRecordReader(scope)
	got := &model.EventLog{Version: log.Version, Metadata: log.Metadata}

	sink := stream.SinkFunc(func(_ context.Context, rec stream.Record) error {
		r.BytesWritten += int64(len(rec.Data))
		v, err := reader.DecodeRecord(rec)
		if err != nil {
			return fmt.Errorf("record decode failed: %w", err)
		}
		got.Variants = append(got.Variants, v)
		return nil
	})

	w := stream.NewMessageWriter(sink, scope, sys)
	for i := range log.Variants {
		if err := w.WriteVariant(ctx, &log.Variants[i]); err != nil {
			return nil, err
		}
	}
	r.Messages = append(r.Messages, fmt.Sprintf("Sent %d records", w.Records()))
	return got, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func dirSize(dir string) int64 {
	var n int64
	for _, name := range codec.MultiFileNames {
		n += fileSize(filepath.Join(dir, name))
	}
	return n
}
