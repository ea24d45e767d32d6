package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/bxes/pkg/model"
)

// Column names of the event table.
const (
	ColVariant    = "variant"
	ColTraceCount = "trace_count"
	ColTrace      = "trace_name"
	ColEventIndex = "event_index"
	ColName       = "name"
	ColTimestamp  = "timestamp"
	ColAttributes = "attributes"
)

// EventSchema returns the Arrow schema for exported events.
func EventSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: ColVariant, Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: ColTraceCount, Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
		{Name: ColTrace, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColEventIndex, Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: ColName, Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: ColTimestamp, Type: arrow.FixedWidthTypes.Timestamp_ns, Nullable: false},
		{Name: ColAttributes, Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)
}

// ParquetWriter writes one row per event to Parquet using Apache Arrow.
type ParquetWriter struct {
	cfg    Config
	schema *arrow.Schema
	writer *pqarrow.FileWriter

	variantBuilder    *array.Int32Builder
	countBuilder      *array.Uint32Builder
	traceBuilder      *array.StringBuilder
	indexBuilder      *array.Int32Builder
	nameBuilder       *array.StringBuilder
	timestampBuilder  *array.TimestampBuilder
	attributesBuilder *array.StringBuilder

	rowCount         int
	totalRowsWritten int64
	closed           bool
}

// NewParquetWriter creates a new Parquet writer on output.
func NewParquetWriter(output io.Writer, cfg Config) (*ParquetWriter, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	allocator := memory.NewGoAllocator()
	schema := EventSchema()

	var codec compress.Compression
	switch cfg.Compression {
	case CompressionSnappy:
		codec = compress.Codecs.Snappy
	case CompressionGzip:
		codec = compress.Codecs.Gzip
	case CompressionZstd:
		codec = compress.Codecs.Zstd
	case CompressionLZ4:
		codec = compress.Codecs.Lz4
	default:
		codec = compress.Codecs.Uncompressed
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	w := &ParquetWriter{
		cfg:               cfg,
		schema:            schema,
		writer:            writer,
		variantBuilder:    array.NewInt32Builder(allocator),
		countBuilder:      array.NewUint32Builder(allocator),
		traceBuilder:      array.NewStringBuilder(allocator),
		indexBuilder:      array.NewInt32Builder(allocator),
		nameBuilder:       array.NewStringBuilder(allocator),
		timestampBuilder:  array.NewTimestampBuilder(allocator, arrow.FixedWidthTypes.Timestamp_ns.(*arrow.TimestampType)),
		attributesBuilder: array.NewStringBuilder(allocator),
	}
	return w, nil
}

// WriteLog writes every event of log.
func (w *ParquetWriter) WriteLog(ctx context.Context, log *model.EventLog) error {
	for i := range log.Variants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteVariant(i, &log.Variants[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteVariant writes the events of the variant with the given index.
func (w *ParquetWriter) WriteVariant(index int, v *model.TraceVariant) error {
	if w.closed {
		return errors.New("export: writer is closed")
	}

	var trace string
	hasTrace := false
	for _, a := range v.Metadata {
		if s, ok := a.Value.(model.String); ok && a.Key == "concept:name" {
			trace, hasTrace = string(s), true
			break
		}
	}

	copies, count := uint32(1), v.Count
	if w.cfg.ExpandVariants {
		copies, count = v.Count, 1
	}

	for c := uint32(0); c < copies; c++ {
		for j := range v.Events {
			attrs, err := AttributesJSON(v.Events[j].Attributes)
			if err != nil {
				return fmt.Errorf("variant %d event %d: %w", index, j, err)
			}

			w.variantBuilder.Append(int32(index))
			w.countBuilder.Append(count)
			if hasTrace {
				w.traceBuilder.Append(trace)
			} else {
				w.traceBuilder.AppendNull()
			}
			w.indexBuilder.Append(int32(j))
			w.nameBuilder.Append(v.Events[j].Name)
			w.timestampBuilder.Append(arrow.Timestamp(v.Events[j].Timestamp))
			w.attributesBuilder.Append(attrs)
			w.rowCount++

			if w.rowCount >= w.cfg.BatchSize {
				if err := w.flushBatch(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// flushBatch writes the current batch to Parquet.
func (w *ParquetWriter) flushBatch() error {
	if w.rowCount == 0 {
		return nil
	}

	cols := []arrow.Array{
		w.variantBuilder.NewArray(),
		w.countBuilder.NewArray(),
		w.traceBuilder.NewArray(),
		w.indexBuilder.NewArray(),
		w.nameBuilder.NewArray(),
		w.timestampBuilder.NewArray(),
		w.attributesBuilder.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	batch := array.NewRecord(w.schema, cols, int64(w.rowCount))
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}

	w.totalRowsWritten += int64(w.rowCount)
	w.rowCount = 0
	return nil
}

// Close flushes remaining rows, writes the footer and releases resources.
// A closable output is closed as well.
func (w *ParquetWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.flushBatch()
	if cerr := w.writer.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close parquet writer: %w", cerr)
	}

	w.variantBuilder.Release()
	w.countBuilder.Release()
	w.traceBuilder.Release()
	w.indexBuilder.Release()
	w.nameBuilder.Release()
	w.timestampBuilder.Release()
	w.attributesBuilder.Release()
	return err
}

// RowsWritten returns the total number of rows written.
func (w *ParquetWriter) RowsWritten() int64 {
	return w.totalRowsWritten
}

// ExportFile writes log to a Parquet file at path and returns the row count.
func ExportFile(ctx context.Context, path string, log *model.EventLog, cfg Config) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	w, err := NewParquetWriter(f, cfg)
	if err != nil {
		f.Close()
		os.Remove(path)
		return 0, err
	}

	err = w.WriteLog(ctx, log)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil && cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return w.RowsWritten(), nil
}
