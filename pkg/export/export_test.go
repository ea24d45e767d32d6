package export

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/testing/generators"
)

func readTable(t *testing.T, r *bytes.Reader) arrow.Table {
	t.Helper()
	pf, err := file.NewParquetReader(r)
	if err != nil {
		t.Fatalf("NewParquetReader() error: %v", err)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		t.Fatalf("NewFileReader() error: %v", err)
	}
	table, err := fr.ReadTable(context.Background())
	if err != nil {
		t.Fatalf("ReadTable() error: %v", err)
	}
	return table
}

func TestParquetWriter_Rows(t *testing.T) {
	gen := generators.NewLogGenerator(7)
	gen.Variants = 20
	log := gen.Generate(1)

	tests := []struct {
		name   string
		cfg    Config
		expand bool
	}{
		{"snappy", Config{BatchSize: 16, Compression: CompressionSnappy}, false},
		{"zstd", Config{BatchSize: 1000, Compression: CompressionZstd}, false},
		{"uncompressed expanded", Config{BatchSize: 5, ExpandVariants: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewParquetWriter(&buf, tt.cfg)
			if err != nil {
				t.Fatalf("NewParquetWriter() error: %v", err)
			}
			if err := w.WriteLog(context.Background(), log); err != nil {
				t.Fatalf("WriteLog() error: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close() error: %v", err)
			}

			want := int64(log.EventCount())
			if tt.expand {
				want = 0
				for _, v := range log.Variants {
					want += int64(v.Count) * int64(len(v.Events))
				}
			}
			if w.RowsWritten() != want {
				t.Errorf("RowsWritten() = %d, want %d", w.RowsWritten(), want)
			}

			table := readTable(t, bytes.NewReader(buf.Bytes()))
			defer table.Release()
			if table.NumRows() != want {
				t.Errorf("NumRows() = %d, want %d", table.NumRows(), want)
			}
			if table.NumCols() != int64(len(EventSchema().Fields())) {
				t.Errorf("NumCols() = %d", table.NumCols())
			}
		})
	}
}

func TestParquetWriter_Values(t *testing.T) {
	log := &model.EventLog{
		Version: 1,
		Variants: []model.TraceVariant{{
			Count:    3,
			Metadata: []model.Attribute{model.Attr("concept:name", model.String("case-1"))},
			Events: []model.Event{
				{Name: "A", Timestamp: 1000, Attributes: []model.Attribute{model.Attr("cost", model.Int64(5))}},
				{Name: "B", Timestamp: 2000},
			},
		}},
	}

	var buf bytes.Buffer
	w, err := NewParquetWriter(&buf, DefaultConfig())
	if err != nil {
		t.Fatalf("NewParquetWriter() error: %v", err)
	}
	if err := w.WriteLog(context.Background(), log); err != nil {
		t.Fatalf("WriteLog() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	table := readTable(t, bytes.NewReader(buf.Bytes()))
	defer table.Release()

	col := func(i int) arrow.Array { return table.Column(i).Data().Chunk(0) }

	names := col(4).(*array.String)
	if names.Value(0) != "A" || names.Value(1) != "B" {
		t.Errorf("names = %q, %q", names.Value(0), names.Value(1))
	}
	counts := col(1).(*array.Uint32)
	if counts.Value(0) != 3 {
		t.Errorf("trace_count = %d, want 3", counts.Value(0))
	}
	traces := col(2).(*array.String)
	if traces.Value(1) != "case-1" {
		t.Errorf("trace_name = %q, want case-1", traces.Value(1))
	}
	ts := col(5).(*array.Timestamp)
	if ts.Value(1) != 2000 {
		t.Errorf("timestamp = %d, want 2000", ts.Value(1))
	}
	attrs := col(6).(*array.String)
	if got := attrs.Value(0); got != `[{"key":"cost","type":"i64","value":5}]` {
		t.Errorf("attributes = %s", got)
	}
	if got := attrs.Value(1); got != `[]` {
		t.Errorf("attributes = %s, want []", got)
	}
}

func TestAttributesJSON(t *testing.T) {
	attrs := []model.Attribute{
		model.Attr("a", model.Float64(math.Inf(1))),
		model.Attr("b", model.Bool(true)),
		model.Attr("c", model.Drivers{{Amount: 1.5, Name: "n", Type: "t"}}),
		model.Attr("d", model.Null{}),
	}
	s, err := AttributesJSON(attrs)
	if err != nil {
		t.Fatalf("AttributesJSON() error: %v", err)
	}

	var got []map[string]any
	if err := json.Unmarshal([]byte(s), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, s)
	}
	if len(got) != len(attrs) {
		t.Fatalf("len = %d, want %d", len(got), len(attrs))
	}
	if got[1]["value"] != true {
		t.Errorf("bool value = %v", got[1]["value"])
	}
	if got[3]["value"] != nil {
		t.Errorf("null value = %v", got[3]["value"])
	}
	drivers, ok := got[2]["value"].([]any)
	if !ok || len(drivers) != 1 {
		t.Errorf("drivers value = %v", got[2]["value"])
	}
}

func TestExportFile(t *testing.T) {
	gen := generators.NewLogGenerator(3)
	log := gen.Generate(1)
	path := filepath.Join(t.TempDir(), "events.parquet")

	rows, err := ExportFile(context.Background(), path, log, DefaultConfig())
	if err != nil {
		t.Fatalf("ExportFile() error: %v", err)
	}
	if rows != int64(log.EventCount()) {
		t.Errorf("rows = %d, want %d", rows, log.EventCount())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ExportFile(ctx, path, log, DefaultConfig()); err == nil {
		t.Error("ExportFile(canceled) error = nil")
	}
}

func TestParseCompression(t *testing.T) {
	for _, c := range []CompressionType{CompressionNone, CompressionSnappy, CompressionGzip, CompressionZstd, CompressionLZ4} {
		if got := ParseCompression(c.String()); got != c {
			t.Errorf("ParseCompression(%q) = %v, want %v", c.String(), got, c)
		}
	}
}
