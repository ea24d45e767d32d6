package codec

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/logflow/bxes/internal/pool"
	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/valuepool"
	"github.com/logflow/bxes/pkg/wire"
)

func sampleLog() *model.EventLog {
	guid := model.Guid(uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"))
	return &model.EventLog{
		Version: 1,
		Metadata: model.Metadata{
			Properties: []model.Attribute{model.Attr("concept:name", model.String("sample"))},
			Extensions: []model.Extension{
				{Name: "Concept", Prefix: "concept", URI: "http://www.xes-standard.org/concept.xesext"},
				{Name: "Lifecycle", Prefix: "lifecycle", URI: "http://www.xes-standard.org/lifecycle.xesext"},
			},
			Globals: []model.Global{
				{Kind: model.EntityEvent, Attributes: []model.Attribute{model.Attr("concept:name", model.String("__INVALID__"))}},
				{Kind: model.EntityTrace, Attributes: []model.Attribute{model.Attr("cost", model.Float64(0))}},
			},
			Classifiers: []model.Classifier{{Name: "Activity", Keys: []string{"concept:name", "lifecycle:transition"}}},
		},
		Variants: []model.TraceVariant{
			{
				Count:    3,
				Metadata: []model.Attribute{model.Attr("concept:name", model.String("case-1"))},
				Events: []model.Event{
					{
						Timestamp: 1_700_000_000_123_456_789,
						Name:      "register",
						Attributes: []model.Attribute{
							model.Attr("lifecycle:transition", model.StandardComplete),
							model.Attr("i32", model.Int32(-7)),
							model.Attr("i64", model.Int64(1 << 40)),
							model.Attr("u32", model.Uint32(7)),
							model.Attr("u64", model.Uint64(1 << 63)),
							model.Attr("f32", model.Float32(1.5)),
							model.Attr("f64", model.Float64(-2.25)),
							model.Attr("ok", model.Bool(true)),
							model.Attr("at", model.Timestamp(42)),
						},
					},
					{
						Timestamp: 1_700_000_001_000_000_000,
						Name:      "approve",
						Attributes: []model.Attribute{
							model.Attr("braf", model.BrafOpenRunningSuspended),
							model.Attr("sw", model.SoftwareThrows),
							model.Attr("id", guid),
							model.Attr("artifact", model.Artifact{{Model: "m", Instance: "i", Transition: "t"}}),
							model.Attr("drivers", model.Drivers{{Amount: 9.5, Name: "labour", Type: "hours"}}),
							model.Attr("nothing", model.Null{}),
						},
					},
				},
			},
			{
				Count:  1,
				Events: []model.Event{{Timestamp: 5, Name: "register"}},
			},
		},
	}
}

func assertLogEqual(t *testing.T, got, want *model.EventLog) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("decoded log differs from original\ngot:  %+v\nwant: %+v", got, want)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	log := sampleLog()

	data, err := Encode(log, nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	res, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	assertLogEqual(t, res.Log, log)
	if len(res.SystemMetadata.ValueAttributes) != 0 {
		t.Errorf("expected no value attributes, got %v", res.SystemMetadata.ValueAttributes)
	}
}

func TestSingleFile_RoundTrip(t *testing.T) {
	log := sampleLog()
	path := filepath.Join(t.TempDir(), "log.bxes")

	if err := WriteSingleFile(path, log, nil); err != nil {
		t.Fatalf("WriteSingleFile() error: %v", err)
	}

	res, err := ReadSingleFile(path)
	if err != nil {
		t.Fatalf("ReadSingleFile() error: %v", err)
	}
	assertLogEqual(t, res.Log, log)
}

func TestMultipleFiles_RoundTrip(t *testing.T) {
	log := sampleLog()
	dir := t.TempDir()

	if err := WriteMultipleFiles(dir, log, nil); err != nil {
		t.Fatalf("WriteMultipleFiles() error: %v", err)
	}
	for _, name := range MultiFileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	res, err := ReadMultipleFiles(dir)
	if err != nil {
		t.Fatalf("ReadMultipleFiles() error: %v", err)
	}
	assertLogEqual(t, res.Log, log)
}

func TestEncode_EmptyLog(t *testing.T) {
	log := &model.EventLog{Version: 7}
	data, err := Encode(log, nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	// version, descriptors, values, pairs, 4 metadata counts, variants
	if len(data) != 4*9 {
		t.Errorf("encoded empty log is %d bytes, want %d", len(data), 4*9)
	}

	res, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	assertLogEqual(t, res.Log, log)
}

func TestEncode_RejectsZeroCount(t *testing.T) {
	log := &model.EventLog{Variants: []model.TraceVariant{{Count: 0}}}
	_, err := Encode(log, nil)
	if !bxerrors.IsCode(err, bxerrors.CodeInvalidFormat) {
		t.Errorf("Encode() error = %v, want code %s", err, bxerrors.CodeInvalidFormat)
	}
}

func TestDedup_SharedAttribute(t *testing.T) {
	shared := model.Attr("k", model.Int32(5))
	log := &model.EventLog{
		Variants: []model.TraceVariant{{
			Count: 3,
			Events: []model.Event{
				{Name: "a", Attributes: []model.Attribute{shared}},
				{Name: "b", Attributes: []model.Attribute{shared}},
			},
		}},
	}

	data, err := Encode(log, nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	stats := &Stats{}
	res, err := decodeBody(data, stats)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	assertLogEqual(t, res.Log, log)

	if stats.Values != 4 {
		t.Errorf("value pool has %d entries, want 4 (a, k, 5, b)", stats.Values)
	}
	if stats.Pairs != 1 {
		t.Errorf("key-value pool has %d entries, want 1", stats.Pairs)
	}
	if stats.Traces != 3 {
		t.Errorf("Traces = %d, want 3", stats.Traces)
	}
}

func TestDedup_DistinctValueCount(t *testing.T) {
	log := sampleLog()
	data, err := Encode(log, nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	stats := &Stats{}
	if _, err := decodeBody(data, stats); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	distinct := map[string]struct{}{}
	add := func(v model.Value) {
		for _, s := range model.Strings(v) {
			distinct[model.Key(model.String(s))] = struct{}{}
		}
		distinct[model.Key(v)] = struct{}{}
	}
	addAttrs := func(attrs []model.Attribute) {
		for _, a := range attrs {
			add(model.String(a.Key))
			add(a.Value)
		}
	}
	addAttrs(log.Metadata.Properties)
	for _, e := range log.Metadata.Extensions {
		add(model.String(e.Name))
		add(model.String(e.Prefix))
		add(model.String(e.URI))
	}
	for _, g := range log.Metadata.Globals {
		addAttrs(g.Attributes)
	}
	for _, c := range log.Metadata.Classifiers {
		add(model.String(c.Name))
		for _, k := range c.Keys {
			add(model.String(k))
		}
	}
	for _, v := range log.Variants {
		addAttrs(v.Metadata)
		for _, e := range v.Events {
			add(model.String(e.Name))
			addAttrs(e.Attributes)
		}
	}

	if stats.Values != len(distinct) {
		t.Errorf("value pool has %d entries, want %d distinct values", stats.Values, len(distinct))
	}
}

func TestOrdering_ArtifactReferencesEarlierStrings(t *testing.T) {
	art := model.Artifact{
		{Model: "model-a", Instance: "inst", Transition: "fire"},
		{Model: "model-b", Instance: "inst", Transition: "fire"},
	}
	log := &model.EventLog{Variants: []model.TraceVariant{{
		Count:  1,
		Events: []model.Event{{Name: "e", Attributes: []model.Attribute{model.Attr("art", art)}}},
	}}}

	data, err := Encode(log, nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	r := wire.NewReader(data)
	r.U32()
	if _, err := DecodeSystemMetadata(r); err != nil {
		t.Fatalf("system metadata: %v", err)
	}
	var tables Tables
	if err := tables.DecodeValues(r); err != nil {
		t.Fatalf("DecodeValues() error: %v", err)
	}

	artIdx := -1
	for i, v := range tables.Values {
		if v.TypeID() == model.TypeArtifact {
			artIdx = i
		}
	}
	if artIdx < 0 {
		t.Fatal("artifact not found in value pool")
	}
	if !model.Equal(tables.Values[artIdx], art) {
		t.Errorf("decoded artifact = %v, want %v", tables.Values[artIdx], art)
	}

	for _, s := range []string{"model-a", "model-b", "inst", "fire"} {
		found := -1
		for i, v := range tables.Values {
			if model.Equal(v, model.String(s)) {
				found = i
			}
		}
		if found < 0 || found >= artIdx {
			t.Errorf("string %q at index %d, want below artifact index %d", s, found, artIdx)
		}
	}
}

func TestDecodeValues_RejectsForwardReference(t *testing.T) {
	buf := &pool.ByteBuffer{}
	w := wire.NewWriter(buf)
	w.U32(2)
	// artifact with one item pointing at index 1, which is itself
	w.U8(uint8(model.TypeArtifact))
	w.U32(1)
	w.U32(1)
	w.U32(1)
	w.U32(1)
	w.U8(uint8(model.TypeString))
	w.String("late")

	var tables Tables
	err := tables.DecodeValues(wire.NewReader(buf.Bytes()))
	var pe *bxerrors.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestTruncation_SingleFile(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeSingleFile(&buf, sampleLog(), nil); err != nil {
		t.Fatalf("EncodeSingleFile() error: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()-1]
	_, err := DecodeSingleFile(bytes.NewReader(truncated), int64(len(truncated)))

	var pe *bxerrors.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Offset > int64(len(truncated)) {
		t.Errorf("Offset = %d, beyond truncation point %d", pe.Offset, len(truncated))
	}
}

func TestTruncation_EveryPrefix(t *testing.T) {
	data, err := Encode(sampleLog(), &model.SystemMetadata{
		ValueAttributes: []model.ValueAttributeDescriptor{{TypeID: model.TypeStandardLifecycle, Name: "lifecycle:transition"}},
	})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	for n := 0; n < len(data); n++ {
		_, err := Decode(data[:n])
		var pe *bxerrors.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Decode(prefix %d) expected ParseError, got %v", n, err)
		}
		if pe.Offset > int64(n) {
			t.Fatalf("Decode(prefix %d) Offset = %d, beyond truncation point", n, pe.Offset)
		}
	}
}

func TestDecode_RejectsTrailingBytes(t *testing.T) {
	data, err := Encode(sampleLog(), nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	_, err = Decode(append(data, 0))
	var pe *bxerrors.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Offset != int64(len(data)) {
		t.Errorf("Offset = %d, want %d", pe.Offset, len(data))
	}
}

func TestDecodeValue_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"unknown type id", []byte{16}},
		{"bool out of range", []byte{byte(model.TypeBool), 2}},
		{"braf out of range", []byte{byte(model.TypeBrafLifecycle), 20}},
		{"standard out of range", []byte{byte(model.TypeStandardLifecycle), 14}},
		{"software out of range", []byte{byte(model.TypeSoftwareEventType), 7}},
		{"short guid", []byte{byte(model.TypeGuid), 1, 2, 3}},
		{"drivers into empty table", []byte{byte(model.TypeDrivers), 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeValue(wire.NewReader(tt.data), nil)
			if !errors.Is(err, bxerrors.ErrParse) {
				t.Errorf("DecodeValue() error = %v, want ParseError", err)
			}
		})
	}
}

func TestGuid_MixedEndian(t *testing.T) {
	id := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	buf := &pool.ByteBuffer{}
	if err := EncodeValue(wire.NewWriter(buf), model.Guid(id), valuepool.New()); err != nil {
		t.Fatalf("EncodeValue() error: %v", err)
	}

	want := []byte{
		byte(model.TypeGuid),
		0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66,
		0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("encoded guid = % x, want % x", buf.Bytes(), want)
	}

	v, err := DecodeValue(wire.NewReader(buf.Bytes()), nil)
	if err != nil {
		t.Fatalf("DecodeValue() error: %v", err)
	}
	if !model.Equal(v, model.Guid(id)) {
		t.Errorf("decoded guid = %v, want %v", v, id)
	}
}

func TestVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	if err := WriteMultipleFiles(dir, sampleLog(), nil); err != nil {
		t.Fatalf("WriteMultipleFiles() error: %v", err)
	}

	path := filepath.Join(dir, ValuesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 2
	// corrupt the body too: the version check must fire first
	data = data[:5]
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = ReadMultipleFiles(dir)
	var vm *bxerrors.VersionMismatchError
	if !errors.As(err, &vm) {
		t.Fatalf("expected VersionMismatchError, got %v", err)
	}
	if vm.Expected != 1 || vm.Found != 2 {
		t.Errorf("VersionMismatch{Expected: %d, Found: %d}, want {1, 2}", vm.Expected, vm.Found)
	}
	if !errors.Is(err, bxerrors.ErrVersionMismatch) {
		t.Error("errors.Is(err, ErrVersionMismatch) = false")
	}
}

func TestWriteMultipleFiles_SavePathIsNotDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, target := range []string{file, filepath.Join(dir, "missing")} {
		err := WriteMultipleFiles(target, sampleLog(), nil)
		var sp *bxerrors.SavePathIsNotDirectoryError
		if !errors.As(err, &sp) {
			t.Errorf("WriteMultipleFiles(%s) error = %v, want SavePathIsNotDirectoryError", target, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected no files to be created, found %d entries", len(entries))
	}
}

func TestValueAttributes_RoundTrip(t *testing.T) {
	sys := &model.SystemMetadata{ValueAttributes: []model.ValueAttributeDescriptor{
		{TypeID: model.TypeStandardLifecycle, Name: "lifecycle:transition"},
		{TypeID: model.TypeInt64, Name: "missing"},
	}}
	log := sampleLog()

	data, err := Encode(log, sys)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	res, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	assertLogEqual(t, res.Log, log)
	if len(res.SystemMetadata.ValueAttributes) != 2 || res.SystemMetadata.ValueAttributes[0] != sys.ValueAttributes[0] {
		t.Errorf("SystemMetadata = %+v, want %+v", res.SystemMetadata, sys)
	}
}

func TestValueAttributes_MovedToFront(t *testing.T) {
	sys := &model.SystemMetadata{ValueAttributes: []model.ValueAttributeDescriptor{
		{TypeID: model.TypeInt32, Name: "b"},
	}}
	log := &model.EventLog{Variants: []model.TraceVariant{{
		Count: 1,
		Events: []model.Event{{Name: "e", Attributes: []model.Attribute{
			model.Attr("a", model.String("x")),
			model.Attr("b", model.Int32(1)),
			model.Attr("b", model.Int64(2)),
		}}},
	}}}

	data, err := Encode(log, sys)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	res, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	got := res.Log.Variants[0].Events[0].Attributes
	want := []model.Attribute{
		model.Attr("b", model.Int32(1)),
		model.Attr("a", model.String("x")),
		model.Attr("b", model.Int64(2)),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d attributes, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("attribute %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEncodeSystemMetadata_UnsupportedTypeID(t *testing.T) {
	sys := &model.SystemMetadata{ValueAttributes: []model.ValueAttributeDescriptor{{TypeID: 99, Name: "x"}}}
	_, err := Encode(&model.EventLog{}, sys)
	if !errors.Is(err, bxerrors.ErrUnsupportedTypeID) {
		t.Errorf("Encode() error = %v, want UnsupportedTypeIDError", err)
	}
}

func TestEncodeSystemMetadata_RejectsNullDescriptor(t *testing.T) {
	sys := &model.SystemMetadata{ValueAttributes: []model.ValueAttributeDescriptor{{TypeID: model.TypeNull, Name: "x"}}}
	log := &model.EventLog{Variants: []model.TraceVariant{{Count: 1, Events: []model.Event{{Name: "a"}}}}}

	_, err := Encode(log, sys)
	if !bxerrors.IsCode(err, bxerrors.CodeInvalidFormat) {
		t.Errorf("Encode() error = %v, want %s", err, bxerrors.CodeInvalidFormat)
	}
	if err := WriteMultipleFiles(t.TempDir(), log, sys); !bxerrors.IsCode(err, bxerrors.CodeInvalidFormat) {
		t.Errorf("WriteMultipleFiles() error = %v, want %s", err, bxerrors.CodeInvalidFormat)
	}
}

func TestDecode_NullDescriptorFromOtherWriters(t *testing.T) {
	sys := &model.SystemMetadata{ValueAttributes: []model.ValueAttributeDescriptor{{TypeID: model.TypeString, Name: "x"}}}
	log := &model.EventLog{Variants: []model.TraceVariant{{Count: 1, Events: []model.Event{{Name: "a"}}}}}

	data, err := Encode(log, sys)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	// version u32, descriptor count u32, then the first descriptor's type id.
	data[8] = byte(model.TypeNull)

	res, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if res.SystemMetadata.ValueAttributes[0].TypeID != model.TypeNull {
		t.Fatalf("descriptor type = %s, want null", res.SystemMetadata.ValueAttributes[0].TypeID)
	}
	got := res.Log.Variants[0].Events[0].Attributes
	if len(got) != 1 || !got[0].Equal(model.Attr("x", model.Null{})) {
		t.Errorf("attributes = %v, want [x=null]", got)
	}
}

func TestReadSingleFile_NotFound(t *testing.T) {
	_, err := ReadSingleFile(filepath.Join(t.TempDir(), "nope.bxes"))
	if !bxerrors.IsCode(err, bxerrors.CodeFileNotFound) {
		t.Errorf("ReadSingleFile() error = %v, want code %s", err, bxerrors.CodeFileNotFound)
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(dir, "log.bxes")
	multi := filepath.Join(dir, "multi")
	if err := os.Mkdir(multi, 0o755); err != nil {
		t.Fatal(err)
	}

	log := sampleLog()
	if err := WriteSingleFile(single, log, nil); err != nil {
		t.Fatal(err)
	}
	if err := WriteMultipleFiles(multi, log, nil); err != nil {
		t.Fatal(err)
	}

	s1, err := Inspect(single)
	if err != nil {
		t.Fatalf("Inspect(single) error: %v", err)
	}
	s2, err := Inspect(multi)
	if err != nil {
		t.Fatalf("Inspect(multi) error: %v", err)
	}

	for _, s := range []*Stats{s1, s2} {
		if s.Variants != 2 || s.Events != 3 || s.Traces != 4 {
			t.Errorf("%s: Variants=%d Events=%d Traces=%d, want 2/3/4", s.Layout, s.Variants, s.Events, s.Traces)
		}
		if s.FileBytes <= 0 {
			t.Errorf("%s: FileBytes = %d", s.Layout, s.FileBytes)
		}
	}
	if s1.Values != s2.Values || s1.Pairs != s2.Pairs {
		t.Errorf("layouts disagree: values %d/%d, pairs %d/%d", s1.Values, s2.Values, s1.Pairs, s2.Pairs)
	}
	if len(s1.Sections) != 6 {
		t.Errorf("single-file sections = %d, want 6", len(s1.Sections))
	}
}
