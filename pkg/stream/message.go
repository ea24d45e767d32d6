package stream

import (
	"context"
	"errors"

	"github.com/logflow/bxes/internal/pool"
	"github.com/logflow/bxes/pkg/codec"
	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/valuepool"
	"github.com/logflow/bxes/pkg/wire"
)

// Errors returned for events that arrive out of order.
var (
	ErrVariantOpen   = errors.New("stream: trace variant already open")
	ErrNoVariant     = errors.New("stream: no open trace variant")
	ErrMetadataEvent = errors.New("stream: log metadata events require file mode")
	ErrWriterClosed  = errors.New("stream: writer closed")
	ErrUnknownEvent  = errors.New("stream: unknown event")
)

// invalid reports input the writers cannot represent. Nothing has been pooled
// when it is returned.
func invalid(err error) error {
	return bxerrors.Wrap(err, bxerrors.CodeInvalidFormat, "invalid trace variant")
}

var errStreamDesynced = errors.New("stream: previous record failed, stream pools are out of sync")

var (
	recordBuffers       = pool.NewBufferPool(pool.DefaultBufferSize)
	emptySystemMetadata = model.SystemMetadata{}
)

// PoolBase is the number of values and pairs a record's pool sections are
// appended to. Records of ScopeRecord always start from the zero base.
type PoolBase struct {
	Values uint32
	Pairs  uint32
}

// Record is one encoded trace variant together with the pool state it
// builds on.
type Record struct {
	Data []byte
	Base PoolBase
}

// Sink receives encoded records. rec.Data is only valid for the duration of
// the call.
type Sink interface {
	Send(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, rec Record) error { return f(ctx, rec) }

// MessageWriter encodes one record per trace variant and hands it to a Sink.
//
// Record layout: system metadata section, value section (new values), key-value
// section (new pairs), then the variant exactly as in the traces section.
// A MessageWriter is not safe for concurrent use.
type MessageWriter struct {
	sink  Sink
	scope PoolScope
	sys   model.SystemMetadata
	pool  *valuepool.Pool

	open    bool
	current model.TraceVariant
	failed  bool
	records int
}

// NewMessageWriter creates a writer sending to sink. sys may be nil.
func NewMessageWriter(sink Sink, scope PoolScope, sys *model.SystemMetadata) *MessageWriter {
	if sys == nil {
		sys = &emptySystemMetadata
	}
	return &MessageWriter{
		sink:  sink,
		scope: scope,
		sys:   *sys,
		pool:  valuepool.New(),
	}
}

// Records returns the number of records sent.
func (w *MessageWriter) Records() int { return w.records }

// Handle processes one stream event. A record is sent on TraceVariantEnd.
func (w *MessageWriter) Handle(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeContextCanceled, "stream canceled")
	}

	switch ev := ev.(type) {
	case TraceVariantStart:
		if w.open {
			return ErrVariantOpen
		}
		w.open = true
		w.current = model.TraceVariant{Count: ev.Count, Metadata: ev.Metadata}
		return nil
	case TraceEvent:
		if !w.open {
			return ErrNoVariant
		}
		w.current.Events = append(w.current.Events, ev.Event)
		return nil
	case TraceVariantEnd:
		if !w.open {
			return ErrNoVariant
		}
		w.open = false
		v := w.current
		w.current = model.TraceVariant{}
		return w.flush(ctx, &v)
	case LogProperty, LogExtension, LogGlobal, LogClassifier:
		return ErrMetadataEvent
	default:
		return ErrUnknownEvent
	}
}

// WriteVariant sends v as one record.
func (w *MessageWriter) WriteVariant(ctx context.Context, v *model.TraceVariant) error {
	if w.open {
		return ErrVariantOpen
	}
	return w.flush(ctx, v)
}

func (w *MessageWriter) flush(ctx context.Context, v *model.TraceVariant) error {
	if w.failed {
		return errStreamDesynced
	}
	if err := v.Validate(); err != nil {
		return invalid(err)
	}

	buf := recordBuffers.Get()
	defer recordBuffers.Put(buf)

	rec, err := w.encode(buf, v)
	if err == nil {
		err = w.sink.Send(ctx, rec)
	}
	if err != nil {
		if w.scope == ScopeStream {
			w.failed = true
		}
		return err
	}

	w.records++
	return nil
}

func (w *MessageWriter) encode(buf *pool.ByteBuffer, v *model.TraceVariant) (Record, error) {
	if w.scope == ScopeRecord {
		w.pool.Reset()
	}
	base := PoolBase{Values: uint32(w.pool.Len()), Pairs: uint32(w.pool.PairLen())}
	mark := w.pool.Mark()
	w.pool.AddVariant(v)
	values, pairs := w.pool.Since(mark)

	out := wire.NewWriter(buf)
	if err := codec.EncodeSystemMetadata(out, &w.sys); err != nil {
		return Record{}, err
	}
	if err := codec.EncodeValues(out, values, w.pool); err != nil {
		return Record{}, err
	}
	if err := codec.EncodePairs(out, pairs); err != nil {
		return Record{}, err
	}
	if err := codec.EncodeVariant(out, v, w.pool, &w.sys); err != nil {
		return Record{}, err
	}
	return Record{Data: out.Bytes(), Base: base}, nil
}

// RecordReader decodes records produced by a MessageWriter with the same
// scope. In ScopeStream records must be decoded in the order they were sent.
// A RecordReader is not safe for concurrent use.
type RecordReader struct {
	scope  PoolScope
	tables codec.Tables
	sys    model.SystemMetadata
}

// NewRecordReader creates a reader for the given scope.
func NewRecordReader(scope PoolScope) *RecordReader {
	return &RecordReader{scope: scope}
}

// SystemMetadata returns the descriptors of the last decoded record.
func (r *RecordReader) SystemMetadata() model.SystemMetadata { return r.sys }

// Base returns the pool state the next record must build on: the zero base
// in ScopeRecord, the sizes of the accumulated pools in ScopeStream.
func (r *RecordReader) Base() PoolBase {
	if r.scope == ScopeRecord {
		return PoolBase{}
	}
	return PoolBase{Values: uint32(len(r.tables.Values)), Pairs: uint32(len(r.tables.Attrs))}
}

// Reset drops the pools accumulated from earlier records, so the reader can
// follow a new stream from its first record.
func (r *RecordReader) Reset() {
	r.tables.Values = r.tables.Values[:0]
	r.tables.Attrs = r.tables.Attrs[:0]
}

// DecodeRecord decodes rec after checking that it builds on the reader's
// current pools. A record that does not, because earlier records were lost or
// belong to another stream, is a ParseError.
func (r *RecordReader) DecodeRecord(rec Record) (model.TraceVariant, error) {
	if have := r.Base(); rec.Base != have {
		return model.TraceVariant{}, bxerrors.NewParseError(0,
			"record builds on %d values and %d pairs, reader holds %d values and %d pairs",
			rec.Base.Values, rec.Base.Pairs, have.Values, have.Pairs)
	}
	return r.Decode(rec.Data)
}

// Decode decodes one record without checking its base. On failure the reader's pools are left as they
// were before the call.
func (r *RecordReader) Decode(record []byte) (model.TraceVariant, error) {
	if r.scope == ScopeRecord {
		r.Reset()
	}
	values, attrs := len(r.tables.Values), len(r.tables.Attrs)

	v, err := r.decode(record)
	if err != nil {
		r.tables.Values = r.tables.Values[:values]
		r.tables.Attrs = r.tables.Attrs[:attrs]
		return model.TraceVariant{}, err
	}
	return v, nil
}

func (r *RecordReader) decode(record []byte) (model.TraceVariant, error) {
	in := wire.NewReader(record)

	sys, err := codec.DecodeSystemMetadata(in)
	if err != nil {
		return model.TraceVariant{}, err
	}
	if err := r.tables.DecodeValues(in); err != nil {
		return model.TraceVariant{}, err
	}
	if err := r.tables.DecodePairs(in); err != nil {
		return model.TraceVariant{}, err
	}
	v, err := codec.DecodeVariant(in, &r.tables, &sys)
	if err != nil {
		return model.TraceVariant{}, err
	}
	if err := in.Done(); err != nil {
		return model.TraceVariant{}, err
	}

	r.sys = sys
	return v, nil
}
