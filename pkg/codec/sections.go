package codec

import (
	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/valuepool"
	"github.com/logflow/bxes/pkg/wire"
)

// EncodeSystemMetadata writes the value-attribute descriptors: a u32 count,
// then per descriptor its type id and its name as a tagged string.
func EncodeSystemMetadata(w *wire.Writer, sys *model.SystemMetadata) error {
	if err := w.Count(len(sys.ValueAttributes), "value attribute"); err != nil {
		return err
	}
	for _, d := range sys.ValueAttributes {
		if !d.TypeID.Valid() {
			return &bxerrors.UnsupportedTypeIDError{TypeID: uint8(d.TypeID)}
		}
		if d.TypeID == model.TypeNull {
			// Readers would add the attribute to every event that lacks it.
			return bxerrors.New(bxerrors.CodeInvalidFormat, "value attribute of type null cannot round-trip").
				WithContext("name", d.Name)
		}
		w.U8(uint8(d.TypeID))
		w.U8(uint8(model.TypeString))
		w.String(d.Name)
	}
	return nil
}

// DecodeSystemMetadata reads the section written by EncodeSystemMetadata.
func DecodeSystemMetadata(r *wire.Reader) (model.SystemMetadata, error) {
	var sys model.SystemMetadata

	n, err := r.Count(10, "value attribute")
	if err != nil {
		return sys, err
	}
	if n == 0 {
		return sys, nil
	}

	sys.ValueAttributes = make([]model.ValueAttributeDescriptor, n)
	for i := range sys.ValueAttributes {
		at := r.Offset()
		tag, err := r.U8()
		if err != nil {
			return sys, err
		}
		if !model.TypeID(tag).Valid() {
			return sys, bxerrors.NewParseError(at, "value attribute has unsupported type id %d", tag)
		}

		at = r.Offset()
		nameTag, err := r.U8()
		if err != nil {
			return sys, err
		}
		if model.TypeID(nameTag) != model.TypeString {
			return sys, bxerrors.NewParseError(at, "value attribute name is %s, expected string", model.TypeID(nameTag))
		}
		name, err := r.String()
		if err != nil {
			return sys, err
		}

		sys.ValueAttributes[i] = model.ValueAttributeDescriptor{TypeID: model.TypeID(tag), Name: name}
	}
	return sys, nil
}

// EncodeValues writes a u32 count followed by the tagged values.
func EncodeValues(w *wire.Writer, values []model.Value, p *valuepool.Pool) error {
	if err := w.Count(len(values), "value"); err != nil {
		return err
	}
	for _, v := range values {
		if err := EncodeValue(w, v, p); err != nil {
			return err
		}
	}
	return nil
}

// EncodePairs writes a u32 count followed by (key, value) u32 index pairs.
func EncodePairs(w *wire.Writer, pairs []valuepool.Pair) error {
	if err := w.Count(len(pairs), "key-value pair"); err != nil {
		return err
	}
	for _, pair := range pairs {
		w.U32(pair.Key)
		w.U32(pair.Value)
	}
	return nil
}

// Tables holds the decoded value table and the key-value table resolved to
// attributes. Decoding appends, so a stream reader can keep one Tables across
// records.
type Tables struct {
	Values []model.Value
	Attrs  []model.Attribute
}

// DecodeValues appends a value section to t.
func (t *Tables) DecodeValues(r *wire.Reader) error {
	n, err := r.Count(1, "value")
	if err != nil {
		return err
	}
	t.Values = growValues(t.Values, n)
	for i := 0; i < n; i++ {
		v, err := DecodeValue(r, t.Values)
		if err != nil {
			return err
		}
		t.Values = append(t.Values, v)
	}
	return nil
}

// DecodePairs appends a key-value section to t. Keys must name strings.
func (t *Tables) DecodePairs(r *wire.Reader) error {
	n, err := r.Count(8, "key-value pair")
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		at := r.Offset()
		k, err := r.IndexU32(len(t.Values), "key")
		if err != nil {
			return err
		}
		v, err := r.IndexU32(len(t.Values), "value")
		if err != nil {
			return err
		}
		key, ok := t.Values[k].(model.String)
		if !ok {
			return bxerrors.NewParseError(at, "key %d is %s, expected string", k, t.Values[k].TypeID())
		}
		t.Attrs = append(t.Attrs, model.Attribute{Key: string(key), Value: t.Values[v]})
	}
	return nil
}

func growValues(s []model.Value, n int) []model.Value {
	if cap(s)-len(s) >= n {
		return s
	}
	grown := make([]model.Value, len(s), len(s)+n)
	copy(grown, s)
	return grown
}

func (t *Tables) stringAt(r *wire.Reader, what string) (string, error) {
	at := r.Offset()
	idx, err := r.IndexU32(len(t.Values), what)
	if err != nil {
		return "", err
	}
	s, ok := t.Values[idx].(model.String)
	if !ok {
		return "", bxerrors.NewParseError(at, "%s %d is %s, expected string", what, idx, t.Values[idx].TypeID())
	}
	return string(s), nil
}

func (t *Tables) attrsU32(r *wire.Reader, what string) ([]model.Attribute, error) {
	n, err := r.Count(4, what)
	if err != nil || n == 0 {
		return nil, err
	}
	attrs := make([]model.Attribute, n)
	for i := range attrs {
		idx, err := r.IndexU32(len(t.Attrs), what)
		if err != nil {
			return nil, err
		}
		attrs[i] = t.Attrs[idx]
	}
	return attrs, nil
}

func encodeAttrsU32(w *wire.Writer, attrs []model.Attribute, p *valuepool.Pool, what string) error {
	if err := w.Count(len(attrs), what); err != nil {
		return err
	}
	for _, a := range attrs {
		idx, ok := p.PairIndexOf(a)
		if !ok {
			return notPooled(a)
		}
		w.U32(idx)
	}
	return nil
}

func notPooled(a model.Attribute) error {
	return bxerrors.New(bxerrors.CodeEncodeFailed, "attribute is not pooled").WithContext("key", a.Key)
}

// EncodeMetadata writes the log metadata section.
func EncodeMetadata(w *wire.Writer, m *model.Metadata, p *valuepool.Pool) error {
	if err := encodeAttrsU32(w, m.Properties, p, "property"); err != nil {
		return err
	}

	if err := w.Count(len(m.Extensions), "extension"); err != nil {
		return err
	}
	for _, ext := range m.Extensions {
		for _, s := range [...]string{ext.Name, ext.Prefix, ext.URI} {
			if err := writeStringRef(w, s, p); err != nil {
				return err
			}
		}
	}

	if err := w.Count(len(m.Globals), "global"); err != nil {
		return err
	}
	for _, g := range m.Globals {
		if !g.Kind.Valid() {
			return bxerrors.New(bxerrors.CodeEncodeFailed, "invalid global entity kind").WithContext("kind", uint8(g.Kind))
		}
		w.U8(uint8(g.Kind))
		if err := encodeAttrsU32(w, g.Attributes, p, "global attribute"); err != nil {
			return err
		}
	}

	if err := w.Count(len(m.Classifiers), "classifier"); err != nil {
		return err
	}
	for _, c := range m.Classifiers {
		if err := writeStringRef(w, c.Name, p); err != nil {
			return err
		}
		if err := w.Count(len(c.Keys), "classifier key"); err != nil {
			return err
		}
		for _, k := range c.Keys {
			if err := writeStringRef(w, k, p); err != nil {
				return err
			}
		}
	}

	return nil
}

// DecodeMetadata reads the log metadata section.
func DecodeMetadata(r *wire.Reader, t *Tables) (model.Metadata, error) {
	var m model.Metadata
	var err error

	if m.Properties, err = t.attrsU32(r, "property"); err != nil {
		return m, err
	}

	n, err := r.Count(12, "extension")
	if err != nil {
		return m, err
	}
	if n > 0 {
		m.Extensions = make([]model.Extension, n)
	}
	for i := range m.Extensions {
		ext := &m.Extensions[i]
		if ext.Name, err = t.stringAt(r, "extension name"); err != nil {
			return m, err
		}
		if ext.Prefix, err = t.stringAt(r, "extension prefix"); err != nil {
			return m, err
		}
		if ext.URI, err = t.stringAt(r, "extension uri"); err != nil {
			return m, err
		}
	}

	if n, err = r.Count(5, "global"); err != nil {
		return m, err
	}
	if n > 0 {
		m.Globals = make([]model.Global, n)
	}
	for i := range m.Globals {
		at := r.Offset()
		kind, err := r.U8()
		if err != nil {
			return m, err
		}
		if !model.EntityKind(kind).Valid() {
			return m, bxerrors.NewParseError(at, "invalid entity kind %d", kind)
		}
		m.Globals[i].Kind = model.EntityKind(kind)
		if m.Globals[i].Attributes, err = t.attrsU32(r, "global attribute"); err != nil {
			return m, err
		}
	}

	if n, err = r.Count(8, "classifier"); err != nil {
		return m, err
	}
	if n > 0 {
		m.Classifiers = make([]model.Classifier, n)
	}
	for i := range m.Classifiers {
		c := &m.Classifiers[i]
		if c.Name, err = t.stringAt(r, "classifier name"); err != nil {
			return m, err
		}
		keys, err := r.Count(4, "classifier key")
		if err != nil {
			return m, err
		}
		if keys > 0 {
			c.Keys = make([]string, keys)
		}
		for j := range c.Keys {
			if c.Keys[j], err = t.stringAt(r, "classifier key"); err != nil {
				return m, err
			}
		}
	}

	return m, nil
}

// EncodeVariants writes the traces section: a u32 variant count followed by
// each variant.
func EncodeVariants(w *wire.Writer, variants []model.TraceVariant, p *valuepool.Pool, sys *model.SystemMetadata) error {
	if err := w.Count(len(variants), "variant"); err != nil {
		return err
	}
	for i := range variants {
		if err := EncodeVariant(w, &variants[i], p, sys); err != nil {
			return err
		}
	}
	return nil
}

// DecodeVariants reads the traces section.
func DecodeVariants(r *wire.Reader, t *Tables, sys *model.SystemMetadata) ([]model.TraceVariant, error) {
	n, err := r.Count(12, "variant")
	if err != nil || n == 0 {
		return nil, err
	}
	variants := make([]model.TraceVariant, n)
	for i := range variants {
		if variants[i], err = DecodeVariant(r, t, sys); err != nil {
			return nil, err
		}
	}
	return variants, nil
}

// EncodeVariant writes one variant: its trace count, its metadata as u32
// key-value indices, a u32 event count and the events.
func EncodeVariant(w *wire.Writer, v *model.TraceVariant, p *valuepool.Pool, sys *model.SystemMetadata) error {
	EncodeVariantHeader(w, v.Count)
	if err := encodeAttrsU32(w, v.Metadata, p, "trace attribute"); err != nil {
		return err
	}
	if err := w.Count(len(v.Events), "event"); err != nil {
		return err
	}
	for i := range v.Events {
		if err := EncodeEvent(w, &v.Events[i], p, sys); err != nil {
			return err
		}
	}
	return nil
}

// EncodeVariantHeader writes the trace count that opens a variant.
func EncodeVariantHeader(w *wire.Writer, count uint32) {
	w.U32(count)
}

// EncodeVariantMetadata writes a variant's metadata list.
func EncodeVariantMetadata(w *wire.Writer, attrs []model.Attribute, p *valuepool.Pool) error {
	return encodeAttrsU32(w, attrs, p, "trace attribute")
}

// DecodeVariant reads one variant.
func DecodeVariant(r *wire.Reader, t *Tables, sys *model.SystemMetadata) (model.TraceVariant, error) {
	var v model.TraceVariant

	at := r.Offset()
	count, err := r.U32()
	if err != nil {
		return v, err
	}
	if count == 0 {
		return v, bxerrors.NewParseError(at, "variant trace count is zero")
	}
	v.Count = count

	if v.Metadata, err = t.attrsU32(r, "trace attribute"); err != nil {
		return v, err
	}

	n, err := r.Count(9, "event")
	if err != nil {
		return v, err
	}
	if n > 0 {
		v.Events = make([]model.Event, n)
	}
	for i := range v.Events {
		if v.Events[i], err = DecodeEvent(r, t, sys); err != nil {
			return v, err
		}
	}
	return v, nil
}

// EncodeEvent writes one event: LEB128 name index, i64 timestamp, one inline
// value per value-attribute descriptor, then the remaining attributes as a
// LEB128 count and LEB128 key-value indices.
//
// Descriptor i takes the first attribute with its name and type id that no
// earlier descriptor took; Null is written when there is none.
func EncodeEvent(w *wire.Writer, e *model.Event, p *valuepool.Pool, sys *model.SystemMetadata) error {
	name, ok := p.StringIndex(e.Name)
	if !ok {
		return bxerrors.New(bxerrors.CodeEncodeFailed, "event name is not pooled").WithContext("name", e.Name)
	}
	w.Uvarint(uint64(name))
	w.I64(e.Timestamp)

	var inlined []bool
	remaining := len(e.Attributes)
	if len(sys.ValueAttributes) > 0 {
		inlined = make([]bool, len(e.Attributes))
	}

	for _, d := range sys.ValueAttributes {
		var value model.Value = model.Null{}
		for i, a := range e.Attributes {
			if !inlined[i] && a.Key == d.Name && a.Value.TypeID() == d.TypeID {
				inlined[i] = true
				remaining--
				value = a.Value
				break
			}
		}
		if err := EncodeValue(w, value, p); err != nil {
			return err
		}
	}

	w.Uvarint(uint64(remaining))
	for i, a := range e.Attributes {
		if inlined != nil && inlined[i] {
			continue
		}
		idx, ok := p.PairIndexOf(a)
		if !ok {
			return notPooled(a)
		}
		w.Uvarint(uint64(idx))
	}

	return nil
}

// DecodeEvent reads one event. Non-null inline values, and inline values of
// Null-typed descriptors, become the leading attributes in descriptor order.
// Null-typed descriptors are never written here but are accepted from other
// writers; every event then carries the (name, Null) attribute.
func DecodeEvent(r *wire.Reader, t *Tables, sys *model.SystemMetadata) (model.Event, error) {
	var e model.Event

	at := r.Offset()
	nameIdx, err := r.Index(len(t.Values), "event name")
	if err != nil {
		return e, err
	}
	name, ok := t.Values[nameIdx].(model.String)
	if !ok {
		return e, bxerrors.NewParseError(at, "event name %d is %s, expected string", nameIdx, t.Values[nameIdx].TypeID())
	}
	e.Name = string(name)

	if e.Timestamp, err = r.I64(); err != nil {
		return e, err
	}

	for _, d := range sys.ValueAttributes {
		v, err := DecodeValue(r, t.Values)
		if err != nil {
			return e, err
		}
		if v.TypeID() != model.TypeNull || d.TypeID == model.TypeNull {
			e.Attributes = append(e.Attributes, model.Attribute{Key: d.Name, Value: v})
		}
	}

	n, err := r.UvarintCount(1, "event attribute")
	if err != nil {
		return e, err
	}
	if n > 0 && e.Attributes == nil {
		e.Attributes = make([]model.Attribute, 0, n)
	}
	for i := 0; i < n; i++ {
		idx, err := r.Index(len(t.Attrs), "event attribute")
		if err != nil {
			return e, err
		}
		e.Attributes = append(e.Attributes, t.Attrs[idx])
	}

	return e, nil
}
