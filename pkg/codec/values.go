// Package codec implements the bxes bulk encoder and decoder: the section
// layout shared by every representation, the single-file zip archive and the
// multi-file directory layout.
package codec

import (
	"github.com/google/uuid"

	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/valuepool"
	"github.com/logflow/bxes/pkg/wire"
)

// EncodeValue writes v with its type id. Strings referenced by composite
// values are resolved through p and must already be registered.
func EncodeValue(w *wire.Writer, v model.Value, p *valuepool.Pool) error {
	if v == nil {
		return bxerrors.New(bxerrors.CodeEncodeFailed, "cannot encode nil value")
	}

	w.U8(uint8(v.TypeID()))

	switch v := v.(type) {
	case model.Null:
	case model.Int32:
		w.I32(int32(v))
	case model.Int64:
		w.I64(int64(v))
	case model.Uint32:
		w.U32(uint32(v))
	case model.Uint64:
		w.U64(uint64(v))
	case model.Float32:
		w.F32(float32(v))
	case model.Float64:
		w.F64(float64(v))
	case model.String:
		w.String(string(v))
	case model.Bool:
		w.Bool(bool(v))
	case model.Timestamp:
		w.I64(int64(v))
	case model.BrafLifecycle:
		w.U8(uint8(v))
	case model.StandardLifecycle:
		w.U8(uint8(v))
	case model.SoftwareEventType:
		w.U8(uint8(v))
	case model.Guid:
		b := guidToWire(uuid.UUID(v))
		w.Raw(b[:])
	case model.Artifact:
		if err := w.Count(len(v), "artifact item"); err != nil {
			return err
		}
		for _, item := range v {
			for _, s := range [...]string{item.Model, item.Instance, item.Transition} {
				if err := writeStringRef(w, s, p); err != nil {
					return err
				}
			}
		}
	case model.Drivers:
		if err := w.Count(len(v), "driver"); err != nil {
			return err
		}
		for _, d := range v {
			w.F64(d.Amount)
			if err := writeStringRef(w, d.Name, p); err != nil {
				return err
			}
			if err := writeStringRef(w, d.Type, p); err != nil {
				return err
			}
		}
	default:
		return &bxerrors.UnsupportedTypeIDError{TypeID: uint8(v.TypeID())}
	}

	return nil
}

func writeStringRef(w *wire.Writer, s string, p *valuepool.Pool) error {
	idx, ok := p.StringIndex(s)
	if !ok {
		return bxerrors.New(bxerrors.CodeEncodeFailed, "string is not pooled").WithContext("value", s)
	}
	w.U32(idx)
	return nil
}

// DecodeValue reads one self-tagged value. Composite values resolve their
// strings against table, which holds every value decoded so far; when
// decoding the value table itself this makes every reference point strictly
// backward.
func DecodeValue(r *wire.Reader, table []model.Value) (model.Value, error) {
	at := r.Offset()
	tag, err := r.U8()
	if err != nil {
		return nil, err
	}

	switch model.TypeID(tag) {
	case model.TypeNull:
		return model.Null{}, nil
	case model.TypeInt32:
		v, err := r.I32()
		return model.Int32(v), err
	case model.TypeInt64:
		v, err := r.I64()
		return model.Int64(v), err
	case model.TypeUint32:
		v, err := r.U32()
		return model.Uint32(v), err
	case model.TypeUint64:
		v, err := r.U64()
		return model.Uint64(v), err
	case model.TypeFloat32:
		v, err := r.F32()
		return model.Float32(v), err
	case model.TypeFloat64:
		v, err := r.F64()
		return model.Float64(v), err
	case model.TypeString:
		v, err := r.String()
		return model.String(v), err
	case model.TypeBool:
		v, err := r.Bool()
		return model.Bool(v), err
	case model.TypeTimestamp:
		v, err := r.I64()
		return model.Timestamp(v), err
	case model.TypeBrafLifecycle:
		b, err := readEnum(r, func(b uint8) bool { return model.BrafLifecycle(b).Valid() }, "braf lifecycle")
		return model.BrafLifecycle(b), err
	case model.TypeStandardLifecycle:
		b, err := readEnum(r, func(b uint8) bool { return model.StandardLifecycle(b).Valid() }, "standard lifecycle")
		return model.StandardLifecycle(b), err
	case model.TypeSoftwareEventType:
		b, err := readEnum(r, func(b uint8) bool { return model.SoftwareEventType(b).Valid() }, "software event type")
		return model.SoftwareEventType(b), err
	case model.TypeGuid:
		b, err := r.Bytes(16)
		if err != nil {
			return nil, err
		}
		var raw [16]byte
		copy(raw[:], b)
		return model.Guid(guidFromWire(raw)), nil
	case model.TypeArtifact:
		n, err := r.Count(12, "artifact item")
		if err != nil {
			return nil, err
		}
		items := make(model.Artifact, n)
		for i := range items {
			if items[i].Model, err = readStringRef(r, table); err != nil {
				return nil, err
			}
			if items[i].Instance, err = readStringRef(r, table); err != nil {
				return nil, err
			}
			if items[i].Transition, err = readStringRef(r, table); err != nil {
				return nil, err
			}
		}
		return items, nil
	case model.TypeDrivers:
		n, err := r.Count(16, "driver")
		if err != nil {
			return nil, err
		}
		drivers := make(model.Drivers, n)
		for i := range drivers {
			if drivers[i].Amount, err = r.F64(); err != nil {
				return nil, err
			}
			if drivers[i].Name, err = readStringRef(r, table); err != nil {
				return nil, err
			}
			if drivers[i].Type, err = readStringRef(r, table); err != nil {
				return nil, err
			}
		}
		return drivers, nil
	default:
		return nil, bxerrors.NewParseError(at, "unsupported type id %d", tag)
	}
}

func readEnum(r *wire.Reader, valid func(uint8) bool, what string) (uint8, error) {
	at := r.Offset()
	b, err := r.U8()
	if err != nil {
		return 0, err
	}
	if !valid(b) {
		return 0, bxerrors.NewParseError(at, "%s value %d out of range", what, b)
	}
	return b, nil
}

// readStringRef reads a u32 value index that must name a String.
func readStringRef(r *wire.Reader, table []model.Value) (string, error) {
	at := r.Offset()
	idx, err := r.IndexU32(len(table), "string")
	if err != nil {
		return "", err
	}
	s, ok := table[idx].(model.String)
	if !ok {
		return "", bxerrors.NewParseError(at, "value %d is %s, expected string", idx, table[idx].TypeID())
	}
	return string(s), nil
}

// guidToWire converts an RFC 4122 uuid to the byte order of .NET
// Guid.ToByteArray: the first three groups are little-endian.
func guidToWire(u uuid.UUID) [16]byte {
	var b [16]byte
	copy(b[:], u[:])
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	return b
}

func guidFromWire(b [16]byte) uuid.UUID {
	// the swap is its own inverse
	return uuid.UUID(guidToWire(uuid.UUID(b)))
}
