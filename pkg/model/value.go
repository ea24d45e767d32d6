// Package model defines the in-memory event log of the bxes format: typed
// values, attributes, events, trace variants and log metadata.
package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TypeID is the wire tag of a Value variant.
type TypeID uint8

// Type ids are protocol constants shared with every other bxes implementation.
const (
	TypeNull TypeID = iota
	TypeInt32
	TypeInt64
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeBool
	TypeTimestamp
	TypeBrafLifecycle
	TypeStandardLifecycle
	TypeArtifact
	TypeDrivers
	TypeGuid
	TypeSoftwareEventType

	typeCount
)

var typeNames = [typeCount]string{
	"null", "i32", "i64", "u32", "u64", "f32", "f64", "string", "bool", "timestamp",
	"braf_lifecycle", "standard_lifecycle", "artifact", "drivers", "guid", "software_event_type",
}

// Valid reports whether t is a defined type id.
func (t TypeID) Valid() bool { return t < typeCount }

// String returns the type name.
func (t TypeID) String() string {
	if !t.Valid() {
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
	return typeNames[t]
}

// ParseTypeID resolves a type name as printed by TypeID.String.
func ParseTypeID(name string) (TypeID, bool) {
	for i, n := range typeNames {
		if n == name {
			return TypeID(i), true
		}
	}
	return 0, false
}

// Value is a closed sum type over the bxes value variants. Only types in this
// package implement it; code switching over values should handle every
// variant and treat anything else as an unsupported type id.
type Value interface {
	TypeID() TypeID
	String() string
	isValue()
}

type (
	// Null is the absent value.
	Null struct{}
	// Int32 is a signed 32-bit integer.
	Int32 int32
	// Int64 is a signed 64-bit integer.
	Int64 int64
	// Uint32 is an unsigned 32-bit integer.
	Uint32 uint32
	// Uint64 is an unsigned 64-bit integer.
	Uint64 uint64
	// Float32 is a single-precision float.
	Float32 float32
	// Float64 is a double-precision float.
	Float64 float64
	// String is a UTF-8 string.
	String string
	// Bool is a boolean.
	Bool bool
	// Timestamp is nanoseconds since the Unix epoch.
	Timestamp int64
	// Guid is a 16-byte identifier.
	Guid uuid.UUID
	// Artifact is a list of artifact moves.
	Artifact []ArtifactItem
	// Drivers is a list of cost drivers.
	Drivers []Driver
)

// ArtifactItem is one artifact move.
type ArtifactItem struct {
	Model      string
	Instance   string
	Transition string
}

// Driver is one cost driver.
type Driver struct {
	Amount float64
	Name   string
	Type   string
}

func (Null) TypeID() TypeID              { return TypeNull }
func (Int32) TypeID() TypeID             { return TypeInt32 }
func (Int64) TypeID() TypeID             { return TypeInt64 }
func (Uint32) TypeID() TypeID            { return TypeUint32 }
func (Uint64) TypeID() TypeID            { return TypeUint64 }
func (Float32) TypeID() TypeID           { return TypeFloat32 }
func (Float64) TypeID() TypeID           { return TypeFloat64 }
func (String) TypeID() TypeID            { return TypeString }
func (Bool) TypeID() TypeID              { return TypeBool }
func (Timestamp) TypeID() TypeID         { return TypeTimestamp }
func (BrafLifecycle) TypeID() TypeID     { return TypeBrafLifecycle }
func (StandardLifecycle) TypeID() TypeID { return TypeStandardLifecycle }
func (Artifact) TypeID() TypeID          { return TypeArtifact }
func (Drivers) TypeID() TypeID           { return TypeDrivers }
func (Guid) TypeID() TypeID              { return TypeGuid }
func (SoftwareEventType) TypeID() TypeID { return TypeSoftwareEventType }

func (Null) isValue()              {}
func (Int32) isValue()             {}
func (Int64) isValue()             {}
func (Uint32) isValue()            {}
func (Uint64) isValue()            {}
func (Float32) isValue()           {}
func (Float64) isValue()           {}
func (String) isValue()            {}
func (Bool) isValue()              {}
func (Timestamp) isValue()         {}
func (BrafLifecycle) isValue()     {}
func (StandardLifecycle) isValue() {}
func (Artifact) isValue()          {}
func (Drivers) isValue()           {}
func (Guid) isValue()              {}
func (SoftwareEventType) isValue() {}

func (Null) String() string      { return "null" }
func (v Int32) String() string   { return strconv.FormatInt(int64(v), 10) }
func (v Int64) String() string   { return strconv.FormatInt(int64(v), 10) }
func (v Uint32) String() string  { return strconv.FormatUint(uint64(v), 10) }
func (v Uint64) String() string  { return strconv.FormatUint(uint64(v), 10) }
func (v Float32) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
func (v Float64) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v String) String() string  { return string(v) }
func (v Bool) String() string    { return strconv.FormatBool(bool(v)) }
func (v Guid) String() string    { return uuid.UUID(v).String() }

// String renders the timestamp as RFC 3339 in UTC.
func (v Timestamp) String() string { return v.Time().Format(time.RFC3339Nano) }

// Time converts the timestamp to a time.Time in UTC.
func (v Timestamp) Time() time.Time { return time.Unix(0, int64(v)).UTC() }

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp { return Timestamp(t.UnixNano()) }

func (v Artifact) String() string {
	parts := make([]string, len(v))
	for i, item := range v {
		parts[i] = fmt.Sprintf("%s/%s/%s", item.Model, item.Instance, item.Transition)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v Drivers) String() string {
	parts := make([]string, len(v))
	for i, d := range v {
		parts[i] = fmt.Sprintf("%s:%s=%g", d.Name, d.Type, d.Amount)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Strings returns the strings a composite value references, in the order the
// encoder registers them. It is nil for scalar values.
func Strings(v Value) []string {
	switch v := v.(type) {
	case Artifact:
		out := make([]string, 0, 3*len(v))
		for _, item := range v {
			out = append(out, item.Model, item.Instance, item.Transition)
		}
		return out
	case Drivers:
		out := make([]string, 0, 2*len(v))
		for _, d := range v {
			out = append(out, d.Name, d.Type)
		}
		return out
	default:
		return nil
	}
}

// Equal reports structural equality: same type id and equal payload. Floats
// compare by bit pattern so that Equal agrees with Key.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.TypeID() != b.TypeID() {
		return false
	}

	switch a := a.(type) {
	case Float32:
		return math.Float32bits(float32(a)) == math.Float32bits(float32(b.(Float32)))
	case Float64:
		return math.Float64bits(float64(a)) == math.Float64bits(float64(b.(Float64)))
	case Artifact:
		other := b.(Artifact)
		if len(a) != len(other) {
			return false
		}
		for i := range a {
			if a[i] != other[i] {
				return false
			}
		}
		return true
	case Drivers:
		other := b.(Drivers)
		if len(a) != len(other) {
			return false
		}
		for i := range a {
			if math.Float64bits(a[i].Amount) != math.Float64bits(other[i].Amount) ||
				a[i].Name != other[i].Name || a[i].Type != other[i].Type {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Key returns a canonical byte string identifying v up to structural
// equality: Equal(a, b) iff Key(a) == Key(b). It is the dedup key of value
// pools.
func Key(v Value) string {
	var buf []byte
	buf = appendKey(buf, v)
	return string(buf)
}

func appendKey(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.TypeID()))

	switch v := v.(type) {
	case Null:
	case Int32:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	case Int64:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	case Uint32:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	case Uint64:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	case Float32:
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	case Float64:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(v)))
	case String:
		buf = appendKeyString(buf, string(v))
	case Bool:
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case Timestamp:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	case BrafLifecycle:
		buf = append(buf, byte(v))
	case StandardLifecycle:
		buf = append(buf, byte(v))
	case SoftwareEventType:
		buf = append(buf, byte(v))
	case Guid:
		buf = append(buf, v[:]...)
	case Artifact:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		for _, item := range v {
			buf = appendKeyString(buf, item.Model)
			buf = appendKeyString(buf, item.Instance)
			buf = appendKeyString(buf, item.Transition)
		}
	case Drivers:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		for _, d := range v {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(d.Amount))
			buf = appendKeyString(buf, d.Name)
			buf = appendKeyString(buf, d.Type)
		}
	}

	return buf
}

func appendKeyString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
