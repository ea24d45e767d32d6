// Package wire implements the little-endian primitives of the bxes format:
// fixed-width integers and floats, LEB128 indices and length-prefixed strings.
package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	bxerrors "github.com/logflow/bxes/pkg/errors"
)

// Reader decodes primitives from an in-memory section. Every failure is a
// *errors.ParseError carrying the offset of the failed read.
type Reader struct {
	buf []byte
	off int
}

// NewReader creates a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset returns the current read position.
func (r *Reader) Offset() int64 { return int64(r.off) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Errorf builds a ParseError at the current offset.
func (r *Reader) Errorf(format string, args ...any) error {
	return bxerrors.NewParseError(int64(r.off), format, args...)
}

// Done fails if unread bytes remain.
func (r *Reader) Done() error {
	if r.off != len(r.buf) {
		return r.Errorf("%d trailing bytes", len(r.buf)-r.off)
	}
	return nil
}

func (r *Reader) take(n int, what string) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, r.Errorf("unexpected end of data reading %s", what)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1, "u8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4, "u32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8, "u64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// I32 reads a little-endian int32.
func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// I64 reads a little-endian int64.
func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

// F32 reads an IEEE 754 single.
func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

// F64 reads an IEEE 754 double.
func (r *Reader) F64() (float64, error) {
	v, err := r.U64()
	return math.Float64frombits(v), err
}

// Bool reads a strict 0/1 byte.
func (r *Reader) Bool() (bool, error) {
	at := r.off
	b, err := r.U8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, bxerrors.NewParseError(int64(at), "invalid bool byte %d", b)
	}
}

// Bytes reads n raw bytes. The result aliases the reader's buffer.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n, "bytes")
}

// String reads a u64 byte length followed by UTF-8 bytes.
func (r *Reader) String() (string, error) {
	at := r.off
	n, err := r.U64()
	if err != nil {
		return "", err
	}
	if n > uint64(r.Remaining()) {
		return "", bxerrors.NewParseError(int64(at), "string length %d exceeds remaining %d bytes", n, r.Remaining())
	}
	b, err := r.take(int(n), "string")
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", bxerrors.NewParseError(int64(at), "string is not valid UTF-8")
	}
	return string(b), nil
}

// Uvarint reads an unsigned LEB128 integer.
func (r *Reader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	switch {
	case n == 0:
		return 0, r.Errorf("unexpected end of data reading leb128")
	case n < 0:
		return 0, r.Errorf("leb128 value overflows 64 bits")
	}
	r.off += n
	return v, nil
}

// Index reads a LEB128 index and checks it against limit.
func (r *Reader) Index(limit int, what string) (uint32, error) {
	at := r.off
	v, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if v >= uint64(limit) {
		return 0, bxerrors.NewParseError(int64(at), "%s index %d out of range [0, %d)", what, v, limit)
	}
	return uint32(v), nil
}

// IndexU32 reads a fixed-width u32 index and checks it against limit.
func (r *Reader) IndexU32(limit int, what string) (uint32, error) {
	at := r.off
	v, err := r.U32()
	if err != nil {
		return 0, err
	}
	if uint64(v) >= uint64(limit) {
		return 0, bxerrors.NewParseError(int64(at), "%s index %d out of range [0, %d)", what, v, limit)
	}
	return v, nil
}

// Count reads a u32 element count and rejects counts that cannot fit in the
// remaining bytes given a minimum element size.
func (r *Reader) Count(minElemSize int, what string) (int, error) {
	at := r.off
	n, err := r.U32()
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && uint64(n)*uint64(minElemSize) > uint64(r.Remaining()) {
		return 0, bxerrors.NewParseError(int64(at), "%s count %d exceeds remaining data", what, n)
	}
	return int(n), nil
}

// UvarintCount is Count for LEB128-encoded counts.
func (r *Reader) UvarintCount(minElemSize int, what string) (int, error) {
	at := r.off
	n, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if n > math.MaxUint32 || (minElemSize > 0 && n*uint64(minElemSize) > uint64(r.Remaining())) {
		return 0, bxerrors.NewParseError(int64(at), "%s count %d exceeds remaining data", what, n)
	}
	return int(n), nil
}
