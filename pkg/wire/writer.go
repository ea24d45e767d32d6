package wire

import (
	"encoding/binary"
	"math"

	"fortio.org/safecast"

	"github.com/logflow/bxes/internal/pool"
	bxerrors "github.com/logflow/bxes/pkg/errors"
)

// Writer appends primitives to a pooled buffer.
type Writer struct {
	buf *pool.ByteBuffer
}

// NewWriter creates a Writer appending to buf.
func NewWriter(buf *pool.ByteBuffer) *Writer {
	return &Writer{buf: buf}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) U8(v uint8) { w.buf.Data = append(w.buf.Data, v) }

func (w *Writer) U32(v uint32) { w.buf.Data = binary.LittleEndian.AppendUint32(w.buf.Data, v) }

func (w *Writer) U64(v uint64) { w.buf.Data = binary.LittleEndian.AppendUint64(w.buf.Data, v) }

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

func (w *Writer) F64(v float64) { w.U64(math.Float64bits(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

// Raw appends b verbatim.
func (w *Writer) Raw(b []byte) { w.buf.Data = append(w.buf.Data, b...) }

// String writes a u64 byte length followed by the bytes of s.
func (w *Writer) String(s string) {
	w.U64(uint64(len(s)))
	w.buf.Data = append(w.buf.Data, s...)
}

// Uvarint writes an unsigned LEB128 integer.
func (w *Writer) Uvarint(v uint64) { w.buf.Data = binary.AppendUvarint(w.buf.Data, v) }

// Count writes n as a u32 element count.
func (w *Writer) Count(n int, what string) error {
	c, err := safecast.Conv[uint32](n)
	if err != nil {
		return bxerrors.Wrapf(err, bxerrors.CodeEncodeFailed, "%s count %d does not fit in u32", what, n)
	}
	w.U32(c)
	return nil
}

// Reserve writes a u32 placeholder and returns its position for PatchU32.
func (w *Writer) Reserve() int {
	at := w.buf.Len()
	w.U32(0)
	return at
}

// PatchU32 overwrites the u32 at position at.
func (w *Writer) PatchU32(at int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf.Data[at:at+4], v)
}
