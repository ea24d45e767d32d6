package codec

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zip"

	"github.com/logflow/bxes/internal/pool"
	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/valuepool"
	"github.com/logflow/bxes/pkg/wire"
)

// EntryName is the name of the single entry of a single-file archive.
const EntryName = "log.bxes"

var buffers = pool.NewBufferPool(pool.DefaultBufferSize)

// Result is a decoded log together with the system metadata it was written
// with.
type Result struct {
	Log            *model.EventLog
	SystemMetadata model.SystemMetadata
}

func orEmpty(sys *model.SystemMetadata) *model.SystemMetadata {
	if sys == nil {
		return &model.SystemMetadata{}
	}
	return sys
}

func validate(log *model.EventLog) error {
	if err := log.Validate(); err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeInvalidFormat, "invalid event log")
	}
	return nil
}

// Encode returns the concatenated sections of log, the payload of a
// single-file archive entry.
func Encode(log *model.EventLog, sys *model.SystemMetadata) ([]byte, error) {
	if err := validate(log); err != nil {
		return nil, err
	}
	sys = orEmpty(sys)

	buf := buffers.Get()
	defer buffers.Put(buf)

	w := wire.NewWriter(buf)
	p := valuepool.FromLog(log)

	w.U32(log.Version)
	if err := EncodeSystemMetadata(w, sys); err != nil {
		return nil, err
	}
	if err := EncodeValues(w, p.Values(), p); err != nil {
		return nil, err
	}
	if err := EncodePairs(w, p.Pairs()); err != nil {
		return nil, err
	}
	if err := EncodeMetadata(w, &log.Metadata, p); err != nil {
		return nil, err
	}
	if err := EncodeVariants(w, log.Variants, p, sys); err != nil {
		return nil, err
	}

	return buf.Detach(), nil
}

// Decode parses the concatenated sections produced by Encode. Trailing bytes
// are an error.
func Decode(data []byte) (*Result, error) {
	return decodeBody(data, nil)
}

func decodeBody(data []byte, stats *Stats) (*Result, error) {
	r := wire.NewReader(data)
	mark := func(name string, start int64) {
		if stats != nil {
			stats.Sections = append(stats.Sections, Section{Name: name, Bytes: r.Offset() - start})
		}
	}

	version, err := r.U32()
	if err != nil {
		return nil, err
	}
	mark("version", 0)

	start := r.Offset()
	sys, err := DecodeSystemMetadata(r)
	if err != nil {
		return nil, err
	}
	mark("system metadata", start)

	var t Tables
	start = r.Offset()
	if err := t.DecodeValues(r); err != nil {
		return nil, err
	}
	mark("values", start)

	start = r.Offset()
	if err := t.DecodePairs(r); err != nil {
		return nil, err
	}
	mark("key-value pairs", start)

	start = r.Offset()
	meta, err := DecodeMetadata(r, &t)
	if err != nil {
		return nil, err
	}
	mark("metadata", start)

	start = r.Offset()
	variants, err := DecodeVariants(r, &t, &sys)
	if err != nil {
		return nil, err
	}
	mark("traces", start)

	if err := r.Done(); err != nil {
		return nil, err
	}

	log := &model.EventLog{Version: version, Metadata: meta, Variants: variants}
	if stats != nil {
		stats.fill(log, &sys, &t)
	}
	return &Result{Log: log, SystemMetadata: sys}, nil
}

// EncodeSingleFile writes log as a zip archive with one entry to w.
func EncodeSingleFile(w io.Writer, log *model.EventLog, sys *model.SystemMetadata) error {
	body, err := Encode(log, sys)
	if err != nil {
		return err
	}
	return writeArchive(w, body)
}

func writeArchive(w io.Writer, body []byte) error {
	zw := zip.NewWriter(w)
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: EntryName, Method: zip.Deflate})
	if err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeWriteFailed, "failed to create archive entry")
	}
	if _, err := entry.Write(body); err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeWriteFailed, "failed to write archive entry")
	}
	if err := zw.Close(); err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeWriteFailed, "failed to finish archive")
	}
	return nil
}

// WriteSingleFile encodes log into a single-file archive at path. A partially
// written file is removed on failure.
func WriteSingleFile(path string, log *model.EventLog, sys *model.SystemMetadata) error {
	body, err := Encode(log, sys)
	if err != nil {
		return err
	}
	return WriteArchiveFile(path, body)
}

// WriteArchiveFile wraps an already encoded payload (see Encode) into a
// single-file archive at path.
func WriteArchiveFile(path string, body []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = bxerrors.Wrap(cerr, bxerrors.CodeWriteFailed, "failed to close output file")
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	return writeArchive(f, body)
}

// DecodeSingleFile decodes a single-file archive of the given size.
func DecodeSingleFile(ra io.ReaderAt, size int64) (*Result, error) {
	body, err := readArchive(ra, size)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

func readArchive(ra io.ReaderAt, size int64) ([]byte, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, bxerrors.NewParseError(0, "invalid zip archive: %v", err)
	}
	if len(zr.File) != 1 {
		return nil, bxerrors.NewParseError(0, "archive has %d entries, expected 1", len(zr.File))
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, bxerrors.NewParseError(0, "cannot open archive entry: %v", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if n := zr.File[0].UncompressedSize64; n > 0 && n < 1<<31 {
		buf.Grow(int(n))
	}
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, bxerrors.NewParseError(int64(buf.Len()), "corrupt archive entry: %v", err)
	}
	return buf.Bytes(), nil
}

// ReadSingleFile decodes the single-file archive at path.
func ReadSingleFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, openError(err, path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, bxerrors.Wrap(err, bxerrors.CodeFileNotFound, "failed to stat input file")
	}
	return DecodeSingleFile(f, info.Size())
}

func openError(err error, path string) error {
	code := bxerrors.CodeUnknown
	if os.IsNotExist(err) {
		code = bxerrors.CodeFileNotFound
	}
	return bxerrors.Wrapf(err, code, "failed to open %s", path)
}
