package stream

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/logflow/bxes/internal/pool"
	"github.com/logflow/bxes/pkg/codec"
	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/valuepool"
	"github.com/logflow/bxes/pkg/wire"
)

// flushThreshold is the buffered size at which a section file is written out.
const flushThreshold = pool.DefaultBufferSize

// sectionFile is one file of the multi-file layout, written through a buffer
// with support for patching u32 placeholders already on disk.
type sectionFile struct {
	path    string
	f       *os.File
	buf     *pool.ByteBuffer
	w       *wire.Writer
	flushed int64
}

func createSection(dir, name string) (*sectionFile, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to create %s", path)
	}
	buf := &pool.ByteBuffer{Data: make([]byte, 0, flushThreshold)}
	return &sectionFile{path: path, f: f, buf: buf, w: wire.NewWriter(buf)}, nil
}

func (s *sectionFile) pos() int64 { return s.flushed + int64(s.buf.Len()) }

func (s *sectionFile) reserve() int64 {
	at := s.pos()
	s.w.U32(0)
	return at
}

func (s *sectionFile) flush() error {
	if s.buf.Len() == 0 {
		return nil
	}
	n, err := s.f.Write(s.buf.Bytes())
	s.flushed += int64(n)
	s.buf.Reset()
	if err != nil {
		return bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to write %s", s.path)
	}
	return nil
}

func (s *sectionFile) maybeFlush() error {
	if s.buf.Len() < flushThreshold {
		return nil
	}
	return s.flush()
}

func (s *sectionFile) patchU32(at int64, v uint32) error {
	if at >= s.flushed {
		s.w.PatchU32(int(at-s.flushed), v)
		return nil
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if _, err := s.f.WriteAt(b[:], at); err != nil {
		return bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to patch %s", s.path)
	}
	return nil
}

// FileWriter writes a multi-file log incrementally. Values and pairs are
// appended to their files on first sight; counts are written as placeholders
// and patched on Close, which also writes the log metadata.
//
// A FileWriter is not safe for concurrent use.
type FileWriter struct {
	dir  string
	sys  model.SystemMetadata
	pool *valuepool.Pool
	meta model.Metadata

	values, pairs, metadata, traces *sectionFile
	all                             []*sectionFile

	variants      uint32
	open          bool
	eventCountPos int64
	eventCount    uint32
	closed        bool
}

// NewFileWriter creates the five files of the multi-file layout in dir, which
// must be an existing directory.
func NewFileWriter(dir string, version uint32, sys *model.SystemMetadata) (*FileWriter, error) {
	if err := codec.CheckSaveDir(dir); err != nil {
		return nil, err
	}
	if sys == nil {
		sys = &emptySystemMetadata
	}

	w := &FileWriter{dir: dir, sys: *sys, pool: valuepool.New()}
	if err := w.createFiles(version); err != nil {
		w.abort()
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) createFiles(version uint32) error {
	for _, name := range codec.MultiFileNames {
		s, err := createSection(w.dir, name)
		if err != nil {
			return err
		}
		w.all = append(w.all, s)
		s.w.U32(version)
	}
	sysFile := w.all[0]
	w.values, w.pairs, w.metadata, w.traces = w.all[1], w.all[2], w.all[3], w.all[4]

	if err := codec.EncodeSystemMetadata(sysFile.w, &w.sys); err != nil {
		return err
	}
	w.values.reserve()
	w.pairs.reserve()
	w.traces.reserve()
	return nil
}

// Handle processes one stream event.
func (w *FileWriter) Handle(ctx context.Context, ev Event) error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeContextCanceled, "stream canceled")
	}

	switch ev := ev.(type) {
	case LogProperty:
		if err := model.ValidateAttributes([]model.Attribute{ev.Attribute}, "log property"); err != nil {
			return invalid(err)
		}
		w.meta.Properties = append(w.meta.Properties, ev.Attribute)
	case LogExtension:
		w.meta.Extensions = append(w.meta.Extensions, ev.Extension)
	case LogGlobal:
		if err := ev.Global.Validate(); err != nil {
			return invalid(err)
		}
		w.meta.Globals = append(w.meta.Globals, ev.Global)
	case LogClassifier:
		w.meta.Classifiers = append(w.meta.Classifiers, ev.Classifier)
	case TraceVariantStart:
		return w.startVariant(ev)
	case TraceEvent:
		return w.writeEvent(&ev.Event)
	case TraceVariantEnd:
		if !w.open {
			return ErrNoVariant
		}
		return w.endVariant()
	default:
		return ErrUnknownEvent
	}
	return nil
}

func (w *FileWriter) startVariant(ev TraceVariantStart) error {
	if w.open {
		return ErrVariantOpen
	}
	v := model.TraceVariant{Count: ev.Count, Metadata: ev.Metadata}
	if err := v.Validate(); err != nil {
		return invalid(err)
	}

	mark := w.pool.Mark()
	for _, a := range ev.Metadata {
		w.pool.GetOrInsertPair(a)
	}
	if err := w.appendPooled(mark); err != nil {
		return err
	}

	codec.EncodeVariantHeader(w.traces.w, ev.Count)
	if err := codec.EncodeVariantMetadata(w.traces.w, ev.Metadata, w.pool); err != nil {
		return err
	}
	w.eventCountPos = w.traces.reserve()
	w.eventCount = 0
	w.open = true
	w.variants++
	return nil
}

func (w *FileWriter) writeEvent(e *model.Event) error {
	if !w.open {
		return ErrNoVariant
	}

	if err := model.ValidateAttributes(e.Attributes, "event attribute"); err != nil {
		return invalid(err)
	}

	mark := w.pool.Mark()
	w.pool.AddEvent(e)
	if err := w.appendPooled(mark); err != nil {
		return err
	}

	if err := codec.EncodeEvent(w.traces.w, e, w.pool, &w.sys); err != nil {
		return err
	}
	w.eventCount++
	return w.traces.maybeFlush()
}

func (w *FileWriter) endVariant() error {
	w.open = false
	return w.traces.patchU32(w.eventCountPos, w.eventCount)
}

// appendPooled writes the values and pairs registered since mark.
func (w *FileWriter) appendPooled(mark valuepool.Mark) error {
	values, pairs := w.pool.Since(mark)
	for _, v := range values {
		if err := codec.EncodeValue(w.values.w, v, w.pool); err != nil {
			return err
		}
	}
	for _, p := range pairs {
		w.pairs.w.U32(p.Key)
		w.pairs.w.U32(p.Value)
	}
	if err := w.values.maybeFlush(); err != nil {
		return err
	}
	return w.pairs.maybeFlush()
}

// Close writes the log metadata, patches every count and closes the files.
// On failure the partially written files are removed.
func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.finish(); err != nil {
		w.abort()
		return err
	}

	var errs bxerrors.MultiError
	for _, s := range w.all {
		if err := s.f.Close(); err != nil {
			errs.Add(bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to close %s", s.path))
		}
	}
	if err := errs.Combined(); err != nil {
		w.removeFiles()
		return err
	}
	return nil
}

func (w *FileWriter) finish() error {
	if w.open {
		if err := w.endVariant(); err != nil {
			return err
		}
	}

	mark := w.pool.Mark()
	w.pool.AddMetadata(&w.meta)
	if err := w.appendPooled(mark); err != nil {
		return err
	}
	if err := codec.EncodeMetadata(w.metadata.w, &w.meta, w.pool); err != nil {
		return err
	}

	counts := []struct {
		s *sectionFile
		n int
	}{
		{w.values, w.pool.Len()},
		{w.pairs, w.pool.PairLen()},
		{w.traces, int(w.variants)},
	}
	for _, c := range counts {
		if err := c.s.patchU32(4, uint32(c.n)); err != nil {
			return err
		}
	}

	for _, s := range w.all {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *FileWriter) abort() {
	for _, s := range w.all {
		s.f.Close()
	}
	w.removeFiles()
}

func (w *FileWriter) removeFiles() {
	for _, s := range w.all {
		os.Remove(s.path)
	}
}

// SingleFileWriter streams into a temporary multi-file directory and merges
// it into a single-file archive on Close.
type SingleFileWriter struct {
	path string
	tmp  string
	*FileWriter
}

// NewSingleFileWriter creates a writer producing the archive at path.
func NewSingleFileWriter(path string, version uint32, sys *model.SystemMetadata) (*SingleFileWriter, error) {
	tmp, err := os.MkdirTemp("", "bxes-stream-*")
	if err != nil {
		return nil, bxerrors.Wrap(err, bxerrors.CodeWriteFailed, "failed to create temporary directory")
	}

	fw, err := NewFileWriter(tmp, version, sys)
	if err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	return &SingleFileWriter{path: path, tmp: tmp, FileWriter: fw}, nil
}

// Close finishes the multi-file output and merges it: the version header of
// the first file, then every file without its header.
func (w *SingleFileWriter) Close() error {
	defer os.RemoveAll(w.tmp)

	if err := w.FileWriter.Close(); err != nil {
		return err
	}

	var body []byte
	for i, name := range codec.MultiFileNames {
		data, err := os.ReadFile(filepath.Join(w.tmp, name))
		if err != nil {
			return bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to read %s", name)
		}
		if i > 0 {
			data = data[4:]
		}
		body = append(body, data...)
	}

	return codec.WriteArchiveFile(w.path, body)
}
