package codec

import (
	"encoding/binary"
	"os"
	"path/filepath"

	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/valuepool"
	"github.com/logflow/bxes/pkg/wire"
)

// File names of the multi-file layout.
const (
	SystemMetadataFile = "system_metadata.bxes"
	ValuesFile         = "values.bxes"
	KeyValuesFile      = "kvpair.bxes"
	MetadataFile       = "metadata.bxes"
	TracesFile         = "traces.bxes"
)

// MultiFileNames lists the multi-file layout in section order.
var MultiFileNames = [...]string{SystemMetadataFile, ValuesFile, KeyValuesFile, MetadataFile, TracesFile}

// CheckSaveDir fails with SavePathIsNotDirectoryError unless dir is an
// existing directory.
func CheckSaveDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return &bxerrors.SavePathIsNotDirectoryError{Path: dir}
	}
	return nil
}

// WriteMultipleFiles writes log into dir using the multi-file layout. The
// directory must exist; nothing is created otherwise. Files written before a
// failure are removed.
func WriteMultipleFiles(dir string, log *model.EventLog, sys *model.SystemMetadata) error {
	if err := CheckSaveDir(dir); err != nil {
		return err
	}
	if err := validate(log); err != nil {
		return err
	}
	sys = orEmpty(sys)
	p := valuepool.FromLog(log)

	sections := [...]func(w *wire.Writer) error{
		func(w *wire.Writer) error { return EncodeSystemMetadata(w, sys) },
		func(w *wire.Writer) error { return EncodeValues(w, p.Values(), p) },
		func(w *wire.Writer) error { return EncodePairs(w, p.Pairs()) },
		func(w *wire.Writer) error { return EncodeMetadata(w, &log.Metadata, p) },
		func(w *wire.Writer) error { return EncodeVariants(w, log.Variants, p, sys) },
	}

	buf := buffers.Get()
	defer buffers.Put(buf)

	var written []string
	for i, encode := range sections {
		buf.Reset()
		w := wire.NewWriter(buf)
		w.U32(log.Version)

		err := encode(w)
		if err == nil {
			path := filepath.Join(dir, MultiFileNames[i])
			if err = os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				err = bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to write %s", path)
			}
			written = append(written, path)
		}
		if err != nil {
			removeAll(written)
			return err
		}
	}

	return nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// ReadMultipleFiles decodes a multi-file log from dir. All five version
// headers are compared before any section is decoded.
func ReadMultipleFiles(dir string) (*Result, error) {
	res, _, err := readMultipleFiles(dir)
	return res, err
}

func readMultipleFiles(dir string) (*Result, *Tables, error) {
	var files [len(MultiFileNames)][]byte
	for i, name := range MultiFileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, openError(err, path)
		}
		files[i] = data
	}

	version, err := checkVersions(files[:])
	if err != nil {
		return nil, nil, err
	}

	readers := make([]*wire.Reader, len(files))
	for i, data := range files {
		readers[i] = wire.NewReader(data[4:])
	}

	sys, err := DecodeSystemMetadata(readers[0])
	if err != nil {
		return nil, nil, inFile(err, SystemMetadataFile)
	}

	var t Tables
	if err := t.DecodeValues(readers[1]); err != nil {
		return nil, nil, inFile(err, ValuesFile)
	}
	if err := t.DecodePairs(readers[2]); err != nil {
		return nil, nil, inFile(err, KeyValuesFile)
	}
	meta, err := DecodeMetadata(readers[3], &t)
	if err != nil {
		return nil, nil, inFile(err, MetadataFile)
	}
	variants, err := DecodeVariants(readers[4], &t, &sys)
	if err != nil {
		return nil, nil, inFile(err, TracesFile)
	}

	for i, r := range readers {
		if err := r.Done(); err != nil {
			return nil, nil, inFile(err, MultiFileNames[i])
		}
	}

	return &Result{
		Log:            &model.EventLog{Version: version, Metadata: meta, Variants: variants},
		SystemMetadata: sys,
	}, &t, nil
}

func checkVersions(files [][]byte) (uint32, error) {
	var expected uint32
	for i, data := range files {
		if len(data) < 4 {
			return 0, bxerrors.NewParseError(0, "%s: missing version header", MultiFileNames[i])
		}
		found := binary.LittleEndian.Uint32(data)
		if i == 0 {
			expected = found
			continue
		}
		if found != expected {
			return 0, &bxerrors.VersionMismatchError{Expected: expected, Found: found, File: MultiFileNames[i]}
		}
	}
	return expected, nil
}

// inFile rebases a section parse error onto the file it came from: offsets
// become file offsets and the reason names the file.
func inFile(err error, name string) error {
	if pe, ok := err.(*bxerrors.ParseError); ok {
		return &bxerrors.ParseError{Offset: pe.Offset + 4, Reason: name + ": " + pe.Reason}
	}
	return err
}
