package codec

import (
	"os"
	"path/filepath"

	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
)

// Section is the encoded size of one section.
type Section struct {
	Name  string
	Bytes int64
}

// Stats summarizes an encoded log.
type Stats struct {
	Layout          string
	Version         uint32
	ValueAttributes int
	Values          int
	Pairs           int
	Variants        int
	Events          int
	Traces          uint64
	Sections        []Section
	// FileBytes is the size on disk: the archive, or the sum of the five files.
	FileBytes int64
}

// Payload returns the sum of the section sizes.
func (s *Stats) Payload() int64 {
	var n int64
	for _, sec := range s.Sections {
		n += sec.Bytes
	}
	return n
}

func (s *Stats) fill(log *model.EventLog, sys *model.SystemMetadata, t *Tables) {
	s.Version = log.Version
	s.ValueAttributes = len(sys.ValueAttributes)
	s.Values = len(t.Values)
	s.Pairs = len(t.Attrs)
	s.Variants = len(log.Variants)
	s.Events = log.EventCount()
	s.Traces = log.TraceCount()
}

// Inspect decodes the log at path, a single-file archive or a multi-file
// directory, and reports its statistics.
func Inspect(path string) (*Stats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, openError(err, path)
	}

	if info.IsDir() {
		return inspectDir(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, openError(err, path)
	}
	defer f.Close()

	body, err := readArchive(f, info.Size())
	if err != nil {
		return nil, err
	}

	stats := &Stats{Layout: "single-file", FileBytes: info.Size()}
	if _, err := decodeBody(body, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func inspectDir(dir string) (*Stats, error) {
	res, t, err := readMultipleFiles(dir)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Layout: "multi-file"}
	for _, name := range MultiFileNames {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return nil, bxerrors.Wrapf(err, bxerrors.CodeFileNotFound, "failed to stat %s", name)
		}
		stats.FileBytes += info.Size()
		stats.Sections = append(stats.Sections, Section{Name: name, Bytes: info.Size()})
	}
	stats.fill(res.Log, &res.SystemMetadata, t)
	return stats, nil
}
