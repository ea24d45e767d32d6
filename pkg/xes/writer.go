package xes

import (
	"bufio"
	"encoding/xml"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/logflow/bxes/internal/pool"
	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
)

// WriteOptions configures XES writing.
type WriteOptions struct {
	// ExpandVariants writes a variant once per trace it stands for instead of
	// once in total.
	ExpandVariants bool
}

// encoder wraps xml.Encoder with a sticky error.
type encoder struct {
	e   *xml.Encoder
	err error
}

func (w *encoder) token(t xml.Token) {
	if w.err == nil {
		w.err = w.e.EncodeToken(t)
	}
}

func (w *encoder) start(tag string, attrs ...string) {
	el := xml.StartElement{Name: xml.Name{Local: tag}}
	for i := 0; i+1 < len(attrs); i += 2 {
		el.Attr = append(el.Attr, xml.Attr{Name: xml.Name{Local: attrs[i]}, Value: attrs[i+1]})
	}
	w.token(el)
}

func (w *encoder) end(tag string) {
	w.token(xml.EndElement{Name: xml.Name{Local: tag}})
}

func (w *encoder) leaf(tag, key, value string) {
	w.start(tag, "key", key, "value", value)
	w.end(tag)
}

// Write renders log as an XES document.
func Write(out io.Writer, log *model.EventLog, opts WriteOptions) error {
	bw := bufio.NewWriterSize(out, pool.DefaultBufferSize)
	if _, err := bw.WriteString(xml.Header); err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeWriteFailed, "failed to write XES")
	}

	w := &encoder{e: xml.NewEncoder(bw)}
	w.e.Indent("", "  ")

	w.start(tagLog, "xes.version", "1.0", "xes.features", "nested-attributes")
	writeMetadata(w, &log.Metadata)
	for i := range log.Variants {
		v := &log.Variants[i]
		n := uint32(1)
		if opts.ExpandVariants {
			n = v.Count
		}
		for j := uint32(0); j < n; j++ {
			writeTrace(w, v)
		}
	}
	w.end(tagLog)

	if w.err == nil {
		w.err = w.e.Close()
	}
	if w.err == nil {
		w.err = bw.WriteByte('\n')
	}
	if w.err == nil {
		w.err = bw.Flush()
	}
	if w.err != nil {
		return bxerrors.Wrap(w.err, bxerrors.CodeWriteFailed, "failed to write XES")
	}
	return nil
}

// WriteFile writes log as an XES document at path.
func WriteFile(path string, log *model.EventLog, opts WriteOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = bxerrors.Wrapf(cerr, bxerrors.CodeWriteFailed, "failed to close %s", path)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	return Write(f, log, opts)
}

func writeMetadata(w *encoder, m *model.Metadata) {
	for _, p := range m.Properties {
		writeAttribute(w, p)
	}
	for _, e := range m.Extensions {
		w.start(tagExtension, "name", e.Name, "prefix", e.Prefix, "uri", e.URI)
		w.end(tagExtension)
	}
	for _, g := range m.Globals {
		w.start(tagGlobal, "scope", g.Kind.String())
		for _, a := range g.Attributes {
			writeAttribute(w, a)
		}
		w.end(tagGlobal)
	}
	for _, c := range m.Classifiers {
		w.start(tagClassifier, "name", c.Name, "keys", strings.Join(c.Keys, " "))
		w.end(tagClassifier)
	}
}

func writeTrace(w *encoder, v *model.TraceVariant) {
	w.start(tagTrace)
	for _, a := range v.Metadata {
		writeAttribute(w, a)
	}
	for i := range v.Events {
		e := &v.Events[i]
		w.start(tagEvent)
		w.leaf(tagDate, keyTimestamp, pool.FormatTimestampNanos(e.Timestamp))
		w.leaf(tagString, keyConceptName, e.Name)
		for _, a := range e.Attributes {
			writeAttribute(w, a)
		}
		w.end(tagEvent)
	}
	w.end(tagTrace)
}

func writeAttribute(w *encoder, a model.Attribute) {
	switch v := a.Value.(type) {
	case model.Null:
		// XES has no null; the attribute is dropped.
	case model.Int32, model.Int64, model.Uint32, model.Uint64:
		w.leaf(tagInt, a.Key, v.String())
	case model.Float32:
		w.leaf(tagFloat, a.Key, formatFloat(float64(v), 32))
	case model.Float64:
		w.leaf(tagFloat, a.Key, formatFloat(float64(v), 64))
	case model.String:
		w.leaf(tagString, a.Key, string(v))
	case model.Bool:
		w.leaf(tagBool, a.Key, v.String())
	case model.Timestamp:
		w.leaf(tagDate, a.Key, pool.FormatTimestampNanos(int64(v)))
	case model.Guid:
		w.leaf(tagID, a.Key, v.String())
	case model.Artifact:
		w.start(tagList, "key", a.Key)
		w.start(tagValues)
		for _, item := range v {
			w.start(tagString, "key", keyArtifactModel, "value", item.Model)
			w.leaf(tagString, keyArtifactInst, item.Instance)
			w.leaf(tagString, keyArtifactTrans, item.Transition)
			w.end(tagString)
		}
		w.end(tagValues)
		w.end(tagList)
	case model.Drivers:
		w.start(tagList, "key", a.Key)
		w.start(tagValues)
		for _, d := range v {
			w.start(tagString, "key", keyCostDriver, "value", d.Name)
			w.leaf(tagFloat, keyCostAmount, formatFloat(d.Amount, 64))
			w.leaf(tagString, keyCostType, d.Type)
			w.end(tagString)
		}
		w.end(tagValues)
		w.end(tagList)
	default:
		// Lifecycles and software event types are written by name.
		w.leaf(tagString, a.Key, v.String())
	}
}

// formatFloat renders f as an xs:double.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	default:
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
}
