package xes

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/logflow/bxes/internal/pool"
	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/stream"
)

// ReadOptions configures XES reading.
type ReadOptions struct {
	// CollapseVariants merges identical traces into one variant with a count.
	CollapseVariants bool
	// Version is stamped on the resulting log.
	Version uint32
}

// node is a generic XML element, used for attribute subtrees.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []node     `xml:",any"`
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// scanner walks an XES document and emits stream events. Traces are buffered
// whole so that trace attributes following events still land in the variant
// metadata.
type scanner struct {
	d    *xml.Decoder
	emit func(stream.Event) error

	// event-scoped global defaults
	defaultName      string
	defaultTimestamp int64
}

// Scan reads an XES document and calls emit for every structural event:
// log metadata as it appears, then one variant with count 1 per trace.
func Scan(ctx context.Context, r io.Reader, emit func(stream.Event) error) error {
	s := &scanner{d: xml.NewDecoder(r), emit: emit}

	inLog := false
	for {
		if err := ctx.Err(); err != nil {
			return bxerrors.Wrap(err, bxerrors.CodeContextCanceled, "xes read canceled")
		}

		tok, err := s.d.Token()
		if errors.Is(err, io.EOF) {
			if !inLog {
				return s.errorf("no <log> element")
			}
			return nil
		}
		if err != nil {
			return s.wrap(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !inLog {
				if t.Name.Local != tagLog {
					return s.errorf("unexpected root element <%s>", t.Name.Local)
				}
				inLog = true
				continue
			}
			if err := s.logChild(t); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name.Local == tagLog {
				return nil
			}
		}
	}
}

func (s *scanner) logChild(start xml.StartElement) error {
	switch start.Name.Local {
	case tagTrace:
		return s.trace()
	case tagExtension:
		var n node
		if err := s.d.DecodeElement(&n, &start); err != nil {
			return s.wrap(err)
		}
		ext, err := s.extension(&n)
		if err != nil {
			return err
		}
		return s.emit(stream.LogExtension{Extension: ext})
	case tagGlobal:
		var n node
		if err := s.d.DecodeElement(&n, &start); err != nil {
			return s.wrap(err)
		}
		g, err := s.global(&n)
		if err != nil {
			return err
		}
		return s.emit(stream.LogGlobal{Global: g})
	case tagClassifier:
		var n node
		if err := s.d.DecodeElement(&n, &start); err != nil {
			return s.wrap(err)
		}
		c, err := s.classifier(&n)
		if err != nil {
			return err
		}
		return s.emit(stream.LogClassifier{Classifier: c})
	default:
		if !isValueTag(start.Name.Local) {
			if err := s.d.Skip(); err != nil {
				return s.wrap(err)
			}
			return nil
		}
		a, ok, err := s.attribute(start)
		if err != nil || !ok {
			return err
		}
		return s.emit(stream.LogProperty{Attribute: a})
	}
}

func (s *scanner) trace() error {
	var meta []model.Attribute
	var events []model.Event

	for {
		tok, err := s.d.Token()
		if err != nil {
			return s.wrap(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == tagEvent:
				e, err := s.event()
				if err != nil {
					return err
				}
				events = append(events, e)
			case isValueTag(t.Name.Local):
				a, ok, err := s.attribute(t)
				if err != nil {
					return err
				}
				if ok {
					meta = append(meta, a)
				}
			default:
				if err := s.d.Skip(); err != nil {
					return s.wrap(err)
				}
			}
		case xml.EndElement:
			if err := s.emit(stream.TraceVariantStart{Count: 1, Metadata: meta}); err != nil {
				return err
			}
			for _, e := range events {
				if err := s.emit(stream.TraceEvent{Event: e}); err != nil {
					return err
				}
			}
			return s.emit(stream.TraceVariantEnd{})
		}
	}
}

func (s *scanner) event() (model.Event, error) {
	e := model.Event{Name: s.defaultName, Timestamp: s.defaultTimestamp}

	for {
		tok, err := s.d.Token()
		if err != nil {
			return e, s.wrap(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !isValueTag(t.Name.Local) {
				if err := s.d.Skip(); err != nil {
					return e, s.wrap(err)
				}
				continue
			}
			a, ok, err := s.attribute(t)
			if err != nil {
				return e, err
			}
			if !ok {
				continue
			}
			switch a.Key {
			case keyConceptName:
				e.Name = a.Value.String()
			case keyTimestamp:
				if ts, isTS := a.Value.(model.Timestamp); isTS {
					e.Timestamp = int64(ts)
				} else {
					e.Attributes = append(e.Attributes, a)
				}
			default:
				e.Attributes = append(e.Attributes, a)
			}
		case xml.EndElement:
			return e, nil
		}
	}
}

// attribute decodes the attribute element started by start. ok is false for
// elements without a key.
func (s *scanner) attribute(start xml.StartElement) (model.Attribute, bool, error) {
	var n node
	if err := s.d.DecodeElement(&n, &start); err != nil {
		return model.Attribute{}, false, s.wrap(err)
	}
	return s.convert(&n)
}

func (s *scanner) convert(n *node) (model.Attribute, bool, error) {
	key, hasKey := n.attr("key")
	if !hasKey {
		return model.Attribute{}, false, nil
	}
	raw, hasValue := n.attr("value")

	tag := n.XMLName.Local
	if tag == tagList {
		switch listKind(key, n) {
		case keyArtifactMoves:
			v, err := s.artifact(n)
			return model.Attr(key, v), err == nil, err
		case keyCostDrivers:
			v, err := s.drivers(n)
			return model.Attr(key, v), err == nil, err
		default:
			return model.Attribute{}, false, nil
		}
	}
	if tag == tagContainer {
		return model.Attribute{}, false, nil
	}
	if !hasValue {
		return model.Attribute{}, false, s.errorf("attribute %q has no value", key)
	}

	v, err := s.value(tag, key, raw)
	if err != nil {
		return model.Attribute{}, false, err
	}
	return model.Attr(key, v), true, nil
}

func (s *scanner) value(tag, key, raw string) (model.Value, error) {
	switch tag {
	case tagString:
		if key == keyLifecycle {
			if v, ok := model.ParseLifecycle(raw); ok {
				return v, nil
			}
		}
		return model.String(raw), nil
	case tagDate:
		ns, err := pool.ParseTimestampNanos([]byte(raw))
		if err != nil {
			return nil, s.errorf("attribute %q: invalid date %q", key, raw)
		}
		return model.Timestamp(ns), nil
	case tagInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, s.errorf("attribute %q: invalid int %q", key, raw)
		}
		return model.Int64(n), nil
	case tagFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, s.errorf("attribute %q: invalid float %q", key, raw)
		}
		return model.Float64(f), nil
	case tagBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, s.errorf("attribute %q: invalid boolean %q", key, raw)
		}
		return model.Bool(b), nil
	case tagID:
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, s.errorf("attribute %q: invalid id %q", key, raw)
		}
		return model.Guid(u), nil
	default:
		return nil, s.errorf("attribute %q: unsupported type <%s>", key, tag)
	}
}

// listItems returns the entries of a list's <values> child.
func listItems(n *node) []node {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == tagValues {
			return n.Children[i].Children
		}
	}
	return nil
}

// listKind classifies a list by its key, or by the shape of its first item
// when the key is not a known one.
func listKind(key string, n *node) string {
	switch key {
	case keyArtifactMoves, keyCostDrivers:
		return key
	}
	items := listItems(n)
	if len(items) == 0 {
		return ""
	}
	if _, ok := childValue(&items[0], keyArtifactInst); ok {
		return keyArtifactMoves
	}
	if _, ok := childValue(&items[0], keyCostAmount); ok {
		return keyCostDrivers
	}
	return ""
}

// childValue returns the value of the first child with key.
func childValue(n *node, key string) (string, bool) {
	for i := range n.Children {
		if k, _ := n.Children[i].attr("key"); k == key {
			return n.Children[i].attr("value")
		}
	}
	return "", false
}

func (s *scanner) artifact(n *node) (model.Artifact, error) {
	var out model.Artifact
	items := listItems(n)
	for i := range items {
		item := &items[i]
		m, okM := item.attr("value")
		inst, okI := childValue(item, keyArtifactInst)
		tr, okT := childValue(item, keyArtifactTrans)
		if !okM || !okI || !okT {
			return nil, s.errorf("artifact item %d needs model, instance and transition", i)
		}
		out = append(out, model.ArtifactItem{Model: m, Instance: inst, Transition: tr})
	}
	return out, nil
}

func (s *scanner) drivers(n *node) (model.Drivers, error) {
	var out model.Drivers
	items := listItems(n)
	for i := range items {
		item := &items[i]
		name, okN := item.attr("value")
		amount, okA := childValue(item, keyCostAmount)
		typ, okT := childValue(item, keyCostType)
		if !okN || !okA || !okT {
			return nil, s.errorf("cost driver %d needs name, amount and type", i)
		}
		f, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			return nil, s.errorf("cost driver %d: invalid amount %q", i, amount)
		}
		out = append(out, model.Driver{Amount: f, Name: name, Type: typ})
	}
	return out, nil
}

func (s *scanner) extension(n *node) (model.Extension, error) {
	name, ok1 := n.attr("name")
	prefix, ok2 := n.attr("prefix")
	uri, ok3 := n.attr("uri")
	if !ok1 || !ok2 || !ok3 {
		return model.Extension{}, s.errorf("extension needs name, prefix and uri")
	}
	return model.Extension{Name: name, Prefix: prefix, URI: uri}, nil
}

func (s *scanner) global(n *node) (model.Global, error) {
	scope, ok := n.attr("scope")
	if !ok {
		return model.Global{}, s.errorf("global without scope")
	}
	kind, ok := model.ParseEntityKind(scope)
	if !ok {
		return model.Global{}, s.errorf("unknown global scope %q", scope)
	}

	g := model.Global{Kind: kind}
	for i := range n.Children {
		a, ok, err := s.convert(&n.Children[i])
		if err != nil {
			return g, err
		}
		if !ok {
			continue
		}
		g.Attributes = append(g.Attributes, a)

		if kind != model.EntityEvent {
			continue
		}
		switch v := a.Value.(type) {
		case model.String:
			if a.Key == keyConceptName {
				s.defaultName = string(v)
			}
		case model.Timestamp:
			if a.Key == keyTimestamp {
				s.defaultTimestamp = int64(v)
			}
		}
	}
	return g, nil
}

func (s *scanner) classifier(n *node) (model.Classifier, error) {
	name, ok1 := n.attr("name")
	keys, ok2 := n.attr("keys")
	if !ok1 || !ok2 {
		return model.Classifier{}, s.errorf("classifier needs name and keys")
	}
	return model.Classifier{Name: name, Keys: strings.Fields(keys)}, nil
}

func (s *scanner) errorf(format string, args ...any) error {
	line, col := s.d.InputPos()
	return bxerrors.New(bxerrors.CodeInvalidFormat, fmt.Sprintf(format, args...)).
		WithContext("line", line).
		WithContext("column", col)
}

func (s *scanner) wrap(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	line, _ := s.d.InputPos()
	return bxerrors.Wrapf(err, bxerrors.CodeInvalidFormat, "malformed XES near line %d", line)
}

// Read reads a whole XES document into an event log.
func Read(ctx context.Context, r io.Reader, opts ReadOptions) (*model.EventLog, error) {
	log := &model.EventLog{Version: opts.Version}

	var current *model.TraceVariant
	err := Scan(ctx, r, func(ev stream.Event) error {
		switch ev := ev.(type) {
		case stream.LogProperty:
			log.Metadata.Properties = append(log.Metadata.Properties, ev.Attribute)
		case stream.LogExtension:
			log.Metadata.Extensions = append(log.Metadata.Extensions, ev.Extension)
		case stream.LogGlobal:
			log.Metadata.Globals = append(log.Metadata.Globals, ev.Global)
		case stream.LogClassifier:
			log.Metadata.Classifiers = append(log.Metadata.Classifiers, ev.Classifier)
		case stream.TraceVariantStart:
			log.Variants = append(log.Variants, model.TraceVariant{Count: ev.Count, Metadata: ev.Metadata})
			current = &log.Variants[len(log.Variants)-1]
		case stream.TraceEvent:
			current.Events = append(current.Events, ev.Event)
		case stream.TraceVariantEnd:
			current = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opts.CollapseVariants {
		log.Variants = model.CollapseVariants(log.Variants)
	}
	return log, nil
}

// ReadFile reads the XES document at path.
func ReadFile(ctx context.Context, path string, opts ReadOptions) (*model.EventLog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bxerrors.Wrapf(err, bxerrors.CodeFileNotFound, "failed to open %s", path)
		}
		return nil, bxerrors.Wrapf(err, bxerrors.CodeUnknown, "failed to open %s", path)
	}
	defer f.Close()

	return Read(ctx, f, opts)
}
