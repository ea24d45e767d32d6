package model

import (
	"fmt"
	"strings"
)

// Attribute is a key-value pair attached to an event, a trace or the log.
type Attribute struct {
	Key   string
	Value Value
}

// Attr is shorthand for building an Attribute.
func Attr(key string, value Value) Attribute {
	return Attribute{Key: key, Value: value}
}

// Equal reports whether a and b have the same key and structurally equal values.
func (a Attribute) Equal(b Attribute) bool {
	return a.Key == b.Key && Equal(a.Value, b.Value)
}

// Event is a single recorded activity occurrence.
type Event struct {
	Timestamp  int64
	Name       string
	Attributes []Attribute
}

// Equal reports structural equality.
func (e *Event) Equal(o *Event) bool {
	return e.Timestamp == o.Timestamp && e.Name == o.Name && attributesEqual(e.Attributes, o.Attributes)
}

// Attribute returns the first attribute with the given key.
func (e *Event) Attribute(key string) (Value, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// TraceVariant is a distinct event sequence together with the number of
// traces that follow it.
type TraceVariant struct {
	Count    uint32
	Metadata []Attribute
	Events   []Event
}

// Equal reports structural equality.
func (v *TraceVariant) Equal(o *TraceVariant) bool {
	if v.Count != o.Count || !attributesEqual(v.Metadata, o.Metadata) || len(v.Events) != len(o.Events) {
		return false
	}
	for i := range v.Events {
		if !v.Events[i].Equal(&o.Events[i]) {
			return false
		}
	}
	return true
}

// Extension is an XES extension declaration.
type Extension struct {
	Name   string
	Prefix string
	URI    string
}

// EntityKind is the scope a global attribute applies to.
type EntityKind uint8

const (
	EntityEvent EntityKind = iota
	EntityTrace
	EntityLog
)

// Valid reports whether k is a defined entity kind.
func (k EntityKind) Valid() bool { return k <= EntityLog }

// String returns the XES scope name.
func (k EntityKind) String() string {
	switch k {
	case EntityEvent:
		return "event"
	case EntityTrace:
		return "trace"
	case EntityLog:
		return "log"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseEntityKind resolves an XES scope name.
func ParseEntityKind(s string) (EntityKind, bool) {
	switch strings.ToLower(s) {
	case "event":
		return EntityEvent, true
	case "trace":
		return EntityTrace, true
	case "log":
		return EntityLog, true
	default:
		return 0, false
	}
}

// Global declares default attributes for every entity of a kind.
type Global struct {
	Kind       EntityKind
	Attributes []Attribute
}

// Classifier names a set of attribute keys that identify event classes.
type Classifier struct {
	Name string
	Keys []string
}

// Metadata is the log-level header.
type Metadata struct {
	Properties  []Attribute
	Extensions  []Extension
	Globals     []Global
	Classifiers []Classifier
}

// IsEmpty reports whether m carries no entries.
func (m *Metadata) IsEmpty() bool {
	return len(m.Properties) == 0 && len(m.Extensions) == 0 && len(m.Globals) == 0 && len(m.Classifiers) == 0
}

// Equal reports structural equality. Nil and empty lists are equal.
func (m *Metadata) Equal(o *Metadata) bool {
	if !attributesEqual(m.Properties, o.Properties) {
		return false
	}
	if len(m.Extensions) != len(o.Extensions) || len(m.Globals) != len(o.Globals) ||
		len(m.Classifiers) != len(o.Classifiers) {
		return false
	}
	for i := range m.Extensions {
		if m.Extensions[i] != o.Extensions[i] {
			return false
		}
	}
	for i := range m.Globals {
		if m.Globals[i].Kind != o.Globals[i].Kind || !attributesEqual(m.Globals[i].Attributes, o.Globals[i].Attributes) {
			return false
		}
	}
	for i := range m.Classifiers {
		a, b := m.Classifiers[i], o.Classifiers[i]
		if a.Name != b.Name || len(a.Keys) != len(b.Keys) {
			return false
		}
		for j := range a.Keys {
			if a.Keys[j] != b.Keys[j] {
				return false
			}
		}
	}
	return true
}

// EventLog is a complete bxes log.
type EventLog struct {
	Version  uint32
	Metadata Metadata
	Variants []TraceVariant
}

// TraceCount returns the number of traces the log represents.
func (l *EventLog) TraceCount() uint64 {
	var n uint64
	for i := range l.Variants {
		n += uint64(l.Variants[i].Count)
	}
	return n
}

// EventCount returns the number of stored events, one per variant position.
func (l *EventLog) EventCount() int {
	n := 0
	for i := range l.Variants {
		n += len(l.Variants[i].Events)
	}
	return n
}

// Equal reports structural equality of two logs.
func (l *EventLog) Equal(o *EventLog) bool {
	if l.Version != o.Version || !l.Metadata.Equal(&o.Metadata) || len(l.Variants) != len(o.Variants) {
		return false
	}
	for i := range l.Variants {
		if !l.Variants[i].Equal(&o.Variants[i]) {
			return false
		}
	}
	return true
}

// Validate rejects logs that cannot be represented faithfully: variants with a
// zero trace count and attributes without a value.
func (l *EventLog) Validate() error {
	if err := ValidateAttributes(l.Metadata.Properties, "log property"); err != nil {
		return err
	}
	for i := range l.Metadata.Globals {
		if err := l.Metadata.Globals[i].Validate(); err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
	}
	for i := range l.Variants {
		if err := l.Variants[i].Validate(); err != nil {
			return fmt.Errorf("variant %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks the entity kind and the attributes of a global.
func (g *Global) Validate() error {
	if !g.Kind.Valid() {
		return fmt.Errorf("invalid entity kind %d", g.Kind)
	}
	return ValidateAttributes(g.Attributes, "global attribute")
}

// Validate checks a single variant the way EventLog.Validate does.
func (v *TraceVariant) Validate() error {
	if v.Count == 0 {
		return fmt.Errorf("trace count must be positive")
	}
	if err := ValidateAttributes(v.Metadata, "trace attribute"); err != nil {
		return err
	}
	for j := range v.Events {
		if err := ValidateAttributes(v.Events[j].Attributes, "event attribute"); err != nil {
			return fmt.Errorf("event %d: %w", j, err)
		}
	}
	return nil
}

// ValidateAttributes rejects attributes without a value or with a value of
// an unknown type. what names the attributes in the error.
func ValidateAttributes(attrs []Attribute, what string) error {
	for _, a := range attrs {
		if a.Value == nil {
			return fmt.Errorf("%s %q has no value", what, a.Key)
		}
		if !a.Value.TypeID().Valid() {
			return fmt.Errorf("%s %q has unsupported type id %d", what, a.Key, a.Value.TypeID())
		}
	}
	return nil
}

// ValueAttributeDescriptor names an attribute that is stored inline with each
// event instead of through the key-value pool.
type ValueAttributeDescriptor struct {
	TypeID TypeID
	Name   string
}

// SystemMetadata configures the encoder. It is part of the file but not of the
// logical log: decoding folds inline attributes back into event attributes.
type SystemMetadata struct {
	ValueAttributes []ValueAttributeDescriptor
}

func attributesEqual(a, b []Attribute) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
