// Package stream implements incremental bxes encoding: a writer consumes a
// sequence of structural events and emits either one self-contained record
// per trace variant (message mode) or a multi-file log on disk (file mode).
package stream

import (
	"fmt"

	"github.com/logflow/bxes/pkg/model"
)

// Event is a structural stream event.
type Event interface {
	isStreamEvent()
}

// TraceVariantStart opens a variant.
type TraceVariantStart struct {
	Count    uint32
	Metadata []model.Attribute
}

// TraceEvent appends an event to the open variant.
type TraceEvent struct {
	Event model.Event
}

// TraceVariantEnd closes the open variant.
type TraceVariantEnd struct{}

// LogProperty adds a log-level property. File mode only.
type LogProperty struct {
	Attribute model.Attribute
}

// LogExtension adds an extension declaration. File mode only.
type LogExtension struct {
	Extension model.Extension
}

// LogGlobal adds a global attribute declaration. File mode only.
type LogGlobal struct {
	Global model.Global
}

// LogClassifier adds a classifier. File mode only.
type LogClassifier struct {
	Classifier model.Classifier
}

func (TraceVariantStart) isStreamEvent() {}
func (TraceEvent) isStreamEvent()        {}
func (TraceVariantEnd) isStreamEvent()   {}
func (LogProperty) isStreamEvent()       {}
func (LogExtension) isStreamEvent()      {}
func (LogGlobal) isStreamEvent()         {}
func (LogClassifier) isStreamEvent()     {}

// PoolScope selects how long value and key-value pools live.
type PoolScope int

const (
	// ScopeRecord rebuilds the pools for every record, so each record decodes
	// on its own.
	ScopeRecord PoolScope = iota
	// ScopeStream keeps the pools for the whole stream; records carry only
	// newly seen values and pairs and must be decoded in order.
	ScopeStream
)

// String returns the scope name.
func (s PoolScope) String() string {
	switch s {
	case ScopeRecord:
		return "record"
	case ScopeStream:
		return "stream"
	default:
		return "unknown"
	}
}

// ParsePoolScope parses a scope name.
func ParsePoolScope(s string) (PoolScope, error) {
	switch s {
	case "record", "":
		return ScopeRecord, nil
	case "stream":
		return ScopeStream, nil
	default:
		return ScopeRecord, fmt.Errorf("unknown pool scope %q", s)
	}
}

// FromLog returns the event sequence that reproduces log: metadata events
// first, then every variant bracketed by start and end events.
func FromLog(log *model.EventLog) []Event {
	events := make([]Event, 0, 2*len(log.Variants)+log.EventCount())

	for _, p := range log.Metadata.Properties {
		events = append(events, LogProperty{Attribute: p})
	}
	for _, e := range log.Metadata.Extensions {
		events = append(events, LogExtension{Extension: e})
	}
	for _, g := range log.Metadata.Globals {
		events = append(events, LogGlobal{Global: g})
	}
	for _, c := range log.Metadata.Classifiers {
		events = append(events, LogClassifier{Classifier: c})
	}

	for _, v := range log.Variants {
		events = append(events, TraceVariantStart{Count: v.Count, Metadata: v.Metadata})
		for _, e := range v.Events {
			events = append(events, TraceEvent{Event: e})
		}
		events = append(events, TraceVariantEnd{})
	}

	return events
}
