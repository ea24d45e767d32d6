// Package generators provides test data generation utilities.
package generators

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/logflow/bxes/pkg/model"
)

// LogGenerator generates random event logs.
type LogGenerator struct {
	rng *rand.Rand

	// Shape
	Variants      int
	MinEvents     int
	MaxEvents     int
	MaxTraceCount uint32

	// Vocabulary
	Activities []string
	Resources  []string

	// Data characteristics
	AllTypes   bool    // Attach one attribute of every value type per event
	SharedRate float64 // Probability an event keeps the resource of the previous event
	Start      time.Time
}

// NewLogGenerator creates a generator with default settings.
func NewLogGenerator(seed int64) *LogGenerator {
	return &LogGenerator{
		rng:           rand.New(rand.NewSource(seed)),
		Variants:      10,
		MinEvents:     1,
		MaxEvents:     8,
		MaxTraceCount: 50,
		Activities:    DefaultActivities(),
		Resources:     DefaultResources(),
		SharedRate:    0.3,
		Start:         time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Generate returns a log with version and the configured shape.
func (g *LogGenerator) Generate(version uint32) *model.EventLog {
	log := &model.EventLog{
		Version:  version,
		Metadata: StandardMetadata(),
		Variants: make([]model.TraceVariant, g.Variants),
	}

	ts := g.Start.UnixNano()
	for i := range log.Variants {
		v := &log.Variants[i]
		v.Count = 1 + uint32(g.rng.Int63n(int64(max(g.MaxTraceCount, 1))))
		v.Metadata = []model.Attribute{
			model.Attr("concept:name", model.String(g.word(12))),
		}

		n := g.MinEvents
		if g.MaxEvents > g.MinEvents {
			n += g.rng.Intn(g.MaxEvents - g.MinEvents + 1)
		}
		v.Events = make([]model.Event, n)
		for j := range v.Events {
			ts += g.rng.Int63n(int64(time.Hour))
			var prev *model.Event
			if j > 0 {
				prev = &v.Events[j-1]
			}
			v.Events[j] = g.event(ts, prev)
		}
	}
	return log
}

func (g *LogGenerator) event(ts int64, prev *model.Event) model.Event {
	e := model.Event{
		Timestamp: ts,
		Name:      g.pick(g.Activities),
		Attributes: []model.Attribute{
			model.Attr("org:resource", model.String(g.pick(g.Resources))),
			model.Attr("lifecycle:transition", model.StandardLifecycle(g.rng.Intn(14))),
			model.Attr("cost", model.Float64(float64(g.rng.Intn(100000))/100)),
		},
	}

	if prev != nil && g.rng.Float64() < g.SharedRate {
		e.Attributes[0] = prev.Attributes[0]
	}
	if g.AllTypes {
		e.Attributes = append(e.Attributes, g.allTypes()...)
	}
	return e
}

func (g *LogGenerator) allTypes() []model.Attribute {
	var id uuid.UUID
	g.rng.Read(id[:])

	return []model.Attribute{
		model.Attr("x:null", model.Null{}),
		model.Attr("x:i32", model.Int32(g.rng.Int31()-1<<30)),
		model.Attr("x:i64", model.Int64(g.rng.Int63()-1<<62)),
		model.Attr("x:u32", model.Uint32(g.rng.Uint32())),
		model.Attr("x:u64", model.Uint64(g.rng.Uint64())),
		model.Attr("x:f32", model.Float32(g.rng.Float32())),
		model.Attr("x:f64", model.Float64(g.rng.NormFloat64())),
		model.Attr("x:string", model.String(g.word(8))),
		model.Attr("x:bool", model.Bool(g.rng.Intn(2) == 0)),
		model.Attr("x:timestamp", model.Timestamp(g.rng.Int63())),
		model.Attr("x:braf", model.BrafLifecycle(g.rng.Intn(20))),
		model.Attr("x:artifact", model.Artifact{{Model: g.word(4), Instance: g.word(4), Transition: g.word(4)}}),
		model.Attr("x:drivers", model.Drivers{{Amount: g.rng.Float64() * 100, Name: g.pick(g.Resources), Type: "hours"}}),
		model.Attr("x:guid", model.Guid(id)),
		model.Attr("x:software", model.SoftwareEventType(g.rng.Intn(7))),
	}
}

func (g *LogGenerator) pick(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[g.rng.Intn(len(s))]
}

func (g *LogGenerator) word(n int) string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = chars[g.rng.Intn(len(chars))]
	}
	return string(b)
}

// StandardMetadata returns the log metadata of a typical XES export.
func StandardMetadata() model.Metadata {
	return model.Metadata{
		Properties: []model.Attribute{
			model.Attr("concept:name", model.String("generated")),
		},
		Extensions: []model.Extension{
			{Name: "Concept", Prefix: "concept", URI: "http://www.xes-standard.org/concept.xesext"},
			{Name: "Lifecycle", Prefix: "lifecycle", URI: "http://www.xes-standard.org/lifecycle.xesext"},
			{Name: "Organizational", Prefix: "org", URI: "http://www.xes-standard.org/org.xesext"},
			{Name: "Time", Prefix: "time", URI: "http://www.xes-standard.org/time.xesext"},
		},
		Globals: []model.Global{
			{Kind: model.EntityTrace, Attributes: []model.Attribute{
				model.Attr("concept:name", model.String("__INVALID__")),
			}},
			{Kind: model.EntityEvent, Attributes: []model.Attribute{
				model.Attr("concept:name", model.String("__INVALID__")),
				model.Attr("lifecycle:transition", model.StandardComplete),
			}},
		},
		Classifiers: []model.Classifier{
			{Name: "Activity", Keys: []string{"concept:name"}},
			{Name: "Activity and transition", Keys: []string{"concept:name", "lifecycle:transition"}},
		},
	}
}

// DefaultActivities returns order-to-cash style activity names.
func DefaultActivities() []string {
	return []string{
		"Submit Order", "Approve Order", "Process Payment",
		"Ship Order", "Deliver Order", "Close Order",
	}
}

// DefaultResources returns resource names.
func DefaultResources() []string {
	return []string{"Alice", "Bob", "Charlie", "Diana", "Eve"}
}
