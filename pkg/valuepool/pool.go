// Package valuepool builds the deduplicated value and key-value tables that
// every bxes section refers to by index.
//
// Indices are assigned in first-seen order and never change. Composite
// values (artifacts, drivers) register their strings before themselves, so a
// composite only ever references smaller indices and a table can be decoded
// in one left-to-right pass.
package valuepool

import (
	"github.com/logflow/bxes/pkg/model"
)

// Pair is a key-value table entry: the value index of the key string and the
// value index of the value.
type Pair struct {
	Key   uint32
	Value uint32
}

// Pool is an append-only deduplicating index over values and pairs. It is
// owned by one encode call or one stream writer and is not safe for
// concurrent use.
type Pool struct {
	values    []model.Value
	index     map[string]uint32
	pairs     []Pair
	pairIndex map[Pair]uint32
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		index:     make(map[string]uint32),
		pairIndex: make(map[Pair]uint32),
	}
}

// FromLog builds the pool of a complete log in document order.
func FromLog(log *model.EventLog) *Pool {
	p := New()
	p.AddMetadata(&log.Metadata)
	for i := range log.Variants {
		p.AddVariant(&log.Variants[i])
	}
	return p
}

// GetOrInsert returns the index of v, appending it on first sight.
func (p *Pool) GetOrInsert(v model.Value) uint32 {
	for _, s := range model.Strings(v) {
		p.GetOrInsertString(s)
	}
	return p.insert(v)
}

// GetOrInsertString is GetOrInsert for a String value.
func (p *Pool) GetOrInsertString(s string) uint32 {
	return p.insert(model.String(s))
}

func (p *Pool) insert(v model.Value) uint32 {
	key := model.Key(v)
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := uint32(len(p.values))
	p.values = append(p.values, v)
	p.index[key] = idx
	return idx
}

// GetOrInsertPair registers the key, then the value, then the pair, and
// returns the pair's index.
func (p *Pool) GetOrInsertPair(a model.Attribute) uint32 {
	pair := Pair{
		Key:   p.GetOrInsertString(a.Key),
		Value: p.GetOrInsert(a.Value),
	}
	if idx, ok := p.pairIndex[pair]; ok {
		return idx
	}
	idx := uint32(len(p.pairs))
	p.pairs = append(p.pairs, pair)
	p.pairIndex[pair] = idx
	return idx
}

// IndexOf returns the index of v if present.
func (p *Pool) IndexOf(v model.Value) (uint32, bool) {
	idx, ok := p.index[model.Key(v)]
	return idx, ok
}

// StringIndex returns the index of the String value s if present.
func (p *Pool) StringIndex(s string) (uint32, bool) {
	return p.IndexOf(model.String(s))
}

// PairIndexOf returns the index of the pair for a if present.
func (p *Pool) PairIndexOf(a model.Attribute) (uint32, bool) {
	k, ok := p.StringIndex(a.Key)
	if !ok {
		return 0, false
	}
	v, ok := p.IndexOf(a.Value)
	if !ok {
		return 0, false
	}
	idx, ok := p.pairIndex[Pair{Key: k, Value: v}]
	return idx, ok
}

// Values returns the value table. The slice must not be modified.
func (p *Pool) Values() []model.Value { return p.values }

// Pairs returns the key-value table. The slice must not be modified.
func (p *Pool) Pairs() []Pair { return p.pairs }

// Len returns the number of values.
func (p *Pool) Len() int { return len(p.values) }

// PairLen returns the number of pairs.
func (p *Pool) PairLen() int { return len(p.pairs) }

// Mark is a position in both tables.
type Mark struct {
	Values int
	Pairs  int
}

// Mark returns the current table sizes.
func (p *Pool) Mark() Mark {
	return Mark{Values: len(p.values), Pairs: len(p.pairs)}
}

// Since returns the values and pairs appended after m.
func (p *Pool) Since(m Mark) ([]model.Value, []Pair) {
	return p.values[m.Values:], p.pairs[m.Pairs:]
}

// Reset empties the pool, keeping allocated capacity.
func (p *Pool) Reset() {
	p.values = p.values[:0]
	p.pairs = p.pairs[:0]
	clear(p.index)
	clear(p.pairIndex)
}

// AddMetadata registers the log header: properties, extensions, globals and
// classifiers, in that order.
func (p *Pool) AddMetadata(m *model.Metadata) {
	for _, a := range m.Properties {
		p.GetOrInsertPair(a)
	}
	for _, ext := range m.Extensions {
		p.GetOrInsertString(ext.Name)
		p.GetOrInsertString(ext.Prefix)
		p.GetOrInsertString(ext.URI)
	}
	for _, g := range m.Globals {
		for _, a := range g.Attributes {
			p.GetOrInsertPair(a)
		}
	}
	for _, c := range m.Classifiers {
		p.GetOrInsertString(c.Name)
		for _, k := range c.Keys {
			p.GetOrInsertString(k)
		}
	}
}

// AddVariant registers a variant's metadata, then each event's name and
// attributes.
func (p *Pool) AddVariant(v *model.TraceVariant) {
	for _, a := range v.Metadata {
		p.GetOrInsertPair(a)
	}
	for i := range v.Events {
		p.AddEvent(&v.Events[i])
	}
}

// AddEvent registers an event's name and attributes.
func (p *Pool) AddEvent(e *model.Event) {
	p.GetOrInsertString(e.Name)
	for _, a := range e.Attributes {
		p.GetOrInsertPair(a)
	}
}
