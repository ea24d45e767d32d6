package valuepool

import (
	"testing"

	"github.com/logflow/bxes/pkg/model"
)

func TestPool_SharedAttribute(t *testing.T) {
	shared := model.Attr("k", model.Int32(5))
	log := &model.EventLog{
		Variants: []model.TraceVariant{{
			Count: 3,
			Events: []model.Event{
				{Name: "a", Attributes: []model.Attribute{shared}},
				{Name: "b", Attributes: []model.Attribute{shared}},
			},
		}},
	}

	p := FromLog(log)

	counts := map[string]int{}
	for _, v := range p.Values() {
		counts[model.Key(v)]++
	}
	if counts[model.Key(model.String("k"))] != 1 {
		t.Errorf("expected one entry for \"k\", got %d", counts[model.Key(model.String("k"))])
	}
	if counts[model.Key(model.Int32(5))] != 1 {
		t.Errorf("expected one entry for Int32(5), got %d", counts[model.Key(model.Int32(5))])
	}
	if p.PairLen() != 1 {
		t.Errorf("PairLen() = %d, want 1", p.PairLen())
	}

	// a, k, 5, b
	if p.Len() != 4 {
		t.Errorf("Len() = %d, want 4", p.Len())
	}
}

func TestPool_CompositeOrdering(t *testing.T) {
	p := New()
	art := model.Artifact{
		{Model: "m1", Instance: "i1", Transition: "t"},
		{Model: "m2", Instance: "i1", Transition: "t"},
	}

	idx := p.GetOrInsert(art)

	for _, s := range []string{"m1", "i1", "t", "m2"} {
		si, ok := p.StringIndex(s)
		if !ok {
			t.Fatalf("string %q not registered", s)
		}
		if si >= idx {
			t.Errorf("string %q index %d not below artifact index %d", s, si, idx)
		}
	}
	if idx != 4 {
		t.Errorf("artifact index = %d, want 4", idx)
	}
	if again := p.GetOrInsert(art); again != idx {
		t.Errorf("second GetOrInsert = %d, want %d", again, idx)
	}
}

func TestPool_TraversalOrder(t *testing.T) {
	log := &model.EventLog{
		Metadata: model.Metadata{
			Properties:  []model.Attribute{model.Attr("p", model.String("pv"))},
			Extensions:  []model.Extension{{Name: "ext", Prefix: "pre", URI: "uri"}},
			Globals:     []model.Global{{Kind: model.EntityTrace, Attributes: []model.Attribute{model.Attr("g", model.Int64(1))}}},
			Classifiers: []model.Classifier{{Name: "cls", Keys: []string{"ck"}}},
		},
		Variants: []model.TraceVariant{{
			Count:    1,
			Metadata: []model.Attribute{model.Attr("tm", model.Bool(true))},
			Events:   []model.Event{{Name: "ev", Attributes: []model.Attribute{model.Attr("ea", model.Float64(2))}}},
		}},
	}

	p := FromLog(log)
	want := []model.Value{
		model.String("p"), model.String("pv"),
		model.String("ext"), model.String("pre"), model.String("uri"),
		model.String("g"), model.Int64(1),
		model.String("cls"), model.String("ck"),
		model.String("tm"), model.Bool(true),
		model.String("ev"),
		model.String("ea"), model.Float64(2),
	}

	got := p.Values()
	if len(got) != len(want) {
		t.Fatalf("Len() = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !model.Equal(got[i], want[i]) {
			t.Errorf("value[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	wantPairs := []Pair{{0, 1}, {5, 6}, {9, 10}, {12, 13}}
	for i, pair := range p.Pairs() {
		if pair != wantPairs[i] {
			t.Errorf("pair[%d] = %v, want %v", i, pair, wantPairs[i])
		}
	}
}

func TestPool_MarkSince(t *testing.T) {
	p := New()
	p.GetOrInsertPair(model.Attr("a", model.Int32(1)))
	m := p.Mark()

	p.GetOrInsertPair(model.Attr("a", model.Int32(1)))
	p.GetOrInsertPair(model.Attr("a", model.Int32(2)))

	values, pairs := p.Since(m)
	if len(values) != 1 || !model.Equal(values[0], model.Int32(2)) {
		t.Errorf("Since() values = %v, want [2]", values)
	}
	if len(pairs) != 1 || pairs[0] != (Pair{Key: 0, Value: 2}) {
		t.Errorf("Since() pairs = %v", pairs)
	}

	p.Reset()
	if p.Len() != 0 || p.PairLen() != 0 {
		t.Error("Reset() should empty the pool")
	}
	if _, ok := p.StringIndex("a"); ok {
		t.Error("Reset() should clear the index")
	}
}

func TestPool_PairIndexOf(t *testing.T) {
	p := New()
	a := model.Attr("k", model.Guid{1, 2, 3})
	idx := p.GetOrInsertPair(a)

	got, ok := p.PairIndexOf(a)
	if !ok || got != idx {
		t.Errorf("PairIndexOf() = %d, %v; want %d, true", got, ok, idx)
	}
	if _, ok := p.PairIndexOf(model.Attr("k", model.Int32(0))); ok {
		t.Error("PairIndexOf() should miss for unknown value")
	}
}
