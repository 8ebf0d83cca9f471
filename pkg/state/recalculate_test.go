package state

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jwebster45206/world-engine/pkg/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecalculator(maxDepth int) *Recalculator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRecalculator(sandbox.New(time.Second), logger, maxDepth)
}

func variable(key string, value any) Entry {
	return Entry{Key: key, Kind: KindVariable, Value: value}
}

func computed(key, src string, value any, deps ...string) Entry {
	return Entry{Key: key, Kind: KindComputed, Src: src, Value: value, Dependencies: deps}
}

func baseAsset() (AssetState, DependencyGraph) {
	st := AssetState{
		"foo":     variable("foo", true),
		"antiFoo": computed("antiFoo", "!foo", false, "foo"),
	}
	graph := DependencyGraph{
		"foo": {Computed: []string{"antiFoo"}},
	}
	return st, graph
}

func TestRecalculate_EmptyChangesReturnStateUnchanged(t *testing.T) {
	r := testRecalculator(0)
	st, graph := baseAsset()

	res := r.Recalculate(context.Background(), "BASE", st, graph, nil)

	assert.Equal(t, st, res.State)
	assert.Empty(t, res.Recalculated)
}

func TestRecalculate_NegationScenario(t *testing.T) {
	r := testRecalculator(0)
	st, graph := baseAsset()
	st["foo"] = variable("foo", false)

	res := r.Recalculate(context.Background(), "BASE", st, graph, []string{"foo"})

	assert.Equal(t, []string{"foo", "antiFoo"}, res.Recalculated)
	assert.Equal(t, false, res.State["foo"].Value)
	assert.Equal(t, true, res.State["antiFoo"].Value)
	assert.Equal(t, false, st["antiFoo"].Value, "input state must not be modified")
}

func TestRecalculate_Stability(t *testing.T) {
	r := testRecalculator(0)
	st, graph := baseAsset()
	st["foo"] = variable("foo", false)

	first := r.Recalculate(context.Background(), "BASE", st, graph, []string{"foo"})
	second := r.Recalculate(context.Background(), "BASE", first.State, graph, nil)

	assert.Equal(t, first.State, second.State)
	assert.Empty(t, second.Recalculated)
}

func TestRecalculate_KeyWithoutDependents(t *testing.T) {
	r := testRecalculator(0)
	st := AssetState{"lonely": variable("lonely", 2.0)}

	res := r.Recalculate(context.Background(), "BASE", st, DependencyGraph{}, []string{"lonely", "lonely"})

	assert.Equal(t, []string{"lonely"}, res.Recalculated)
	assert.Equal(t, st, res.State)
}

func TestRecalculate_DiamondUsesFreshInputs(t *testing.T) {
	r := testRecalculator(0)
	st := AssetState{
		"a": variable("a", 1.0),
		"b": computed("b", "a + 1", 0.0, "a"),
		"c": computed("c", "a + b", 0.0, "a", "b"),
	}
	graph := DependencyGraph{
		"a": {Computed: []string{"b", "c"}},
		"b": {Computed: []string{"c"}},
	}

	res := r.Recalculate(context.Background(), "BASE", st, graph, []string{"a"})

	assert.Equal(t, []string{"a", "b", "c"}, res.Recalculated)
	assert.Equal(t, 2.0, res.State["b"].Value)
	assert.Equal(t, 3.0, res.State["c"].Value)
}

func TestRecalculate_CycleTerminatesAndKeepsValues(t *testing.T) {
	r := testRecalculator(0)
	st := AssetState{
		"x": variable("x", 5.0),
		"a": computed("a", "b + x", 1.0, "b", "x"),
		"b": computed("b", "a", 2.0, "a"),
		"d": computed("d", "b * 10", 20.0, "b"),
	}
	graph := DependencyGraph{
		"x": {Computed: []string{"a"}},
		"a": {Computed: []string{"b"}},
		"b": {Computed: []string{"a", "d"}},
	}

	done := make(chan Recalculation, 1)
	go func() {
		done <- r.Recalculate(context.Background(), "BASE", st, graph, []string{"x"})
	}()

	select {
	case res := <-done:
		assert.Equal(t, []string{"x"}, res.Recalculated)
		assert.Equal(t, []string{"a", "b"}, res.Circular)
		assert.Equal(t, 1.0, res.State["a"].Value)
		assert.Equal(t, 2.0, res.State["b"].Value)
		assert.Equal(t, 20.0, res.State["d"].Value)
	case <-time.After(5 * time.Second):
		t.Fatal("recalculation did not terminate on a cyclic graph")
	}
}

func TestRecalculate_SeedOnCycle(t *testing.T) {
	r := testRecalculator(0)
	st := AssetState{
		"a": computed("a", "b", 1.0, "b"),
		"b": computed("b", "a", 2.0, "a"),
	}
	graph := DependencyGraph{
		"a": {Computed: []string{"b"}},
		"b": {Computed: []string{"a"}},
	}

	res := r.Recalculate(context.Background(), "BASE", st, graph, []string{"a"})

	assert.Equal(t, []string{"a"}, res.Recalculated)
	assert.Equal(t, st, res.State)
}

func TestRecalculate_DepthCeiling(t *testing.T) {
	r := testRecalculator(2)
	st := AssetState{
		"k0": variable("k0", 1.0),
		"k1": computed("k1", "k0 + 1", 0.0, "k0"),
		"k2": computed("k2", "k1 + 1", 0.0, "k1"),
		"k3": computed("k3", "k2 + 1", 0.0, "k2"),
	}
	graph := DependencyGraph{
		"k0": {Computed: []string{"k1"}},
		"k1": {Computed: []string{"k2"}},
		"k2": {Computed: []string{"k3"}},
	}

	res := r.Recalculate(context.Background(), "BASE", st, graph, []string{"k0"})

	assert.Equal(t, []string{"k0", "k1", "k2"}, res.Recalculated)
	assert.Equal(t, []string{"k3"}, res.Truncated)
	assert.Equal(t, 3.0, res.State["k2"].Value)
	assert.Equal(t, 0.0, res.State["k3"].Value)
}

func TestRecalculate_FailedExpressionKeepsPriorValue(t *testing.T) {
	r := testRecalculator(0)
	st := AssetState{
		"foo":    variable("foo", true),
		"broken": computed("broken", "foo +", "prior", "foo"),
	}
	graph := DependencyGraph{"foo": {Computed: []string{"broken"}}}

	res := r.Recalculate(context.Background(), "BASE", st, graph, []string{"foo"})

	require.Equal(t, []string{"foo", "broken"}, res.Recalculated)
	assert.Equal(t, "prior", res.State["broken"].Value)
}

func TestDependencyGraph_CyclicKeys(t *testing.T) {
	graph := DependencyGraph{
		"a": {Computed: []string{"b", "d"}},
		"b": {Computed: []string{"c"}},
		"c": {Computed: []string{"a"}},
		"d": {Computed: []string{"b"}},
		"e": {Computed: []string{"e"}},
		"f": {Computed: []string{"a"}},
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, graph.CyclicKeys(nil))
	assert.Empty(t, DependencyGraph{"a": {Computed: []string{"b"}}}.CyclicKeys(nil))
}
