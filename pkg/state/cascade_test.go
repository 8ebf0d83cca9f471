package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	assets map[string]*AssetMeta
	calls  [][]string
	err    error
}

func (f *fakeLoader) LoadAssets(ctx context.Context, ids []string) (map[string]*AssetMeta, error) {
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*AssetMeta)
	for _, id := range ids {
		if meta, ok := f.assets[id]; ok {
			out[id] = meta
		}
	}
	return out, nil
}

func testCascade(loader Loader) *Cascade {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCascade(testRecalculator(0), loader, logger)
}

func layeredAssets() (*AssetMeta, *AssetMeta) {
	base := &AssetMeta{
		AssetID: "base",
		State:   AssetState{"foo": variable("foo", true)},
		Dependencies: DependencyGraph{
			"foo": {Imported: []ImportBinding{{Asset: "layerA", Key: "foo"}}},
		},
		ImportTree: ImportTree{"base": nil},
	}
	layerA := &AssetMeta{
		AssetID: "layerA",
		State: AssetState{
			"foo":    variable("foo", true),
			"bar":    variable("bar", true),
			"fooBar": computed("fooBar", "foo && bar", true, "foo", "bar"),
		},
		Dependencies: DependencyGraph{
			"foo": {Computed: []string{"fooBar"}},
			"bar": {Computed: []string{"fooBar"}},
		},
		ImportTree: ImportTree{"layerA": {"base"}},
	}
	return base, layerA
}

func TestCascade_PropagatesThroughImports(t *testing.T) {
	base, layerA := layeredAssets()
	loader := &fakeLoader{assets: map[string]*AssetMeta{"layerA": layerA}}
	base.State["foo"] = variable("foo", false)

	res, err := testCascade(loader).Run(context.Background(),
		map[string]*AssetMeta{"base": base},
		ChangeSet{"base": {"foo"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"base", "layerA"}, res.Order)
	assert.Equal(t, []string{"foo"}, res.Recalculated["base"])
	assert.Equal(t, []string{"foo", "fooBar"}, res.Recalculated["layerA"])
	assert.Equal(t, false, res.Metas["layerA"].State["foo"].Value)
	assert.Equal(t, false, res.Metas["layerA"].State["fooBar"].Value)
	assert.Equal(t, [][]string{{"layerA"}}, loader.calls)

	states := res.States()
	assert.Len(t, states, 2)
}

func TestCascade_ImportOrderBeatsAlphabetical(t *testing.T) {
	zzz := &AssetMeta{
		AssetID: "zzz",
		State:   AssetState{"foo": variable("foo", 2.0)},
		Dependencies: DependencyGraph{
			"foo": {Imported: []ImportBinding{{Asset: "aaa", Key: "imported"}}},
		},
		ImportTree: ImportTree{"zzz": nil},
	}
	aaa := &AssetMeta{
		AssetID: "aaa",
		State: AssetState{
			"imported": variable("imported", 1.0),
			"local":    variable("local", 10.0),
			"sum":      computed("sum", "imported + local", 11.0, "imported", "local"),
		},
		Dependencies: DependencyGraph{
			"imported": {Computed: []string{"sum"}},
			"local":    {Computed: []string{"sum"}},
		},
		ImportTree: ImportTree{"aaa": {"zzz"}},
	}
	aaa.State["local"] = variable("local", 20.0)

	res, err := testCascade(nil).Run(context.Background(),
		map[string]*AssetMeta{"aaa": aaa, "zzz": zzz},
		ChangeSet{"aaa": {"local"}, "zzz": {"foo"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"zzz", "aaa"}, res.Order)
	assert.Equal(t, []string{"local", "imported", "sum"}, res.Recalculated["aaa"])
	assert.Equal(t, 22.0, res.Metas["aaa"].State["sum"].Value)
}

func TestCascade_ImportCycleTerminates(t *testing.T) {
	a := &AssetMeta{
		AssetID:      "a",
		State:        AssetState{"k": variable("k", 1.0)},
		Dependencies: DependencyGraph{"k": {Imported: []ImportBinding{{Asset: "b", Key: "k"}}}},
		ImportTree:   ImportTree{"a": {"b"}},
	}
	b := &AssetMeta{
		AssetID:      "b",
		State:        AssetState{"k": variable("k", 0.0)},
		Dependencies: DependencyGraph{"k": {Imported: []ImportBinding{{Asset: "a", Key: "k"}}}},
		ImportTree:   ImportTree{"b": {"a"}},
	}

	res, err := testCascade(nil).Run(context.Background(),
		map[string]*AssetMeta{"a": a, "b": b},
		ChangeSet{"a": {"k"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Order)
	assert.Equal(t, 1.0, res.Metas["b"].State["k"].Value)
}

func TestCascade_LoaderErrorIsFatal(t *testing.T) {
	base, _ := layeredAssets()
	loader := &fakeLoader{err: errors.New("connection refused")}

	_, err := testCascade(loader).Run(context.Background(),
		map[string]*AssetMeta{"base": base},
		ChangeSet{"base": {"foo"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCascade_NoChanges(t *testing.T) {
	base, _ := layeredAssets()

	res, err := testCascade(nil).Run(context.Background(), map[string]*AssetMeta{"base": base}, ChangeSet{})

	require.NoError(t, err)
	assert.Empty(t, res.Recalculated)
	assert.Empty(t, res.Order)
}

func TestTopologicalOrder(t *testing.T) {
	order, cyclic := TopologicalOrder(ImportTree{
		"layerB": {"layerA", "base"},
		"layerA": {"base"},
		"extra":  {"base"},
		"base":   nil,
	})
	assert.Equal(t, []string{"base", "extra", "layerA", "layerB"}, order)
	assert.Empty(t, cyclic)

	order, cyclic = TopologicalOrder(ImportTree{
		"root": nil,
		"x":    {"y", "root"},
		"y":    {"x"},
	})
	assert.Equal(t, []string{"root", "x", "y"}, order)
	assert.Equal(t, []string{"x", "y"}, cyclic)
}
